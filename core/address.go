package core

// Address codec. Chains address accounts with bech32 strings under a short
// human-readable prefix; the canonical form is the raw 20- or 32-byte hash.

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const bech32PrefixMaxLen = 10

// AddressCodec converts between canonical and human address forms for a
// fixed prefix and maximum canonical length.
type AddressCodec struct {
	prefix          string
	canonicalLength int
}

// NewAddressCodec validates the prefix and builds a codec.
func NewAddressCodec(prefix string, canonicalLength int) (*AddressCodec, error) {
	if len(prefix) > bech32PrefixMaxLen {
		return nil, errInvalidArgument("bech32 prefix %s is too long", prefix)
	}
	if canonicalLength <= 0 {
		return nil, errInvalidArgument("canonical address length must be positive")
	}
	return &AddressCodec{prefix: prefix, canonicalLength: canonicalLength}, nil
}

// Prefix returns the configured human-readable prefix.
func (c *AddressCodec) Prefix() string { return c.prefix }

// CanonicalLength returns the maximum canonical byte length.
func (c *AddressCodec) CanonicalLength() int { return c.canonicalLength }

// CanonicalToHuman bech32-encodes canonical bytes under the codec prefix.
func (c *AddressCodec) CanonicalToHuman(canonical []byte) (string, error) {
	if len(canonical) > c.canonicalLength {
		return "", errInvalidArgument("canonical address length %d exceeds %d", len(canonical), c.canonicalLength)
	}
	conv, err := bech32.ConvertBits(canonical, 8, 5, true)
	if err != nil {
		return "", errFormat("canonical address not encodable: %v", err)
	}
	human, err := bech32.Encode(c.prefix, conv)
	if err != nil {
		return "", errFormat("canonical address not encodable: %v", err)
	}
	return human, nil
}

// HumanToCanonical decodes a human address and checks its prefix.
func (c *AddressCodec) HumanToCanonical(human string) ([]byte, error) {
	if !strings.HasPrefix(human, c.prefix) {
		return nil, errInvalidArgument("human address %s does not begin with prefix %s", human, c.prefix)
	}
	hrp, data, err := bech32.DecodeNoLimit(human)
	if err != nil {
		return nil, errFormat("human address is not bech32 decodable: %v", err)
	}
	if hrp != c.prefix {
		return nil, errInvalidArgument("human address has prefix %s, want %s", hrp, c.prefix)
	}
	out, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, errFormat("human address payload invalid: %v", err)
	}
	return out, nil
}
