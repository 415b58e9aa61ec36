package core

// Uint128 is the coin amount type. Chain amounts are 128-bit unsigned and
// travel as decimal strings on the JSON wire, so the representation wraps
// math/big with string (un)marshalling and an explicit range check.

import (
	"fmt"
	"math/big"
	"strings"
)

var maxUint128 = func() *big.Int {
	one := big.NewInt(1)
	max := new(big.Int).Lsh(one, 128)
	return max.Sub(max, one)
}()

// Uint128 is an immutable unsigned 128-bit integer.
type Uint128 struct {
	i big.Int
}

// NewUint128 builds a Uint128 from a uint64.
func NewUint128(v uint64) Uint128 {
	var u Uint128
	u.i.SetUint64(v)
	return u
}

// ParseUint128 parses a base-10 amount string.
func ParseUint128(s string) (Uint128, error) {
	var u Uint128
	s = strings.TrimSpace(s)
	if _, ok := u.i.SetString(s, 10); !ok {
		return Uint128{}, errFormat("amount %q is not a base-10 integer", s)
	}
	if u.i.Sign() < 0 || u.i.Cmp(maxUint128) > 0 {
		return Uint128{}, errFormat("amount %q out of uint128 range", s)
	}
	return u, nil
}

// Add returns u+v; a sum above 2^128-1 returns a Bank error instead of wrapping.
func (u Uint128) Add(v Uint128) (Uint128, error) {
	var out Uint128
	out.i.Add(&u.i, &v.i)
	if out.i.Cmp(maxUint128) > 0 {
		return Uint128{}, errBank("uint128 overflow on add", nil)
	}
	return out, nil
}

// Sub returns u-v; v must not exceed u.
func (u Uint128) Sub(v Uint128) (Uint128, error) {
	if u.i.Cmp(&v.i) < 0 {
		return Uint128{}, errBank("uint128 underflow on sub", nil)
	}
	var out Uint128
	out.i.Sub(&u.i, &v.i)
	return out, nil
}

// Cmp returns -1, 0 or 1 comparing u against v.
func (u Uint128) Cmp(v Uint128) int { return u.i.Cmp(&v.i) }

// GTE reports u >= v.
func (u Uint128) GTE(v Uint128) bool { return u.i.Cmp(&v.i) >= 0 }

// IsZero reports whether u is zero.
func (u Uint128) IsZero() bool { return u.i.Sign() == 0 }

// Uint64 returns the low 64 bits of u.
func (u Uint128) Uint64() uint64 { return u.i.Uint64() }

func (u Uint128) String() string { return u.i.String() }

// MarshalJSON renders the amount as a quoted decimal string.
func (u Uint128) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.i.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string.
func (u *Uint128) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return errFormat("amount %s is not a JSON string", s)
	}
	parsed, err := ParseUint128(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Coin pairs a denomination with an amount.
type Coin struct {
	Denom  string  `json:"denom"`
	Amount Uint128 `json:"amount"`
}

// NewCoin is a convenience constructor used heavily in tests.
func NewCoin(denom string, amount uint64) Coin {
	return Coin{Denom: denom, Amount: NewUint128(amount)}
}

func (c Coin) String() string {
	return fmt.Sprintf("%s%s", c.Amount.String(), c.Denom)
}
