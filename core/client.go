package core

// ClientBackend abstracts the read-only transport against the pinned remote
// block. Two implementations exist: the Tendermint RPC client and the
// REST/LCD client. Both memoize through the fetch cache.

import (
	"bytes"
	"compress/gzip"
	"io"
)

// RemoteContractInfo is the subset of on-chain contract metadata the
// simulator needs. The full record carries creator, admin and label, but
// simulations only resolve code ids.
type RemoteContractInfo struct {
	CodeID uint64
}

// ClientBackend is the read surface of a remote node at a pinned block.
type ClientBackend interface {
	// BlockNumber returns the pinned block height.
	BlockNumber() uint64
	// ChainID returns the network identifier.
	ChainID() (string, error)
	// Timestamp returns the pinned block's time in unix nanoseconds.
	Timestamp() (Timestamp, error)
	// LatestBlockHeight asks the node for its current tip height.
	LatestBlockHeight() (uint64, error)

	QueryBankAllBalances(address string) ([]Coin, error)
	QueryWasmContractSmart(address string, queryData []byte) ([]byte, error)
	QueryWasmContractStateAll(address string) ([]Record, error)
	QueryWasmContractInfo(address string) (*RemoteContractInfo, error)
	QueryWasmContractCode(codeID uint64) ([]byte, error)

	// Close flushes the fetch cache to disk.
	Close() error
}

var (
	wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}
	gzipMagic = []byte{0x1f, 0x8b}
)

// maybeGunzip normalizes fetched bytecode. Code blobs arrive either as raw
// wasm or gzip-compressed wasm; anything else is rejected as malformed.
func maybeGunzip(code []byte) ([]byte, error) {
	if len(code) >= 4 && bytes.Equal(code[:4], wasmMagic) {
		return code, nil
	}
	if len(code) >= 2 && bytes.Equal(code[:2], gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(code))
		if err != nil {
			return nil, wrapFormat("gzipped bytecode unreadable", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, wrapFormat("gzipped bytecode truncated", err)
		}
		if len(out) < 4 || !bytes.Equal(out[:4], wasmMagic) {
			return nil, errFormat("decompressed bytecode is not wasm")
		}
		return out, nil
	}
	if len(code) < 4 {
		return nil, errFormat("bytecode too short (%d bytes)", len(code))
	}
	return nil, errFormat("unidentifiable bytecode magic: %x", code[:4])
}
