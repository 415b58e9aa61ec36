// Package testutil provides in-memory fakes for the core test suites: a
// ClientBackend serving canned chain state without a network, and helpers to
// populate it.
package testutil

import (
	"fmt"
	"sort"

	"cwfork/core"
)

// FakeWasm builds a byte blob with a valid wasm magic and a distinguishing
// tag, so fake engines can route by code content while the state store's
// bytecode sniffing stays satisfied.
func FakeWasm(tag string) []byte {
	return append([]byte{0x00, 0x61, 0x73, 0x6d}, []byte(tag)...)
}

// FakeBackend is an in-memory ClientBackend. Tests preload it with codes,
// contracts and balances; every fetch is then answerable offline.
type FakeBackend struct {
	Block   uint64
	Chain   string
	TimeNs  uint64
	Codes   map[uint64][]byte
	Infos   map[string]uint64 // contract addr → code id
	States  map[string][]core.Record
	Coins   map[string][]core.Coin
	Queries map[string][]byte // addr+"|"+msg → response

	Closed bool
}

// NewFakeBackend returns an empty backend pinned at block 100.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		Block:   100,
		Chain:   "fake-1",
		TimeNs:  1_700_000_000_000_000_000,
		Codes:   make(map[uint64][]byte),
		Infos:   make(map[string]uint64),
		States:  make(map[string][]core.Record),
		Coins:   make(map[string][]core.Coin),
		Queries: make(map[string][]byte),
	}
}

// SetContract registers a contract with its code id, code and records.
func (f *FakeBackend) SetContract(addr string, codeID uint64, code []byte, records []core.Record) {
	f.Infos[addr] = codeID
	f.Codes[codeID] = code
	f.States[addr] = records
}

// SetBalance sets one coin balance for addr.
func (f *FakeBackend) SetBalance(addr, denom string, amount uint64) {
	coins := f.Coins[addr]
	for i := range coins {
		if coins[i].Denom == denom {
			coins[i].Amount = core.NewUint128(amount)
			f.Coins[addr] = coins
			return
		}
	}
	coins = append(coins, core.NewCoin(denom, amount))
	sort.Slice(coins, func(i, j int) bool { return coins[i].Denom < coins[j].Denom })
	f.Coins[addr] = coins
}

func (f *FakeBackend) BlockNumber() uint64 { return f.Block }

func (f *FakeBackend) ChainID() (string, error) { return f.Chain, nil }

func (f *FakeBackend) Timestamp() (core.Timestamp, error) { return core.Timestamp(f.TimeNs), nil }

func (f *FakeBackend) LatestBlockHeight() (uint64, error) { return f.Block, nil }

func (f *FakeBackend) QueryBankAllBalances(address string) ([]core.Coin, error) {
	return append([]core.Coin(nil), f.Coins[address]...), nil
}

func (f *FakeBackend) QueryWasmContractSmart(address string, queryData []byte) ([]byte, error) {
	if resp, ok := f.Queries[address+"|"+string(queryData)]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no canned response for %s", address)
}

func (f *FakeBackend) QueryWasmContractStateAll(address string) ([]core.Record, error) {
	return append([]core.Record(nil), f.States[address]...), nil
}

func (f *FakeBackend) QueryWasmContractInfo(address string) (*core.RemoteContractInfo, error) {
	codeID, ok := f.Infos[address]
	if !ok {
		return nil, fmt.Errorf("address %s is most likely not a contract address", address)
	}
	return &core.RemoteContractInfo{CodeID: codeID}, nil
}

func (f *FakeBackend) QueryWasmContractCode(codeID uint64) ([]byte, error) {
	code, ok := f.Codes[codeID]
	if !ok {
		return nil, fmt.Errorf("code id %d unknown", codeID)
	}
	return code, nil
}

func (f *FakeBackend) Close() error {
	f.Closed = true
	return nil
}
