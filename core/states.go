package core

// AllStates aggregates everything a simulation mutates: materialized
// contract states, the bank ledger, and the chain environment. The
// dispatcher snapshots it wholesale before each top-level call, so every
// field must deep-clone.

import (
	"sync"
)

// blockEpoch is the timestamp quantum applied per simulated block.
const blockEpoch = 1_000_000_000

// ContractState bundles a contract's code with its storage. Code is not
// strictly state, but keeping them together means an address is either fully
// materialized or absent.
type ContractState struct {
	Code    []byte
	Storage *ContractStorage
}

// Clone deep-copies the state.
func (c *ContractState) Clone() *ContractState {
	return &ContractState{
		Code:    append([]byte(nil), c.Code...),
		Storage: c.Storage.Clone(),
	}
}

// AllStates is shared between the dispatcher and host queriers running
// inside sandboxes; reads concur, writes exclude. Within one transaction the
// dispatcher is the only writer.
type AllStates struct {
	mu        sync.RWMutex
	contracts map[string]*ContractState
	bank      map[string]map[string]Uint128

	client ClientBackend
	codec  *AddressCodec

	blockNumber    uint64
	blockTimestamp Timestamp
	chainID        string
}

// NewAllStates bootstraps the environment fields from the client.
func NewAllStates(client ClientBackend, codec *AddressCodec) (*AllStates, error) {
	ts, err := client.Timestamp()
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID()
	if err != nil {
		return nil, err
	}
	return &AllStates{
		contracts:      make(map[string]*ContractState),
		bank:           make(map[string]map[string]Uint128),
		client:         client,
		codec:          codec,
		blockNumber:    client.BlockNumber(),
		blockTimestamp: ts,
		chainID:        chainID,
	}, nil
}

// Client returns the remote backend.
func (s *AllStates) Client() ClientBackend { return s.client }

// Codec returns the address codec.
func (s *AllStates) Codec() *AddressCodec { return s.codec }

// BlockNumber returns the current simulated height.
func (s *AllStates) BlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockNumber
}

// BlockTimestamp returns the current simulated block time.
func (s *AllStates) BlockTimestamp() Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockTimestamp
}

// ChainID returns the forked chain's identifier.
func (s *AllStates) ChainID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID
}

// SetBlockNumber overrides the height (cheat path).
func (s *AllStates) SetBlockNumber(height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockNumber = height
}

// SetBlockTimestamp overrides the block time (cheat path).
func (s *AllStates) SetBlockTimestamp(ts Timestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockTimestamp = ts
}

// UpdateBlock emulates block creation: height +1, time +epoch.
func (s *AllStates) UpdateBlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockNumber++
	s.blockTimestamp = s.blockTimestamp.PlusNanos(blockEpoch)
}

// Env assembles the environment handed to a contract at addr. Every block is
// assumed to hold a single transaction.
func (s *AllStates) Env(contractAddr string) *Env {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Env{
		Block: BlockInfo{
			Height:  s.blockNumber,
			Time:    s.blockTimestamp,
			ChainID: s.chainID,
		},
		Transaction: &TransactionInfo{Index: 0},
		Contract:    EnvContractInfo{Address: contractAddr},
	}
}

//---------------------------------------------------------------------
// Contract state table
//---------------------------------------------------------------------

// ContractStateGet returns the materialized state for addr, if any.
func (s *AllStates) ContractStateGet(addr string) (*ContractState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.contracts[addr]
	return st, ok
}

// ContractStateInsert installs or replaces the state for addr.
func (s *AllStates) ContractStateInsert(addr string, st *ContractState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[addr] = st
}

// ContractStateRemove drops addr; used when a speculative instantiate fails.
func (s *AllStates) ContractStateRemove(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contracts, addr)
}

// FetchContractState materializes addr from the remote node. It does nothing
// when the state already exists, so observing a contract never yields a
// missing entry, only a fetch.
func (s *AllStates) FetchContractState(addr string) error {
	if _, ok := s.ContractStateGet(addr); ok {
		return nil
	}
	info, err := s.client.QueryWasmContractInfo(addr)
	if err != nil {
		return err
	}
	rawCode, err := s.client.QueryWasmContractCode(info.CodeID)
	if err != nil {
		return err
	}
	code, err := maybeGunzip(rawCode)
	if err != nil {
		return err
	}
	records, err := s.client.QueryWasmContractStateAll(addr)
	if err != nil {
		return err
	}
	storage := NewContractStorage()
	storage.SetAll(records)
	s.ContractStateInsert(addr, &ContractState{Code: code, Storage: storage})
	return nil
}

//---------------------------------------------------------------------
// Snapshots
//---------------------------------------------------------------------

// Clone deep-copies every mutable field. The client handle is shared: it is
// read-only with respect to simulation state, and its fetch cache must keep
// accumulating across snapshots.
func (s *AllStates) Clone() *AllStates {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contracts := make(map[string]*ContractState, len(s.contracts))
	for addr, st := range s.contracts {
		contracts[addr] = st.Clone()
	}
	bank := make(map[string]map[string]Uint128, len(s.bank))
	for owner, balances := range s.bank {
		cp := make(map[string]Uint128, len(balances))
		for denom, amount := range balances {
			cp[denom] = amount
		}
		bank[owner] = cp
	}
	return &AllStates{
		contracts:      contracts,
		bank:           bank,
		client:         s.client,
		codec:          s.codec,
		blockNumber:    s.blockNumber,
		blockTimestamp: s.blockTimestamp,
		chainID:        s.chainID,
	}
}

// Restore copies other's mutable fields back into s, leaving the client and
// codec handles untouched. Sandboxes hold references to s, so the struct
// identity must survive a rollback.
func (s *AllStates) Restore(other *AllStates) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contracts = other.contracts
	s.bank = other.bank
	s.blockNumber = other.blockNumber
	s.blockTimestamp = other.blockTimestamp
	s.chainID = other.chainID
}
