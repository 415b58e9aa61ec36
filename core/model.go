package core

// Model is the orchestrator: it owns the forked state, derives addresses,
// dispatches the four entry points through sandbox instances, recurses into
// submessages with on-chain reply semantics, and guarantees all-or-nothing
// mutation per top-level call via whole-state snapshots.

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// BaseEOA is the default transaction sender until a cheat overrides it.
const BaseEOA = "wasm1zcnn5gh37jxg9c6dp4jcjc7995ae0s5f5hj0lj"

// defaultCanonicalAddressLength matches the 32-byte contract addresses used
// by cosmwasm chains.
const defaultCanonicalAddressLength = 32

// Model simulates transactions against a remote chain forked at one block.
type Model struct {
	mu sync.Mutex

	states *AllStates
	// sender plays the role of tx.origin
	sender string
	// per-code-id counters feeding address derivation
	codeIDCounters map[uint64]uint64
	// accumulates over exactly one top-level call
	debugLog *DebugLog
	// caller-registered bytecode, overriding remote lookups per code id
	customCodes map[uint64][]byte
	// coverage accumulates across calls and survives rollbacks
	coverage *CoverageInfo

	vm VM
}

// NewModel forks the chain behind a Tendermint RPC endpoint. A nil block
// number pins the node's latest height.
func NewModel(url string, blockNumber *uint64, bech32Prefix string) (*Model, error) {
	client, err := NewRpcClient(url, blockNumber)
	if err != nil {
		return nil, err
	}
	return newModel(client, bech32Prefix, NewWasmVM())
}

// NewModelLCD forks the chain behind a REST/LCD gateway at its current tip.
func NewModelLCD(url string, bech32Prefix string) (*Model, error) {
	client, err := NewLcdClient(url)
	if err != nil {
		return nil, err
	}
	return newModel(client, bech32Prefix, NewWasmVM())
}

// NewModelWithBackend builds a model over an explicit transport and engine.
func NewModelWithBackend(client ClientBackend, bech32Prefix string, vm VM) (*Model, error) {
	return newModel(client, bech32Prefix, vm)
}

func newModel(client ClientBackend, bech32Prefix string, vm VM) (*Model, error) {
	codec, err := NewAddressCodec(bech32Prefix, defaultCanonicalAddressLength)
	if err != nil {
		return nil, err
	}
	states, err := NewAllStates(client, codec)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"chain_id": states.ChainID(),
		"block":    states.BlockNumber(),
	}).Info("model: forked state ready")
	return &Model{
		states:         states,
		sender:         BaseEOA,
		codeIDCounters: make(map[uint64]uint64),
		debugLog:       NewDebugLog(),
		customCodes:    make(map[uint64][]byte),
		coverage:       NewCoverageInfo(),
		vm:             vm,
	}, nil
}

// States exposes the state store; embedders use it for assertions and
// balance reads, never for direct mutation mid-transaction.
func (m *Model) States() *AllStates { return m.states }

// Sender returns the current transaction origin.
func (m *Model) Sender() string { return m.sender }

// BlockNumber returns the simulated height.
func (m *Model) BlockNumber() uint64 { return m.states.BlockNumber() }

// Close flushes the transport's fetch cache.
func (m *Model) Close() error { return m.states.Client().Close() }

// Clone forks the whole simulation. The engine and its module cache are
// shared; modules are content-addressed so both forks reuse compilations.
func (m *Model) Clone() (*Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counters := make(map[uint64]uint64, len(m.codeIDCounters))
	for id, ctr := range m.codeIDCounters {
		counters[id] = ctr
	}
	custom := make(map[uint64][]byte, len(m.customCodes))
	for id, code := range m.customCodes {
		custom[id] = append([]byte(nil), code...)
	}
	return &Model{
		states:         m.states.Clone(),
		sender:         m.sender,
		codeIDCounters: counters,
		debugLog:       m.debugLog.Clone(),
		customCodes:    custom,
		coverage:       m.coverage.Clone(),
		vm:             m.vm,
	}, nil
}

//---------------------------------------------------------------------
// Snapshots
//---------------------------------------------------------------------

type modelSnapshot struct {
	states   *AllStates
	counters map[uint64]uint64
	sender   string
}

func (m *Model) snapshot() *modelSnapshot {
	counters := make(map[uint64]uint64, len(m.codeIDCounters))
	for id, ctr := range m.codeIDCounters {
		counters[id] = ctr
	}
	return &modelSnapshot{
		states:   m.states.Clone(),
		counters: counters,
		sender:   m.sender,
	}
}

// restore rewinds every mutable field except coverage, which accumulates
// unconditionally.
func (m *Model) restore(snap *modelSnapshot) {
	m.states.Restore(snap.states)
	m.codeIDCounters = snap.counters
	m.sender = snap.sender
}

//---------------------------------------------------------------------
// Address derivation
//---------------------------------------------------------------------

// generateAddress derives the next address for codeID. The counter advances
// only after a successful derivation and must never wrap.
func (m *Model) generateAddress(codeID uint64) (string, error) {
	ctr := m.codeIDCounters[codeID]
	if ctr == math.MaxUint64 {
		return "", errInvalidArgument("address counter exhausted for code id %d", codeID)
	}
	seed := fmt.Sprintf("seeeed_%d_%d", codeID, ctr)
	sum := sha256.Sum256([]byte(seed))
	addr, err := m.states.Codec().CanonicalToHuman(sum[:])
	if err != nil {
		return "", err
	}
	m.codeIDCounters[codeID] = ctr + 1
	return addr, nil
}

//---------------------------------------------------------------------
// Instance plumbing
//---------------------------------------------------------------------

func (m *Model) instanceFor(addr string, state *ContractState) (ContractInstance, error) {
	return m.vm.Instance(&InstanceConfig{
		Address:  addr,
		Code:     state.Code,
		Storage:  NewSandboxStorage(state.Storage),
		Querier:  NewHostQuerier(m.states, m.debugLog, m.vm),
		Codec:    m.states.Codec(),
		GasLimit: GasUnlimited,
	})
}

// createInstance materializes addr if needed and builds a fresh sandbox.
func (m *Model) createInstance(addr string) (ContractInstance, error) {
	if err := m.states.FetchContractState(addr); err != nil {
		return nil, err
	}
	state, _ := m.states.ContractStateGet(addr)
	return m.instanceFor(addr, state)
}

// codeForID resolves bytecode, preferring caller-registered blobs.
func (m *Model) codeForID(codeID uint64) ([]byte, error) {
	if code, ok := m.customCodes[codeID]; ok {
		return code, nil
	}
	raw, err := m.states.Client().QueryWasmContractCode(codeID)
	if err != nil {
		return nil, err
	}
	return maybeGunzip(raw)
}

// AddCustomCode registers bytecode under a caller-chosen id, overriding any
// remote lookup for that id.
func (m *Model) AddCustomCode(codeID uint64, code []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customCodes[codeID] = append([]byte(nil), code...)
	return nil
}

//---------------------------------------------------------------------
// Top-level operations
//---------------------------------------------------------------------

// Instantiate runs a top-level instantiate transaction and returns its
// debug log. Contract errors roll the state back and land in ErrMsg; host
// errors roll back and surface as Go errors.
func (m *Model) Instantiate(codeID uint64, msg []byte, funds []Coin) (*DebugLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.debugLog = NewDebugLog()
	snap := m.snapshot()
	result, _, err := m.instantiateInner(codeID, m.sender, msg, funds)
	return m.finishTopLevel(snap, result, err)
}

// Execute runs a top-level execute transaction against target.
func (m *Model) Execute(target string, msg []byte, funds []Coin) (*DebugLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.debugLog = NewDebugLog()
	snap := m.snapshot()
	result, err := m.executeInner(target, m.sender, msg, funds)
	return m.finishTopLevel(snap, result, err)
}

func (m *Model) finishTopLevel(snap *modelSnapshot, result *ContractResult, err error) (*DebugLog, error) {
	log := m.debugLog
	m.debugLog = NewDebugLog()
	if err != nil {
		m.restore(snap)
		return nil, err
	}
	if result.IsErr() {
		m.restore(snap)
		log.SetErrMsg(result.Err)
		return log, nil
	}
	m.states.UpdateBlock()
	return log, nil
}

// WasmQuery smart-queries a contract read-only.
func (m *Model) WasmQuery(target string, msg []byte) (Binary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	instance, err := m.createInstance(target)
	if err != nil {
		return nil, err
	}
	defer instance.Close()
	query := &WasmQuery{Smart: &SmartQuery{ContractAddr: target, Msg: msg}}
	resp, qerr := instance.Query(m.states.Env(target), query)
	m.handleCoverage(instance)
	return resp, qerr
}

// BankQuery serves a binary-encoded bank query read-only.
func (m *Model) BankQuery(msg []byte) (Binary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var query BankQuery
	if err := json.Unmarshal(msg, &query); err != nil {
		return nil, errInvalidArgument("undecodable bank query: %v", err)
	}
	return m.states.BankQuery(&query)
}

//---------------------------------------------------------------------
// Inner operations
//---------------------------------------------------------------------

// sendFunds moves the attached coins to the call target before dispatch.
// An insufficient balance is the contract-error path, not a host fault.
func (m *Model) sendFunds(sender, to string, funds []Coin) (*ContractResult, error) {
	result, err := m.states.BankExecute(sender, &BankMsg{
		Send: &BankSendMsg{ToAddress: to, Amount: funds},
	})
	if err != nil {
		return nil, err
	}
	if result.IsErr() {
		m.debugLog.AppendError(result.Err)
		return result, nil
	}
	m.debugLog.AppendLog(result.Ok)
	return result, nil
}

func (m *Model) instantiateInner(codeID uint64, sender string, msg []byte, funds []Coin) (*ContractResult, string, error) {
	contractAddr, err := m.generateAddress(codeID)
	if err != nil {
		return nil, "", err
	}

	if len(funds) > 0 {
		result, err := m.sendFunds(sender, contractAddr, funds)
		if err != nil {
			return nil, "", err
		}
		if result.IsErr() {
			return result, "", nil
		}
	}

	code, err := m.codeForID(codeID)
	if err != nil {
		return nil, "", err
	}
	// the address does not exist on chain yet; it starts from empty storage
	state := &ContractState{Code: code, Storage: NewContractStorage()}
	// speculative: host queries during instantiate may self-reference
	m.states.ContractStateInsert(contractAddr, state)

	instance, err := m.instanceFor(contractAddr, state)
	if err != nil {
		m.states.ContractStateRemove(contractAddr)
		return nil, "", err
	}
	defer instance.Close()

	env := m.states.Env(contractAddr)
	callID := m.debugLog.BeginCall(contractAddr, "instantiate", msg)

	result, err := instance.Instantiate(env, &MessageInfo{Sender: sender, Funds: nonNilCoins(funds)}, msg)
	m.handleCoverage(instance)
	if err != nil {
		m.states.ContractStateRemove(contractAddr)
		return nil, "", err
	}
	if result.IsErr() {
		m.states.ContractStateRemove(contractAddr)
		m.debugLog.AppendError(result.Err)
		return result, "", nil
	}

	resp := result.Ok
	resp.AddEvent(NewEvent("instantiate",
		"code_id", fmt.Sprintf("%d", codeID),
		"_contract_address", contractAddr,
	))
	m.debugLog.AppendLog(resp)

	final, err := m.handleResponse(contractAddr, resp)
	if err != nil {
		return nil, "", err
	}
	m.debugLog.EndCall(callID)
	return final, contractAddr, nil
}

func (m *Model) executeInner(target, sender string, msg []byte, funds []Coin) (*ContractResult, error) {
	env := m.states.Env(target)
	instance, err := m.createInstance(target)
	if err != nil {
		return nil, err
	}
	defer instance.Close()

	if len(funds) > 0 {
		result, err := m.sendFunds(sender, target, funds)
		if err != nil {
			return nil, err
		}
		if result.IsErr() {
			return result, nil
		}
	}

	callID := m.debugLog.BeginCall(target, "execute", msg)

	result, err := instance.Execute(env, &MessageInfo{Sender: sender, Funds: nonNilCoins(funds)}, msg)
	m.handleCoverage(instance)
	if err != nil {
		return nil, err
	}
	if result.IsErr() {
		m.debugLog.AppendError(result.Err)
		return result, nil
	}
	m.debugLog.AppendLog(result.Ok)

	final, err := m.handleResponse(target, result.Ok)
	if err != nil {
		return nil, err
	}
	m.debugLog.EndCall(callID)
	return final, nil
}

//---------------------------------------------------------------------
// Submessage recursion
//---------------------------------------------------------------------

// handleResponse walks a response's submessages in declaration order. The
// returned result is the last successful sub-response, or the response
// itself when it carried none.
func (m *Model) handleResponse(origin string, resp *Response) (*ContractResult, error) {
	if len(resp.Messages) == 0 {
		return ContractResultOk(resp), nil
	}
	// overwritten at least once below
	last := ContractResultOk(&Response{})
	for i := range resp.Messages {
		sub := &resp.Messages[i]
		var result *ContractResult
		var err error
		switch {
		case sub.Msg.Wasm != nil && sub.Msg.Wasm.Instantiate != nil:
			result, err = m.handleSubmessageInstantiate(origin, sub, sub.Msg.Wasm.Instantiate)
		case sub.Msg.Wasm != nil && sub.Msg.Wasm.Execute != nil:
			result, err = m.handleSubmessageExecute(origin, sub, sub.Msg.Wasm.Execute)
		case sub.Msg.Bank != nil:
			// a failing bank submessage aborts the enclosing call; bank
			// messages never trigger replies
			result, err = m.states.BankExecute(origin, sub.Msg.Bank)
		default:
			return nil, errInvalidArgument("unsupported submessage variant (id %d)", sub.ID)
		}
		if err != nil {
			return nil, err
		}
		if result.IsErr() {
			return result, nil
		}
		last = result
	}
	return last, nil
}

func (m *Model) handleSubmessageInstantiate(origin string, sub *SubMsg, im *WasmInstantiateMsg) (*ContractResult, error) {
	var result *ContractResult
	var newAddr string
	if im.Admin != nil && *im.Admin != origin {
		result = ContractResultErr("cannot instantiate contract")
	} else {
		var err error
		result, newAddr, err = m.instantiateInner(im.CodeID, origin, im.Msg, im.Funds)
		if err != nil {
			return nil, err
		}
	}
	data := encodeMsgInstantiateContractResponse(newAddr, nil)
	return m.settleSubmessage(origin, sub, result, data, im.Msg)
}

func (m *Model) handleSubmessageExecute(origin string, sub *SubMsg, em *WasmExecuteMsg) (*ContractResult, error) {
	result, err := m.executeInner(em.ContractAddr, origin, em.Msg, em.Funds)
	if err != nil {
		return nil, err
	}
	data := encodeMsgExecuteContractResponse(nil)
	return m.settleSubmessage(origin, sub, result, data, em.Msg)
}

// settleSubmessage evaluates the reply policy against the sub-result and
// either invokes reply on the origin contract or propagates directly.
func (m *Model) settleSubmessage(origin string, sub *SubMsg, result *ContractResult, data, msg []byte) (*ContractResult, error) {
	doReply := false
	switch sub.ReplyOn {
	case ReplyAlways:
		doReply = true
	case ReplyOnSuccess:
		doReply = !result.IsErr()
	case ReplyOnError:
		doReply = result.IsErr()
	case ReplyNever:
	default:
		return nil, errInvalidArgument("unsupported reply policy %q (id %d)", sub.ReplyOn, sub.ID)
	}

	if !doReply {
		if result.IsErr() {
			m.debugLog.AppendError(result.Err)
			return result, nil
		}
		return m.handleResponse(origin, result.Ok)
	}

	reply := &Reply{ID: sub.ID}
	if result.IsErr() {
		reply.Result = SubMsgResult{Err: result.Err}
	} else {
		events := result.Ok.Events
		if events == nil {
			events = []Event{}
		}
		reply.Result = SubMsgResult{Ok: &SubMsgResponse{
			Events: events,
			Data:   data,
		}}
	}

	instance, err := m.createInstance(origin)
	if err != nil {
		return nil, err
	}
	defer instance.Close()

	callID := m.debugLog.BeginCall(origin, "reply", msg)

	replyResult, err := instance.Reply(m.states.Env(origin), reply)
	m.handleCoverage(instance)
	if err != nil {
		return nil, err
	}
	if replyResult.IsErr() {
		// propagate immediately; the error response's submessages never run
		m.debugLog.AppendError(replyResult.Err)
		return replyResult, nil
	}
	m.debugLog.AppendLog(replyResult.Ok)
	final, err := m.handleResponse(origin, replyResult.Ok)
	if err != nil {
		return nil, err
	}
	m.debugLog.EndCall(callID)
	return final, nil
}

//---------------------------------------------------------------------
// Cheats
//---------------------------------------------------------------------

// CheatBlockNumber overrides the simulated height.
func (m *Model) CheatBlockNumber(height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states.SetBlockNumber(height)
	return nil
}

// CheatBlockTimestamp overrides the simulated block time.
func (m *Model) CheatBlockTimestamp(ts Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states.SetBlockTimestamp(ts)
	return nil
}

// CheatBankBalance pins a balance without a transfer.
func (m *Model) CheatBankBalance(addr, denom string, amount Uint128) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states.SetBalance(addr, denom, amount)
	return nil
}

// CheatCode swaps the bytecode behind addr. The replacement is validated by
// building an instance; invalid code restores the previous state.
func (m *Model) CheatCode(addr string, newCode []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.states.FetchContractState(addr); err != nil {
		return err
	}
	oldState, _ := m.states.ContractStateGet(addr)
	newState := &ContractState{
		Code:    append([]byte(nil), newCode...),
		Storage: oldState.Storage,
	}
	m.states.ContractStateInsert(addr, newState)
	instance, err := m.instanceFor(addr, newState)
	if err != nil {
		m.states.ContractStateInsert(addr, oldState)
		return err
	}
	instance.Close()
	return nil
}

// CheatMessageSender overrides the transaction origin.
func (m *Model) CheatMessageSender(addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sender = addr
	return nil
}

// CheatStorage writes one storage entry of a contract directly.
func (m *Model) CheatStorage(addr string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.states.FetchContractState(addr); err != nil {
		return err
	}
	state, _ := m.states.ContractStateGet(addr)
	state.Storage.Set(key, value)
	return nil
}
