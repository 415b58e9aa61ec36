package core

// HostQuerier services query_chain callbacks issued from inside a running
// sandbox. It only ever reads simulation state, but it may build fresh
// sandbox instances of its own, which makes sandbox→host→sandbox recursion
// work without handing write access to contract code.

import (
	"encoding/json"
)

// PrinterAddr is a reserved pseudo-contract: smart-querying it appends the
// message to the debug log's stdout. It exists only in the simulator, never
// on chain.
const PrinterAddr = "supergodprinter"

type printRequest struct {
	Msg string `json:"msg"`
}

type printResponse struct {
	Ack bool `json:"ack"`
}

// HostQuerier implements Querier over shared simulation state.
type HostQuerier struct {
	states   *AllStates
	debugLog *DebugLog
	vm       VM
}

// NewHostQuerier wires a querier for one sandbox instance.
func NewHostQuerier(states *AllStates, debugLog *DebugLog, vm VM) *HostQuerier {
	return &HostQuerier{states: states, debugLog: debugLog, vm: vm}
}

func systemErr(msg string) ([]byte, error) {
	return json.Marshal(&SystemResult{Err: msg})
}

func systemOk(data []byte) ([]byte, error) {
	return json.Marshal(&SystemResult{Ok: &QueryResult{Ok: data}})
}

// QueryRaw decodes and dispatches one callback query. Failures travel back
// to the contract through the SystemResult envelope; only an undecodable
// request, an unsupported request or wasm query variant, and a non-smart or
// invalid printer query are Go errors that trap the sandbox.
func (q *HostQuerier) QueryRaw(request []byte, gasLimit uint64) ([]byte, error) {
	var req QueryRequest
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, errBackend("undecodable query request: %v", err)
	}
	switch {
	case req.Bank != nil:
		resp, err := q.states.BankQuery(req.Bank)
		if err != nil {
			return systemErr(err.Error())
		}
		return systemOk(resp)
	case req.Wasm != nil:
		return q.wasmQuery(req.Wasm, gasLimit)
	}
	return nil, errBackend("unsupported query request variant")
}

func (q *HostQuerier) wasmQuery(query *WasmQuery, gasLimit uint64) ([]byte, error) {
	target, err := query.target()
	if err != nil {
		return nil, err
	}
	if target == PrinterAddr {
		return q.printerQuery(query)
	}

	if err := q.states.FetchContractState(target); err != nil {
		return systemErr(err.Error())
	}
	state, _ := q.states.ContractStateGet(target)
	instance, err := q.vm.Instance(&InstanceConfig{
		Address:  target,
		Code:     state.Code,
		Storage:  NewSandboxStorage(state.Storage),
		Querier:  NewHostQuerier(q.states, q.debugLog, q.vm),
		Codec:    q.states.Codec(),
		GasLimit: gasLimit,
	})
	if err != nil {
		return systemErr(err.Error())
	}
	defer instance.Close()

	resp, err := instance.Query(q.states.Env(target), query)
	if err != nil {
		return systemErr(err.Error())
	}
	return systemOk(resp)
}

func (q *HostQuerier) printerQuery(query *WasmQuery) ([]byte, error) {
	if query.Smart == nil {
		return nil, errInvalidArgument("printer accepts smart queries only")
	}
	var req printRequest
	if err := json.Unmarshal([]byte(query.Smart.Msg), &req); err != nil {
		return nil, errInvalidArgument("invalid printer request: %v", err)
	}
	q.debugLog.AppendStdout(req.Msg)
	resp, err := json.Marshal(&printResponse{Ack: true})
	if err != nil {
		return nil, errBackend("encode printer response: %v", err)
	}
	return systemOk(resp)
}
