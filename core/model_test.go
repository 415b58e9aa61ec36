package core_test

// Dispatcher tests run against a scriptable in-memory engine: handlers are
// plain Go closures keyed by code blob, so call/reply semantics, atomicity
// and address derivation are all exercised without a wasm toolchain.

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	core "cwfork/core"
	"cwfork/internal/testutil"
)

const (
	callerAddr = "wasm1calleraddr"
	calleeAddr = "wasm1calleeaddr"
)

//---------------------------------------------------------------------
// Fake engine
//---------------------------------------------------------------------

type handlerFns struct {
	instantiate func(inst *fakeInstance, env *core.Env, info *core.MessageInfo, msg []byte) (*core.ContractResult, error)
	execute     func(inst *fakeInstance, env *core.Env, info *core.MessageInfo, msg []byte) (*core.ContractResult, error)
	reply       func(inst *fakeInstance, env *core.Env, reply *core.Reply) (*core.ContractResult, error)
	query       func(inst *fakeInstance, env *core.Env, msg []byte) (core.Binary, error)
	coverage    []byte
}

type fakeVM struct {
	contracts map[string]*handlerFns
}

func newFakeVM() *fakeVM {
	return &fakeVM{contracts: make(map[string]*handlerFns)}
}

func (vm *fakeVM) register(code []byte, h *handlerFns) {
	vm.contracts[string(code)] = h
}

func (vm *fakeVM) Instance(cfg *core.InstanceConfig) (core.ContractInstance, error) {
	h, ok := vm.contracts[string(cfg.Code)]
	if !ok {
		return nil, fmt.Errorf("no handler registered for code %q", cfg.Code)
	}
	return &fakeInstance{
		addr:    cfg.Address,
		storage: cfg.Storage,
		querier: cfg.Querier,
		h:       h,
	}, nil
}

type fakeInstance struct {
	addr    string
	storage *core.SandboxStorage
	querier core.Querier
	h       *handlerFns
}

func okEmpty() (*core.ContractResult, error) {
	return core.ContractResultOk(&core.Response{}), nil
}

func (f *fakeInstance) Address() string { return f.addr }
func (f *fakeInstance) Close()          {}

func (f *fakeInstance) Instantiate(env *core.Env, info *core.MessageInfo, msg []byte) (*core.ContractResult, error) {
	if f.h.instantiate == nil {
		return okEmpty()
	}
	return f.h.instantiate(f, env, info, msg)
}

func (f *fakeInstance) Execute(env *core.Env, info *core.MessageInfo, msg []byte) (*core.ContractResult, error) {
	if f.h.execute == nil {
		return okEmpty()
	}
	return f.h.execute(f, env, info, msg)
}

func (f *fakeInstance) Reply(env *core.Env, reply *core.Reply) (*core.ContractResult, error) {
	if f.h.reply == nil {
		return okEmpty()
	}
	return f.h.reply(f, env, reply)
}

func (f *fakeInstance) Query(env *core.Env, query *core.WasmQuery) (core.Binary, error) {
	switch {
	case query.ContractInfo != nil:
		return json.Marshal(&core.EnvContractInfo{Address: f.addr})
	case query.Raw != nil:
		return core.Binary(f.storage.Get(query.Raw.Key)), nil
	case query.Smart != nil:
		if f.h.query == nil {
			return nil, fmt.Errorf("no query handler for %s", f.addr)
		}
		return f.h.query(f, env, query.Smart.Msg)
	}
	return nil, fmt.Errorf("unsupported query")
}

func (f *fakeInstance) ReadStorage(key []byte) ([]byte, error) { return f.storage.Get(key), nil }

func (f *fakeInstance) WriteStorage(key, value []byte) error {
	f.storage.Set(key, value)
	return nil
}

func (f *fakeInstance) DumpCoverage() ([]byte, error) { return f.h.coverage, nil }

//---------------------------------------------------------------------
// Helpers
//---------------------------------------------------------------------

func newTestModel(t *testing.T, backend *testutil.FakeBackend, vm *fakeVM) *core.Model {
	t.Helper()
	model, err := core.NewModelWithBackend(backend, "wasm", vm)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return model
}

// numberContract stores a decimal value under "number" and serves it back.
func numberContract() *handlerFns {
	return &handlerFns{
		query: func(inst *fakeInstance, _ *core.Env, _ []byte) (core.Binary, error) {
			return core.Binary(inst.storage.Get([]byte("number"))), nil
		},
	}
}

func execSubMsg(id uint64, replyOn core.ReplyOn, target string, msg []byte) core.SubMsg {
	return core.SubMsg{
		ID:      id,
		ReplyOn: replyOn,
		Msg: core.CosmosMsg{
			Wasm: &core.WasmMsg{
				Execute: &core.WasmExecuteMsg{ContractAddr: target, Msg: msg},
			},
		},
	}
}

func derivedAddress(t *testing.T, codeID, counter uint64) string {
	t.Helper()
	codec, err := core.NewAddressCodec("wasm", 32)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("seeeed_%d_%d", codeID, counter)))
	addr, err := codec.CanonicalToHuman(sum[:])
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return addr
}

//---------------------------------------------------------------------
// Atomicity and block movement
//---------------------------------------------------------------------

func TestExecuteAtomicity(t *testing.T) {
	code := testutil.FakeWasm("atomic")
	backend := testutil.NewFakeBackend()
	backend.SetContract(pairAddr, 7, code, []core.Record{{Key: []byte("number"), Value: []byte("1")}})

	vm := newFakeVM()
	h := numberContract()
	h.execute = func(inst *fakeInstance, _ *core.Env, _ *core.MessageInfo, _ []byte) (*core.ContractResult, error) {
		inst.storage.Set([]byte("number"), []byte("100"))
		return core.ContractResultErr("deliberate failure"), nil
	}
	vm.register(code, h)
	model := newTestModel(t, backend, vm)

	before, err := model.WasmQuery(pairAddr, []byte(`{"read_number":{}}`))
	if err != nil {
		t.Fatalf("query before: %v", err)
	}
	height := model.BlockNumber()

	log, err := model.Execute(pairAddr, []byte(`{"test_atomic":{}}`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if log.ErrMsg == nil || *log.ErrMsg != "deliberate failure" {
		t.Fatalf("err msg: %v", log.ErrMsg)
	}
	if model.BlockNumber() != height {
		t.Fatalf("failed tx advanced block: %d", model.BlockNumber())
	}

	after, err := model.WasmQuery(pairAddr, []byte(`{"read_number":{}}`))
	if err != nil {
		t.Fatalf("query after: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("state mutated across failed tx: %q -> %q", before, after)
	}
}

func TestBlockMonotonicity(t *testing.T) {
	okCode := testutil.FakeWasm("ok")
	backend := testutil.NewFakeBackend()
	backend.SetContract(pairAddr, 7, okCode, nil)

	vm := newFakeVM()
	fail := false
	vm.register(okCode, &handlerFns{
		execute: func(*fakeInstance, *core.Env, *core.MessageInfo, []byte) (*core.ContractResult, error) {
			if fail {
				return core.ContractResultErr("nope"), nil
			}
			return okEmpty()
		},
	})
	model := newTestModel(t, backend, vm)

	height := model.BlockNumber()
	if _, err := model.Execute(pairAddr, []byte(`{}`), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if model.BlockNumber() != height+1 {
		t.Fatalf("ok tx must advance block by 1: %d", model.BlockNumber())
	}

	fail = true
	if _, err := model.Execute(pairAddr, []byte(`{}`), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if model.BlockNumber() != height+1 {
		t.Fatalf("failed tx must not advance block: %d", model.BlockNumber())
	}
}

//---------------------------------------------------------------------
// Instantiate flows
//---------------------------------------------------------------------

func TestInstantiateCustomCode(t *testing.T) {
	code := testutil.FakeWasm("custom")
	backend := testutil.NewFakeBackend()
	vm := newFakeVM()
	h := numberContract()
	h.instantiate = func(inst *fakeInstance, _ *core.Env, _ *core.MessageInfo, _ []byte) (*core.ContractResult, error) {
		inst.storage.Set([]byte("number"), []byte("1"))
		return okEmpty()
	}
	vm.register(code, h)
	model := newTestModel(t, backend, vm)

	if err := model.AddCustomCode(1337, code); err != nil {
		t.Fatalf("add custom code: %v", err)
	}
	log, err := model.Instantiate(1337, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if log.ErrMsg != nil {
		t.Fatalf("instantiate failed: %s", *log.ErrMsg)
	}

	addr, ok := log.ContractAddressFromLogs()
	if !ok {
		t.Fatal("no _contract_address in events")
	}
	if want := derivedAddress(t, 1337, 0); addr != want {
		t.Fatalf("derived address: got %s want %s", addr, want)
	}

	value, err := model.WasmQuery(addr, []byte(`{"read_number":{}}`))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if string(value) != "1" {
		t.Fatalf("read_number: %q", value)
	}

	// the synthesized instantiate event carries the code id
	found := false
	for _, entry := range log.Logs {
		for _, ev := range entry.Events {
			if ev.Type == "instantiate" && ev.Attributes[0].Value == "1337" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("instantiate event with code_id missing")
	}
}

func TestAddressDeterminism(t *testing.T) {
	code := testutil.FakeWasm("det")
	build := func() *core.Model {
		backend := testutil.NewFakeBackend()
		vm := newFakeVM()
		vm.register(code, &handlerFns{})
		model := newTestModel(t, backend, vm)
		if err := model.AddCustomCode(9, code); err != nil {
			t.Fatalf("add code: %v", err)
		}
		return model
	}
	addrsOf := func(m *core.Model) []string {
		var addrs []string
		for i := 0; i < 2; i++ {
			log, err := m.Instantiate(9, []byte(`{}`), nil)
			if err != nil {
				t.Fatalf("instantiate: %v", err)
			}
			addr, ok := log.ContractAddressFromLogs()
			if !ok {
				t.Fatal("address missing")
			}
			addrs = append(addrs, addr)
		}
		return addrs
	}

	a, b := addrsOf(build()), addrsOf(build())
	if a[0] != b[0] || a[1] != b[1] {
		t.Fatalf("same call sequence derived different addresses: %v vs %v", a, b)
	}
	if a[0] == a[1] {
		t.Fatal("counter did not advance between instantiations")
	}
}

func TestFailedInstantiateRollsBackCounterAndState(t *testing.T) {
	code := testutil.FakeWasm("flaky")
	backend := testutil.NewFakeBackend()
	vm := newFakeVM()
	fail := true
	vm.register(code, &handlerFns{
		instantiate: func(*fakeInstance, *core.Env, *core.MessageInfo, []byte) (*core.ContractResult, error) {
			if fail {
				return core.ContractResultErr("init refused"), nil
			}
			return okEmpty()
		},
	})
	model := newTestModel(t, backend, vm)
	if err := model.AddCustomCode(70, code); err != nil {
		t.Fatalf("add code: %v", err)
	}

	log, err := model.Instantiate(70, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if log.ErrMsg == nil {
		t.Fatal("expected failure")
	}
	// the speculative contract state must be gone
	if _, ok := model.States().ContractStateGet(derivedAddress(t, 70, 0)); ok {
		t.Fatal("speculative state survived failed instantiate")
	}

	// the top-level rollback returns the counter slot
	fail = false
	log, err = model.Instantiate(70, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	addr, _ := log.ContractAddressFromLogs()
	if want := derivedAddress(t, 70, 0); addr != want {
		t.Fatalf("counter not rolled back: got %s want %s", addr, want)
	}
}

func TestInstantiateFundsTransfer(t *testing.T) {
	code := testutil.FakeWasm("funded")
	backend := testutil.NewFakeBackend()
	backend.SetBalance(core.BaseEOA, "umlg", 100)
	vm := newFakeVM()
	vm.register(code, &handlerFns{})
	model := newTestModel(t, backend, vm)
	if err := model.AddCustomCode(3, code); err != nil {
		t.Fatalf("add code: %v", err)
	}

	log, err := model.Instantiate(3, []byte(`{}`), []core.Coin{core.NewCoin("umlg", 40)})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if log.ErrMsg != nil {
		t.Fatalf("instantiate failed: %s", *log.ErrMsg)
	}
	addr, _ := log.ContractAddressFromLogs()
	if got := balance(t, model.States(), addr, "umlg"); got != 40 {
		t.Fatalf("contract funds: %d", got)
	}
	if got := balance(t, model.States(), core.BaseEOA, "umlg"); got != 60 {
		t.Fatalf("sender funds: %d", got)
	}
}

func TestInstantiateInsufficientFunds(t *testing.T) {
	code := testutil.FakeWasm("poor")
	backend := testutil.NewFakeBackend()
	backend.SetBalance(core.BaseEOA, "umlg", 5)
	vm := newFakeVM()
	vm.register(code, &handlerFns{})
	model := newTestModel(t, backend, vm)
	if err := model.AddCustomCode(4, code); err != nil {
		t.Fatalf("add code: %v", err)
	}

	height := model.BlockNumber()
	log, err := model.Instantiate(4, []byte(`{}`), []core.Coin{core.NewCoin("umlg", 50)})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if log.ErrMsg == nil {
		t.Fatal("expected insufficient balance failure")
	}
	if model.BlockNumber() != height {
		t.Fatal("failed instantiate advanced block")
	}
	if got := balance(t, model.States(), core.BaseEOA, "umlg"); got != 5 {
		t.Fatalf("sender mutated: %d", got)
	}
}

//---------------------------------------------------------------------
// Submessages and replies
//---------------------------------------------------------------------

type replyRecord struct {
	id    uint64
	isErr bool
}

func replyPolicyFixture(t *testing.T, policy core.ReplyOn) (*core.Model, *[]replyRecord) {
	t.Helper()
	callerCode := testutil.FakeWasm("caller")
	calleeCode := testutil.FakeWasm("callee")

	backend := testutil.NewFakeBackend()
	backend.SetContract(callerAddr, 1, callerCode, nil)
	backend.SetContract(calleeAddr, 2, calleeCode, nil)

	var replies []replyRecord
	vm := newFakeVM()
	vm.register(callerCode, &handlerFns{
		execute: func(*fakeInstance, *core.Env, *core.MessageInfo, []byte) (*core.ContractResult, error) {
			return core.ContractResultOk(&core.Response{Messages: []core.SubMsg{
				execSubMsg(1, policy, calleeAddr, []byte(`"ok"`)),
				execSubMsg(2, policy, calleeAddr, []byte(`"err"`)),
			}}), nil
		},
		reply: func(_ *fakeInstance, _ *core.Env, reply *core.Reply) (*core.ContractResult, error) {
			replies = append(replies, replyRecord{id: reply.ID, isErr: reply.Result.Err != ""})
			return okEmpty()
		},
	})
	vm.register(calleeCode, &handlerFns{
		execute: func(_ *fakeInstance, _ *core.Env, _ *core.MessageInfo, msg []byte) (*core.ContractResult, error) {
			if string(msg) == `"err"` {
				return core.ContractResultErr("callee failed"), nil
			}
			return okEmpty()
		},
	})
	return newTestModel(t, backend, vm), &replies
}

func TestReplyPolicies(t *testing.T) {
	cases := []struct {
		policy      core.ReplyOn
		wantReplies []replyRecord
		wantErr     bool
	}{
		{core.ReplyAlways, []replyRecord{{1, false}, {2, true}}, false},
		{core.ReplyOnSuccess, []replyRecord{{1, false}}, true},
		{core.ReplyOnError, []replyRecord{{2, true}}, false},
		{core.ReplyNever, nil, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			model, replies := replyPolicyFixture(t, tc.policy)
			log, err := model.Execute(callerAddr, []byte(`{"go":{}}`), nil)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if (log.ErrMsg != nil) != tc.wantErr {
				t.Fatalf("err outcome: %v want err=%v", log.ErrMsg, tc.wantErr)
			}
			if len(*replies) != len(tc.wantReplies) {
				t.Fatalf("replies: %v want %v", *replies, tc.wantReplies)
			}
			for i, want := range tc.wantReplies {
				if (*replies)[i] != want {
					t.Fatalf("reply %d: %v want %v", i, (*replies)[i], want)
				}
			}
		})
	}
}

func TestReplyErrorPropagates(t *testing.T) {
	callerCode := testutil.FakeWasm("caller-replyerr")
	calleeCode := testutil.FakeWasm("callee-replyerr")
	backend := testutil.NewFakeBackend()
	backend.SetContract(callerAddr, 1, callerCode, nil)
	backend.SetContract(calleeAddr, 2, calleeCode, nil)

	vm := newFakeVM()
	vm.register(callerCode, &handlerFns{
		execute: func(*fakeInstance, *core.Env, *core.MessageInfo, []byte) (*core.ContractResult, error) {
			return core.ContractResultOk(&core.Response{Messages: []core.SubMsg{
				execSubMsg(1, core.ReplyAlways, calleeAddr, []byte(`"ok"`)),
			}}), nil
		},
		reply: func(*fakeInstance, *core.Env, *core.Reply) (*core.ContractResult, error) {
			return core.ContractResultErr("reply blew up"), nil
		},
	})
	vm.register(calleeCode, &handlerFns{})
	model := newTestModel(t, backend, vm)

	log, err := model.Execute(callerAddr, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if log.ErrMsg == nil || *log.ErrMsg != "reply blew up" {
		t.Fatalf("reply error must fail the tx: %v", log.ErrMsg)
	}
}

func TestSubmessageInstantiateAdminMismatch(t *testing.T) {
	callerCode := testutil.FakeWasm("caller-admin")
	backend := testutil.NewFakeBackend()
	backend.SetContract(callerAddr, 1, callerCode, nil)

	other := "wasm1somebodyelse"
	var gotErr string
	vm := newFakeVM()
	vm.register(callerCode, &handlerFns{
		execute: func(*fakeInstance, *core.Env, *core.MessageInfo, []byte) (*core.ContractResult, error) {
			return core.ContractResultOk(&core.Response{Messages: []core.SubMsg{{
				ID:      7,
				ReplyOn: core.ReplyOnError,
				Msg: core.CosmosMsg{Wasm: &core.WasmMsg{Instantiate: &core.WasmInstantiateMsg{
					Admin:  &other,
					CodeID: 50,
					Msg:    core.Binary(`{}`),
				}}},
			}}}), nil
		},
		reply: func(_ *fakeInstance, _ *core.Env, reply *core.Reply) (*core.ContractResult, error) {
			gotErr = reply.Result.Err
			return okEmpty()
		},
	})
	model := newTestModel(t, backend, vm)

	log, err := model.Execute(callerAddr, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if log.ErrMsg != nil {
		t.Fatalf("reply swallowed the error, tx must pass: %v", *log.ErrMsg)
	}
	if gotErr != "cannot instantiate contract" {
		t.Fatalf("reply error: %q", gotErr)
	}
}

func TestSubmessageInstantiateReplyData(t *testing.T) {
	callerCode := testutil.FakeWasm("caller-child")
	childCode := testutil.FakeWasm("child")
	backend := testutil.NewFakeBackend()
	backend.SetContract(callerAddr, 1, callerCode, nil)
	backend.Codes[55] = childCode

	var replyData core.Binary
	vm := newFakeVM()
	vm.register(callerCode, &handlerFns{
		execute: func(*fakeInstance, *core.Env, *core.MessageInfo, []byte) (*core.ContractResult, error) {
			return core.ContractResultOk(&core.Response{Messages: []core.SubMsg{{
				ID:      8,
				ReplyOn: core.ReplyOnSuccess,
				Msg: core.CosmosMsg{Wasm: &core.WasmMsg{Instantiate: &core.WasmInstantiateMsg{
					CodeID: 55,
					Msg:    core.Binary(`{}`),
				}}},
			}}}), nil
		},
		reply: func(_ *fakeInstance, _ *core.Env, reply *core.Reply) (*core.ContractResult, error) {
			replyData = reply.Result.Ok.Data
			return okEmpty()
		},
	})
	vm.register(childCode, &handlerFns{})
	model := newTestModel(t, backend, vm)

	log, err := model.Execute(callerAddr, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if log.ErrMsg != nil {
		t.Fatalf("tx failed: %s", *log.ErrMsg)
	}

	// the reply payload is MsgInstantiateContractResponse{address}
	num, typ, n := protowire.ConsumeTag(replyData)
	if n < 0 || num != 1 || typ != protowire.BytesType {
		t.Fatalf("reply data tag: %x", replyData)
	}
	address, _ := protowire.ConsumeString(replyData[n:])
	if want := derivedAddress(t, 55, 0); address != want {
		t.Fatalf("reply address: got %s want %s", address, want)
	}
}

func TestBankSubmessageAborts(t *testing.T) {
	callerCode := testutil.FakeWasm("caller-bank")
	backend := testutil.NewFakeBackend()
	backend.SetContract(callerAddr, 1, callerCode, nil)
	backend.SetBalance(callerAddr, "umlg", 5)

	vm := newFakeVM()
	vm.register(callerCode, &handlerFns{
		execute: func(*fakeInstance, *core.Env, *core.MessageInfo, []byte) (*core.ContractResult, error) {
			return core.ContractResultOk(&core.Response{Messages: []core.SubMsg{{
				ID:      1,
				ReplyOn: core.ReplyNever,
				Msg: core.CosmosMsg{Bank: &core.BankMsg{
					Send: &core.BankSendMsg{ToAddress: bob, Amount: []core.Coin{core.NewCoin("umlg", 50)}},
				}},
			}}}), nil
		},
	})
	model := newTestModel(t, backend, vm)

	log, err := model.Execute(callerAddr, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if log.ErrMsg == nil {
		t.Fatal("bank failure must abort the call")
	}
	if got := balance(t, model.States(), callerAddr, "umlg"); got != 5 {
		t.Fatalf("balances mutated across abort: %d", got)
	}
}

func TestUnsupportedSubmessageIsHostError(t *testing.T) {
	callerCode := testutil.FakeWasm("caller-unknown")
	backend := testutil.NewFakeBackend()
	backend.SetContract(callerAddr, 1, callerCode, nil)

	vm := newFakeVM()
	vm.register(callerCode, &handlerFns{
		execute: func(*fakeInstance, *core.Env, *core.MessageInfo, []byte) (*core.ContractResult, error) {
			return core.ContractResultOk(&core.Response{Messages: []core.SubMsg{{
				ID: 1, ReplyOn: core.ReplyNever, Msg: core.CosmosMsg{},
			}}}), nil
		},
	})
	model := newTestModel(t, backend, vm)

	height := model.BlockNumber()
	if _, err := model.Execute(callerAddr, []byte(`{}`), nil); err == nil {
		t.Fatal("unsupported submessage must be a host error")
	}
	if model.BlockNumber() != height {
		t.Fatal("host error advanced block")
	}
}

//---------------------------------------------------------------------
// Host querier integration
//---------------------------------------------------------------------

func TestQuerySelfSeesOwnWrites(t *testing.T) {
	code := testutil.FakeWasm("selfquery")
	backend := testutil.NewFakeBackend()
	backend.SetContract(pairAddr, 7, code, nil)

	vm := newFakeVM()
	h := numberContract()
	h.execute = func(inst *fakeInstance, _ *core.Env, _ *core.MessageInfo, _ []byte) (*core.ContractResult, error) {
		inst.storage.Set([]byte("number"), []byte("2"))

		request, _ := json.Marshal(&core.QueryRequest{Wasm: &core.WasmQuery{
			Smart: &core.SmartQuery{ContractAddr: inst.addr, Msg: core.Binary(`{"read_number":{}}`)},
		}})
		raw, err := inst.querier.QueryRaw(request, core.GasUnlimited)
		if err != nil {
			return nil, err
		}
		var envelope core.SystemResult
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, err
		}
		if envelope.Err != "" {
			return core.ContractResultErr(envelope.Err), nil
		}
		seen := string(envelope.Ok.Ok)

		inst.storage.Set([]byte("number"), []byte("1"))
		resp := &core.Response{}
		resp.AddEvent(core.NewEvent("read_number", "value", seen))
		return core.ContractResultOk(resp), nil
	}
	vm.register(code, h)
	model := newTestModel(t, backend, vm)

	log, err := model.Execute(pairAddr, []byte(`{"test_query_self":{}}`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if log.ErrMsg != nil {
		t.Fatalf("tx failed: %s", *log.ErrMsg)
	}
	found := false
	for _, entry := range log.Logs {
		for _, ev := range entry.Events {
			if ev.Type == "read_number" && ev.Attributes[0].Value == "2" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("self-query did not observe the in-transaction write")
	}

	after, err := model.WasmQuery(pairAddr, []byte(`{"read_number":{}}`))
	if err != nil {
		t.Fatalf("query after: %v", err)
	}
	if string(after) != "1" {
		t.Fatalf("final number: %q", after)
	}
}

func TestPrinterCapturesStdout(t *testing.T) {
	code := testutil.FakeWasm("printer-user")
	backend := testutil.NewFakeBackend()
	backend.SetContract(pairAddr, 7, code, nil)

	vm := newFakeVM()
	vm.register(code, &handlerFns{
		execute: func(inst *fakeInstance, _ *core.Env, _ *core.MessageInfo, _ []byte) (*core.ContractResult, error) {
			request, _ := json.Marshal(&core.QueryRequest{Wasm: &core.WasmQuery{
				Smart: &core.SmartQuery{
					ContractAddr: core.PrinterAddr,
					Msg:          core.Binary(`{"msg":"hello from sandbox"}`),
				},
			}})
			raw, err := inst.querier.QueryRaw(request, core.GasUnlimited)
			if err != nil {
				return nil, err
			}
			var envelope core.SystemResult
			if err := json.Unmarshal(raw, &envelope); err != nil {
				return nil, err
			}
			var ack struct {
				Ack bool `json:"ack"`
			}
			if err := json.Unmarshal(envelope.Ok.Ok, &ack); err != nil || !ack.Ack {
				return core.ContractResultErr("printer did not ack"), nil
			}
			return okEmpty()
		},
	})
	model := newTestModel(t, backend, vm)

	log, err := model.Execute(pairAddr, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if log.ErrMsg != nil {
		t.Fatalf("tx failed: %s", *log.ErrMsg)
	}
	if got := log.GetStdout(); got != "hello from sandbox" {
		t.Fatalf("stdout: %q", got)
	}
}

//---------------------------------------------------------------------
// Coverage and cheats
//---------------------------------------------------------------------

func TestCoverageSurvivesRollback(t *testing.T) {
	code := testutil.FakeWasm("covered")
	backend := testutil.NewFakeBackend()
	backend.SetContract(pairAddr, 7, code, nil)

	vm := newFakeVM()
	vm.register(code, &handlerFns{
		execute: func(*fakeInstance, *core.Env, *core.MessageInfo, []byte) (*core.ContractResult, error) {
			return core.ContractResultErr("fails anyway"), nil
		},
		coverage: []byte{0xaa, 0xbb},
	})
	model := newTestModel(t, backend, vm)
	model.EnableCodeCoverage()

	log, err := model.Execute(pairAddr, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if log.ErrMsg == nil {
		t.Fatal("expected failure")
	}
	bufs := model.GetCodeCoverage()[pairAddr]
	if len(bufs) != 1 || !bytes.Equal(bufs[0], []byte{0xaa, 0xbb}) {
		t.Fatalf("coverage lost across rollback: %v", bufs)
	}
	if len(log.Coverage[pairAddr]) != 1 {
		t.Fatalf("debug log coverage missing: %v", log.Coverage)
	}

	model.DisableCodeCoverage()
	if _, err := model.Execute(pairAddr, []byte(`{}`), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := len(model.GetCodeCoverage()[pairAddr]); got != 1 {
		t.Fatalf("disabled coverage still collected: %d", got)
	}
}

func TestCheats(t *testing.T) {
	code := testutil.FakeWasm("cheatable")
	newCode := testutil.FakeWasm("cheatable-v2")
	backend := testutil.NewFakeBackend()
	backend.SetContract(pairAddr, 7, code, []core.Record{{Key: []byte("number"), Value: []byte("1")}})

	var seenSender string
	vm := newFakeVM()
	h := numberContract()
	h.execute = func(_ *fakeInstance, _ *core.Env, info *core.MessageInfo, _ []byte) (*core.ContractResult, error) {
		seenSender = info.Sender
		return okEmpty()
	}
	vm.register(code, h)
	h2 := numberContract()
	h2.execute = func(inst *fakeInstance, _ *core.Env, _ *core.MessageInfo, _ []byte) (*core.ContractResult, error) {
		inst.storage.Set([]byte("number"), []byte("42"))
		return okEmpty()
	}
	vm.register(newCode, h2)
	model := newTestModel(t, backend, vm)

	if err := model.CheatBlockNumber(9999); err != nil {
		t.Fatalf("cheat block number: %v", err)
	}
	if model.BlockNumber() != 9999 {
		t.Fatalf("height: %d", model.BlockNumber())
	}
	if err := model.CheatBlockTimestamp(core.Timestamp(12345)); err != nil {
		t.Fatalf("cheat timestamp: %v", err)
	}
	if model.States().BlockTimestamp() != 12345 {
		t.Fatalf("timestamp: %d", model.States().BlockTimestamp())
	}

	if err := model.CheatBankBalance(alice, "umlg", core.NewUint128(500)); err != nil {
		t.Fatalf("cheat balance: %v", err)
	}
	if got := balance(t, model.States(), alice, "umlg"); got != 500 {
		t.Fatalf("cheated balance: %d", got)
	}

	if err := model.CheatMessageSender(alice); err != nil {
		t.Fatalf("cheat sender: %v", err)
	}
	if _, err := model.Execute(pairAddr, []byte(`{}`), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if seenSender != alice {
		t.Fatalf("sender override not visible: %q", seenSender)
	}

	if err := model.CheatStorage(pairAddr, []byte("number"), []byte("7")); err != nil {
		t.Fatalf("cheat storage: %v", err)
	}
	value, err := model.WasmQuery(pairAddr, []byte(`{"read_number":{}}`))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if string(value) != "7" {
		t.Fatalf("cheated storage: %q", value)
	}

	// invalid replacement code restores the previous state
	if err := model.CheatCode(pairAddr, []byte("not registered")); err == nil {
		t.Fatal("invalid code must fail")
	}
	if _, err := model.Execute(pairAddr, []byte(`{}`), nil); err != nil {
		t.Fatalf("execute after failed cheat: %v", err)
	}

	// a valid replacement swaps behavior while keeping storage
	if err := model.CheatCode(pairAddr, newCode); err != nil {
		t.Fatalf("cheat code: %v", err)
	}
	if _, err := model.Execute(pairAddr, []byte(`{}`), nil); err != nil {
		t.Fatalf("execute v2: %v", err)
	}
	value, err = model.WasmQuery(pairAddr, []byte(`{"read_number":{}}`))
	if err != nil {
		t.Fatalf("query v2: %v", err)
	}
	if string(value) != "42" {
		t.Fatalf("new code did not run: %q", value)
	}
}

func TestModelCloneForks(t *testing.T) {
	code := testutil.FakeWasm("forkable")
	backend := testutil.NewFakeBackend()
	backend.SetContract(pairAddr, 7, code, []core.Record{{Key: []byte("number"), Value: []byte("1")}})

	vm := newFakeVM()
	h := numberContract()
	h.execute = func(inst *fakeInstance, _ *core.Env, _ *core.MessageInfo, _ []byte) (*core.ContractResult, error) {
		inst.storage.Set([]byte("number"), []byte("2"))
		return okEmpty()
	}
	vm.register(code, h)
	model := newTestModel(t, backend, vm)
	if _, err := model.WasmQuery(pairAddr, []byte(`{}`)); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	fork, err := model.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if _, err := model.Execute(pairAddr, []byte(`{}`), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	value, err := fork.WasmQuery(pairAddr, []byte(`{}`))
	if err != nil {
		t.Fatalf("fork query: %v", err)
	}
	if string(value) != "1" {
		t.Fatalf("fork observed the original's write: %q", value)
	}
}
