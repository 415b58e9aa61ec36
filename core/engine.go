package core

// Wasmer-backed contract engine. Each sandbox call gets a fresh instance
// wired to the contract's storage view, the host querier and the address
// codec; compiled modules are cached by code hash because compilation
// dominates call latency.
//
// The import surface is the cosmwasm contract ABI: regions (offset,
// capacity, length triples in guest memory) carry every byte blob across
// the boundary, and values come back through the guest's own allocator.

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// Querier is the callback surface a running sandbox uses for chain reads.
// QueryRaw returns a serialized SystemResult envelope; a Go error means the
// backend itself failed and the sandbox call must trap.
type Querier interface {
	QueryRaw(request []byte, gasLimit uint64) ([]byte, error)
}

// InstanceConfig carries everything needed to build one sandbox instance.
type InstanceConfig struct {
	Address  string
	Code     []byte
	Storage  *SandboxStorage
	Querier  Querier
	Codec    *AddressCodec
	GasLimit uint64
}

// ContractInstance is one live sandbox around a contract's four entry
// points. Instances are single-call: the dispatcher builds one, calls it,
// and drops it.
type ContractInstance interface {
	Address() string
	Instantiate(env *Env, info *MessageInfo, msg []byte) (*ContractResult, error)
	Execute(env *Env, info *MessageInfo, msg []byte) (*ContractResult, error)
	Reply(env *Env, reply *Reply) (*ContractResult, error)
	Query(env *Env, query *WasmQuery) (Binary, error)
	ReadStorage(key []byte) ([]byte, error)
	WriteStorage(key, value []byte) error
	DumpCoverage() ([]byte, error)
	Close()
}

// VM builds sandbox instances from code blobs.
type VM interface {
	Instance(cfg *InstanceConfig) (ContractInstance, error)
}

//---------------------------------------------------------------------
// WasmVM
//---------------------------------------------------------------------

// WasmVM is the wasmer embedding of VM with a content-addressed module
// cache.
type WasmVM struct {
	engine *wasmer.Engine
	store  *wasmer.Store

	mu      sync.Mutex
	modules map[[32]byte]*wasmer.Module
}

// NewWasmVM boots a wasmer engine.
func NewWasmVM() *WasmVM {
	engine := wasmer.NewEngine()
	return &WasmVM{
		engine:  engine,
		store:   wasmer.NewStore(engine),
		modules: make(map[[32]byte]*wasmer.Module),
	}
}

// compile returns the cached module for code, compiling on first sight.
func (vm *WasmVM) compile(code []byte) (*wasmer.Module, error) {
	hash := sha256.Sum256(code)
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if mod, ok := vm.modules[hash]; ok {
		return mod, nil
	}
	mod, err := wasmer.NewModule(vm.store, code)
	if err != nil {
		return nil, errVmInit("compile module", err)
	}
	vm.modules[hash] = mod
	logrus.Debugf("vm: compiled module %x (%d bytes)", hash[:8], len(code))
	return mod, nil
}

// Instance builds a fresh sandbox for one call.
func (vm *WasmVM) Instance(cfg *InstanceConfig) (ContractInstance, error) {
	mod, err := vm.compile(cfg.Code)
	if err != nil {
		return nil, err
	}
	inst := &wasmInstance{
		address: cfg.Address,
		storage: cfg.Storage,
		querier: cfg.Querier,
		codec:   cfg.Codec,
		gas:     NewGasMeter(cfg.GasLimit),
	}
	imports := inst.registerHost(vm.store)
	wasmInst, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, errVmInit("instantiate module", err)
	}
	inst.instance = wasmInst

	mem, err := wasmInst.Exports.GetMemory("memory")
	if err != nil {
		return nil, errVmInit("wasm memory export missing", err)
	}
	inst.memory = mem
	if inst.allocate, err = wasmInst.Exports.GetFunction("allocate"); err != nil {
		return nil, errVmInit("allocate export missing", err)
	}
	if inst.deallocate, err = wasmInst.Exports.GetFunction("deallocate"); err != nil {
		return nil, errVmInit("deallocate export missing", err)
	}
	return inst, nil
}

//---------------------------------------------------------------------
// Instance
//---------------------------------------------------------------------

type wasmInstance struct {
	address  string
	instance *wasmer.Instance
	memory   *wasmer.Memory

	storage *SandboxStorage
	querier Querier
	codec   *AddressCodec
	gas     *GasMeter

	allocate   wasmer.NativeFunction
	deallocate wasmer.NativeFunction
}

const regionHeaderSize = 12

func (w *wasmInstance) Address() string { return w.address }

func (w *wasmInstance) Close() {
	// instances are dropped wholesale; wasmer frees with the GC
}

// readRegionHeader returns (offset, capacity, length) of the region at ptr.
func (w *wasmInstance) readRegionHeader(ptr int32) (uint32, uint32, uint32, error) {
	data := w.memory.Data()
	if ptr < 0 || int(ptr)+regionHeaderSize > len(data) {
		return 0, 0, 0, errVmExec("region header out of bounds: %d", ptr)
	}
	offset := binary.LittleEndian.Uint32(data[ptr : ptr+4])
	capacity := binary.LittleEndian.Uint32(data[ptr+4 : ptr+8])
	length := binary.LittleEndian.Uint32(data[ptr+8 : ptr+12])
	return offset, capacity, length, nil
}

// readRegion copies the region's payload out of guest memory.
func (w *wasmInstance) readRegion(ptr int32) ([]byte, error) {
	offset, _, length, err := w.readRegionHeader(ptr)
	if err != nil {
		return nil, err
	}
	data := w.memory.Data()
	if uint64(offset)+uint64(length) > uint64(len(data)) {
		return nil, errVmExec("region payload out of bounds: %d+%d", offset, length)
	}
	out := make([]byte, length)
	copy(out, data[offset:offset+length])
	return out, nil
}

// writeToRegion copies payload into a guest-provided region, respecting its
// capacity and updating its length field.
func (w *wasmInstance) writeToRegion(ptr int32, payload []byte) error {
	offset, capacity, _, err := w.readRegionHeader(ptr)
	if err != nil {
		return err
	}
	if uint32(len(payload)) > capacity {
		return errVmExec("region too small: %d > %d", len(payload), capacity)
	}
	data := w.memory.Data()
	copy(data[offset:], payload)
	binary.LittleEndian.PutUint32(data[ptr+8:ptr+12], uint32(len(payload)))
	return nil
}

// allocateRegion asks the guest allocator for space and fills it.
func (w *wasmInstance) allocateRegion(payload []byte) (int32, error) {
	raw, err := w.allocate(int32(len(payload)))
	if err != nil {
		return 0, errVmExec("guest allocate failed: %v", err)
	}
	ptr, ok := raw.(int32)
	if !ok {
		return 0, errVmExec("guest allocate returned %T", raw)
	}
	if err := w.writeToRegion(ptr, payload); err != nil {
		return 0, err
	}
	return ptr, nil
}

// encodeSections joins byte slices in the ABI's section format: payload
// followed by its big-endian u32 length, concatenated.
func encodeSections(sections ...[]byte) []byte {
	var out []byte
	for _, s := range sections {
		out = append(out, s...)
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(s)))
		out = append(out, l[:]...)
	}
	return out
}

// decodeSections splits a section-joined payload back into slices.
func decodeSections(data []byte) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, errVmExec("malformed section trailer")
		}
		l := binary.BigEndian.Uint32(data[len(data)-4:])
		data = data[:len(data)-4]
		if uint32(len(data)) < l {
			return nil, errVmExec("section length %d exceeds payload", l)
		}
		out = append([][]byte{data[len(data)-int(l):]}, out...)
		data = data[:len(data)-int(l)]
	}
	return out, nil
}

//---------------------------------------------------------------------
// Host imports
//---------------------------------------------------------------------

func i32s(n int) []*wasmer.ValueType {
	types := make([]*wasmer.ValueType, n)
	for i := range types {
		types[i] = wasmer.NewValueType(wasmer.I32)
	}
	return types
}

func (w *wasmInstance) hostFn(store *wasmer.Store, params, results int,
	fn func(args []wasmer.Value) ([]wasmer.Value, error)) wasmer.IntoExtern {
	return wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(i32s(params), i32s(results)),
		fn,
	)
}

// registerHost wires the contract ABI imports under the "env" namespace.
func (w *wasmInstance) registerHost(store *wasmer.Store) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	ok32 := func(v int32) []wasmer.Value { return []wasmer.Value{wasmer.NewI32(v)} }

	dbRead := w.hostFn(store, 1, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostRead); err != nil {
			return nil, err
		}
		key, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		value := w.storage.Get(key)
		if value == nil {
			return ok32(0), nil
		}
		ptr, err := w.allocateRegion(value)
		if err != nil {
			return nil, err
		}
		return ok32(ptr), nil
	})

	dbWrite := w.hostFn(store, 2, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostWrite); err != nil {
			return nil, err
		}
		key, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		value, err := w.readRegion(args[1].I32())
		if err != nil {
			return nil, err
		}
		w.storage.Set(key, value)
		return nil, nil
	})

	dbRemove := w.hostFn(store, 1, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostRemove); err != nil {
			return nil, err
		}
		key, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		w.storage.Remove(key)
		return nil, nil
	})

	dbScan := w.hostFn(store, 3, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostScan); err != nil {
			return nil, err
		}
		var start, end []byte
		var err error
		if p := args[0].I32(); p != 0 {
			if start, err = w.readRegion(p); err != nil {
				return nil, err
			}
		}
		if p := args[1].I32(); p != 0 {
			if end, err = w.readRegion(p); err != nil {
				return nil, err
			}
		}
		id := w.storage.Scan(start, end, Order(args[2].I32()))
		return ok32(int32(id)), nil
	})

	dbNext := w.hostFn(store, 1, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostNext); err != nil {
			return nil, err
		}
		rec, err := w.storage.Next(uint32(args[0].I32()))
		if err != nil {
			return nil, err
		}
		var payload []byte
		if rec == nil {
			// exhausted iterators yield two empty sections
			payload = encodeSections(nil, nil)
		} else {
			payload = encodeSections(rec.Key, rec.Value)
		}
		ptr, err := w.allocateRegion(payload)
		if err != nil {
			return nil, err
		}
		return ok32(ptr), nil
	})

	addrValidate := w.hostFn(store, 1, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostAddr); err != nil {
			return nil, err
		}
		human, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		if _, cerr := w.codec.HumanToCanonical(string(human)); cerr != nil {
			ptr, err := w.allocateRegion([]byte(cerr.Error()))
			if err != nil {
				return nil, err
			}
			return ok32(ptr), nil
		}
		return ok32(0), nil
	})

	addrCanonicalize := w.hostFn(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostAddr); err != nil {
			return nil, err
		}
		human, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		canonical, cerr := w.codec.HumanToCanonical(string(human))
		if cerr != nil {
			ptr, err := w.allocateRegion([]byte(cerr.Error()))
			if err != nil {
				return nil, err
			}
			return ok32(ptr), nil
		}
		if err := w.writeToRegion(args[1].I32(), canonical); err != nil {
			return nil, err
		}
		return ok32(0), nil
	})

	addrHumanize := w.hostFn(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostAddr); err != nil {
			return nil, err
		}
		canonical, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		human, cerr := w.codec.CanonicalToHuman(canonical)
		if cerr != nil {
			ptr, err := w.allocateRegion([]byte(cerr.Error()))
			if err != nil {
				return nil, err
			}
			return ok32(ptr), nil
		}
		if err := w.writeToRegion(args[1].I32(), []byte(human)); err != nil {
			return nil, err
		}
		return ok32(0), nil
	})

	secpVerify := w.hostFn(store, 3, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostCrypto); err != nil {
			return nil, err
		}
		hash, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		sig, err := w.readRegion(args[1].I32())
		if err != nil {
			return nil, err
		}
		pubkey, err := w.readRegion(args[2].I32())
		if err != nil {
			return nil, err
		}
		if ethcrypto.VerifySignature(pubkey, hash, sig) {
			return ok32(0), nil
		}
		return ok32(1), nil
	})

	secpRecover := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(i32s(3), []*wasmer.ValueType{wasmer.NewValueType(wasmer.I64)}),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := w.gas.Consume(gasCostCrypto); err != nil {
				return nil, err
			}
			hash, err := w.readRegion(args[0].I32())
			if err != nil {
				return nil, err
			}
			sig, err := w.readRegion(args[1].I32())
			if err != nil {
				return nil, err
			}
			if len(sig) != 64 {
				return []wasmer.Value{wasmer.NewI64(int64(4) << 32)}, nil
			}
			full := append(append([]byte(nil), sig...), byte(args[2].I32()))
			pubkey, rerr := ethcrypto.Ecrecover(hash, full)
			if rerr != nil {
				return []wasmer.Value{wasmer.NewI64(int64(10) << 32)}, nil
			}
			ptr, err := w.allocateRegion(pubkey)
			if err != nil {
				return nil, err
			}
			return []wasmer.Value{wasmer.NewI64(int64(ptr))}, nil
		},
	)

	edVerify := w.hostFn(store, 3, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostCrypto); err != nil {
			return nil, err
		}
		msg, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		sig, err := w.readRegion(args[1].I32())
		if err != nil {
			return nil, err
		}
		pubkey, err := w.readRegion(args[2].I32())
		if err != nil {
			return nil, err
		}
		if len(pubkey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
			return ok32(1), nil
		}
		if ed25519.Verify(ed25519.PublicKey(pubkey), msg, sig) {
			return ok32(0), nil
		}
		return ok32(1), nil
	})

	edBatchVerify := w.hostFn(store, 3, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostCrypto); err != nil {
			return nil, err
		}
		msgsRaw, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		sigsRaw, err := w.readRegion(args[1].I32())
		if err != nil {
			return nil, err
		}
		keysRaw, err := w.readRegion(args[2].I32())
		if err != nil {
			return nil, err
		}
		msgs, err := decodeSections(msgsRaw)
		if err != nil {
			return nil, err
		}
		sigs, err := decodeSections(sigsRaw)
		if err != nil {
			return nil, err
		}
		keys, err := decodeSections(keysRaw)
		if err != nil {
			return nil, err
		}
		if len(msgs) != len(sigs) || len(sigs) != len(keys) {
			return ok32(1), nil
		}
		for i := range msgs {
			if len(keys[i]) != ed25519.PublicKeySize || len(sigs[i]) != ed25519.SignatureSize ||
				!ed25519.Verify(ed25519.PublicKey(keys[i]), msgs[i], sigs[i]) {
				return ok32(1), nil
			}
		}
		return ok32(0), nil
	})

	debug := w.hostFn(store, 1, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostDebug); err != nil {
			return nil, err
		}
		msg, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		logrus.Debugf("contract %s: %s", w.address, string(msg))
		return nil, nil
	})

	abort := w.hostFn(store, 1, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
		msg, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		return nil, errVmExec("contract aborted: %s", string(msg))
	})

	queryChain := w.hostFn(store, 1, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := w.gas.Consume(gasCostQuery); err != nil {
			return nil, err
		}
		request, err := w.readRegion(args[0].I32())
		if err != nil {
			return nil, err
		}
		response, qerr := w.querier.QueryRaw(request, w.gas.Remaining())
		if qerr != nil {
			return nil, qerr
		}
		ptr, err := w.allocateRegion(response)
		if err != nil {
			return nil, err
		}
		return ok32(ptr), nil
	})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"db_read":                  dbRead,
		"db_write":                 dbWrite,
		"db_remove":                dbRemove,
		"db_scan":                  dbScan,
		"db_next":                  dbNext,
		"addr_validate":            addrValidate,
		"addr_canonicalize":        addrCanonicalize,
		"addr_humanize":            addrHumanize,
		"secp256k1_verify":         secpVerify,
		"secp256k1_recover_pubkey": secpRecover,
		"ed25519_verify":           edVerify,
		"ed25519_batch_verify":     edBatchVerify,
		"debug":                    debug,
		"abort":                    abort,
		"query_chain":              queryChain,
	})
	return imports
}

//---------------------------------------------------------------------
// Entry-point calls
//---------------------------------------------------------------------

// callExport runs one exported entry point with region-pointer arguments
// and reads back the region its result points at.
func (w *wasmInstance) callExport(name string, args ...[]byte) ([]byte, error) {
	fn, err := w.instance.Exports.GetFunction(name)
	if err != nil {
		return nil, errVmInit(name+" export missing", err)
	}
	ptrs := make([]any, len(args))
	for i, arg := range args {
		ptr, err := w.allocateRegion(arg)
		if err != nil {
			return nil, err
		}
		ptrs[i] = ptr
	}
	raw, err := fn(ptrs...)
	if err != nil {
		return nil, errVmExec("%s trapped: %v", name, err)
	}
	ptr, ok := raw.(int32)
	if !ok {
		return nil, errVmExec("%s returned %T", name, raw)
	}
	return w.readRegion(ptr)
}

func (w *wasmInstance) callResult(name string, args ...[]byte) (*ContractResult, error) {
	out, err := w.callExport(name, args...)
	if err != nil {
		return nil, err
	}
	var result ContractResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, errVmExec("%s result undecodable: %v", name, err)
	}
	return &result, nil
}

func marshalOrVmErr(v any, what string) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, errVmExec("encode %s: %v", what, err)
	}
	return out, nil
}

func (w *wasmInstance) Instantiate(env *Env, info *MessageInfo, msg []byte) (*ContractResult, error) {
	envJSON, err := marshalOrVmErr(env, "env")
	if err != nil {
		return nil, err
	}
	infoJSON, err := marshalOrVmErr(info, "message info")
	if err != nil {
		return nil, err
	}
	return w.callResult("instantiate", envJSON, infoJSON, msg)
}

func (w *wasmInstance) Execute(env *Env, info *MessageInfo, msg []byte) (*ContractResult, error) {
	envJSON, err := marshalOrVmErr(env, "env")
	if err != nil {
		return nil, err
	}
	infoJSON, err := marshalOrVmErr(info, "message info")
	if err != nil {
		return nil, err
	}
	return w.callResult("execute", envJSON, infoJSON, msg)
}

func (w *wasmInstance) Reply(env *Env, reply *Reply) (*ContractResult, error) {
	envJSON, err := marshalOrVmErr(env, "env")
	if err != nil {
		return nil, err
	}
	replyJSON, err := marshalOrVmErr(reply, "reply")
	if err != nil {
		return nil, err
	}
	return w.callResult("reply", envJSON, replyJSON)
}

// Query dispatches a wasm query against this instance. ContractInfo and Raw
// are answered host-side; only Smart enters the sandbox.
func (w *wasmInstance) Query(env *Env, query *WasmQuery) (Binary, error) {
	switch {
	case query.ContractInfo != nil:
		return marshalOrVmErr(&EnvContractInfo{Address: w.address}, "contract info")
	case query.Raw != nil:
		value, err := w.ReadStorage(query.Raw.Key)
		if err != nil {
			return nil, err
		}
		// absent keys answer with an empty byte string, not an error
		return Binary(value), nil
	case query.Smart != nil:
		envJSON, err := marshalOrVmErr(env, "env")
		if err != nil {
			return nil, err
		}
		out, err := w.callExport("query", envJSON, []byte(query.Smart.Msg))
		if err != nil {
			return nil, err
		}
		var result QueryResult
		if err := json.Unmarshal(out, &result); err != nil {
			return nil, errVmExec("query result undecodable: %v", err)
		}
		if result.Err != "" {
			return nil, errVmExec("query failed: %s", result.Err)
		}
		return result.Ok, nil
	}
	return nil, errInvalidArgument("unsupported wasm query variant")
}

func (w *wasmInstance) ReadStorage(key []byte) ([]byte, error) {
	return w.storage.Get(key), nil
}

func (w *wasmInstance) WriteStorage(key, value []byte) error {
	w.storage.Set(key, value)
	return nil
}

// coverageMaxLen bounds a single coverage buffer.
const coverageMaxLen = 0x200000

// DumpCoverage calls the instrumented build's dump_coverage export. Plain
// builds lack the export; that and any dump failure yield an empty buffer.
func (w *wasmInstance) DumpCoverage() ([]byte, error) {
	fn, err := w.instance.Exports.GetFunction("dump_coverage")
	if err != nil {
		return nil, nil
	}
	raw, err := fn()
	if err != nil {
		return nil, nil
	}
	ptr, ok := raw.(int32)
	if !ok {
		return nil, nil
	}
	buf, err := w.readRegion(ptr)
	if err != nil || len(buf) > coverageMaxLen {
		return nil, nil
	}
	return buf, nil
}
