package core

// Wire types shared between the dispatcher, the sandbox and the host
// querier. Shapes and field names follow the JSON layout contracts expect;
// changing a tag here breaks the contract ABI.

import (
	"encoding/base64"
	"encoding/json"
)

// Binary is a byte blob that travels as base64 on the JSON wire.
type Binary []byte

func (b Binary) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

func (b *Binary) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errFormat("binary field is not a JSON string: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return errFormat("binary field is not base64: %v", err)
	}
	*b = raw
	return nil
}

// Timestamp is a nanosecond unix timestamp, serialized as a decimal string.
type Timestamp uint64

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return NewUint128(uint64(t)).MarshalJSON()
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var u Uint128
	if err := u.UnmarshalJSON(b); err != nil {
		return err
	}
	*t = Timestamp(u.Uint64())
	return nil
}

// PlusNanos returns the timestamp advanced by n nanoseconds.
func (t Timestamp) PlusNanos(n uint64) Timestamp { return t + Timestamp(n) }

//---------------------------------------------------------------------
// Environment passed into every entry point
//---------------------------------------------------------------------

type BlockInfo struct {
	Height  uint64    `json:"height"`
	Time    Timestamp `json:"time"`
	ChainID string    `json:"chain_id"`
}

type TransactionInfo struct {
	Index uint32 `json:"index"`
}

type EnvContractInfo struct {
	Address string `json:"address"`
}

type Env struct {
	Block       BlockInfo        `json:"block"`
	Transaction *TransactionInfo `json:"transaction"`
	Contract    EnvContractInfo  `json:"contract"`
}

type MessageInfo struct {
	Sender string `json:"sender"`
	Funds  []Coin `json:"funds"`
}

// nonNilCoins normalizes a nil coin list to an empty one. Contracts reject
// JSON null where a coin array is expected.
func nonNilCoins(funds []Coin) []Coin {
	if funds == nil {
		return []Coin{}
	}
	return funds
}

//---------------------------------------------------------------------
// Responses, events, submessages
//---------------------------------------------------------------------

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// NewEvent builds an event with alternating key/value attribute pairs.
func NewEvent(ty string, kv ...string) Event {
	ev := Event{Type: ty}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Attributes = append(ev.Attributes, Attribute{Key: kv[i], Value: kv[i+1]})
	}
	return ev
}

// ReplyOn selects when a submessage triggers the origin's reply entry point.
type ReplyOn string

const (
	ReplyAlways    ReplyOn = "always"
	ReplyOnSuccess ReplyOn = "success"
	ReplyOnError   ReplyOn = "error"
	ReplyNever     ReplyOn = "never"
)

type SubMsg struct {
	ID       uint64    `json:"id"`
	Msg      CosmosMsg `json:"msg"`
	GasLimit *uint64   `json:"gas_limit"`
	ReplyOn  ReplyOn   `json:"reply_on"`
}

type Response struct {
	Messages   []SubMsg    `json:"messages"`
	Attributes []Attribute `json:"attributes"`
	Events     []Event     `json:"events"`
	Data       Binary      `json:"data,omitempty"`
}

// AddEvent appends ev and returns the response for chaining.
func (r *Response) AddEvent(ev Event) *Response {
	r.Events = append(r.Events, ev)
	return r
}

//---------------------------------------------------------------------
// Message unions. Exactly one pointer per union is non-nil; anything the
// simulator does not model is reported as an invalid argument upstream.
//---------------------------------------------------------------------

type CosmosMsg struct {
	Bank *BankMsg `json:"bank,omitempty"`
	Wasm *WasmMsg `json:"wasm,omitempty"`
}

type BankMsg struct {
	Send *BankSendMsg `json:"send,omitempty"`
	Burn *BankBurnMsg `json:"burn,omitempty"`
}

type BankSendMsg struct {
	ToAddress string `json:"to_address"`
	Amount    []Coin `json:"amount"`
}

type BankBurnMsg struct {
	Amount []Coin `json:"amount"`
}

type WasmMsg struct {
	Instantiate *WasmInstantiateMsg `json:"instantiate,omitempty"`
	Execute     *WasmExecuteMsg     `json:"execute,omitempty"`
}

type WasmInstantiateMsg struct {
	Admin  *string `json:"admin"`
	CodeID uint64  `json:"code_id"`
	Msg    Binary  `json:"msg"`
	Funds  []Coin  `json:"funds"`
	Label  string  `json:"label"`
}

type WasmExecuteMsg struct {
	ContractAddr string `json:"contract_addr"`
	Msg          Binary `json:"msg"`
	Funds        []Coin `json:"funds"`
}

//---------------------------------------------------------------------
// Reply plumbing
//---------------------------------------------------------------------

type SubMsgResponse struct {
	Events []Event `json:"events"`
	Data   Binary  `json:"data,omitempty"`
}

type SubMsgResult struct {
	Ok  *SubMsgResponse `json:"ok,omitempty"`
	Err string          `json:"error,omitempty"`
}

type Reply struct {
	ID     uint64       `json:"id"`
	Result SubMsgResult `json:"result"`
}

//---------------------------------------------------------------------
// Result envelopes
//---------------------------------------------------------------------

// ContractResult carries either a contract response or the contract's own
// error string. A contract error is not a host error; see errors.go.
type ContractResult struct {
	Ok  *Response `json:"ok,omitempty"`
	Err string    `json:"error,omitempty"`
}

// ContractResultErr wraps a contract error message.
func ContractResultErr(msg string) *ContractResult { return &ContractResult{Err: msg} }

// ContractResultOk wraps a contract response.
func ContractResultOk(r *Response) *ContractResult { return &ContractResult{Ok: r} }

func (c *ContractResult) IsErr() bool { return c.Err != "" }

// QueryResult is the ContractResult specialization for query payloads.
type QueryResult struct {
	Ok  Binary `json:"ok,omitempty"`
	Err string `json:"error,omitempty"`
}

// MarshalJSON keeps the ok/error keys mutually exclusive even when the
// payload is empty, which the contract-side decoder requires.
func (q QueryResult) MarshalJSON() ([]byte, error) {
	if q.Err != "" {
		return json.Marshal(struct {
			Err string `json:"error"`
		}{q.Err})
	}
	return json.Marshal(struct {
		Ok Binary `json:"ok"`
	}{q.Ok})
}

// SystemResult is the outer envelope handed back through query_chain.
type SystemResult struct {
	Ok  *QueryResult `json:"ok,omitempty"`
	Err string       `json:"error,omitempty"`
}

//---------------------------------------------------------------------
// Query unions
//---------------------------------------------------------------------

type QueryRequest struct {
	Bank *BankQuery `json:"bank,omitempty"`
	Wasm *WasmQuery `json:"wasm,omitempty"`
}

type BankQuery struct {
	Balance     *BankBalanceQuery     `json:"balance,omitempty"`
	AllBalances *BankAllBalancesQuery `json:"all_balances,omitempty"`
}

type BankBalanceQuery struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
}

type BankAllBalancesQuery struct {
	Address string `json:"address"`
}

type BalanceResponse struct {
	Amount Coin `json:"amount"`
}

type AllBalancesResponse struct {
	Amount []Coin `json:"amount"`
}

type WasmQuery struct {
	Smart        *SmartQuery            `json:"smart,omitempty"`
	Raw          *RawQuery              `json:"raw,omitempty"`
	ContractInfo *ContractInfoQueryArgs `json:"contract_info,omitempty"`
}

type SmartQuery struct {
	ContractAddr string `json:"contract_addr"`
	Msg          Binary `json:"msg"`
}

type RawQuery struct {
	ContractAddr string `json:"contract_addr"`
	Key          Binary `json:"key"`
}

type ContractInfoQueryArgs struct {
	ContractAddr string `json:"contract_addr"`
}

// target returns the contract address a wasm query is aimed at.
func (q *WasmQuery) target() (string, error) {
	switch {
	case q.Smart != nil:
		return q.Smart.ContractAddr, nil
	case q.Raw != nil:
		return q.Raw.ContractAddr, nil
	case q.ContractInfo != nil:
		return q.ContractInfo.ContractAddr, nil
	}
	return "", errInvalidArgument("unsupported wasm query variant")
}
