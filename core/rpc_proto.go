package core

// Hand-rolled protobuf codecs for the handful of cosmos query messages the
// client speaks, built on protowire so the varint/tag layer stays canonical.
// Field numbers follow the published cosmos/cosmwasm proto definitions and
// must never change.

import (
	"google.golang.org/protobuf/encoding/protowire"
)

//---------------------------------------------------------------------
// Request encoders
//---------------------------------------------------------------------

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendUint64Field(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeQueryAllBalancesRequest(address string) []byte {
	return appendStringField(nil, 1, address)
}

func encodeQuerySmartContractStateRequest(address string, queryData []byte) []byte {
	b := appendStringField(nil, 1, address)
	return appendBytesField(b, 2, queryData)
}

func encodeQueryAllContractStateRequest(address string) []byte {
	return appendStringField(nil, 1, address)
}

func encodeQueryContractInfoRequest(address string) []byte {
	return appendStringField(nil, 1, address)
}

func encodeQueryCodeRequest(codeID uint64) []byte {
	return appendUint64Field(nil, 1, codeID)
}

// encodeMsgInstantiateContractResponse builds the reply payload carried in
// SubMsgResponse.Data after a wasm instantiate submessage.
func encodeMsgInstantiateContractResponse(address string, data []byte) []byte {
	b := appendStringField(nil, 1, address)
	return appendBytesField(b, 2, data)
}

// encodeMsgExecuteContractResponse builds the reply payload carried in
// SubMsgResponse.Data after a wasm execute submessage.
func encodeMsgExecuteContractResponse(data []byte) []byte {
	return appendBytesField(nil, 1, data)
}

//---------------------------------------------------------------------
// Response decoders
//---------------------------------------------------------------------

// protoField is one raw field of a wire message.
type protoField struct {
	num  protowire.Number
	typ  protowire.Type
	varv uint64
	bval []byte
}

// parseProtoFields splits a message into its top-level fields. Unknown
// fields are preserved and ignored by callers, matching proto3 semantics.
func parseProtoFields(b []byte) ([]protoField, error) {
	var fields []protoField
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errFormat("malformed protobuf tag")
		}
		b = b[n:]
		f := protoField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errFormat("malformed protobuf varint (field %d)", num)
			}
			f.varv = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errFormat("malformed protobuf bytes (field %d)", num)
			}
			f.bval = v
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, errFormat("malformed protobuf fixed32 (field %d)", num)
			}
			f.varv = uint64(v)
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, errFormat("malformed protobuf fixed64 (field %d)", num)
			}
			f.varv = v
			b = b[n:]
		default:
			return nil, errFormat("unsupported protobuf wire type %d (field %d)", typ, num)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func decodeQueryAllBalancesResponse(b []byte) ([]Coin, error) {
	fields, err := parseProtoFields(b)
	if err != nil {
		return nil, err
	}
	var coins []Coin
	for _, f := range fields {
		if f.num != 1 || f.typ != protowire.BytesType {
			continue
		}
		inner, err := parseProtoFields(f.bval)
		if err != nil {
			return nil, err
		}
		var coin Coin
		for _, g := range inner {
			switch g.num {
			case 1:
				coin.Denom = string(g.bval)
			case 2:
				amount, err := ParseUint128(string(g.bval))
				if err != nil {
					return nil, err
				}
				coin.Amount = amount
			}
		}
		coins = append(coins, coin)
	}
	return coins, nil
}

func decodeQuerySmartContractStateResponse(b []byte) ([]byte, error) {
	fields, err := parseProtoFields(b)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if f.num == 1 && f.typ == protowire.BytesType {
			return f.bval, nil
		}
	}
	return nil, nil
}

func decodeQueryAllContractStateResponse(b []byte) ([]Record, error) {
	fields, err := parseProtoFields(b)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, f := range fields {
		if f.num != 1 || f.typ != protowire.BytesType {
			continue
		}
		inner, err := parseProtoFields(f.bval)
		if err != nil {
			return nil, err
		}
		var rec Record
		for _, g := range inner {
			switch g.num {
			case 1:
				rec.Key = g.bval
			case 2:
				rec.Value = g.bval
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeQueryContractInfoResponse(b []byte) (*RemoteContractInfo, error) {
	fields, err := parseProtoFields(b)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if f.num != 2 || f.typ != protowire.BytesType {
			continue
		}
		inner, err := parseProtoFields(f.bval)
		if err != nil {
			return nil, err
		}
		info := &RemoteContractInfo{}
		for _, g := range inner {
			if g.num == 1 && g.typ == protowire.VarintType {
				info.CodeID = g.varv
			}
		}
		return info, nil
	}
	return nil, nil
}

func decodeQueryCodeResponse(b []byte) ([]byte, error) {
	fields, err := parseProtoFields(b)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if f.num == 2 && f.typ == protowire.BytesType {
			return f.bval, nil
		}
	}
	return nil, nil
}
