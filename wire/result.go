package wire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Status is the outcome reported by the server for one command.
type Status int32

const (
	StatusOK  Status = 0
	StatusErr Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusErr:
		return "ERR"
	default:
		return "UNKNOWN"
	}
}

const (
	fieldStatus      protowire.Number = 1
	fieldMessage     protowire.Number = 2
	fieldFingerprint protowire.Number = 3

	fieldNil    protowire.Number = 10
	fieldInt    protowire.Number = 11
	fieldString protowire.Number = 12
	fieldFloat  protowire.Number = 13
	fieldBytes  protowire.Number = 14
	fieldList   protowire.Number = 15
	fieldMap    protowire.Number = 16
	fieldZSet   protowire.Number = 17

	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2

	fieldZMember protowire.Number = 1
	fieldZScore  protowire.Number = 2
	fieldZRank   protowire.Number = 3
)

// Result is one decoded server response, either the reply to a command or a
// watch push.
type Result struct {
	Status        Status
	Message       string
	Fingerprint64 uint64
	Value         Value
}

// AppendResult appends the payload encoding of r to b.
func AppendResult(b []byte, r *Result) []byte {
	if r.Status != StatusOK {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Status))
	}
	if r.Message != "" {
		b = protowire.AppendTag(b, fieldMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Message)
	}
	if r.Fingerprint64 != 0 {
		b = protowire.AppendTag(b, fieldFingerprint, protowire.VarintType)
		b = protowire.AppendVarint(b, r.Fingerprint64)
	}
	return appendValue(b, &r.Value)
}

// EncodeResult returns the payload encoding of r.
func EncodeResult(r *Result) []byte {
	return AppendResult(nil, r)
}

func appendValue(b []byte, v *Value) []byte {
	switch v.Kind {
	case KindNil:
		b = protowire.AppendTag(b, fieldNil, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	case KindInt:
		b = protowire.AppendTag(b, fieldInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v.Int))
	case KindString:
		b = protowire.AppendTag(b, fieldString, protowire.BytesType)
		b = protowire.AppendString(b, v.Str)
	case KindFloat:
		b = protowire.AppendTag(b, fieldFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.Float))
	case KindBytes:
		b = protowire.AppendTag(b, fieldBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Bytes)
	case KindList:
		for _, s := range v.List {
			b = protowire.AppendTag(b, fieldList, protowire.BytesType)
			b = protowire.AppendString(b, s)
		}
	case KindMap:
		for _, k := range v.sortedMapKeys() {
			var entry []byte
			entry = protowire.AppendTag(entry, fieldEntryKey, protowire.BytesType)
			entry = protowire.AppendString(entry, k)
			entry = protowire.AppendTag(entry, fieldEntryValue, protowire.BytesType)
			entry = protowire.AppendString(entry, v.Map[k])

			b = protowire.AppendTag(b, fieldMap, protowire.BytesType)
			b = protowire.AppendBytes(b, entry)
		}
	case KindZSet:
		for _, e := range v.ZSet {
			var elem []byte
			elem = protowire.AppendTag(elem, fieldZMember, protowire.BytesType)
			elem = protowire.AppendString(elem, e.Member)
			elem = protowire.AppendTag(elem, fieldZScore, protowire.Fixed64Type)
			elem = protowire.AppendFixed64(elem, math.Float64bits(e.Score))
			elem = protowire.AppendTag(elem, fieldZRank, protowire.VarintType)
			elem = protowire.AppendVarint(elem, protowire.EncodeZigZag(e.Rank))

			b = protowire.AppendTag(b, fieldZSet, protowire.BytesType)
			b = protowire.AppendBytes(b, elem)
		}
	}
	return b
}

// Decode parses a result payload.
//
// An empty list, map or sorted set cannot be told apart from "no value" on
// the wire; such results decode with KindNone.
func Decode(b []byte) (*Result, error) {
	r := &Result{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &ParseError{Message: "result tag", Err: protowire.ParseError(n)}
		}
		b = b[n:]

		n, err := r.consumeField(num, typ, b)
		if err != nil {
			return nil, err
		}
		b = b[n:]
	}

	return r, nil
}

func (r *Result) consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == fieldStatus && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, &ParseError{Message: "status", Err: protowire.ParseError(n)}
		}
		r.Status = Status(v)
		return n, nil

	case num == fieldMessage && typ == protowire.BytesType:
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return 0, &ParseError{Message: "message", Err: protowire.ParseError(n)}
		}
		r.Message = v
		return n, nil

	case num == fieldFingerprint && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, &ParseError{Message: "fingerprint", Err: protowire.ParseError(n)}
		}
		r.Fingerprint64 = v
		return n, nil

	case num == fieldNil && typ == protowire.VarintType:
		_, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, &ParseError{Message: "nil value", Err: protowire.ParseError(n)}
		}
		r.Value = Value{Kind: KindNil}
		return n, nil

	case num == fieldInt && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, &ParseError{Message: "int value", Err: protowire.ParseError(n)}
		}
		r.Value = IntValue(protowire.DecodeZigZag(v))
		return n, nil

	case num == fieldString && typ == protowire.BytesType:
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return 0, &ParseError{Message: "string value", Err: protowire.ParseError(n)}
		}
		r.Value = StringValue(v)
		return n, nil

	case num == fieldFloat && typ == protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return 0, &ParseError{Message: "float value", Err: protowire.ParseError(n)}
		}
		r.Value = FloatValue(math.Float64frombits(v))
		return n, nil

	case num == fieldBytes && typ == protowire.BytesType:
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, &ParseError{Message: "bytes value", Err: protowire.ParseError(n)}
		}
		r.Value = BytesValue(append([]byte(nil), v...))
		return n, nil

	case num == fieldList && typ == protowire.BytesType:
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return 0, &ParseError{Message: "list element", Err: protowire.ParseError(n)}
		}
		if r.Value.Kind != KindList {
			r.Value = Value{Kind: KindList}
		}
		r.Value.List = append(r.Value.List, v)
		return n, nil

	case num == fieldMap && typ == protowire.BytesType:
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, &ParseError{Message: "map entry", Err: protowire.ParseError(n)}
		}
		key, value, err := decodeEntry(v)
		if err != nil {
			return 0, err
		}
		if r.Value.Kind != KindMap {
			r.Value = Value{Kind: KindMap, Map: make(map[string]string)}
		}
		r.Value.Map[key] = value
		return n, nil

	case num == fieldZSet && typ == protowire.BytesType:
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, &ParseError{Message: "zset element", Err: protowire.ParseError(n)}
		}
		elem, err := decodeZElement(v)
		if err != nil {
			return 0, err
		}
		if r.Value.Kind != KindZSet {
			r.Value = Value{Kind: KindZSet}
		}
		r.Value.ZSet = append(r.Value.ZSet, elem)
		return n, nil
	}

	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, &ParseError{Message: "unknown result field", Err: protowire.ParseError(n)}
	}
	return n, nil
}

func decodeEntry(b []byte) (key, value string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", &ParseError{Message: "map entry tag", Err: protowire.ParseError(n)}
		}
		b = b[n:]

		switch {
		case num == fieldEntryKey && typ == protowire.BytesType:
			key, n = protowire.ConsumeString(b)
		case num == fieldEntryValue && typ == protowire.BytesType:
			value, n = protowire.ConsumeString(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", "", &ParseError{Message: "map entry field", Err: protowire.ParseError(n)}
		}
		b = b[n:]
	}
	return key, value, nil
}

func decodeZElement(b []byte) (ZElement, error) {
	var e ZElement
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ZElement{}, &ParseError{Message: "zset element tag", Err: protowire.ParseError(n)}
		}
		b = b[n:]

		switch {
		case num == fieldZMember && typ == protowire.BytesType:
			e.Member, n = protowire.ConsumeString(b)
		case num == fieldZScore && typ == protowire.Fixed64Type:
			var bits uint64
			bits, n = protowire.ConsumeFixed64(b)
			e.Score = math.Float64frombits(bits)
		case num == fieldZRank && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			e.Rank = protowire.DecodeZigZag(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return ZElement{}, &ParseError{Message: "zset element field", Err: protowire.ParseError(n)}
		}
		b = b[n:]
	}
	return e, nil
}
