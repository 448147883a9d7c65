package wire

import (
	"slices"
	"strconv"
)

// Kind tags which field of a Value is populated.
type Kind uint8

const (
	KindNone Kind = iota // no value on the wire (status-only result)
	KindNil              // explicit nil, e.g. GET on a missing key
	KindInt
	KindString
	KindFloat
	KindBytes
	KindList
	KindMap
	KindZSet
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNil:
		return "nil"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindZSet:
		return "zset"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ZElement is one sorted-set member as returned by range queries.
type ZElement struct {
	Member string
	Score  float64
	Rank   int64
}

// Value is the tagged result value of a Result. Only the field matching Kind
// is meaningful.
type Value struct {
	Kind  Kind
	Int   int64
	Str   string
	Float float64
	Bytes []byte
	List  []string
	Map   map[string]string
	ZSet  []ZElement
}

func NilValue() Value { return Value{Kind: KindNil} }
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func BytesValue(v []byte) Value { return Value{Kind: KindBytes, Bytes: v} }
func ListValue(v []string) Value { return Value{Kind: KindList, List: v} }
func MapValue(v map[string]string) Value { return Value{Kind: KindMap, Map: v} }
func ZSetValue(v []ZElement) Value { return Value{Kind: KindZSet, ZSet: v} }

// IsNil reports whether the server returned no value (nil or none).
func (v Value) IsNil() bool {
	return v.Kind == KindNil || v.Kind == KindNone
}

// AsString renders scalar values as a string.
// ok is false for nil and collection values.
func (v Value) AsString() (s string, ok bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindBytes:
		return string(v.Bytes), true
	case KindInt:
		return strconv.FormatInt(v.Int, 10), true
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64), true
	default:
		return "", false
	}
}

// AsInt returns integer values, parsing string values when they hold an
// integer.
func (v Value) AsInt() (n int64, ok bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindString:
		n, err := strconv.ParseInt(v.Str, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (v Value) sortedMapKeys() []string {
	keys := make([]string, 0, len(v.Map))
	for k := range v.Map {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
