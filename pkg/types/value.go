package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Kind tags the variant a Value currently holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBytes
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt64:
		return "Int64"
	case KindFloat64:
		return "Float64"
	case KindString:
		return "String"
	case KindBytes:
		return "Bytes"
	case KindJSON:
		return "Json"
	default:
		return "Unknown"
	}
}

// Value is the tagged-variant column value described by the data model:
// Null | Bool | Int64 | Float64 | String | Bytes | Json.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string          // also backs KindBytes, as a raw byte string
	j    json.RawMessage // only set for KindJSON
}

func Null() Value                { return Value{kind: KindNull} }
func BoolValue(b bool) Value     { return Value{kind: KindBool, b: b} }
func Int64Value(i int64) Value   { return Value{kind: KindInt64, i: i} }
func Float64Value(f float64) Value { return Value{kind: KindFloat64, f: f} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func BytesValue(b []byte) Value  { return Value{kind: KindBytes, s: string(b)} }
func JSONValue(raw json.RawMessage) Value {
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return Value{kind: KindJSON, j: cp}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) Bool() bool    { return v.b }
func (v Value) Int64() int64  { return v.i }
func (v Value) Float64() float64 { return v.f }
func (v Value) String() string {
	switch v.kind {
	case KindString, KindBytes:
		return v.s
	case KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindJSON:
		return string(v.j)
	default:
		return "null"
	}
}
func (v Value) Bytes() []byte { return []byte(v.s) }
func (v Value) JSON() json.RawMessage { return v.j }

// asFloat returns the value as a float64 for numeric comparison, with the
// "float-first, integer fallback on failure" rule spec'd for ORDER BY.
func (v Value) asFloat() (float64, bool) {
	switch v.kind {
	case KindFloat64:
		return v.f, true
	case KindInt64:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Compare implements the comparison semantics from the SQL evaluator
// section: numeric values compare numerically, strings lexicographically
// (byte order of UTF-8), booleans false<true, Null sorts less than any
// non-null value, and values of incomparable kinds compare equal (ordering
// undefined but stable, since callers use a stable sort).
func (v Value) Compare(other Value) int {
	if v.kind == KindNull && other.kind == KindNull {
		return 0
	}
	if v.kind == KindNull {
		return -1
	}
	if other.kind == KindNull {
		return 1
	}

	if vf, ok := v.asFloat(); ok {
		if of, ok := other.asFloat(); ok {
			switch {
			case vf < of:
				return -1
			case vf > of:
				return 1
			default:
				return 0
			}
		}
	}

	if (v.kind == KindString || v.kind == KindBytes) && (other.kind == KindString || other.kind == KindBytes) {
		switch {
		case v.s < other.s:
			return -1
		case v.s > other.s:
			return 1
		default:
			return 0
		}
	}

	if v.kind == KindBool && other.kind == KindBool {
		switch {
		case v.b == other.b:
			return 0
		case !v.b && other.b:
			return -1
		default:
			return 1
		}
	}

	// Mixed, otherwise-incomparable kinds: stable, undefined order.
	return 0
}

// Equal is a convenience wrapper over Compare for WHERE-clause equality.
func (v Value) Equal(other Value) bool { return v.Compare(other) == 0 }

// truthy converts a Value to a boolean for WHERE-clause evaluation;
// comparisons involving Null always yield false, handled by the caller
// before truthy is ever consulted.
func (v Value) truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNull:
		return false
	default:
		return true
	}
}

// --- Canonical byte encoding, used for secondary index keys ---
//
// Index entries are keyed "<indexed_value_bytes>#<row_key_bytes>"; the
// encoding below only needs to be deterministic and collision-free across
// Kinds (it is never relied on for cross-type ordering — range scans are
// full-space scans filtered in Go, per the secondary index's design note).

const (
	tagNull byte = iota
	tagBool
	tagInt64
	tagFloat64
	tagString
	tagBytes
	tagJSON
)

// Encode returns the canonical byte encoding used as the index key prefix.
func (v Value) Encode() []byte {
	switch v.kind {
	case KindNull:
		return []byte{tagNull}
	case KindBool:
		if v.b {
			return []byte{tagBool, 1}
		}
		return []byte{tagBool, 0}
	case KindInt64:
		buf := make([]byte, 9)
		buf[0] = tagInt64
		// Flip the sign bit so two's-complement order matches byte order,
		// should a future implementation want a true ordered seek (see
		// the secondary index design note on prefix-seek).
		binary.BigEndian.PutUint64(buf[1:], uint64(v.i)^(1<<63))
		return buf
	case KindFloat64:
		buf := make([]byte, 9)
		buf[0] = tagFloat64
		bits := math.Float64bits(v.f)
		if v.f >= 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		binary.BigEndian.PutUint64(buf[1:], bits)
		return buf
	case KindString:
		buf := make([]byte, 1+len(v.s))
		buf[0] = tagString
		copy(buf[1:], v.s)
		return buf
	case KindBytes:
		buf := make([]byte, 1+len(v.s))
		buf[0] = tagBytes
		copy(buf[1:], v.s)
		return buf
	case KindJSON:
		buf := make([]byte, 1+len(v.j))
		buf[0] = tagJSON
		copy(buf[1:], v.j)
		return buf
	default:
		return []byte{tagNull}
	}
}

// MarshalJSON lets a Value drop straight into a document/row being encoded.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt64:
		return json.Marshal(v.i)
	case KindFloat64:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindBytes:
		return json.Marshal(v.s)
	case KindJSON:
		if len(v.j) == 0 {
			return []byte("null"), nil
		}
		return v.j, nil
	default:
		return []byte("null"), nil
	}
}

// PlainValue unwraps v into a plain Go value suitable for encoding/json: the
// shape a document or SQL projection result needs when assembled into a
// map[string]any for MarshalJSON to serialize normally.
func (v Value) PlainValue() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt64:
		return v.i
	case KindFloat64:
		return v.f
	case KindString, KindBytes:
		return v.s
	case KindJSON:
		var decoded any
		if err := json.Unmarshal(v.j, &decoded); err != nil {
			return string(v.j)
		}
		return decoded
	default:
		return nil
	}
}

// DataType is the declared type of a Column, per the TableSchema model.
type DataType int

const (
	Integer DataType = iota
	Float
	Text
	Boolean
	JSONType
)

func (d DataType) String() string {
	switch d {
	case Integer:
		return "INTEGER"
	case Float:
		return "FLOAT"
	case Text:
		return "TEXT"
	case Boolean:
		return "BOOLEAN"
	case JSONType:
		return "JSON"
	default:
		return "UNKNOWN"
	}
}

// MatchesType reports whether v is a legal value for a column declared
// with DataType d. Null always matches (NotNull is a separate constraint).
func (v Value) MatchesType(d DataType) bool {
	if v.kind == KindNull {
		return true
	}
	switch d {
	case Integer:
		return v.kind == KindInt64
	case Float:
		return v.kind == KindFloat64 || v.kind == KindInt64
	case Text:
		return v.kind == KindString
	case Boolean:
		return v.kind == KindBool
	case JSONType:
		return true
	default:
		return false
	}
}
