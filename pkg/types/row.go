package types

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Row is the in-memory decoded form of a table row or document: an
// ordered mapping from column/field name to Value. Column order follows
// the order fields were discovered during decode (bson.D preserves
// insertion order), matching the teacher's own bson.D-based row handling.
type Row struct {
	order  []string
	values map[string]Value
}

func NewRow() *Row {
	return &Row{values: make(map[string]Value)}
}

func (r *Row) Set(name string, v Value) {
	if _, exists := r.values[name]; !exists {
		r.order = append(r.order, name)
	}
	r.values[name] = v
}

// Get returns the column's value, or Null if the column is absent — "missing
// columns read as Null for the purpose of SQL evaluation".
func (r *Row) Get(name string) Value {
	if v, ok := r.values[name]; ok {
		return v
	}
	return Null()
}

func (r *Row) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

func (r *Row) Columns() []string { return r.order }

// MarshalJSON emits the row as a plain JSON object, the wire format spec.md
// mandates for both table rows and documents.
func (r *Row) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, name := range r.order {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')
		valBytes, err := r.values[name].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// DecodeRow parses a JSON object into a Row, disambiguating Int64 vs
// Float64 the way the teacher's bson.go does for BSON documents: decode
// through go.mongodb.org/mongo-driver's extended-JSON reader into a
// bson.D, which (unlike encoding/json) keeps integers as int32/int64
// rather than collapsing every number into a float64.
func DecodeRow(jsonBytes []byte) (*Row, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(jsonBytes, true, &doc); err != nil {
		return nil, fmt.Errorf("types: decode row: %w", err)
	}
	row := NewRow()
	for _, elem := range doc {
		v, err := valueFromBSON(elem.Value)
		if err != nil {
			return nil, fmt.Errorf("types: decode column %q: %w", elem.Key, err)
		}
		row.Set(elem.Key, v)
	}
	return row, nil
}

// valueFromBSON converts a decoded bson.D element value into a Value,
// mirroring GetValueFromBson's type switch from the teacher's bson.go.
func valueFromBSON(raw interface{}) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return BoolValue(val), nil
	case int32:
		return Int64Value(int64(val)), nil
	case int64:
		return Int64Value(val), nil
	case int:
		return Int64Value(int64(val)), nil
	case float32:
		return Float64Value(float64(val)), nil
	case float64:
		return Float64Value(val), nil
	case string:
		return StringValue(val), nil
	case []byte:
		return BytesValue(val), nil
	case time.Time:
		return StringValue(val.Format(time.RFC3339Nano)), nil
	case bson.D:
		j, err := bson.MarshalExtJSON(val, false, false)
		if err != nil {
			return Value{}, err
		}
		return JSONValue(j), nil
	case bson.A:
		j, err := bson.MarshalExtJSON(val, false, false)
		if err != nil {
			return Value{}, err
		}
		return JSONValue(j), nil
	default:
		// primitive.DateTime and other driver-specific wrappers: fall back
		// to their %v string form rather than failing the whole row.
		if s, ok := tryDateTime(val); ok {
			return StringValue(s), nil
		}
		return StringValue(fmt.Sprintf("%v", val)), nil
	}
}

func tryDateTime(val interface{}) (string, bool) {
	if fmt.Sprintf("%T", val) == "primitive.DateTime" {
		return fmt.Sprintf("%v", val), true
	}
	return "", false
}
