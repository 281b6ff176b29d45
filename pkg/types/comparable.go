// Package types holds the engine's data model: the Comparable key
// interface used by the ordered map (pkg/btree), the tagged Value variant
// used for column values and SQL comparisons, and the DataType enum
// TableSchema columns are declared with.
package types

import (
	"bytes"
	"fmt"
	"time"
)

// Comparable is the interface every ordered-map key must implement.
// Kept from the teacher's pkg/types: Compare returns -1/0/1.
type Comparable interface {
	Compare(other Comparable) int // -1 if <, 0 if ==, 1 if >
}

// BytesKey orders arbitrary byte slices lexicographically. It is the key
// type of InMemoryStore's per-space ordered maps, so it also orders the
// "<value>#<rowkey>" entries pkg/index stores in its index spaces.
type BytesKey []byte

func (k BytesKey) Compare(other Comparable) int {
	o, ok := other.(BytesKey)
	if !ok {
		panic("types: BytesKey.Compare called with non-BytesKey operand")
	}
	return bytes.Compare(k, o)
}

func (k BytesKey) String() string { return string(k) }

// --- Typed scalar keys, for callers that want a natural Go primary-key type ---

// IntKey: integer key.
type IntKey int64

func (k IntKey) Compare(other Comparable) int {
	o := other.(IntKey)
	if k < o {
		return -1
	}
	if k > o {
		return 1
	}
	return 0
}

// VarcharKey: string key.
type VarcharKey string

func (k VarcharKey) Compare(other Comparable) int {
	o := other.(VarcharKey)
	if k < o {
		return -1
	}
	if k > o {
		return 1
	}
	return 0
}

// FloatKey: float64 key.
type FloatKey float64

func (k FloatKey) Compare(other Comparable) int {
	o := other.(FloatKey)
	if k < o {
		return -1
	}
	if k > o {
		return 1
	}
	return 0
}

// BoolKey: boolean key, false < true.
type BoolKey bool

func (k BoolKey) Compare(other Comparable) int {
	o := other.(BoolKey)
	if k == o {
		return 0
	}
	if !k && o {
		return -1
	}
	return 1
}

// DateKey: time.Time key.
type DateKey time.Time

func (k DateKey) Compare(other Comparable) int {
	o := time.Time(other.(DateKey))
	t := time.Time(k)
	if t.Before(o) {
		return -1
	}
	if t.After(o) {
		return 1
	}
	return 0
}

func (k DateKey) String() string {
	return time.Time(k).Format("2006-01-02 15:04:05")
}

func (k IntKey) String() string     { return fmt.Sprintf("%d", int64(k)) }
func (k VarcharKey) String() string { return string(k) }
func (k FloatKey) String() string   { return fmt.Sprintf("%f", float64(k)) }
func (k BoolKey) String() string    { return fmt.Sprintf("%t", bool(k)) }
