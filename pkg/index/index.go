// Package index maintains secondary indexes over table rows: one storage
// space per declared (table, column) pair, holding entries keyed by
// "<indexed_value_bytes> '#' <row_key_bytes>" per spec.md's external key
// layout.
package index

import (
	"bytes"
	"sort"

	"github.com/tonledb/tonle/pkg/catalog"
	"github.com/tonledb/tonle/pkg/errors"
	"github.com/tonledb/tonle/pkg/storage"
	"github.com/tonledb/tonle/pkg/types"
)

const sep = '#'

// Maintainer inserts, deletes and queries entries for one declared index.
type Maintainer struct {
	def   catalog.IndexDef
	space storage.Space
	store storage.Storage
}

// New returns a Maintainer for def, backed by store.
func New(store storage.Storage, def catalog.IndexDef) *Maintainer {
	return &Maintainer{
		def:   def,
		space: storage.IndexSpace(def.Name()),
		store: store,
	}
}

func entryKey(valueBytes, rowKey []byte) []byte {
	buf := make([]byte, 0, len(valueBytes)+1+len(rowKey))
	buf = append(buf, valueBytes...)
	buf = append(buf, sep)
	buf = append(buf, rowKey...)
	return buf
}

// Insert adds one index entry mapping value -> rowKey. For a unique index,
// Insert fails with Invalid if any entry for value already exists, including
// one under the same row key.
func (m *Maintainer) Insert(value types.Value, rowKey []byte) error {
	valueBytes := value.Encode()

	if m.def.Unique {
		existing, err := m.store.ScanPrefix(m.space, append(append([]byte{}, valueBytes...), sep))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return errors.Invalid("unique constraint violation: value already present in unique index " + m.def.Name())
		}
	}

	return m.store.Put(m.space, entryKey(valueBytes, rowKey), []byte{1})
}

// Delete removes the index entry for (value, rowKey).
func (m *Maintainer) Delete(value types.Value, rowKey []byte) error {
	valueBytes := value.Encode()
	return m.store.Del(m.space, entryKey(valueBytes, rowKey))
}

// FindRows returns every row key indexed under value, via a prefix scan of
// "<value> '#'" (a point lookup, per spec.md §4.6).
func (m *Maintainer) FindRows(value types.Value) ([][]byte, error) {
	valueBytes := value.Encode()
	prefix := append(append([]byte{}, valueBytes...), sep)

	entries, err := m.store.ScanPrefix(m.space, prefix)
	if err != nil {
		return nil, err
	}

	rowKeys := make([][]byte, 0, len(entries))
	for _, e := range entries {
		idx := bytes.IndexByte(e.Key, sep)
		if idx < 0 || idx+1 > len(e.Key) {
			continue
		}
		rowKeys = append(rowKeys, append([]byte(nil), e.Key[idx+1:]...))
	}
	return rowKeys, nil
}

// FindRange returns the (indexed value, row key) pairs whose encoded value
// lies between min and max (a Null bound is open; includeMin/includeMax make
// a bound inclusive), ordered by encoded value. It scans the whole index
// space and filters in memory; spec.md's design notes call out that an
// implementation with a true ordered seek should start at >= start and stop
// at > end instead — left as a documented follow-up rather than implemented
// here, since InMemoryStore's prefix scan is the only seek primitive
// Storage exposes today.
func (m *Maintainer) FindRange(min, max types.Value, includeMin, includeMax bool) ([]RangeEntry, error) {
	entries, err := m.store.ScanPrefix(m.space, nil)
	if err != nil {
		return nil, err
	}

	out := make([]RangeEntry, 0, len(entries))
	for _, e := range entries {
		idx := bytes.IndexByte(e.Key, sep)
		if idx < 0 {
			continue
		}
		valueBytes := e.Key[:idx]
		rowKey := e.Key[idx+1:]

		if !min.IsNull() {
			cmp := bytes.Compare(valueBytes, min.Encode())
			if cmp < 0 || (cmp == 0 && !includeMin) {
				continue
			}
		}
		if !max.IsNull() {
			cmp := bytes.Compare(valueBytes, max.Encode())
			if cmp > 0 || (cmp == 0 && !includeMax) {
				continue
			}
		}

		out = append(out, RangeEntry{
			ValueBytes: append([]byte(nil), valueBytes...),
			RowKey:     append([]byte(nil), rowKey...),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ValueBytes, out[j].ValueBytes) < 0
	})
	return out, nil
}

// RangeEntry is one entry produced by FindRange.
type RangeEntry struct {
	ValueBytes []byte
	RowKey     []byte
}

// Clear removes every entry in the index's space, used when dropping an
// index or rebuilding it from scratch during restore.
func (m *Maintainer) Clear() error {
	entries, err := m.store.ScanPrefix(m.space, nil)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.store.Del(m.space, e.Key); err != nil {
			return err
		}
	}
	return nil
}
