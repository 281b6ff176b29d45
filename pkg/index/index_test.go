package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonledb/tonle/pkg/catalog"
	"github.com/tonledb/tonle/pkg/storage"
	"github.com/tonledb/tonle/pkg/types"
)

func TestMaintainer_InsertAndFindRows(t *testing.T) {
	store, err := storage.New(16)
	require.NoError(t, err)
	defer store.Close()

	m := New(store, catalog.IndexDef{Table: "users", Column: "city"})

	require.NoError(t, m.Insert(types.StringValue("saigon"), []byte("tbl/users/1")))
	require.NoError(t, m.Insert(types.StringValue("saigon"), []byte("tbl/users/2")))
	require.NoError(t, m.Insert(types.StringValue("hanoi"), []byte("tbl/users/3")))

	rows, err := m.FindRows(types.StringValue("saigon"))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = m.FindRows(types.StringValue("hanoi"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []byte("tbl/users/3"), rows[0])

	rows, err = m.FindRows(types.StringValue("unknown"))
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestMaintainer_UniqueIndexRejectsDuplicateValue(t *testing.T) {
	store, err := storage.New(16)
	require.NoError(t, err)
	defer store.Close()

	m := New(store, catalog.IndexDef{Table: "users", Column: "email", Unique: true})

	require.NoError(t, m.Insert(types.StringValue("a@example.com"), []byte("tbl/users/1")))
	err = m.Insert(types.StringValue("a@example.com"), []byte("tbl/users/2"))
	require.Error(t, err)

	rows, err := m.FindRows(types.StringValue("a@example.com"))
	require.NoError(t, err)
	require.Len(t, rows, 1, "the rejected insert must not have left a partial entry")
}

func TestMaintainer_Delete(t *testing.T) {
	store, err := storage.New(16)
	require.NoError(t, err)
	defer store.Close()

	m := New(store, catalog.IndexDef{Table: "users", Column: "city"})
	require.NoError(t, m.Insert(types.StringValue("hue"), []byte("tbl/users/1")))
	require.NoError(t, m.Delete(types.StringValue("hue"), []byte("tbl/users/1")))

	rows, err := m.FindRows(types.StringValue("hue"))
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestMaintainer_FindRange(t *testing.T) {
	store, err := storage.New(16)
	require.NoError(t, err)
	defer store.Close()

	m := New(store, catalog.IndexDef{Table: "products", Column: "price"})
	require.NoError(t, m.Insert(types.Int64Value(10), []byte("tbl/products/a")))
	require.NoError(t, m.Insert(types.Int64Value(20), []byte("tbl/products/b")))
	require.NoError(t, m.Insert(types.Int64Value(30), []byte("tbl/products/c")))

	entries, err := m.FindRange(types.Int64Value(10), types.Int64Value(20), false, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("tbl/products/b"), entries[0].RowKey)

	entries, err = m.FindRange(types.Int64Value(10), types.Int64Value(30), true, true)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestMaintainer_Clear(t *testing.T) {
	store, err := storage.New(16)
	require.NoError(t, err)
	defer store.Close()

	m := New(store, catalog.IndexDef{Table: "users", Column: "city"})
	require.NoError(t, m.Insert(types.StringValue("danang"), []byte("tbl/users/1")))
	require.NoError(t, m.Insert(types.StringValue("hue"), []byte("tbl/users/2")))

	require.NoError(t, m.Clear())

	entries, err := m.FindRange(types.Null(), types.Null(), true, true)
	require.NoError(t, err)
	require.Empty(t, entries)
}
