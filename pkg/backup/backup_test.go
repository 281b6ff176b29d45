package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonledb/tonle/pkg/catalog"
	"github.com/tonledb/tonle/pkg/index"
	"github.com/tonledb/tonle/pkg/storage"
	"github.com/tonledb/tonle/pkg/types"
)

func seed(t *testing.T, store storage.Storage) *catalog.Catalog {
	t.Helper()
	cat := catalog.New(store)
	require.NoError(t, cat.CreateTable(catalog.TableSchema{
		Name:       "users",
		PrimaryKey: "id",
		Columns: []catalog.Column{
			{Name: "id", Type: types.Text},
			{Name: "city", Type: types.Text},
		},
	}))
	require.NoError(t, cat.CreateIndex(catalog.IndexDef{Table: "users", Column: "city"}))

	for _, row := range []map[string]any{
		{"id": "1", "city": "hanoi"},
		{"id": "2", "city": "saigon"},
	} {
		raw, err := json.Marshal(row)
		require.NoError(t, err)
		key := []byte("tbl/users/" + row["id"].(string))
		require.NoError(t, store.Put(storage.SpaceData, key, raw))

		def, _ := cat.GetIndex("users", "city")
		require.NoError(t, index.New(store, def).Insert(types.StringValue(row["city"].(string)), key))
	}

	require.NoError(t, store.Put(storage.SpaceKV, []byte("counter"), []byte("42")))
	return cat
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	src, err := storage.New(16)
	require.NoError(t, err)
	defer src.Close()
	seed(t, src)

	path := filepath.Join(t.TempDir(), "snap.jsonl")
	require.NoError(t, Snapshot(src, path, false))

	dst, err := storage.New(16)
	require.NoError(t, err)
	defer dst.Close()
	dstCat := catalog.New(dst)

	require.NoError(t, Restore(dst, dstCat, path, false))

	v, ok, err := dst.Get(storage.SpaceKV, []byte("counter"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("42"), v)

	schema, ok := dstCat.GetTable("users")
	require.True(t, ok)
	require.Equal(t, "id", schema.PrimaryKey)

	entries, err := dst.ScanPrefix(storage.SpaceData, []byte("tbl/users/"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestSnapshotRestore_RebuildsIndexes(t *testing.T) {
	src, err := storage.New(16)
	require.NoError(t, err)
	defer src.Close()
	seed(t, src)

	path := filepath.Join(t.TempDir(), "snap.jsonl")
	require.NoError(t, Snapshot(src, path, false))

	dst, err := storage.New(16)
	require.NoError(t, err)
	defer dst.Close()
	dstCat := catalog.New(dst)
	require.NoError(t, Restore(dst, dstCat, path, false))

	def, ok := dstCat.GetIndex("users", "city")
	require.True(t, ok)
	rows, err := index.New(dst, def).FindRows(types.StringValue("hanoi"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []byte("tbl/users/1"), rows[0])
}

func TestSnapshotRestore_CompressedRoundTrip(t *testing.T) {
	src, err := storage.New(16)
	require.NoError(t, err)
	defer src.Close()
	seed(t, src)

	path := filepath.Join(t.TempDir(), "snap.jsonl.gz")
	require.NoError(t, Snapshot(src, path, true))

	dst, err := storage.New(16)
	require.NoError(t, err)
	defer dst.Close()
	dstCat := catalog.New(dst)
	require.NoError(t, Restore(dst, dstCat, path, true))

	entries, err := dst.ScanPrefix(storage.SpaceData, []byte("tbl/users/"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestSnapshot_IndexSpacesAreExcludedFromTheFile(t *testing.T) {
	src, err := storage.New(16)
	require.NoError(t, err)
	defer src.Close()
	seed(t, src)

	path := filepath.Join(t.TempDir(), "snap.jsonl")
	require.NoError(t, Snapshot(src, path, false))

	dst, err := storage.New(16)
	require.NoError(t, err)
	defer dst.Close()
	dstCat := catalog.New(dst)
	require.NoError(t, Restore(dst, dstCat, path, false))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), `"space":"`+string(storage.IndexSpace("users.city"))+`"`)

	def, ok := dstCat.GetIndex("users", "city")
	require.True(t, ok)
	entries, err := dst.ScanPrefix(storage.IndexSpace(def.Name()), nil)
	require.NoError(t, err)
	require.Len(t, entries, 2, "indexes must be rebuilt from table rows, not shipped in the snapshot file")
}
