// Package backup implements snapshot/restore: a JSON-Lines dump of the
// catalog, data and kv spaces (in that order), with optional gzip
// streaming compression, and index reconstruction on restore.
package backup

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/tonledb/tonle/pkg/catalog"
	"github.com/tonledb/tonle/pkg/errors"
	"github.com/tonledb/tonle/pkg/index"
	"github.com/tonledb/tonle/pkg/storage"
	"github.com/tonledb/tonle/pkg/types"
)

// gzipLevel is the streaming compressor's level; spec.md calls for 7 as
// the default (a mid-point between klauspost/compress's speed and ratio
// extremes).
const gzipLevel = 7

// snapshotSpaces are dumped, in this order, on every Snapshot call.
// Index spaces are intentionally excluded: they are rebuilt from the
// catalog and table rows on Restore.
var snapshotSpaces = []storage.Space{storage.SpaceCatalog, storage.SpaceData, storage.SpaceKV}

// line is one JSON-Lines record in the snapshot file.
type line struct {
	Space string `json:"space"`
	KeyB64 string `json:"key_b64"`
	ValB64 string `json:"val_b64"`
}

// Snapshot writes every entry of catalog, data and kv to path, one JSON
// object per line. When compressed is true the stream is gzip-wrapped.
func Snapshot(store storage.Storage, path string, compressed bool) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.StorageErr("failed to create snapshot file", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if compressed {
		gz, err = gzip.NewWriterLevel(f, gzipLevel)
		if err != nil {
			return errors.StorageErr("failed to construct gzip writer", err)
		}
		w = gz
	}

	bw := bufio.NewWriter(w)

	for _, space := range snapshotSpaces {
		entries, err := store.ScanPrefix(space, nil)
		if err != nil {
			return err
		}
		for _, e := range entries {
			rec := line{
				Space:  string(space),
				KeyB64: base64.StdEncoding.EncodeToString(e.Key),
				ValB64: base64.StdEncoding.EncodeToString(e.Value),
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return errors.InvalidWrap("failed to encode snapshot line", err)
			}
			if _, err := bw.Write(raw); err != nil {
				return errors.StorageErr("failed to write snapshot line", err)
			}
			if err := bw.WriteByte('\n'); err != nil {
				return errors.StorageErr("failed to write snapshot line", err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return errors.StorageErr("failed to flush snapshot file", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.StorageErr("failed to close gzip stream", err)
		}
	}
	return nil
}

// Restore reads path (optionally gzip-compressed) and puts every entry
// into its named space, then rebuilds every index declared in cat by
// re-scanning the corresponding table's rows.
func Restore(store storage.Storage, cat *catalog.Catalog, path string, compressed bool) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.StorageErr("failed to open snapshot file", err)
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errors.StorageErr("failed to construct gzip reader", err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var rec line
		if err := json.Unmarshal(text, &rec); err != nil {
			return errors.InvalidWrap("failed to decode snapshot line", err)
		}
		key, err := base64.StdEncoding.DecodeString(rec.KeyB64)
		if err != nil {
			return errors.InvalidWrap("failed to decode snapshot key", err)
		}
		value, err := base64.StdEncoding.DecodeString(rec.ValB64)
		if err != nil {
			return errors.InvalidWrap("failed to decode snapshot value", err)
		}
		if err := store.Put(storage.Space(rec.Space), key, value); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.StorageErr("failed to read snapshot file", err)
	}

	if err := cat.Load(); err != nil {
		return err
	}
	return rebuildIndexes(store, cat)
}

func rebuildIndexes(store storage.Storage, cat *catalog.Catalog) error {
	for _, def := range cat.Indexes() {
		m := index.New(store, def)
		if err := m.Clear(); err != nil {
			return err
		}

		entries, err := store.ScanPrefix(storage.SpaceData, []byte("tbl/"+def.Table+"/"))
		if err != nil {
			return err
		}
		for _, e := range entries {
			row, err := types.DecodeRow(e.Value)
			if err != nil {
				return errors.InvalidWrap("failed to decode row while rebuilding index", err)
			}
			if err := m.Insert(row.Get(def.Column), e.Key); err != nil {
				return err
			}
		}
	}
	return nil
}
