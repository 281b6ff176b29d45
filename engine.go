// Package tonle wires the engine's layers (storage, catalog, index,
// transactions, kv, documents, SQL, backup) into the single Engine type
// that embedding applications use.
package tonle

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/tonledb/tonle/pkg/backup"
	"github.com/tonledb/tonle/pkg/catalog"
	"github.com/tonledb/tonle/pkg/changefeed"
	"github.com/tonledb/tonle/pkg/document"
	"github.com/tonledb/tonle/pkg/errors"
	"github.com/tonledb/tonle/pkg/index"
	"github.com/tonledb/tonle/pkg/kv"
	"github.com/tonledb/tonle/pkg/log"
	"github.com/tonledb/tonle/pkg/sql"
	"github.com/tonledb/tonle/pkg/storage"
	"github.com/tonledb/tonle/pkg/txn"
	"github.com/tonledb/tonle/pkg/types"
)

// Engine is the embeddable database: one Storage, and every adapter layered
// on top of it, per spec.md's "Operations surface".
type Engine struct {
	store storage.Storage
	cat   *catalog.Catalog
	txns  *txn.Manager
	kv    *kv.Adapter
	doc   *document.Adapter
	sqlEv *sql.Evaluator

	events *changefeed.Manager

	log zerolog.Logger
}

// Open constructs an Engine. walPath, when non-empty, makes storage durable
// across restarts; cacheCapacity bounds the in-memory read cache.
func Open(walPath string, cacheCapacity int) (*Engine, error) {
	var store storage.Storage
	var err error
	if walPath == "" {
		store, err = storage.New(cacheCapacity)
	} else {
		store, err = storage.WithWAL(walPath, cacheCapacity)
	}
	if err != nil {
		return nil, err
	}

	cat := catalog.New(store)
	if err := cat.Load(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:  store,
		cat:    cat,
		txns:   txn.NewManager(store),
		kv:     kv.New(store),
		doc:    document.New(store, cat),
		sqlEv:  sql.New(store, cat),
		events: changefeed.NewManager(),
		log:    log.WithComponent("engine"),
	}
	return e, nil
}

// Subscribe registers a change-feed callback under id; see pkg/changefeed
// for filter semantics.
func (e *Engine) Subscribe(id, tableFilter string, ops []changefeed.Operation, cb changefeed.Callback) {
	e.events.Subscribe(id, tableFilter, ops, cb)
}

// Unsubscribe removes a previously registered change feed, reporting
// whether it existed.
func (e *Engine) Unsubscribe(id string) bool {
	return e.events.Unsubscribe(id)
}

// Close releases the underlying storage's resources (WAL file handle).
func (e *Engine) Close() error {
	return e.store.Close()
}

// --- Catalog DDL ---

func (e *Engine) CreateTable(schema catalog.TableSchema) error {
	return e.cat.CreateTable(schema)
}

func (e *Engine) CreateCollection(name string) error {
	return e.cat.CreateCollection(name)
}

func (e *Engine) CreateIndex(def catalog.IndexDef) error {
	if err := e.cat.CreateIndex(def); err != nil {
		return err
	}
	return e.backfillIndex(def)
}

// backfillIndex populates a newly declared index from any rows already
// present in its table, so CreateIndex is safe to call on a non-empty
// table.
func (e *Engine) backfillIndex(def catalog.IndexDef) error {
	m := index.New(e.store, def)
	entries, err := e.store.ScanPrefix(storage.SpaceData, []byte("tbl/"+def.Table+"/"))
	if err != nil {
		return err
	}
	inserted := make([][]byte, 0, len(entries))
	for _, ent := range entries {
		row, err := types.DecodeRow(ent.Value)
		if err != nil {
			return errors.InvalidWrap("failed to decode row while backfilling index", err)
		}
		if err := m.Insert(row.Get(def.Column), ent.Key); err != nil {
			// Undo prior inserts for this backfill, mirroring the rollback
			// obligation §7 places on row-write index maintenance.
			for _, done := range inserted {
				doneRow, decErr := types.DecodeRow(mustGet(e.store, done))
				if decErr == nil {
					_ = m.Delete(doneRow.Get(def.Column), done)
				}
			}
			return err
		}
		inserted = append(inserted, ent.Key)
	}
	return nil
}

func mustGet(store storage.Storage, key []byte) []byte {
	v, _, _ := store.Get(storage.SpaceData, key)
	return v
}

func (e *Engine) DropIndex(table, column string) error {
	def, ok := e.cat.GetIndex(table, column)
	if !ok {
		return &errors.IndexNotFoundError{Name: table + "." + column}
	}
	if err := e.cat.DropIndex(table, column); err != nil {
		return err
	}
	return index.New(e.store, def).Clear()
}

func (e *Engine) GetIndex(table, column string) (catalog.IndexDef, bool) {
	return e.cat.GetIndex(table, column)
}

// --- Relational row writes (maintains indexes) ---

func rowKey(table, pk string) []byte {
	return []byte("tbl/" + table + "/" + pk)
}

// InsertRow checks row against every declared NotNull/Unique column
// constraint, then writes its JSON encoding under the table's row key
// (derived from the table's declared primary key column) and maintains
// every declared index on the table. A failure partway through index
// maintenance rolls back the index entries already inserted for this row
// and puts back the row's previous value, or removes the row if it is new.
func (e *Engine) InsertRow(table string, row map[string]any) error {
	schema, ok := e.cat.GetTable(table)
	if !ok {
		return &errors.TableNotFoundError{Name: table}
	}

	pk, ok := row[schema.PrimaryKey]
	if !ok {
		return errors.Invalid("row is missing primary key column " + schema.PrimaryKey)
	}
	pkStr, ok := pk.(string)
	if !ok {
		pkStr = jsonString(pk)
	}

	raw, err := json.Marshal(row)
	if err != nil {
		return errors.InvalidWrap("failed to encode row", err)
	}
	key := rowKey(table, pkStr)

	decoded, err := types.DecodeRow(raw)
	if err != nil {
		return errors.InvalidWrap("failed to decode row for constraint checking", err)
	}

	if err := e.enforceColumnConstraints(schema, decoded, key); err != nil {
		return err
	}

	previous, hadPrevious, err := e.store.Get(storage.SpaceData, key)
	if err != nil {
		return err
	}

	if err := e.store.Put(storage.SpaceData, key, raw); err != nil {
		return err
	}

	indexes := e.cat.IndexesForTable(table)
	applied := make([]catalog.IndexDef, 0, len(indexes))
	for _, def := range indexes {
		m := index.New(e.store, def)
		if err := m.Insert(decoded.Get(def.Column), key); err != nil {
			for _, done := range applied {
				_ = index.New(e.store, done).Delete(decoded.Get(done.Column), key)
			}
			if hadPrevious {
				_ = e.store.Put(storage.SpaceData, key, previous)
			} else {
				_ = e.store.Del(storage.SpaceData, key)
			}
			return err
		}
		applied = append(applied, def)
	}

	op := changefeed.OpInsert
	var oldValue []byte
	if hadPrevious {
		op = changefeed.OpUpdate
		oldValue = previous
	}
	e.events.Publish(changefeed.ChangeEvent{
		Table:     table,
		Key:       key,
		Operation: op,
		OldValue:  oldValue,
		NewValue:  raw,
	})
	return nil
}

// enforceColumnConstraints checks row against every NotNull and Unique
// constraint declared on schema's columns, rejecting the write before it
// reaches storage. key is the row's own storage key, excluded from the
// Unique scan so an update of an existing row doesn't conflict with itself.
func (e *Engine) enforceColumnConstraints(schema catalog.TableSchema, row types.Row, key []byte) error {
	for _, col := range schema.Columns {
		v := row.Get(col.Name)
		if col.NotNull() && v.IsNull() {
			return errors.Invalid("column " + col.Name + " violates NotNull constraint")
		}
		if col.Unique() && !v.IsNull() {
			exists, err := e.columnValueExists(schema.Name, col.Name, v, key)
			if err != nil {
				return err
			}
			if exists {
				return errors.Invalid("column " + col.Name + " violates Unique constraint")
			}
		}
	}
	return nil
}

// columnValueExists scans every row currently stored for table, reporting
// whether any row other than the one at excludeKey holds value in column.
// This is a full-table scan: spec.md's Non-goals exclude a query
// optimizer, and Unique enforcement is not declared as an indexed
// operation, so there is no secondary structure to consult instead.
func (e *Engine) columnValueExists(table, column string, value types.Value, excludeKey []byte) (bool, error) {
	entries, err := e.store.ScanPrefix(storage.SpaceData, []byte("tbl/"+table+"/"))
	if err != nil {
		return false, err
	}
	for _, ent := range entries {
		if bytes.Equal(ent.Key, excludeKey) {
			continue
		}
		existing, err := types.DecodeRow(ent.Value)
		if err != nil {
			return false, errors.InvalidWrap("failed to decode row while checking Unique constraint", err)
		}
		if existing.Get(column).Equal(value) {
			return true, nil
		}
	}
	return false, nil
}

func jsonString(v any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

// --- KV ---

func (e *Engine) KVGet(key []byte) ([]byte, bool, error) { return e.kv.Get(key) }

func (e *Engine) KVPut(key, value []byte) error {
	previous, hadPrevious, err := e.kv.Get(key)
	if err != nil {
		return err
	}
	if err := e.kv.Put(key, value); err != nil {
		return err
	}
	op := changefeed.OpInsert
	var oldValue []byte
	if hadPrevious {
		op = changefeed.OpUpdate
		oldValue = previous
	}
	e.events.Publish(changefeed.ChangeEvent{Table: "kv", Key: key, Operation: op, OldValue: oldValue, NewValue: value})
	return nil
}

func (e *Engine) KVDel(key []byte) error {
	previous, hadPrevious, err := e.kv.Get(key)
	if err != nil {
		return err
	}
	if err := e.kv.Del(key); err != nil {
		return err
	}
	if hadPrevious {
		e.events.Publish(changefeed.ChangeEvent{Table: "kv", Key: key, Operation: changefeed.OpDelete, OldValue: previous})
	}
	return nil
}

func (e *Engine) KVExists(key []byte) (bool, error) { return e.kv.Exists(key) }

func (e *Engine) KVSetIfAbsent(key, value []byte) (bool, error) {
	created, err := e.kv.SetIfAbsent(key, value)
	if err != nil || !created {
		return created, err
	}
	e.events.Publish(changefeed.ChangeEvent{Table: "kv", Key: key, Operation: changefeed.OpInsert, NewValue: value})
	return true, nil
}

func (e *Engine) KVScanPrefix(prefix []byte) ([]storage.Entry, error) {
	return e.kv.ScanPrefix(prefix)
}

// --- Documents ---

func (e *Engine) DocInsert(collection string, doc map[string]any) (string, error) {
	id, err := e.doc.Insert(collection, doc)
	if err != nil {
		return "", err
	}
	e.publishDocEvent(collection, id, changefeed.OpInsert, nil, doc)
	return id, nil
}

func (e *Engine) DocInsertTTL(collection string, doc map[string]any, ttlSeconds int64) (string, error) {
	id, err := e.doc.InsertTTL(collection, doc, ttlSeconds)
	if err != nil {
		return "", err
	}
	e.publishDocEvent(collection, id, changefeed.OpInsert, nil, doc)
	return id, nil
}

func (e *Engine) DocGet(collection, id string, ignoreExpired bool) (map[string]any, bool, error) {
	return e.doc.Get(collection, id, ignoreExpired)
}

func (e *Engine) DocReplace(collection, id string, doc map[string]any) (bool, error) {
	before, hadBefore, _ := e.doc.Get(collection, id, true)
	replaced, err := e.doc.Replace(collection, id, doc)
	if err != nil || !replaced {
		return replaced, err
	}
	var old map[string]any
	if hadBefore {
		old = before
	}
	e.publishDocEvent(collection, id, changefeed.OpUpdate, old, doc)
	return true, nil
}

func (e *Engine) DocMerge(collection, id string, patch map[string]any, upsert bool) error {
	before, hadBefore, _ := e.doc.Get(collection, id, true)
	if err := e.doc.UpdateMerge(collection, id, patch, upsert); err != nil {
		return err
	}
	after, _, _ := e.doc.Get(collection, id, true)
	op := changefeed.OpUpdate
	var old map[string]any
	if hadBefore {
		old = before
	} else {
		op = changefeed.OpInsert
	}
	e.publishDocEvent(collection, id, op, old, after)
	return nil
}

func (e *Engine) DocDelete(collection, id string) (bool, error) {
	before, hadBefore, _ := e.doc.Get(collection, id, true)
	deleted, err := e.doc.Delete(collection, id)
	if err != nil || !deleted {
		return deleted, err
	}
	var old map[string]any
	if hadBefore {
		old = before
	}
	e.publishDocEvent(collection, id, changefeed.OpDelete, old, nil)
	return true, nil
}

// publishDocEvent marshals before/after document states to JSON (the wire
// format pkg/document itself uses) and publishes a ChangeEvent under the
// collection's name. Marshal failures are swallowed: a malformed document
// surfaced through a different call path has already been rejected there,
// and a best-effort change feed is better than an insert/delete that fails
// only because its notification couldn't be encoded.
func (e *Engine) publishDocEvent(collection, id string, op changefeed.Operation, before, after map[string]any) {
	var oldValue, newValue []byte
	if before != nil {
		oldValue, _ = json.Marshal(before)
	}
	if after != nil {
		newValue, _ = json.Marshal(after)
	}
	e.events.Publish(changefeed.ChangeEvent{
		Table:     collection,
		Key:       []byte(id),
		Operation: op,
		OldValue:  oldValue,
		NewValue:  newValue,
	})
}

func (e *Engine) DocList(collection string, ignoreExpired bool) ([]map[string]any, error) {
	return e.doc.ListAll(collection, ignoreExpired)
}

func (e *Engine) DocFindEq(collection, field string, value any, ignoreExpired bool) ([]map[string]any, error) {
	return e.doc.FindEq(collection, field, value, ignoreExpired)
}

// --- SQL ---

func (e *Engine) ExecuteSQL(text string) ([]map[string]any, error) {
	return e.sqlEv.Execute(text)
}

// LastPlan exposes the access path of the most recent ExecuteSQL call, the
// planner trace hook tests use to assert index-scan vs table-scan choices.
func (e *Engine) LastPlan() sql.Plan {
	return e.sqlEv.LastPlan
}

// --- Transactions ---

func (e *Engine) TxnBegin() uint64 { return e.txns.Begin().ID }

func (e *Engine) TxnGet(id uint64, space storage.Space, key []byte) ([]byte, bool, error) {
	return e.txns.Get(id, space, key)
}

func (e *Engine) TxnPut(id uint64, space storage.Space, key, value []byte) error {
	return e.txns.Put(id, space, key, value)
}

func (e *Engine) TxnDelete(id uint64, space storage.Space, key []byte) error {
	return e.txns.Delete(id, space, key)
}

func (e *Engine) TxnCommit(id uint64) error { return e.txns.Commit(id) }
func (e *Engine) TxnAbort(id uint64) error  { return e.txns.Abort(id) }

// --- Snapshot / Restore ---

func (e *Engine) Snapshot(path string, compressed bool) error {
	return backup.Snapshot(e.store, path, compressed)
}

func (e *Engine) Restore(path string, compressed bool) error {
	return backup.Restore(e.store, e.cat, path, compressed)
}
