// Package document implements the document-collection adapter: JSON blobs
// keyed by "doc/<collection>/<id>" in the data space, with optional TTL
// and a shallow-merge update.
package document

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tonledb/tonle/pkg/catalog"
	"github.com/tonledb/tonle/pkg/errors"
	"github.com/tonledb/tonle/pkg/storage"
)

const ttlField = "_ttl_epoch_ms"
const idField = "_id"

// Adapter exposes insert/get/replace/update_merge/delete/scan operations
// over document collections.
type Adapter struct {
	store   storage.Storage
	catalog *catalog.Catalog
	nowMS   func() int64
}

// New returns a document Adapter over store, registering new collections
// into cat.
func New(store storage.Storage, cat *catalog.Catalog) *Adapter {
	return &Adapter{
		store:   store,
		catalog: cat,
		nowMS:   func() int64 { return time.Now().UnixMilli() },
	}
}

func docKey(collection, id string) []byte {
	return []byte("doc/" + collection + "/" + id)
}

// CreateCollection registers collection in the catalog, idempotently.
func (a *Adapter) CreateCollection(collection string) error {
	return a.catalog.CreateCollection(collection)
}

// Insert writes json under a generated id (or the id present in json, if
// any) and returns the id used.
func (a *Adapter) Insert(collection string, doc map[string]any) (string, error) {
	return a.insert(collection, doc, 0)
}

// InsertTTL is Insert with an additional expiry: ttlSeconds from now.
func (a *Adapter) InsertTTL(collection string, doc map[string]any, ttlSeconds int64) (string, error) {
	return a.insert(collection, doc, ttlSeconds)
}

func (a *Adapter) insert(collection string, doc map[string]any, ttlSeconds int64) (string, error) {
	id, _ := doc[idField].(string)
	if id == "" {
		id = uuid.NewString()
	}
	doc[idField] = id

	if ttlSeconds > 0 {
		doc[ttlField] = a.nowMS() + ttlSeconds*1000
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", errors.InvalidWrap("failed to encode document", err)
	}
	if err := a.store.Put(storage.SpaceData, docKey(collection, id), raw); err != nil {
		return "", err
	}
	return id, nil
}

func (a *Adapter) expired(raw []byte) bool {
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	exp, ok := probe[ttlField]
	if !ok {
		return false
	}
	expMS, ok := exp.(float64)
	if !ok {
		return false
	}
	return int64(expMS) <= a.nowMS()
}

// Get returns the document for (collection, id). When ignoreExpired is
// true, an expired document reads as absent.
func (a *Adapter) Get(collection, id string, ignoreExpired bool) (map[string]any, bool, error) {
	raw, ok, err := a.store.Get(storage.SpaceData, docKey(collection, id))
	if err != nil || !ok {
		return nil, false, err
	}
	if ignoreExpired && a.expired(raw) {
		return nil, false, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, errors.InvalidWrap("failed to decode stored document", err)
	}
	return doc, true, nil
}

// Replace overwrites the document at (collection, id) if it exists, pinning
// _id to id regardless of what doc carries.
func (a *Adapter) Replace(collection, id string, doc map[string]any) (bool, error) {
	key := docKey(collection, id)
	_, ok, err := a.store.Get(storage.SpaceData, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	doc[idField] = id
	raw, err := json.Marshal(doc)
	if err != nil {
		return false, errors.InvalidWrap("failed to encode document", err)
	}
	return true, a.store.Put(storage.SpaceData, key, raw)
}

// UpdateMerge shallow-merges patch into the base document at (collection,
// id): keys in patch overwrite keys in base. If base is not a JSON object,
// patch replaces it entirely. With upsert, a missing document is treated
// as an empty base.
func (a *Adapter) UpdateMerge(collection, id string, patch map[string]any, upsert bool) error {
	key := docKey(collection, id)
	raw, ok, err := a.store.Get(storage.SpaceData, key)
	if err != nil {
		return err
	}

	base := map[string]any{}
	if ok {
		if err := json.Unmarshal(raw, &base); err != nil {
			// base isn't a JSON object: patch replaces it entirely.
			base = map[string]any{}
		}
	} else if !upsert {
		return errors.NotFound("document " + collection + "/" + id)
	}

	for k, v := range patch {
		base[k] = v
	}
	base[idField] = id

	merged, err := json.Marshal(base)
	if err != nil {
		return errors.InvalidWrap("failed to encode merged document", err)
	}
	return a.store.Put(storage.SpaceData, key, merged)
}

// Delete removes the document at (collection, id), reporting whether it
// existed.
func (a *Adapter) Delete(collection, id string) (bool, error) {
	key := docKey(collection, id)
	_, ok, err := a.store.Get(storage.SpaceData, key)
	if err != nil || !ok {
		return false, err
	}
	return true, a.store.Del(storage.SpaceData, key)
}

// ListAll returns every document in collection, excluding expired ones when
// ignoreExpired is true.
func (a *Adapter) ListAll(collection string, ignoreExpired bool) ([]map[string]any, error) {
	entries, err := a.store.ScanPrefix(storage.SpaceData, []byte("doc/"+collection+"/"))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if ignoreExpired && a.expired(e.Value) {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(e.Value, &doc); err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// FindEq returns every document in collection whose field equals value.
func (a *Adapter) FindEq(collection, field string, value any, ignoreExpired bool) ([]map[string]any, error) {
	return a.FindWhere(collection, func(doc map[string]any) bool {
		v, ok := doc[field]
		return ok && equalJSON(v, value)
	}, ignoreExpired)
}

// FindWhere returns every document in collection satisfying predicate.
func (a *Adapter) FindWhere(collection string, predicate func(map[string]any) bool, ignoreExpired bool) ([]map[string]any, error) {
	all, err := a.ListAll(collection, ignoreExpired)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(all))
	for _, doc := range all {
		if predicate(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func equalJSON(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af == bf
	}
	return a == b
}
