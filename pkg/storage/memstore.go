package storage

import (
	"bytes"
	"os"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/tonledb/tonle/pkg/btree"
	"github.com/tonledb/tonle/pkg/errors"
	"github.com/tonledb/tonle/pkg/log"
	"github.com/tonledb/tonle/pkg/types"
	"github.com/tonledb/tonle/pkg/wal"
)

// treeDegree is the B+Tree minimum degree backing each space's ordered map.
// Unrelated to any on-disk page size: the tree is purely in-memory here.
const treeDegree = 32

// cacheKey is the LRU key, a composite of space and key since the cache is
// shared across all spaces.
type cacheKey string

func makeCacheKey(space Space, key []byte) cacheKey {
	buf := make([]byte, 0, len(space)+1+len(key))
	buf = append(buf, space...)
	buf = append(buf, '\x00')
	buf = append(buf, key...)
	return cacheKey(buf)
}

// InMemoryStore is the default Storage: one B+Tree per space holding the
// latest value for each key, an independent bounded LRU read cache, and an
// optional WAL for durability. The map lock, cache lock and WAL lock are
// independent, per the concurrency model: the map lock only guards the
// spaces map, while writers hold the WAL lock for the span of a single
// put/del (even with no WAL configured), and the WAL append and the tree
// update happen inside that same critical section so persistence order
// matches visibility order.
type InMemoryStore struct {
	mu     sync.RWMutex
	spaces map[Space]*btree.BPlusTree

	cacheMu sync.Mutex
	cache   *lru.Cache[cacheKey, []byte]

	walMu sync.Mutex
	wal   *wal.Writer

	log zerolog.Logger
}

// New opens an InMemoryStore with no WAL: writes are visible immediately
// but lost on process exit.
func New(cacheCapacity int) (*InMemoryStore, error) {
	return newStore(cacheCapacity, "")
}

// WithWAL opens an InMemoryStore backed by a WAL at path, replaying any
// existing entries (last-writer-wins) before returning.
func WithWAL(path string, cacheCapacity int) (*InMemoryStore, error) {
	return newStore(cacheCapacity, path)
}

func newStore(cacheCapacity int, walPath string) (*InMemoryStore, error) {
	if cacheCapacity <= 0 {
		cacheCapacity = 1
	}
	c, err := lru.New[cacheKey, []byte](cacheCapacity)
	if err != nil {
		return nil, errors.StorageErr("failed to allocate LRU cache", err)
	}

	s := &InMemoryStore{
		spaces: make(map[Space]*btree.BPlusTree),
		cache:  c,
		log:    log.WithComponent("memstore"),
	}

	if walPath == "" {
		return s, nil
	}

	lastLSN, err := s.replay(walPath)
	if err != nil {
		return nil, err
	}

	opts := wal.DefaultOptions()
	opts.SyncPolicy = wal.SyncEveryWrite
	w, err := wal.NewWriter(walPath, opts, lastLSN)
	if err != nil {
		return nil, errors.StorageErr("failed to open WAL for append", err)
	}
	s.wal = w
	return s, nil
}

// replay reads every existing record in the WAL at path (if any) and
// applies it to the in-memory tree, last write wins, before the writer is
// opened for further appends. It returns the highest LSN observed so the
// writer can continue the sequence rather than restart it.
func (s *InMemoryStore) replay(path string) (uint64, error) {
	r, err := wal.NewReader(path)
	if err != nil {
		if isNotExist(err) {
			return 0, nil
		}
		return 0, errors.StorageErr("failed to open WAL for replay", err)
	}
	defer r.Close()

	var lastLSN uint64
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		lastLSN = rec.LSN

		switch rec.Op {
		case wal.OpPut:
			s.applyLocal(Space(rec.Space), rec.Key, rec.Value)
		case wal.OpDelete:
			s.deleteLocal(Space(rec.Space), rec.Key)
		case wal.OpTxnCommit:
			// A commit barrier carries no payload of its own; the
			// transaction's put/delete records follow it and are
			// applied one by one as this loop reads them.
		}
	}
	return lastLSN, nil
}

func (s *InMemoryStore) treeFor(space Space) *btree.BPlusTree {
	s.mu.RLock()
	t, ok := s.spaces[space]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.spaces[space]; ok {
		return t
	}
	t = btree.NewTree(treeDegree)
	s.spaces[space] = t
	return t
}

func (s *InMemoryStore) applyLocal(space Space, key, value []byte) {
	t := s.treeFor(space)
	cp := append([]byte(nil), value...)
	_ = t.Replace(types.BytesKey(key), cp)
}

// appendPut, appendDelete and appendTxnCommit assume the caller already
// holds walMu; they just translate a local operation into the wal.Record
// shape the Writer appends.

func (s *InMemoryStore) appendPut(space Space, key, value []byte) error {
	_, err := s.wal.Append(wal.Record{Op: wal.OpPut, Space: string(space), Key: key, Value: value})
	return err
}

func (s *InMemoryStore) appendDelete(space Space, key []byte) error {
	_, err := s.wal.Append(wal.Record{Op: wal.OpDelete, Space: string(space), Key: key})
	return err
}

func (s *InMemoryStore) appendTxnCommit() error {
	_, err := s.wal.Append(wal.Record{Op: wal.OpTxnCommit})
	return err
}

func (s *InMemoryStore) deleteLocal(space Space, key []byte) {
	t := s.treeFor(space)
	node, ok := t.Search(types.BytesKey(key))
	if ok {
		node.Lock()
		node.Remove(types.BytesKey(key))
		node.Unlock()
	}
}

// Get returns the current value for key in space.
func (s *InMemoryStore) Get(space Space, key []byte) ([]byte, bool, error) {
	ck := makeCacheKey(space, key)

	s.cacheMu.Lock()
	if v, ok := s.cache.Get(ck); ok {
		s.cacheMu.Unlock()
		if v == nil {
			return nil, false, nil
		}
		return append([]byte(nil), v...), true, nil
	}
	s.cacheMu.Unlock()

	t := s.treeFor(space)
	raw, ok := t.Get(types.BytesKey(key))
	if !ok {
		s.cacheMu.Lock()
		s.cache.Add(ck, nil)
		s.cacheMu.Unlock()
		return nil, false, nil
	}
	value := raw.([]byte)

	s.cacheMu.Lock()
	s.cache.Add(ck, value)
	s.cacheMu.Unlock()

	return append([]byte(nil), value...), true, nil
}

// Put sets key's value in space, WAL-ing the write (if a WAL is configured)
// before it becomes visible.
func (s *InMemoryStore) Put(space Space, key []byte, value []byte) error {
	s.walMu.Lock()
	defer s.walMu.Unlock()

	if s.wal != nil {
		if err := s.appendPut(space, key, value); err != nil {
			return errors.StorageErr("WAL append failed, write rejected", err)
		}
	}

	t := s.treeFor(space)
	cp := append([]byte(nil), value...)
	if err := t.Replace(types.BytesKey(key), cp); err != nil {
		return errors.StorageErr("failed to apply write to in-memory tree", err)
	}

	s.invalidateCache(space, key, cp)
	return nil
}

// Del removes key from space. Deleting an absent key is a no-op, not an error.
func (s *InMemoryStore) Del(space Space, key []byte) error {
	s.walMu.Lock()
	defer s.walMu.Unlock()

	if s.wal != nil {
		if err := s.appendDelete(space, key); err != nil {
			return errors.StorageErr("WAL append failed, delete rejected", err)
		}
	}

	s.deleteLocal(space, key)
	s.invalidateCache(space, key, nil)
	return nil
}

// PutIfAbsent creates key in space with value only if it does not already
// exist. The existence check and the write happen under the backing
// B+Tree leaf's own lock via Upsert, a true compare-and-swap rather than a
// Get followed by a separate Put — two concurrent callers racing on the
// same absent key cannot both succeed.
func (s *InMemoryStore) PutIfAbsent(space Space, key, value []byte) (bool, error) {
	s.walMu.Lock()
	defer s.walMu.Unlock()

	t := s.treeFor(space)
	cp := append([]byte(nil), value...)
	created := false
	if err := t.Upsert(types.BytesKey(key), func(oldValue any, exists bool) (any, error) {
		if exists {
			return oldValue, nil
		}
		created = true
		return cp, nil
	}); err != nil {
		return false, errors.StorageErr("failed to apply conditional write to in-memory tree", err)
	}
	if !created {
		return false, nil
	}

	if s.wal != nil {
		if err := s.appendPut(space, key, value); err != nil {
			// The tree must not hold a value that was never logged:
			// undo it before surfacing the error.
			s.deleteLocal(space, key)
			return false, errors.StorageErr("WAL append failed, write rejected", err)
		}
	}

	s.invalidateCache(space, key, cp)
	return true, nil
}

// MarkTxnCommit appends a transaction-commit barrier to the WAL, letting a
// replay pass tell where one transaction's writes end and the next begins.
// A store with no WAL configured treats this as a no-op.
func (s *InMemoryStore) MarkTxnCommit(txnID uint64) error {
	s.walMu.Lock()
	defer s.walMu.Unlock()
	if s.wal == nil {
		return nil
	}
	return s.appendTxnCommit()
}

func (s *InMemoryStore) invalidateCache(space Space, key, value []byte) {
	ck := makeCacheKey(space, key)
	s.cacheMu.Lock()
	s.cache.Add(ck, value)
	s.cacheMu.Unlock()
}

// ScanPrefix returns every (key, value) in space whose key starts with
// prefix, ascending, as a snapshot: it holds the WAL lock, which every write
// also holds, for the whole walk.
func (s *InMemoryStore) ScanPrefix(space Space, prefix []byte) ([]Entry, error) {
	s.walMu.Lock()
	defer s.walMu.Unlock()

	t := s.treeFor(space)

	var key types.Comparable
	if len(prefix) > 0 {
		key = types.BytesKey(prefix)
	}
	node, idx := t.FindLeafLowerBound(key)
	// FindLeafLowerBound returns the leaf read-locked; the loop below takes
	// its own read lock on every leaf it visits.
	node.RUnlock()

	var out []Entry
	for node != nil {
		node.RLock()
		for i := idx; i < node.N; i++ {
			k := []byte(node.Keys[i].(types.BytesKey))
			if !bytes.HasPrefix(k, prefix) {
				node.RUnlock()
				return out, nil
			}
			v := node.Values[i].([]byte)
			out = append(out, Entry{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
		}
		next := node.Next
		node.RUnlock()
		node = next
		idx = 0
	}

	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// GetVersioned falls back to Get: InMemoryStore keeps only the latest value
// per key, treating version as advisory per the Storage contract.
func (s *InMemoryStore) GetVersioned(space Space, key []byte, _ uint64) ([]byte, bool, error) {
	return s.Get(space, key)
}

// PutVersioned falls back to Put for the same reason.
func (s *InMemoryStore) PutVersioned(space Space, key []byte, value []byte, _ uint64) error {
	return s.Put(space, key, value)
}

// Close flushes and closes the WAL, if any.
func (s *InMemoryStore) Close() error {
	s.walMu.Lock()
	defer s.walMu.Unlock()
	if s.wal == nil {
		return nil
	}
	return s.wal.Close()
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
