// Package kv implements the raw key/value adapter: the simplest of the
// three data models, a thin pass-through to the fixed "kv" space.
package kv

import (
	"github.com/tonledb/tonle/pkg/storage"
)

// Adapter exposes get/put/del/exists/set_if_absent/scan_prefix over the kv
// space of a Storage.
type Adapter struct {
	store storage.Storage
}

// New returns a kv Adapter over store.
func New(store storage.Storage) *Adapter {
	return &Adapter{store: store}
}

// Get returns the value for key, or ok=false if absent.
func (a *Adapter) Get(key []byte) ([]byte, bool, error) {
	return a.store.Get(storage.SpaceKV, key)
}

// Put sets key's value, creating or overwriting it.
func (a *Adapter) Put(key, value []byte) error {
	return a.store.Put(storage.SpaceKV, key, value)
}

// Del removes key. Deleting an absent key is not an error.
func (a *Adapter) Del(key []byte) error {
	return a.store.Del(storage.SpaceKV, key)
}

// Exists reports whether key currently has a value.
func (a *Adapter) Exists(key []byte) (bool, error) {
	_, ok, err := a.store.Get(storage.SpaceKV, key)
	return ok, err
}

// SetIfAbsent creates key with value only if it doesn't already exist,
// returning false without error when it did. Delegates to Storage's
// PutIfAbsent, which performs the existence check and the write under the
// same tree-leaf lock, so two concurrent callers racing on the same absent
// key cannot both succeed.
func (a *Adapter) SetIfAbsent(key, value []byte) (bool, error) {
	return a.store.PutIfAbsent(storage.SpaceKV, key, value)
}

// ScanPrefix returns every (key, value) pair whose key starts with prefix.
func (a *Adapter) ScanPrefix(prefix []byte) ([]storage.Entry, error) {
	return a.store.ScanPrefix(storage.SpaceKV, prefix)
}

// KeysWithPrefix returns just the keys whose key starts with prefix.
func (a *Adapter) KeysWithPrefix(prefix []byte) ([][]byte, error) {
	entries, err := a.store.ScanPrefix(storage.SpaceKV, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys, nil
}
