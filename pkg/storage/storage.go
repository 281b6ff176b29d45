package storage

// Entry is one (key, value) pair produced by a prefix scan, in ascending
// key order.
type Entry struct {
	Key   []byte
	Value []byte
}

// Storage is the single capability the rest of the engine is built on:
// a byte-oriented map partitioned into named Spaces. Every higher layer
// (catalog, index, kv, document, txn) is just a particular key layout
// over one or more Spaces of a Storage.
//
// get/put/del operate on the latest value for a key. get_versioned and
// put_versioned are optional MVCC-tagged variants; an implementation that
// doesn't track versions treats version as advisory and falls back to the
// plain form (see InMemoryStore.GetVersioned/PutVersioned).
type Storage interface {
	// Get returns the current value for key in space, or ok=false if absent.
	Get(space Space, key []byte) (value []byte, ok bool, err error)

	// Put sets the value for key in space, creating or overwriting it.
	Put(space Space, key []byte, value []byte) error

	// Del removes key from space. Deleting an absent key is not an error.
	Del(space Space, key []byte) error

	// PutIfAbsent creates key in space with value only if it does not
	// already exist, reporting created=false without error when it did.
	// Implementations MUST make the check-and-write atomic with respect to
	// concurrent PutIfAbsent calls racing on the same key.
	PutIfAbsent(space Space, key, value []byte) (created bool, err error)

	// ScanPrefix returns every (key, value) in space whose key starts with
	// prefix, in ascending key order, as a single consistent snapshot taken
	// at call time.
	ScanPrefix(space Space, prefix []byte) ([]Entry, error)

	// GetVersioned returns the value for key as of version, falling back to
	// Get when the implementation has no version history.
	GetVersioned(space Space, key []byte, version uint64) (value []byte, ok bool, err error)

	// PutVersioned stores value for key tagged with version, falling back
	// to Put when the implementation has no version history.
	PutVersioned(space Space, key []byte, value []byte, version uint64) error

	// Close releases any held resources (WAL file handle, etc).
	Close() error

	// MarkTxnCommit appends a transaction-commit barrier to the WAL, if one
	// is configured, before the transaction manager applies its write set.
	// Implementations with no WAL treat this as a no-op.
	MarkTxnCommit(txnID uint64) error
}
