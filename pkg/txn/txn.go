// Package txn implements the engine's transaction manager: begin/get/put/
// delete/commit/abort over a Storage, with read-your-own-writes isolation
// and an optimistic conflict check on commit.
package txn

import (
	"sync"

	"github.com/tonledb/tonle/pkg/errors"
	"github.com/tonledb/tonle/pkg/storage"
)

// State is a transaction's position in its Active -> Committed|Aborted
// state machine.
type State int

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "Active"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

type spaceKey struct {
	space storage.Space
	key   string
}

type writeOp struct {
	delete bool
	value  []byte
}

// Transaction is one unit of staged work. Reads within an Active
// transaction consult the write set first (read-your-own-writes); writes
// stage into the write set and only reach Storage at commit.
type Transaction struct {
	ID    uint64
	State State
	Start uint64 // start timestamp, assigned at begin

	mu       sync.Mutex
	readSet  map[spaceKey]struct{}
	writeSet map[spaceKey]writeOp
	// order preserves write insertion order for commit, since writeSet
	// itself is unordered.
	order []spaceKey
}

// Manager owns the transaction table and the timestamp clock used for
// begin/commit ordering and optimistic validation.
type Manager struct {
	mu       sync.RWMutex
	store    storage.Storage
	txns     map[uint64]*Transaction
	nextID   uint64
	clock    uint64
	lastTxTS map[spaceKey]uint64 // last commit timestamp that touched a key
}

// NewManager creates a Manager over store.
func NewManager(store storage.Storage) *Manager {
	return &Manager{
		store:    store,
		txns:     make(map[uint64]*Transaction),
		lastTxTS: make(map[spaceKey]uint64),
	}
}

// Begin allocates a new Active transaction and records its start timestamp.
func (m *Manager) Begin() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clock++
	ts := m.clock
	m.nextID++
	t := &Transaction{
		ID:       m.nextID,
		State:    Active,
		Start:    ts,
		readSet:  make(map[spaceKey]struct{}),
		writeSet: make(map[spaceKey]writeOp),
	}
	m.txns[t.ID] = t
	return t
}

// get returns the transaction with id in whatever state it is in, or
// NotFound if the manager has no such transaction.
func (m *Manager) get(id uint64) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.txns[id]
	if !ok {
		return nil, errors.NotFound("transaction")
	}
	return t, nil
}

func (t *Transaction) requireActive() error {
	if t.State != Active {
		return errors.Invalid("transaction not active")
	}
	return nil
}

// Get reads key within txn: pending writes are returned first (or ok=false
// for a pending delete), otherwise the read falls through to storage and
// records the key in the read set.
func (m *Manager) Get(id uint64, space storage.Space, key []byte) ([]byte, bool, error) {
	t, err := m.get(id)
	if err != nil {
		return nil, false, err
	}

	t.mu.Lock()
	if err := t.requireActive(); err != nil {
		t.mu.Unlock()
		return nil, false, err
	}
	sk := spaceKey{space: space, key: string(key)}
	if op, staged := t.writeSet[sk]; staged {
		t.mu.Unlock()
		if op.delete {
			return nil, false, nil
		}
		return append([]byte(nil), op.value...), true, nil
	}
	t.readSet[sk] = struct{}{}
	t.mu.Unlock()

	return m.store.Get(space, key)
}

// Put stages a write into txn's write set; storage is untouched until commit.
func (m *Manager) Put(id uint64, space storage.Space, key, value []byte) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	sk := spaceKey{space: space, key: string(key)}
	if _, exists := t.writeSet[sk]; !exists {
		t.order = append(t.order, sk)
	}
	t.writeSet[sk] = writeOp{value: append([]byte(nil), value...)}
	return nil
}

// Delete stages a delete into txn's write set.
func (m *Manager) Delete(id uint64, space storage.Space, key []byte) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	sk := spaceKey{space: space, key: string(key)}
	if _, exists := t.writeSet[sk]; !exists {
		t.order = append(t.order, sk)
	}
	t.writeSet[sk] = writeOp{delete: true}
	return nil
}

// Commit validates txn optimistically (no transaction that committed after
// txn's start timestamp may have written a key in txn's read set), writes a
// single transaction-commit barrier to the WAL, then applies the write set
// to storage in insertion order while holding the manager's commit lock for
// the whole span — the manager's stand-in for "taking the storage write
// lock for the duration of commit", since Storage itself exposes no
// cross-key lock. The barrier lets a replay pass recognize where this
// transaction's writes begin, even though the individual put/delete records
// that follow it are still applied one at a time rather than as a single
// atomic group.
//
// If a storage write fails partway through, commit stops at the first
// failure; prior writes in this commit remain applied (Storage has no
// multi-key atomicity) and the transaction is left Active so the caller can
// inspect or retry. The returned error identifies the failing key.
func (m *Manager) Commit(id uint64) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireActive(); err != nil {
		return err
	}

	for sk := range t.readSet {
		if lastTS, touched := m.lastTxTS[sk]; touched && lastTS > t.Start {
			t.State = Aborted
			return errors.Invalid("transaction conflict: a later commit wrote a key this transaction read")
		}
	}

	m.clock++
	commitTS := m.clock

	if err := m.store.MarkTxnCommit(t.ID); err != nil {
		return errors.StorageErr("failed to write transaction commit barrier", err)
	}

	for _, sk := range t.order {
		op := t.writeSet[sk]
		var werr error
		if op.delete {
			werr = m.store.Del(sk.space, []byte(sk.key))
		} else {
			werr = m.store.Put(sk.space, []byte(sk.key), op.value)
		}
		if werr != nil {
			return errors.StorageErr("commit failed applying key "+sk.key, werr)
		}
		m.lastTxTS[sk] = commitTS
	}

	t.State = Committed
	return nil
}

// Abort marks txn Aborted without touching storage.
func (m *Manager) Abort(id uint64) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	t.State = Aborted
	return nil
}

// StateOf returns txn's current state, for observability/tests.
func (m *Manager) StateOf(id uint64) (State, error) {
	t, err := m.get(id)
	if err != nil {
		return Active, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State, nil
}
