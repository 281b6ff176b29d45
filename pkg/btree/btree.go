package btree

import (
	"fmt"
	"sort"
	"sync" // latch crabbing on the root pointer and structural operations

	"github.com/tonledb/tonle/pkg/errors"
	"github.com/tonledb/tonle/pkg/types"
)

// BPlusTree is a concurrent B+Tree keyed by types.Comparable, holding an
// arbitrary value (any) per leaf entry. InMemoryStore uses one instance
// per space, keyed by BytesKey, to hold that space's latest values.
type BPlusTree struct {
	T         int
	Root      *Node
	UniqueKey bool // true makes Insert reject a key that is already present
	mu        sync.RWMutex
}

// NewTree creates a tree that allows duplicate keys.
func NewTree(t int) *BPlusTree {
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true),
		UniqueKey: false,
	}
}

// NewUniqueTree creates a tree that rejects duplicate keys.
func NewUniqueTree(t int) *BPlusTree {
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true),
		UniqueKey: true,
	}
}

// Insert adds key/value, honoring UniqueKey.
func (b *BPlusTree) Insert(key types.Comparable, value any) error {
	return b.insertHelper(key, value, b.UniqueKey)
}

// Replace unconditionally sets the value for key, inserting if absent.
func (b *BPlusTree) Replace(key types.Comparable, value any) error {
	return b.Upsert(key, func(oldValue any, exists bool) (any, error) {
		return value, nil
	})
}

// Upsert runs fn against the current value for key (if any) and stores its
// result. fn executes while the target leaf is locked, giving callers an
// atomic read-modify-write.
func (b *BPlusTree) Upsert(key types.Comparable, fn func(oldValue any, exists bool) (newValue any, err error)) error {
	return b.upsertHelper(key, fn)
}

func (b *BPlusTree) insertHelper(key types.Comparable, value any, uniqueKey bool) error {
	return b.Upsert(key, func(oldValue any, exists bool) (any, error) {
		if exists && uniqueKey {
			return nil, &errors.DuplicateKeyError{Key: fmt.Sprintf("%v", key)}
		}
		return value, nil
	})
}

func (b *BPlusTree) upsertHelper(key types.Comparable, fn func(oldValue any, exists bool) (newValue any, err error)) error {

	b.mu.Lock()
	root := b.Root
	root.Lock()

	if root.IsFull() {
		newRoot := NewNode(b.T, false)
		newRoot.Children = append(newRoot.Children, root)
		newRoot.SplitChild(0)
		b.Root = newRoot
		b.mu.Unlock()

		newRoot.Lock()
		root.Unlock()

		return b.upsertTopDown(newRoot, key, fn)
	}

	b.mu.Unlock()
	return b.upsertTopDown(root, key, fn)
}

// upsertTopDown descends the tree, splitting full nodes preventively so
// that the leaf it lands on is guaranteed to have room. curr arrives locked.
func (b *BPlusTree) upsertTopDown(curr *Node, key types.Comparable, fn func(oldValue any, exists bool) (newValue any, err error)) error {

	// curr changes identity as we descend (latch crabbing), so unlocking
	// is managed manually below rather than via a single defer on entry.
	defer func() {
		if curr != nil {
			curr.Unlock()
		}
	}()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}

		child := curr.Children[i]
		child.Lock()

		if child.IsFull() {
			curr.SplitChild(i)

			if key.Compare(curr.Keys[i]) >= 0 {
				child.Unlock()
				child = curr.Children[i+1]
				child.Lock()
			}
		}

		// Release the parent, keep the child (latch crabbing).
		curr.Unlock()
		curr = child
	}

	return curr.UpsertNonFull(key, fn)
}

// Search looks up key using RLock coupling down the tree.
func (b *BPlusTree) Search(key types.Comparable) (*Node, bool) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr, true
		}
	}
	return nil, false
}

// Get returns the value stored for key, thread-safe via internal latching.
func (b *BPlusTree) Get(key types.Comparable) (any, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.RLock()
	curr := b.Root
	if curr == nil {
		b.mu.RUnlock()
		return nil, false
	}
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr.Values[j], true
		}
	}
	return nil, false
}

// FindLeafLowerBound locates the leaf/index pair for a prefix scan's lower
// bound. Returns the node RLocked — the caller must RUnlock it.
func (b *BPlusTree) FindLeafLowerBound(key types.Comparable) (*Node, int) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		var i int
		if key == nil {
			i = 0
		} else {
			i = sort.Search(curr.N, func(i int) bool {
				return curr.Keys[i].Compare(key) >= 0
			})
		}

		child := curr.Children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	var idx int
	if key == nil {
		idx = 0
	} else {
		idx = sort.Search(curr.N, func(i int) bool {
			return curr.Keys[i].Compare(key) >= 0
		})
	}

	return curr, idx
}

// findLeafLowerBound is an internal wrapper kept for older test call sites;
// it returns the node already unlocked.
func (b *BPlusTree) findLeafLowerBound(key types.Comparable) (*Node, int) {
	node, idx := b.FindLeafLowerBound(key)
	if node != nil {
		node.RUnlock()
	}
	return node, idx
}
