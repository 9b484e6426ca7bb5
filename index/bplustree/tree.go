package bplustree

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"latchdb/buffer"
	"latchdb/page"
)

// ErrDuplicateKey is returned by Insert when the key is already present.
var ErrDuplicateKey = errors.New("bplustree: duplicate key")

// Comparator orders two keys; the zero value defaults to bytes.Compare.
type Comparator func(a, b []byte) int

// Config fixes the slot counts per page. Zero values fall back to a
// default derived from page.Size and KeyMaxLen (spec.md §6 "derived
// from page size and key width by default"); tests that want to
// exercise splits/merges without thousands of keys (S2, S3) pass an
// explicit small size instead.
type Config struct {
	LeafMaxSize     int
	InternalMaxSize int
}

// BPlusTree is an ordered index over the buffer pool using
// latch-crabbing concurrency control (spec.md §4.6). The header page id
// is supplied by the caller at construction and conventionally pinned
// for the index's lifetime.
type BPlusTree struct {
	pool        *buffer.Pool
	headerID    page.ID
	leafMax     int
	internalMax int
	cmp         Comparator

	// guards the decision to create a brand-new root; not part of the
	// crabbing protocol itself, just serializes "is the tree empty"
	// races between concurrent first-inserters.
	createMu sync.Mutex
}

// New builds a BPlusTree rooted at headerID. If the header page has
// never been initialized (a freshly allocated, zero-filled page), it is
// stamped as an empty index.
func New(pool *buffer.Pool, headerID page.ID, cfg Config, cmp Comparator) (*BPlusTree, error) {
	if cmp == nil {
		cmp = bytes.Compare
	}
	// Physical slot arrays reserve one extra entry beyond the logical
	// max for the transient overflow a split reads back
	// (leafValOffset/internalOffKeys), so the derived default must
	// leave that headroom rather than fill the page exactly to
	// PageCapacity.
	leafMax := cfg.LeafMaxSize
	if leafMax == 0 {
		leafMax = PageCapacity(keySlotLen+ridSlotLen) - 1
	}
	internalMax := cfg.InternalMaxSize
	if internalMax == 0 {
		internalMax = PageCapacity(keySlotLen+childLen) - 2
	}

	t := &BPlusTree{pool: pool, headerID: headerID, leafMax: leafMax, internalMax: internalMax, cmp: cmp}

	g, err := pool.FetchWrite(headerID)
	if err != nil {
		return nil, fmt.Errorf("bplustree: new: %w", err)
	}
	if getType(g.Data()) != page.TypeBTreeHeader {
		initHeader(g.Data())
	}
	g.Drop()
	return t, nil
}

// IsEmpty reports whether the tree holds no keys: either it has no root
// yet, or its root is a leaf whose entries have all been removed.
func (t *BPlusTree) IsEmpty() (bool, error) {
	g, err := t.pool.FetchRead(t.headerID)
	if err != nil {
		return false, err
	}
	root := getRoot(g.Data())
	g.Drop()
	if root == page.InvalidID {
		return true, nil
	}
	rg, err := t.pool.FetchRead(root)
	if err != nil {
		return false, err
	}
	defer rg.Drop()
	return getType(rg.Data()) == page.TypeBTreeLeaf && getSize(rg.Data()) == 0, nil
}

// GetRootPageID returns the current root page id, or page.InvalidID if
// no root page has been created yet. Removing every key leaves the
// emptied root leaf in place, so a drained tree still reports its id.
func (t *BPlusTree) GetRootPageID() (page.ID, error) {
	g, err := t.pool.FetchRead(t.headerID)
	if err != nil {
		return page.InvalidID, err
	}
	defer g.Drop()
	return getRoot(g.Data()), nil
}

// --- search --------------------------------------------------------------

// GetValue performs a root-to-leaf search under reader latches,
// releasing each ancestor as soon as the child is latched (spec.md
// §4.6 "Searches").
func (t *BPlusTree) GetValue(key []byte) (RID, bool, error) {
	hg, err := t.pool.FetchRead(t.headerID)
	if err != nil {
		return RID{}, false, err
	}
	root := getRoot(hg.Data())
	hg.Drop()
	if root == page.InvalidID {
		return RID{}, false, nil
	}

	cur, err := t.pool.FetchRead(root)
	if err != nil {
		return RID{}, false, err
	}
	for getType(cur.Data()) == page.TypeBTreeInternal {
		child := t.internalFindChild(cur.Data(), key)
		next, err := t.pool.FetchRead(child)
		cur.Drop()
		if err != nil {
			return RID{}, false, err
		}
		cur = next
	}
	defer cur.Drop()

	idx, found := t.leafFind(cur.Data(), key)
	if !found {
		return RID{}, false, nil
	}
	return leafValue(cur.Data(), t.leafMax, idx), true, nil
}

// internalFindChild returns the child page id to descend into for key:
// the largest slot i such that key(i) <= key, or child[0] if key is
// smaller than every separator.
func (t *BPlusTree) internalFindChild(buf *[page.Size]byte, key []byte) page.ID {
	idx := t.internalFindChildIdx(buf, key)
	return internalChild(buf, idx)
}

// internalFindChildIdx is internalFindChild but also returns the child's
// position among its siblings, needed by delete to locate left/right
// siblings for borrow/merge.
func (t *BPlusTree) internalFindChildIdx(buf *[page.Size]byte, key []byte) int {
	size := getSize(buf) // size == number of children - 1 == number of valid separator keys
	childIdx := 0
	for i := 1; i <= size; i++ {
		if t.cmp(internalKey(buf, t.internalMax, i), key) <= 0 {
			childIdx = i
		} else {
			break
		}
	}
	return childIdx
}

// leafFind returns the slot index of key in a leaf page, or false.
func (t *BPlusTree) leafFind(buf *[page.Size]byte, key []byte) (int, bool) {
	size := getSize(buf)
	lo, hi := 0, size
	for lo < hi {
		mid := (lo + hi) / 2
		if t.cmp(leafKey(buf, mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < size && t.cmp(leafKey(buf, lo), key) == 0 {
		return lo, true
	}
	return lo, false
}
