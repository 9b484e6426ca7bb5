package bplustree

import (
	"fmt"

	"latchdb/buffer"
	"latchdb/page"
)

// Insert adds key/value. On a duplicate key it returns false together
// with an error wrapping ErrDuplicateKey; any other failure is also a
// returned error.
func (t *BPlusTree) Insert(key []byte, value RID) (bool, error) {
	if ok, err := t.insertOptimistic(key, value); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	return t.insertPessimistic(key, value)
}

// insertOptimistic attempts the fast path of spec.md §4.6: reader
// latches root→leaf, a writer latch only on the leaf. Returns
// (false, nil) when the optimistic assumption doesn't hold (tree empty,
// or the leaf would overflow), which tells the caller to retry
// pessimistically. A duplicate key is reported directly as an error
// wrapping ErrDuplicateKey, since it never needs the pessimistic path.
func (t *BPlusTree) insertOptimistic(key []byte, value RID) (bool, error) {
	hg, err := t.pool.FetchRead(t.headerID)
	if err != nil {
		return false, err
	}
	root := getRoot(hg.Data())
	hg.Drop()
	if root == page.InvalidID {
		return false, nil // tree empty: must create root, pessimistic path
	}

	cur, err := t.pool.FetchRead(root)
	if err != nil {
		return false, err
	}
	for getType(cur.Data()) == page.TypeBTreeInternal {
		child := t.internalFindChild(cur.Data(), key)
		next, err := t.pool.FetchRead(child)
		cur.Drop()
		if err != nil {
			return false, err
		}
		cur = next
	}
	leafID := cur.PageID()
	cur.Drop()

	wg, err := t.pool.FetchWrite(leafID)
	if err != nil {
		return false, err
	}
	defer wg.Drop()

	if _, found := t.leafFind(wg.Data(), key); found {
		return false, fmt.Errorf("bplustree: insert: %w", ErrDuplicateKey)
	}
	if getSize(wg.Data()) >= t.leafMax {
		return false, nil // would overflow: fall back to pessimistic
	}
	t.leafInsertLocal(wg.Data(), key, value)
	return true, nil
}

// insertPessimistic re-traverses root→leaf acquiring writer latches
// throughout, additionally holding the header's writer latch until the
// safety frontier is crossed, then performs the mutation and propagates
// any split back up the ancestor stack.
func (t *BPlusTree) insertPessimistic(key []byte, value RID) (bool, error) {
	t.createMu.Lock()
	defer t.createMu.Unlock()

	hg, err := t.pool.FetchWrite(t.headerID)
	if err != nil {
		return false, err
	}
	root := getRoot(hg.Data())

	if root == page.InvalidID {
		leafID, err := t.pool.NewPage()
		if err != nil {
			hg.Drop()
			return false, err
		}
		lg, err := t.pool.FetchWrite(leafID)
		if err != nil {
			hg.Drop()
			return false, err
		}
		initLeaf(lg.Data(), t.leafMax)
		t.leafInsertLocal(lg.Data(), key, value)
		lg.Drop()
		setRoot(hg.Data(), leafID)
		hg.Drop()
		return true, nil
	}

	headerHeld := true
	var stack []*buffer.WriteGuard // ancestor internal pages not yet proven safe
	releaseAncestors := func() {
		if headerHeld {
			hg.Drop()
			headerHeld = false
		}
		for _, a := range stack {
			a.Drop()
		}
		stack = stack[:0]
	}

	cur, err := t.pool.FetchWrite(root)
	if err != nil {
		releaseAncestors()
		return false, err
	}

	for getType(cur.Data()) == page.TypeBTreeInternal {
		if getSize(cur.Data()) < t.internalMax {
			releaseAncestors()
		}
		child := t.internalFindChild(cur.Data(), key)
		next, err := t.pool.FetchWrite(child)
		if err != nil {
			cur.Drop()
			releaseAncestors()
			return false, err
		}
		stack = append(stack, cur)
		cur = next
	}

	// cur is the leaf.
	if _, found := t.leafFind(cur.Data(), key); found {
		cur.Drop()
		releaseAncestors()
		return false, fmt.Errorf("bplustree: insert: %w", ErrDuplicateKey)
	}

	t.leafInsertLocal(cur.Data(), key, value)
	if getSize(cur.Data()) <= t.leafMax {
		cur.Drop()
		releaseAncestors()
		return true, nil
	}

	// Leaf overflowed: split and propagate.
	sepKey, rightID, err := t.splitLeaf(cur)
	cur.Drop()
	if err != nil {
		releaseAncestors()
		return false, err
	}

	return true, t.propagateSplit(hg, headerHeld, stack, sepKey, rightID)
}

// propagateSplit inserts (sepKey -> rightID) into the parent at the top
// of stack, splitting further (recursively) as needed, and creates a
// new root — using hg, which by construction is still held whenever
// stack is empty — if the node that split was the root itself.
func (t *BPlusTree) propagateSplit(hg *buffer.WriteGuard, headerHeld bool, stack []*buffer.WriteGuard, sepKey []byte, rightID page.ID) error {
	if len(stack) == 0 {
		// The node that split was the root: build a new internal root.
		oldRoot := getRoot(hg.Data())
		newRootID, err := t.pool.NewPage()
		if err != nil {
			hg.Drop()
			return err
		}
		ng, err := t.pool.FetchWrite(newRootID)
		if err != nil {
			hg.Drop()
			return err
		}
		initInternal(ng.Data(), t.internalMax)
		setInternalChild(ng.Data(), 0, oldRoot)
		if err := setInternalKey(ng.Data(), t.internalMax, 1, sepKey); err != nil {
			ng.Drop()
			hg.Drop()
			return err
		}
		setInternalChild(ng.Data(), 1, rightID)
		setSize(ng.Data(), 1)
		ng.Drop()
		setRoot(hg.Data(), newRootID)
		hg.Drop()
		return nil
	}

	parent := stack[len(stack)-1]
	rest := stack[:len(stack)-1]

	t.internalInsertLocal(parent.Data(), sepKey, rightID)
	if getSize(parent.Data()) <= t.internalMax {
		parent.Drop()
		for _, a := range rest {
			a.Drop()
		}
		if headerHeld {
			hg.Drop()
		}
		return nil
	}

	newSepKey, newRightID, err := t.splitInternal(parent)
	parent.Drop()
	if err != nil {
		for _, a := range rest {
			a.Drop()
		}
		if headerHeld {
			hg.Drop()
		}
		return err
	}
	return t.propagateSplit(hg, headerHeld, rest, newSepKey, newRightID)
}

// leafInsertLocal inserts key/value into a leaf page already known to
// have room (or accepted to transiently overflow by one slot before the
// caller splits it), keeping keys sorted ascending.
func (t *BPlusTree) leafInsertLocal(buf *[page.Size]byte, key []byte, value RID) {
	size := getSize(buf)
	pos := size
	for i := 0; i < size; i++ {
		if t.cmp(leafKey(buf, i), key) > 0 {
			pos = i
			break
		}
	}
	for i := size; i > pos; i-- {
		_ = writeKey(buf, leafOffKeys, i, leafKey(buf, i-1))
		setLeafValue(buf, t.leafMax, i, leafValue(buf, t.leafMax, i-1))
	}
	_ = writeKey(buf, leafOffKeys, pos, key)
	setLeafValue(buf, t.leafMax, pos, value)
	setSize(buf, size+1)
}

// internalInsertLocal inserts a (separator key, right child) pair into
// an internal page, keeping separators sorted ascending. Slot 0's key
// is never written (it stays unused per spec.md §4.6).
func (t *BPlusTree) internalInsertLocal(buf *[page.Size]byte, sepKey []byte, child page.ID) {
	size := getSize(buf) // number of separator keys == number of children - 1
	pos := size + 1
	for i := 1; i <= size; i++ {
		if t.cmp(internalKey(buf, t.internalMax, i), sepKey) > 0 {
			pos = i
			break
		}
	}
	for i := size + 1; i > pos; i-- {
		_ = setInternalKey(buf, t.internalMax, i, internalKey(buf, t.internalMax, i-1))
		setInternalChild(buf, i, internalChild(buf, i-1))
	}
	_ = setInternalKey(buf, t.internalMax, pos, sepKey)
	setInternalChild(buf, pos, child)
	setSize(buf, size+1)
}
