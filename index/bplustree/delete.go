package bplustree

import (
	"latchdb/buffer"
	"latchdb/page"
)

// Remove deletes key if present. Removing a missing key is a no-op
// (spec.md §4.6 "Failure semantics"), not an error.
func (t *BPlusTree) Remove(key []byte) error {
	if done, err := t.removeOptimistic(key); err != nil {
		return err
	} else if done {
		return nil
	}
	return t.removePessimistic(key)
}

// removeOptimistic takes reader latches root→leaf and a writer latch
// only on the leaf, succeeding whenever the leaf can lose one entry
// without underflowing below leafMin (or is the tree's sole page, the
// root-is-leaf case, where underflow is never a structural problem).
// Returns (false, nil) to signal "retry pessimistically".
func (t *BPlusTree) removeOptimistic(key []byte) (bool, error) {
	hg, err := t.pool.FetchRead(t.headerID)
	if err != nil {
		return false, err
	}
	root := getRoot(hg.Data())
	hg.Drop()
	if root == page.InvalidID {
		return true, nil // empty tree: no-op
	}

	cur, err := t.pool.FetchRead(root)
	if err != nil {
		return false, err
	}
	rootIsLeaf := getType(cur.Data()) != page.TypeBTreeInternal
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

	idx, found := t.leafFind(wg.Data(), key)
	if !found {
		return true, nil // no-op
	}
	if !rootIsLeaf && getSize(wg.Data())-1 < t.leafMin() {
		return false, nil // would underflow: needs pessimistic borrow/merge
	}
	t.leafRemoveLocal(wg.Data(), idx)
	return true, nil
}

// removePessimistic re-traverses root→leaf acquiring writer latches
// throughout, holding the header's writer latch and every ancestor not
// yet proven safe (size > min, so losing one child/entry to a merge
// below it still leaves it valid) until the safety frontier is
// crossed. On underflow it borrows from a sibling, falling back to a
// merge, and propagates the merge upward exactly as propagateSplit
// propagates a split.
func (t *BPlusTree) removePessimistic(key []byte) error {
	t.createMu.Lock()
	defer t.createMu.Unlock()

	hg, err := t.pool.FetchWrite(t.headerID)
	if err != nil {
		return err
	}
	root := getRoot(hg.Data())
	if root == page.InvalidID {
		hg.Drop()
		return nil
	}

	headerHeld := true
	var stack []*buffer.WriteGuard
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
		return err
	}

	for getType(cur.Data()) == page.TypeBTreeInternal {
		// A node is safe to release ancestors for if it can lose one
		// entry (from a child merging away) and stay at or above min.
		// The root has no minimum, but a root left with no separator is
		// collapsed through the header, so it is safe only while it has
		// more than one separator.
		isRoot := len(stack) == 0 && headerHeld
		if (isRoot && getSize(cur.Data()) > 1) || (!isRoot && getSize(cur.Data())-1 >= t.internalMinSep()) {
			releaseAncestors()
		}
		childIdx := t.internalFindChildIdx(cur.Data(), key)
		child := internalChild(cur.Data(), childIdx)
		next, err := t.pool.FetchWrite(child)
		if err != nil {
			cur.Drop()
			releaseAncestors()
			return err
		}
		stack = append(stack, cur)
		cur = next
	}

	// cur is the leaf.
	idx, found := t.leafFind(cur.Data(), key)
	if !found {
		cur.Drop()
		releaseAncestors()
		return nil
	}
	t.leafRemoveLocal(cur.Data(), idx)

	if len(stack) == 0 {
		// Leaf is the root: no minimum size applies.
		cur.Drop()
		releaseAncestors()
		return nil
	}
	if getSize(cur.Data()) >= t.leafMin() {
		cur.Drop()
		releaseAncestors()
		return nil
	}

	return t.fixLeafUnderflow(hg, headerHeld, stack, cur)
}

// fixLeafUnderflow repairs an underflowed leaf by borrowing from a
// sibling, or merging with one (left first, falling back to right) per
// spec.md §4.6 "Deletion / merge policy". wg is the underflowed leaf;
// stack's last entry is always its immediate parent (the crabbing
// invariant established in insertPessimistic/removePessimistic: a node
// is only released once its CHILD has been checked safe on descent,
// never at its own level).
func (t *BPlusTree) fixLeafUnderflow(hg *buffer.WriteGuard, headerHeld bool, stack []*buffer.WriteGuard, wg *buffer.WriteGuard) error {
	parent := stack[len(stack)-1]
	rest := stack[:len(stack)-1]
	selfIdx := t.childPosition(parent, wg.PageID())

	if selfIdx > 0 {
		leftID := internalChild(parent.Data(), selfIdx-1)
		lg, err := t.pool.FetchWrite(leftID)
		if err != nil {
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		if getSize(lg.Data()) > t.leafMin() {
			t.borrowFromLeftLeaf(lg.Data(), wg.Data(), parent.Data(), selfIdx)
			lg.Drop()
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return nil
		}
		lg.Drop()
	}

	parentSize := getSize(parent.Data())
	if selfIdx < parentSize {
		rightID := internalChild(parent.Data(), selfIdx+1)
		rg, err := t.pool.FetchWrite(rightID)
		if err != nil {
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		if getSize(rg.Data()) > t.leafMin() {
			t.borrowFromRightLeaf(wg.Data(), rg.Data(), parent.Data(), selfIdx+1)
			rg.Drop()
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return nil
		}
		rg.Drop()
	}

	// No sibling has slack: merge. Prefer merging into the left sibling,
	// falling back to absorbing the right sibling.
	if selfIdx > 0 {
		leftID := internalChild(parent.Data(), selfIdx-1)
		lg, err := t.pool.FetchWrite(leftID)
		if err != nil {
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		t.mergeLeaves(lg.Data(), wg.Data())
		lg.Drop()
		wg.Drop()
		if err := t.pool.DeletePage(wg.PageID()); err != nil {
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		t.internalRemoveChild(parent.Data(), selfIdx)
	} else {
		rightID := internalChild(parent.Data(), selfIdx+1)
		rg, err := t.pool.FetchWrite(rightID)
		if err != nil {
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		t.mergeLeaves(wg.Data(), rg.Data())
		rg.Drop()
		wg.Drop()
		if err := t.pool.DeletePage(rightID); err != nil {
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		t.internalRemoveChild(parent.Data(), selfIdx+1)
	}

	return t.propagateMerge(hg, headerHeld, rest, parent)
}

// propagateMerge checks whether parent (already had a child removed by
// the caller) underflowed and, if so, repairs it exactly as
// fixLeafUnderflow repairs a leaf, or collapses the root if parent was
// the root and is left with a single child.
func (t *BPlusTree) propagateMerge(hg *buffer.WriteGuard, headerHeld bool, rest []*buffer.WriteGuard, parent *buffer.WriteGuard) error {
	if len(rest) == 0 {
		// parent is the root.
		if getSize(parent.Data()) == 0 {
			newRoot := internalChild(parent.Data(), 0)
			oldRootID := parent.PageID()
			parent.Drop()
			if err := t.pool.DeletePage(oldRootID); err != nil {
				if headerHeld {
					hg.Drop()
				}
				return err
			}
			setRoot(hg.Data(), newRoot)
			hg.Drop()
			return nil
		}
		parent.Drop()
		if headerHeld {
			hg.Drop()
		}
		return nil
	}

	if getSize(parent.Data()) >= t.internalMinSep() {
		parent.Drop()
		for _, a := range rest {
			a.Drop()
		}
		if headerHeld {
			hg.Drop()
		}
		return nil
	}

	return t.fixInternalUnderflow(hg, headerHeld, rest, parent)
}

// fixInternalUnderflow is fixLeafUnderflow's counterpart for an
// underflowed internal page: borrow a (separator, child) pair via
// rotation through the parent, or merge with a sibling through the
// parent's separator key.
func (t *BPlusTree) fixInternalUnderflow(hg *buffer.WriteGuard, headerHeld bool, stack []*buffer.WriteGuard, wg *buffer.WriteGuard) error {
	parent := stack[len(stack)-1]
	rest := stack[:len(stack)-1]
	selfIdx := t.childPosition(parent, wg.PageID())

	if selfIdx > 0 {
		leftID := internalChild(parent.Data(), selfIdx-1)
		lg, err := t.pool.FetchWrite(leftID)
		if err != nil {
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		if getSize(lg.Data()) > t.internalMinSep() {
			t.borrowFromLeftInternal(lg.Data(), wg.Data(), parent.Data(), selfIdx)
			lg.Drop()
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return nil
		}
		lg.Drop()
	}

	parentSize := getSize(parent.Data())
	if selfIdx < parentSize {
		rightID := internalChild(parent.Data(), selfIdx+1)
		rg, err := t.pool.FetchWrite(rightID)
		if err != nil {
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		if getSize(rg.Data()) > t.internalMinSep() {
			t.borrowFromRightInternal(wg.Data(), rg.Data(), parent.Data(), selfIdx+1)
			rg.Drop()
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return nil
		}
		rg.Drop()
	}

	if selfIdx > 0 {
		leftID := internalChild(parent.Data(), selfIdx-1)
		lg, err := t.pool.FetchWrite(leftID)
		if err != nil {
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		sep := internalKey(parent.Data(), t.internalMax, selfIdx)
		t.mergeInternals(lg.Data(), wg.Data(), sep)
		lg.Drop()
		wg.Drop()
		if err := t.pool.DeletePage(wg.PageID()); err != nil {
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		t.internalRemoveChild(parent.Data(), selfIdx)
	} else {
		rightID := internalChild(parent.Data(), selfIdx+1)
		rg, err := t.pool.FetchWrite(rightID)
		if err != nil {
			wg.Drop()
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		sep := internalKey(parent.Data(), t.internalMax, selfIdx+1)
		t.mergeInternals(wg.Data(), rg.Data(), sep)
		rg.Drop()
		wg.Drop()
		if err := t.pool.DeletePage(rightID); err != nil {
			t.releaseAll(hg, headerHeld, stack)
			return err
		}
		t.internalRemoveChild(parent.Data(), selfIdx+1)
	}

	return t.propagateMerge(hg, headerHeld, rest, parent)
}

func (t *BPlusTree) releaseAll(hg *buffer.WriteGuard, headerHeld bool, stack []*buffer.WriteGuard) {
	if headerHeld {
		hg.Drop()
	}
	for _, a := range stack {
		a.Drop()
	}
}

// childPosition scans parent's children for id's ordinal position.
// Linear, not binary, search: parent pages hold at most internalMax+1
// children, small enough that this never matters.
func (t *BPlusTree) childPosition(parent *buffer.WriteGuard, id page.ID) int {
	size := getSize(parent.Data())
	for i := 0; i <= size; i++ {
		if internalChild(parent.Data(), i) == id {
			return i
		}
	}
	return -1
}

func (t *BPlusTree) leafRemoveLocal(buf *[page.Size]byte, idx int) {
	size := getSize(buf)
	for i := idx; i < size-1; i++ {
		_ = writeKey(buf, leafOffKeys, i, leafKey(buf, i+1))
		setLeafValue(buf, t.leafMax, i, leafValue(buf, t.leafMax, i+1))
	}
	setSize(buf, size-1)
}

// borrowFromLeftLeaf moves left's last entry onto the front of right,
// then fixes the separator key at parent[sepIdx] (right's new first
// key, per spec.md "separators always equal the first key of the
// right subtree").
func (t *BPlusTree) borrowFromLeftLeaf(left, right, parent *[page.Size]byte, sepIdx int) {
	lsize := getSize(left)
	key := append([]byte(nil), leafKey(left, lsize-1)...)
	val := leafValue(left, t.leafMax, lsize-1)
	setSize(left, lsize-1)

	rsize := getSize(right)
	for i := rsize; i > 0; i-- {
		_ = writeKey(right, leafOffKeys, i, leafKey(right, i-1))
		setLeafValue(right, t.leafMax, i, leafValue(right, t.leafMax, i-1))
	}
	_ = setLeafKey(right, 0, key)
	setLeafValue(right, t.leafMax, 0, val)
	setSize(right, rsize+1)

	_ = setInternalKey(parent, t.internalMax, sepIdx, key)
}

// borrowFromRightLeaf moves right's first entry onto the end of left,
// then fixes the separator at parent[sepIdx] to right's new first key.
func (t *BPlusTree) borrowFromRightLeaf(left, right, parent *[page.Size]byte, sepIdx int) {
	key := append([]byte(nil), leafKey(right, 0)...)
	val := leafValue(right, t.leafMax, 0)

	lsize := getSize(left)
	_ = setLeafKey(left, lsize, key)
	setLeafValue(left, t.leafMax, lsize, val)
	setSize(left, lsize+1)

	rsize := getSize(right)
	for i := 0; i < rsize-1; i++ {
		_ = writeKey(right, leafOffKeys, i, leafKey(right, i+1))
		setLeafValue(right, t.leafMax, i, leafValue(right, t.leafMax, i+1))
	}
	setSize(right, rsize-1)

	newSep := append([]byte(nil), leafKey(right, 0)...)
	_ = setInternalKey(parent, t.internalMax, sepIdx, newSep)
}

// mergeLeaves appends right's entries onto left and relinks left.next,
// leaving right logically empty (the caller deletes its page).
func (t *BPlusTree) mergeLeaves(left, right *[page.Size]byte) {
	lsize := getSize(left)
	rsize := getSize(right)
	for i := 0; i < rsize; i++ {
		_ = setLeafKey(left, lsize+i, leafKey(right, i))
		setLeafValue(left, t.leafMax, lsize+i, leafValue(right, t.leafMax, i))
	}
	setSize(left, lsize+rsize)
	setNextLeaf(left, getNextLeaf(right))
}

// borrowFromLeftInternal rotates left's last child through the parent
// separator into right's front (classic B+Tree internal-node
// rotation): parent[sepIdx] descends to become right's new first
// separator, and left's last separator rises to take parent[sepIdx]'s
// place.
func (t *BPlusTree) borrowFromLeftInternal(left, right, parent *[page.Size]byte, sepIdx int) {
	lsize := getSize(left)
	movedChild := internalChild(left, lsize)
	risingSep := append([]byte(nil), internalKey(left, t.internalMax, lsize)...)
	descendingSep := append([]byte(nil), internalKey(parent, t.internalMax, sepIdx)...)
	setSize(left, lsize-1)

	rsize := getSize(right)
	for i := rsize + 1; i > 0; i-- {
		setInternalChild(right, i, internalChild(right, i-1))
	}
	for i := rsize; i > 0; i-- {
		_ = setInternalKey(right, t.internalMax, i+1, internalKey(right, t.internalMax, i))
	}
	setInternalChild(right, 0, movedChild)
	_ = setInternalKey(right, t.internalMax, 1, descendingSep)
	setSize(right, rsize+1)

	_ = setInternalKey(parent, t.internalMax, sepIdx, risingSep)
}

// borrowFromRightInternal is borrowFromLeftInternal mirrored: right's
// first child rotates through the parent separator into left's end.
func (t *BPlusTree) borrowFromRightInternal(left, right, parent *[page.Size]byte, sepIdx int) {
	movedChild := internalChild(right, 0)
	risingSep := append([]byte(nil), internalKey(right, t.internalMax, 1)...)
	descendingSep := append([]byte(nil), internalKey(parent, t.internalMax, sepIdx)...)

	rsize := getSize(right)
	for i := 0; i < rsize; i++ {
		setInternalChild(right, i, internalChild(right, i+1))
	}
	for i := 1; i < rsize; i++ {
		_ = setInternalKey(right, t.internalMax, i, internalKey(right, t.internalMax, i+1))
	}
	setSize(right, rsize-1)

	lsize := getSize(left)
	_ = setInternalKey(left, t.internalMax, lsize+1, descendingSep)
	setInternalChild(left, lsize+1, movedChild)
	setSize(left, lsize+1)

	_ = setInternalKey(parent, t.internalMax, sepIdx, risingSep)
}

// mergeInternals appends right's children/separators onto left,
// pulling the parent separator down between them, leaving right
// logically empty (the caller deletes its page).
func (t *BPlusTree) mergeInternals(left, right *[page.Size]byte, parentSep []byte) {
	lsize := getSize(left)
	rsize := getSize(right)

	_ = setInternalKey(left, t.internalMax, lsize+1, parentSep)
	setInternalChild(left, lsize+1, internalChild(right, 0))
	for i := 0; i < rsize; i++ {
		_ = setInternalKey(left, t.internalMax, lsize+2+i, internalKey(right, t.internalMax, i+1))
		setInternalChild(left, lsize+2+i, internalChild(right, i+1))
	}
	setSize(left, lsize+1+rsize)
}

// internalRemoveChild deletes the child at position idx and its
// associated separator key, rebuilding the page from scratch to avoid
// subtle in-place shifting bugs (spec.md §4.6 "Merges propagate into
// the parent").
func (t *BPlusTree) internalRemoveChild(buf *[page.Size]byte, idx int) {
	size := getSize(buf)
	children := extractChildren(buf, size)
	seps := extractSeparators(buf, t.internalMax, size)

	children = append(children[:idx], children[idx+1:]...)
	if idx == 0 {
		seps = seps[1:]
	} else {
		seps = append(seps[:idx-1], seps[idx:]...)
	}
	_ = rebuildInternal(buf, t.internalMax, children, seps)
}
