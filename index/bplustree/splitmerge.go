package bplustree

import (
	"fmt"

	"latchdb/buffer"
	"latchdb/page"
)

// splitLeaf splits an overflowed leaf (holding leafMax+1 entries) so the
// ceil-half stays left, the rest moves to a new right sibling threaded
// onto the linked list (spec.md §4.6 "Split policy (leaf)"). Returns the
// separator key (the right sibling's first key) and its page id.
func (t *BPlusTree) splitLeaf(wg *buffer.WriteGuard) ([]byte, page.ID, error) {
	buf := wg.Data()
	total := getSize(buf)
	numLeft := (total + 1) / 2

	rightID, err := t.pool.NewPage()
	if err != nil {
		return nil, page.InvalidID, fmt.Errorf("bplustree: split leaf: %w", err)
	}
	rg, err := t.pool.FetchWrite(rightID)
	if err != nil {
		return nil, page.InvalidID, fmt.Errorf("bplustree: split leaf: %w", err)
	}
	defer rg.Drop()
	initLeaf(rg.Data(), t.leafMax)

	for i := numLeft; i < total; i++ {
		if err := setLeafKey(rg.Data(), i-numLeft, leafKey(buf, i)); err != nil {
			return nil, page.InvalidID, err
		}
		setLeafValue(rg.Data(), t.leafMax, i-numLeft, leafValue(buf, t.leafMax, i))
	}
	setSize(rg.Data(), total-numLeft)
	setNextLeaf(rg.Data(), getNextLeaf(buf))
	setNextLeaf(buf, rightID)
	setSize(buf, numLeft)

	sepKey := append([]byte(nil), leafKey(rg.Data(), 0)...)
	return sepKey, rightID, nil
}

// splitInternal splits an overflowed internal page (holding
// internalMax+1 separators, internalMax+2 children). The median
// separator is promoted (not copied) to the parent; spec.md §4.6
// "Split policy (internal)".
func (t *BPlusTree) splitInternal(wg *buffer.WriteGuard) ([]byte, page.ID, error) {
	buf := wg.Data()
	size := getSize(buf) // number of separator keys
	totalChildren := size + 1

	children := make([]page.ID, totalChildren)
	keys := make([][]byte, totalChildren) // keys[0] unused
	for i := 0; i < totalChildren; i++ {
		children[i] = internalChild(buf, i)
	}
	for i := 1; i < totalChildren; i++ {
		keys[i] = internalKey(buf, t.internalMax, i)
	}

	leftChildren := (totalChildren + 1) / 2
	promoted := append([]byte(nil), keys[leftChildren]...)

	rightID, err := t.pool.NewPage()
	if err != nil {
		return nil, page.InvalidID, fmt.Errorf("bplustree: split internal: %w", err)
	}
	rg, err := t.pool.FetchWrite(rightID)
	if err != nil {
		return nil, page.InvalidID, fmt.Errorf("bplustree: split internal: %w", err)
	}
	defer rg.Drop()
	initInternal(rg.Data(), t.internalMax)

	setInternalChild(rg.Data(), 0, children[leftChildren])
	for i := leftChildren + 1; i < totalChildren; i++ {
		relIdx := i - leftChildren
		if err := setInternalKey(rg.Data(), t.internalMax, relIdx, keys[i]); err != nil {
			return nil, page.InvalidID, err
		}
		setInternalChild(rg.Data(), relIdx, children[i])
	}
	setSize(rg.Data(), totalChildren-leftChildren-1)

	setSize(buf, leftChildren-1)
	return promoted, rightID, nil
}
