package bplustree

import "latchdb/page"

// extractChildren returns all size+1 children of an internal page.
func extractChildren(buf *[page.Size]byte, size int) []page.ID {
	out := make([]page.ID, size+1)
	for i := range out {
		out[i] = internalChild(buf, i)
	}
	return out
}

// extractSeparators returns the size separator keys (slots 1..size) of
// an internal page, 0-indexed in the result (result[0] == slot 1).
func extractSeparators(buf *[page.Size]byte, maxSize, size int) [][]byte {
	out := make([][]byte, size)
	for i := 0; i < size; i++ {
		out[i] = internalKey(buf, maxSize, i+1)
	}
	return out
}

// rebuildInternal rewrites an internal page from scratch given its full
// child and separator-key lists (len(children) == len(seps)+1).
func rebuildInternal(buf *[page.Size]byte, maxSize int, children []page.ID, seps [][]byte) error {
	size := len(children) - 1
	for i, c := range children {
		setInternalChild(buf, i, c)
	}
	for i, k := range seps {
		if err := setInternalKey(buf, maxSize, i+1, k); err != nil {
			return err
		}
	}
	setSize(buf, size)
	return nil
}

// extractLeafEntries returns the size (key, value) pairs of a leaf page.
func extractLeafEntries(buf *[page.Size]byte, maxSize, size int) ([][]byte, []RID) {
	keys := make([][]byte, size)
	vals := make([]RID, size)
	for i := 0; i < size; i++ {
		keys[i] = leafKey(buf, i)
		vals[i] = leafValue(buf, maxSize, i)
	}
	return keys, vals
}

// rebuildLeaf rewrites a leaf page from scratch given its full entry
// list, preserving next.
func rebuildLeaf(buf *[page.Size]byte, maxSize int, keys [][]byte, vals []RID, next page.ID) error {
	for i, k := range keys {
		if err := setLeafKey(buf, i, k); err != nil {
			return err
		}
		setLeafValue(buf, maxSize, i, vals[i])
	}
	setSize(buf, len(keys))
	setNextLeaf(buf, next)
	return nil
}

func (t *BPlusTree) leafMin() int {
	return (t.leafMax + 1) / 2
}

func (t *BPlusTree) internalMinSep() int {
	return (t.internalMax + 1) / 2
}
