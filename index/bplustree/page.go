// Package bplustree implements an ordered index over the buffer pool
// using latch-crabbing concurrency control (spec.md §4.6). The on-disk
// page layout is a from-scratch, length-prefixed byte format in the
// idiom of storage_engine/access/indexfile_manager/bplustree/
// node_to_index_page.go (SerializeNode/DeserializeNode): a fixed header
// followed by parallel arrays of keys and children/values, read and
// written directly against the buffer-pool guard's byte slice rather
// than through an intermediate Node struct, per spec.md §9's
// "discriminated union tagged by page_type" design note.
package bplustree

import (
	"encoding/binary"
	"fmt"

	"latchdb/page"
)

const (
	// KeyMaxLen bounds a single key's serialized length. Keys are
	// arbitrary byte slices up to this length; this is the "key trait"
	// boundary spec.md §9 calls for in place of C++ template
	// specialization across key widths.
	KeyMaxLen = 32

	keySlotLen = 2 + KeyMaxLen // uint16 length prefix + payload
	ridSlotLen = 12            // page.ID (8) + slot index uint32 (4)
	childLen   = 8              // page.ID

	// common 12-byte header: type tag, current size, max size.
	hdrOffType = 0
	hdrOffSize = 1
	hdrOffMax  = 5
	hdrLen     = 12

	// leaf-only: next-leaf page id directly after the common header.
	leafOffNext = hdrLen
	leafOffKeys = leafOffNext + 8

	// internal-only: children directly after the common header, keys
	// after that. Children capacity is maxSize+1; key slot 0 is unused.
	internalOffChildren = hdrLen

	// header-page: root page id directly after the common header.
	headerOffRoot = hdrLen
)

// RID is a record identifier: the page id and slot index of a tuple in
// a table-heap page.
type RID struct {
	PageID page.ID
	Slot   uint32
}

func (r RID) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.PageID))
	binary.LittleEndian.PutUint32(buf[8:12], r.Slot)
}

func decodeRID(buf []byte) RID {
	return RID{
		PageID: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Slot:   binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// --- common header ---------------------------------------------------

func getType(buf *[page.Size]byte) page.Type {
	return page.Type(buf[hdrOffType])
}

func setType(buf *[page.Size]byte, t page.Type) {
	buf[hdrOffType] = byte(t)
}

func getSize(buf *[page.Size]byte) int {
	return int(binary.LittleEndian.Uint32(buf[hdrOffSize:]))
}

func setSize(buf *[page.Size]byte, n int) {
	binary.LittleEndian.PutUint32(buf[hdrOffSize:], uint32(n))
}

func getMax(buf *[page.Size]byte) int {
	return int(binary.LittleEndian.Uint32(buf[hdrOffMax:]))
}

func setMax(buf *[page.Size]byte, n int) {
	binary.LittleEndian.PutUint32(buf[hdrOffMax:], uint32(n))
}

// --- key slots (shared by leaf and internal pages) --------------------

func keySlotOffset(base, idx int) int {
	return base + idx*keySlotLen
}

func readKey(buf *[page.Size]byte, base, idx int) []byte {
	off := keySlotOffset(base, idx)
	n := int(binary.LittleEndian.Uint16(buf[off:]))
	key := make([]byte, n)
	copy(key, buf[off+2:off+2+n])
	return key
}

func writeKey(buf *[page.Size]byte, base, idx int, key []byte) error {
	if len(key) > KeyMaxLen {
		return fmt.Errorf("bplustree: key length %d exceeds max %d", len(key), KeyMaxLen)
	}
	off := keySlotOffset(base, idx)
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(key)))
	copy(buf[off+2:], key)
	return nil
}

// --- leaf pages --------------------------------------------------------

func initLeaf(buf *[page.Size]byte, maxSize int) {
	setType(buf, page.TypeBTreeLeaf)
	setSize(buf, 0)
	setMax(buf, maxSize)
	setNextLeaf(buf, page.InvalidID)
}

func getNextLeaf(buf *[page.Size]byte) page.ID {
	return int64(binary.LittleEndian.Uint64(buf[leafOffNext:]))
}

func setNextLeaf(buf *[page.Size]byte, id page.ID) {
	binary.LittleEndian.PutUint64(buf[leafOffNext:], uint64(id))
}

// leafValOffset reserves maxSize+1 key slots ahead of the value array,
// not maxSize: spec.md §4.6's split algorithm writes the overflowing
// (maxSize+1)th entry via leafInsertLocal *before* splitLeaf reads it
// back out, so the physical page must have room for one entry beyond
// the configured logical max or that transient write corrupts the
// value array.
func leafValOffset(maxSize, idx int) int {
	return leafOffKeys + (maxSize+1)*keySlotLen + idx*ridSlotLen
}

func leafKey(buf *[page.Size]byte, idx int) []byte {
	return readKey(buf, leafOffKeys, idx)
}

func setLeafKey(buf *[page.Size]byte, idx int, key []byte) error {
	return writeKey(buf, leafOffKeys, idx, key)
}

func leafValue(buf *[page.Size]byte, maxSize, idx int) RID {
	off := leafValOffset(maxSize, idx)
	return decodeRID(buf[off : off+ridSlotLen])
}

func setLeafValue(buf *[page.Size]byte, maxSize, idx int, rid RID) {
	off := leafValOffset(maxSize, idx)
	rid.encode(buf[off : off+ridSlotLen])
}

// --- internal pages ------------------------------------------------------

// internalOffKeys reserves maxSize+2 child slots ahead of the key
// array: a full internal page already holds maxSize+1 children, and
// internalInsertLocal transiently writes one more (child index
// maxSize+1) before splitInternal reads the overflow back out, so the
// physical children array needs one slot beyond the maxSize+1 a node
// at its configured logical max actually uses.
func internalOffKeys(maxSize int) int {
	return internalOffChildren + (maxSize+2)*childLen
}

func initInternal(buf *[page.Size]byte, maxSize int) {
	setType(buf, page.TypeBTreeInternal)
	setSize(buf, 0)
	setMax(buf, maxSize)
}

func internalChild(buf *[page.Size]byte, idx int) page.ID {
	off := internalOffChildren + idx*childLen
	return int64(binary.LittleEndian.Uint64(buf[off:]))
}

func setInternalChild(buf *[page.Size]byte, idx int, id page.ID) {
	off := internalOffChildren + idx*childLen
	binary.LittleEndian.PutUint64(buf[off:], uint64(id))
}

func internalKey(buf *[page.Size]byte, maxSize, idx int) []byte {
	return readKey(buf, internalOffKeys(maxSize), idx)
}

func setInternalKey(buf *[page.Size]byte, maxSize, idx int, key []byte) error {
	return writeKey(buf, internalOffKeys(maxSize), idx, key)
}

// --- header page (root pointer) ------------------------------------------

func initHeader(buf *[page.Size]byte) {
	setType(buf, page.TypeBTreeHeader)
	setSize(buf, 0)
	setMax(buf, 0)
	setRoot(buf, page.InvalidID)
}

func getRoot(buf *[page.Size]byte) page.ID {
	return int64(binary.LittleEndian.Uint64(buf[headerOffRoot:]))
}

func setRoot(buf *[page.Size]byte, id page.ID) {
	binary.LittleEndian.PutUint64(buf[headerOffRoot:], uint64(id))
}

// PageCapacity estimates how many (maxSize+1)-wide physical slots of
// slotLen bytes fit in a page.Size page after the common header — the
// "derived from page size and key width by default" config spec.md §6
// calls for. It returns the physical slot count; callers deriving a
// tree's logical leafMax/internalMax must still subtract the headroom
// leafValOffset/internalOffKeys reserve for the transient overflow
// entry a split reads back (see tree.go's New). Callers (tests in
// particular) may still pass an explicit, smaller max size to a tree's
// Config to exercise splits/merges without inserting thousands of keys.
func PageCapacity(slotLen int) int {
	return (page.Size - hdrLen - 8) / slotLen
}
