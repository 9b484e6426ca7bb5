// Package heap implements a slotted table-heap page — the tuple
// storage this core's txn package reconstructs MVCC versions out of.
// Grounded on storage_engine/access/heapfile_manager/heap_page.go's
// layout (records growing forward from a fixed header, a slot
// directory growing backward from the end of the page, tombstones
// left in place rather than compacted), extended per spec.md §4.8
// with the per-tuple MVCC metadata BusTub-style engines prepend to
// every tuple: the timestamp of the transaction that last wrote it,
// and a deletion flag (the undo-log link itself lives in the version
// chain the txn package keeps in memory, not on the heap page).
package heap

import (
	"encoding/binary"
	"fmt"

	"latchdb/page"
)

const (
	offType            = 0
	offNext            = 8  // page.ID: next heap page in the file
	offRecordEnd       = 16 // uint16: first free byte after the last record
	offSlotRegionStart = 18 // uint16: first byte of the slot directory
	offSlotCount       = 20 // uint16: total slots (live + tombstone)
	HeaderSize         = 24

	slotSize = 4 // offset uint16 + length uint16

	// metaSize is the fixed-width MVCC header every tuple record
	// carries ahead of its payload: Timestamp int64 + Deleted byte.
	metaSize = 9
)

// Meta is a tuple's MVCC header: the timestamp that last wrote it
// (spec.md's "insertion/update timestamp"), and whether that write was
// a delete.
type Meta struct {
	Timestamp int64
	Deleted   bool
}

func (m Meta) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.Timestamp))
	if m.Deleted {
		buf[8] = 1
	} else {
		buf[8] = 0
	}
}

func decodeMeta(buf []byte) Meta {
	return Meta{
		Timestamp: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Deleted:   buf[8] != 0,
	}
}

// Init stamps a fresh heap page.
func Init(buf *[page.Size]byte, next page.ID) {
	setType(buf, page.TypeTableHeap)
	setNext(buf, next)
	setRecordEnd(buf, HeaderSize)
	setSlotRegionStart(buf, page.Size)
	setSlotCount(buf, 0)
}

func getType(buf *[page.Size]byte) page.Type   { return page.Type(buf[offType]) }
func setType(buf *[page.Size]byte, t page.Type) { buf[offType] = byte(t) }

func GetNext(buf *[page.Size]byte) page.ID { return int64(binary.LittleEndian.Uint64(buf[offNext:])) }
func setNext(buf *[page.Size]byte, id page.ID) {
	binary.LittleEndian.PutUint64(buf[offNext:], uint64(id))
}
func SetNext(buf *[page.Size]byte, id page.ID) { setNext(buf, id) }

func getRecordEnd(buf *[page.Size]byte) int {
	return int(binary.LittleEndian.Uint16(buf[offRecordEnd:]))
}
func setRecordEnd(buf *[page.Size]byte, v int) {
	binary.LittleEndian.PutUint16(buf[offRecordEnd:], uint16(v))
}

func getSlotRegionStart(buf *[page.Size]byte) int {
	return int(binary.LittleEndian.Uint16(buf[offSlotRegionStart:]))
}
func setSlotRegionStart(buf *[page.Size]byte, v int) {
	binary.LittleEndian.PutUint16(buf[offSlotRegionStart:], uint16(v))
}

func GetSlotCount(buf *[page.Size]byte) int {
	return int(binary.LittleEndian.Uint16(buf[offSlotCount:]))
}
func setSlotCount(buf *[page.Size]byte, v int) {
	binary.LittleEndian.PutUint16(buf[offSlotCount:], uint16(v))
}

func slotOffset(idx int) int { return page.Size - (idx+1)*slotSize }

func readSlot(buf *[page.Size]byte, idx int) (offset, length int) {
	off := slotOffset(idx)
	return int(binary.LittleEndian.Uint16(buf[off:])), int(binary.LittleEndian.Uint16(buf[off+2:]))
}

func writeSlot(buf *[page.Size]byte, idx, offset, length int) {
	off := slotOffset(idx)
	binary.LittleEndian.PutUint16(buf[off:], uint16(offset))
	binary.LittleEndian.PutUint16(buf[off+2:], uint16(length))
}

func freeSpace(buf *[page.Size]byte) int {
	return getSlotRegionStart(buf) - getRecordEnd(buf)
}

// InsertTuple appends payload (with a fresh Meta header) to the page,
// reusing a tombstoned slot if one exists, and returns its slot index.
func InsertTuple(buf *[page.Size]byte, payload []byte, meta Meta) (uint32, error) {
	recordLen := metaSize + len(payload)
	if freeSpace(buf) < recordLen+slotSize {
		// Reusing a tombstone doesn't need the extra slotSize, but
		// being conservative here keeps the check simple; callers that
		// hit this on a page with a reusable tombstone just move to
		// the next heap page, which is a one-page waste at worst.
		if !(freeSpace(buf) >= recordLen && hasTombstone(buf)) {
			return 0, fmt.Errorf("heap: insert tuple: need %d bytes, have %d", recordLen, freeSpace(buf))
		}
	}

	slotIdx := GetSlotCount(buf)
	for i := 0; i < GetSlotCount(buf); i++ {
		if _, l := readSlot(buf, i); l == 0 {
			slotIdx = i
			break
		}
	}

	off := getRecordEnd(buf)
	meta.encode(buf[off : off+metaSize])
	copy(buf[off+metaSize:], payload)
	setRecordEnd(buf, off+recordLen)
	writeSlot(buf, slotIdx, off, recordLen)

	if slotIdx == GetSlotCount(buf) {
		setSlotRegionStart(buf, getSlotRegionStart(buf)-slotSize)
		setSlotCount(buf, GetSlotCount(buf)+1)
	}
	return uint32(slotIdx), nil
}

func hasTombstone(buf *[page.Size]byte) bool {
	for i := 0; i < GetSlotCount(buf); i++ {
		if _, l := readSlot(buf, i); l == 0 {
			return true
		}
	}
	return false
}

// GetTuple returns the payload and MVCC meta at slot.
func GetTuple(buf *[page.Size]byte, slot uint32) ([]byte, Meta, error) {
	idx := int(slot)
	if idx >= GetSlotCount(buf) {
		return nil, Meta{}, fmt.Errorf("heap: slot %d out of range (count=%d)", idx, GetSlotCount(buf))
	}
	off, length := readSlot(buf, idx)
	if length == 0 {
		return nil, Meta{}, fmt.Errorf("heap: slot %d is a tombstone", idx)
	}
	meta := decodeMeta(buf[off : off+metaSize])
	payload := make([]byte, length-metaSize)
	copy(payload, buf[off+metaSize:off+length])
	return payload, meta, nil
}

// GetMeta returns just the MVCC header at slot, without copying the
// payload — the hot path for visibility checks during a scan.
func GetMeta(buf *[page.Size]byte, slot uint32) (Meta, error) {
	idx := int(slot)
	if idx >= GetSlotCount(buf) {
		return Meta{}, fmt.Errorf("heap: slot %d out of range (count=%d)", idx, GetSlotCount(buf))
	}
	off, length := readSlot(buf, idx)
	if length == 0 {
		return Meta{}, fmt.Errorf("heap: slot %d is a tombstone", idx)
	}
	return decodeMeta(buf[off : off+metaSize]), nil
}

// SetMeta overwrites just the MVCC header in place — used to stamp a
// tuple's commit timestamp, or flip its deleted bit, without touching
// its payload or moving it.
func SetMeta(buf *[page.Size]byte, slot uint32, meta Meta) error {
	idx := int(slot)
	if idx >= GetSlotCount(buf) {
		return fmt.Errorf("heap: slot %d out of range (count=%d)", idx, GetSlotCount(buf))
	}
	off, length := readSlot(buf, idx)
	if length == 0 {
		return fmt.Errorf("heap: slot %d is a tombstone", idx)
	}
	meta.encode(buf[off : off+metaSize])
	return nil
}

// ErrLengthMismatch is returned by OverwriteExact when newPayload's
// length differs from the tuple's current payload length.
var ErrLengthMismatch = fmt.Errorf("heap: overwrite: payload length must match current length")

// OverwriteExact replaces slot's payload and meta without moving or
// resizing anything: newPayload must be exactly as long as the
// tuple's current payload. Used by the txn package, which requires
// fixed-width rows so an aborted update can always be restored in
// place (see txn.ErrLengthMismatch).
func OverwriteExact(buf *[page.Size]byte, slot uint32, newPayload []byte, meta Meta) error {
	idx := int(slot)
	if idx >= GetSlotCount(buf) {
		return fmt.Errorf("heap: slot %d out of range (count=%d)", idx, GetSlotCount(buf))
	}
	off, length := readSlot(buf, idx)
	if length == 0 {
		return fmt.Errorf("heap: slot %d is a tombstone", idx)
	}
	if metaSize+len(newPayload) != length {
		return ErrLengthMismatch
	}
	meta.encode(buf[off : off+metaSize])
	copy(buf[off+metaSize:], newPayload)
	return nil
}

// UpdateTupleInPlace overwrites slot's payload with newPayload if it
// fits within the original allocation, returning true. If it doesn't
// fit, the slot is tombstoned and the caller must InsertTuple
// elsewhere (spec.md §4.8 mirrors
// storage_engine/access/heapfile_manager/heap_page.go's UpdateRecord).
func UpdateTupleInPlace(buf *[page.Size]byte, slot uint32, newPayload []byte, meta Meta) (bool, error) {
	idx := int(slot)
	if idx >= GetSlotCount(buf) {
		return false, fmt.Errorf("heap: slot %d out of range (count=%d)", idx, GetSlotCount(buf))
	}
	off, length := readSlot(buf, idx)
	if length == 0 {
		return false, fmt.Errorf("heap: slot %d is a tombstone", idx)
	}
	newLen := metaSize + len(newPayload)
	if newLen <= length {
		meta.encode(buf[off : off+metaSize])
		copy(buf[off+metaSize:], newPayload)
		writeSlot(buf, idx, off, newLen)
		return true, nil
	}
	writeSlot(buf, idx, 0, 0)
	return false, nil
}

// TombstoneSlot marks slot as free without touching its bytes.
func TombstoneSlot(buf *[page.Size]byte, slot uint32) error {
	idx := int(slot)
	if idx >= GetSlotCount(buf) {
		return fmt.Errorf("heap: slot %d out of range (count=%d)", idx, GetSlotCount(buf))
	}
	writeSlot(buf, idx, 0, 0)
	return nil
}
