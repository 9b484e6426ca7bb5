package heap

import (
	"fmt"
	"sync"

	"latchdb/buffer"
	"latchdb/page"
)

// RID identifies a tuple: the heap page holding it and its slot index.
type RID struct {
	PageID page.ID
	Slot   uint32
}

// File is a singly linked list of heap pages, appended to at the tail
// (spec.md §4.8's supplemental table-heap, grounded on
// heapfile_manager's one-page-at-a-time allocation). firstPageID is
// fixed at construction, like bplustree's header page id.
type File struct {
	pool         *buffer.Pool
	firstPageID  page.ID
	mu           sync.Mutex
	lastPageID   page.ID
}

// New wraps an existing chain rooted at firstPageID, initializing it
// as a single empty page if it has never been used.
func New(pool *buffer.Pool, firstPageID page.ID) (*File, error) {
	f := &File{pool: pool, firstPageID: firstPageID}

	g, err := pool.FetchWrite(firstPageID)
	if err != nil {
		return nil, fmt.Errorf("heap: new: %w", err)
	}
	if getType(g.Data()) != page.TypeTableHeap {
		Init(g.Data(), page.InvalidID)
	}
	g.Drop()

	last := firstPageID
	for {
		g, err := pool.FetchRead(last)
		if err != nil {
			return nil, err
		}
		next := GetNext(g.Data())
		g.Drop()
		if next == page.InvalidID {
			break
		}
		last = next
	}
	f.lastPageID = last
	return f, nil
}

// InsertTuple appends payload to the tail page, allocating a new page
// if the tail is full.
func (f *File) InsertTuple(payload []byte, meta Meta) (RID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, err := f.pool.FetchWrite(f.lastPageID)
	if err != nil {
		return RID{}, err
	}
	slot, err := InsertTuple(g.Data(), payload, meta)
	if err == nil {
		tailID := f.lastPageID
		g.Drop()
		return RID{PageID: tailID, Slot: slot}, nil
	}
	g.Drop()

	newID, err := f.pool.NewPage()
	if err != nil {
		return RID{}, err
	}
	ng, err := f.pool.FetchWrite(newID)
	if err != nil {
		return RID{}, err
	}
	Init(ng.Data(), page.InvalidID)
	slot, err = InsertTuple(ng.Data(), payload, meta)
	ng.Drop()
	if err != nil {
		return RID{}, fmt.Errorf("heap: insert tuple: payload too large for an empty page: %w", err)
	}

	lg, err := f.pool.FetchWrite(f.lastPageID)
	if err != nil {
		return RID{}, err
	}
	SetNext(lg.Data(), newID)
	lg.Drop()
	f.lastPageID = newID

	return RID{PageID: newID, Slot: slot}, nil
}

// GetTuple reads the payload and MVCC meta at rid.
func (f *File) GetTuple(rid RID) ([]byte, Meta, error) {
	g, err := f.pool.FetchRead(rid.PageID)
	if err != nil {
		return nil, Meta{}, err
	}
	defer g.Drop()
	return GetTuple(g.Data(), rid.Slot)
}

// GetMeta reads just the MVCC header at rid.
func (f *File) GetMeta(rid RID) (Meta, error) {
	g, err := f.pool.FetchRead(rid.PageID)
	if err != nil {
		return Meta{}, err
	}
	defer g.Drop()
	return GetMeta(g.Data(), rid.Slot)
}

// SetMeta overwrites just the MVCC header at rid.
func (f *File) SetMeta(rid RID, meta Meta) error {
	g, err := f.pool.FetchWrite(rid.PageID)
	if err != nil {
		return err
	}
	defer g.Drop()
	return SetMeta(g.Data(), rid.Slot, meta)
}

// UpdateTuple overwrites rid's payload in place if it still fits;
// otherwise it tombstones rid and appends the new version elsewhere,
// returning the tuple's new RID (which callers must use from then on).
func (f *File) UpdateTuple(rid RID, newPayload []byte, meta Meta) (RID, error) {
	g, err := f.pool.FetchWrite(rid.PageID)
	if err != nil {
		return RID{}, err
	}
	old, _, err := GetTuple(g.Data(), rid.Slot)
	if err != nil {
		g.Drop()
		return RID{}, err
	}
	if len(newPayload) <= len(old) {
		_, err = UpdateTupleInPlace(g.Data(), rid.Slot, newPayload, meta)
		g.Drop()
		if err != nil {
			return RID{}, err
		}
		return rid, nil
	}
	g.Drop()
	// Insert before tombstoning so the new version cannot land in the
	// slot it is replacing.
	newRID, err := f.InsertTuple(newPayload, meta)
	if err != nil {
		return RID{}, err
	}
	if err := f.TombstoneTuple(rid); err != nil {
		return RID{}, err
	}
	return newRID, nil
}

// OverwriteInPlace replaces rid's payload and meta without resizing;
// newPayload must match the current payload's length exactly
// (ErrLengthMismatch otherwise).
func (f *File) OverwriteInPlace(rid RID, newPayload []byte, meta Meta) error {
	g, err := f.pool.FetchWrite(rid.PageID)
	if err != nil {
		return err
	}
	defer g.Drop()
	return OverwriteExact(g.Data(), rid.Slot, newPayload, meta)
}

// TombstoneTuple marks rid's slot free, without relocating anything.
func (f *File) TombstoneTuple(rid RID) error {
	g, err := f.pool.FetchWrite(rid.PageID)
	if err != nil {
		return err
	}
	defer g.Drop()
	return TombstoneSlot(g.Data(), rid.Slot)
}

// Scan calls fn for every live (non-tombstoned) tuple across the
// chain, in page then slot order, stopping early if fn returns false.
func (f *File) Scan(fn func(rid RID, payload []byte, meta Meta) bool) error {
	pageID := f.firstPageID
	for pageID != page.InvalidID {
		g, err := f.pool.FetchRead(pageID)
		if err != nil {
			return err
		}
		count := GetSlotCount(g.Data())
		next := GetNext(g.Data())
		cont := true
		for i := 0; i < count && cont; i++ {
			payload, meta, err := GetTuple(g.Data(), uint32(i))
			if err != nil {
				continue // tombstoned slot
			}
			if !fn(RID{PageID: pageID, Slot: uint32(i)}, payload, meta) {
				cont = false
			}
		}
		g.Drop()
		if !cont {
			return nil
		}
		pageID = next
	}
	return nil
}
