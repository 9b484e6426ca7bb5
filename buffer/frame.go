package buffer

import (
	"sync"

	"latchdb/page"
)

// FrameID is a frame's index in the pool, 0..N-1.
type FrameID int

// Frame is an in-memory slot holding at most one page's bytes. Every
// frame is created once at BufferPoolManager construction and persists
// for the pool's lifetime; only its contents and bookkeeping are
// replaced on miss/eviction. The reader/writer latch lives here (not on
// the BufferPoolManager) because it is acquired and released by page
// guards, never by the pool itself (spec.md §4.4/§4.5).
type Frame struct {
	ID       FrameID
	PageID   page.ID
	Data     page.Page
	PinCount uint32
	Dirty    bool
	Latch    sync.RWMutex
}

func newFrame(id FrameID) *Frame {
	return &Frame{ID: id, PageID: page.InvalidID}
}

// reset clears a frame's bookkeeping before it is reused for a
// different page id. Caller must hold the pool mutex.
func (f *Frame) reset(id page.ID) {
	f.PageID = id
	f.Data.Reset()
	f.PinCount = 0
	f.Dirty = false
}
