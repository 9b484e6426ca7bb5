// Package page defines the fixed-size disk block shared by every
// structure that lives under the buffer pool: B+Tree pages, extendible
// hash pages, and table-heap pages. The byte layout inside a page is
// owned by the structure that claims it (see index/bplustree, index/hash,
// heap) — this package only fixes the size and the common header tag
// every page stamps at offset 0, the same convention the teacher uses
// so the buffer pool never has to know a page's concrete layout.
package page

const (
	// Size is the fixed page size in bytes. Compile-time constant per
	// spec — adaptive page sizes are explicitly out of scope.
	Size = 4096

	// InvalidID is the sentinel for "no page" (unallocated, absent root,
	// absent child/sibling pointer).
	InvalidID int64 = -1
)

// ID identifies a page within the backing store. Dense, non-negative,
// monotonically allocated by the buffer pool; InvalidID marks absence.
type ID = int64

// Type discriminates the structure that owns a page's bytes. Stored in
// the first byte of every typed page so the core never needs a
// dynamic_cast-equivalent: a single switch on Type selects the view.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeBTreeHeader
	TypeBTreeInternal
	TypeBTreeLeaf
	TypeHashHeader
	TypeHashDirectory
	TypeHashBucket
	TypeTableHeap
)

// Page is an in-memory copy of one on-disk block. It carries no pin
// count or latch of its own — those live on the owning Frame (see
// buffer.Frame) so that a page's bytes can be swapped under eviction
// without the concurrency-control state following it.
type Page struct {
	Data [Size]byte
}

// New returns a zero-filled page.
func New() *Page {
	return &Page{}
}

// Reset zeroes the page in place so a recycled frame starts clean.
func (p *Page) Reset() {
	for i := range p.Data {
		p.Data[i] = 0
	}
}
