package buffer

// ReadGuard is a shared-access RAII handle bundling a frame's pin with
// its reader latch. Construction is private to this package (the
// spec.md §9 replacement for the teacher's friend-class access): the
// only way to get one is Pool.FetchRead. A moved-from (already-dropped)
// guard is inert — Drop is idempotent.
type ReadGuard struct {
	pool    *Pool
	frame   *Frame
	dropped bool
}

// PageID returns the id of the guarded page.
func (g *ReadGuard) PageID() int64 {
	return g.frame.PageID
}

// Data returns the guarded page's bytes. Valid only while the guard is
// live.
func (g *ReadGuard) Data() *[4096]byte {
	return &g.frame.Data.Data
}

// Drop releases the reader latch and, under the pool mutex, decrements
// the pin count, marking the frame evictable if it reaches zero.
// Idempotent.
func (g *ReadGuard) Drop() {
	if g.dropped {
		return
	}
	g.dropped = true
	g.frame.Latch.RUnlock()
	g.pool.unpin(g.frame)
}

// WriteGuard is an exclusive-access RAII handle. Identical to ReadGuard
// except it holds the writer latch; the dirty flag is already set by
// FetchWrite at issue time regardless of whether the holder writes.
type WriteGuard struct {
	pool    *Pool
	frame   *Frame
	dropped bool
}

// PageID returns the id of the guarded page.
func (g *WriteGuard) PageID() int64 {
	return g.frame.PageID
}

// Data returns the guarded page's bytes for mutation.
func (g *WriteGuard) Data() *[4096]byte {
	return &g.frame.Data.Data
}

// Drop releases the writer latch and, under the pool mutex, decrements
// the pin count, marking the frame evictable if it reaches zero.
// Idempotent.
func (g *WriteGuard) Drop() {
	if g.dropped {
		return
	}
	g.dropped = true
	g.frame.Latch.Unlock()
	g.pool.unpin(g.frame)
}
