package txn

import "sync"

// Watermark tracks the minimum read timestamp across all currently
// running transactions (spec.md §4.8 "watermark-based GC"): no undo
// log older than this value can still be needed to reconstruct a
// visible snapshot, so it bounds how far back garbage collection may
// safely trim a version chain.
type Watermark struct {
	mu     sync.Mutex
	counts map[int64]int
	floor  int64
}

// NewWatermark starts the watermark at floor — the timestamp to report
// when no transaction is currently running.
func NewWatermark(floor int64) *Watermark {
	return &Watermark{counts: make(map[int64]int), floor: floor}
}

// AddTxn registers a running transaction's read timestamp.
func (w *Watermark) AddTxn(readTS int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts[readTS]++
}

// RemoveTxn unregisters a transaction's read timestamp on commit/abort.
func (w *Watermark) RemoveTxn(readTS int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts[readTS]--
	if w.counts[readTS] <= 0 {
		delete(w.counts, readTS)
	}
}

// UpdateFloor raises the no-running-transactions floor, called after
// every commit with the new commit timestamp.
func (w *Watermark) UpdateFloor(ts int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ts > w.floor {
		w.floor = ts
	}
}

// Value returns the current watermark: the minimum read timestamp
// among running transactions, or the floor if none are running.
func (w *Watermark) Value() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.counts) == 0 {
		return w.floor
	}
	min := int64(-1)
	for ts := range w.counts {
		if min == -1 || ts < min {
			min = ts
		}
	}
	return min
}
