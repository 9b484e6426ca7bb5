// LRU-K eviction policy for the buffer pool. Grounded in the shape of
// the teacher's LRU tracking (storage_engine/bufferpool.go's
// accessOrder slice and bplustree/buffer_pool.go's identical pattern)
// but generalized from plain LRU to backward K-distance per spec.md
// §4.3: a frame with fewer than K recorded accesses has "infinite"
// K-distance and is preferred for eviction over any frame with a full
// K-history, tie-broken by oldest first access.
package buffer

import "sync"

// replacerNode is the per-frame record the replacer maintains: a
// bounded FIFO of up to K access timestamps plus an evictable bit.
type replacerNode struct {
	history   []int64 // oldest first, capped at K entries
	evictable bool
}

// Replacer selects eviction victims using the LRU-K discipline. All
// operations are atomic under one internal mutex; none blocks on I/O.
type Replacer struct {
	mu            sync.Mutex
	k             int
	clock         int64
	nodes         map[FrameID]*replacerNode
	evictableSize int
}

// NewReplacer returns a replacer tracking up to k accesses per frame.
func NewReplacer(k int) *Replacer {
	if k < 1 {
		k = 1
	}
	return &Replacer{k: k, nodes: make(map[FrameID]*replacerNode)}
}

// RecordAccess appends the current logical time to frame's history,
// creating its record lazily on first access, and advances the clock.
func (r *Replacer) RecordAccess(frame FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		n = &replacerNode{}
		r.nodes[frame] = n
	}
	n.history = append(n.history, r.clock)
	if len(n.history) > r.k {
		n.history = n.history[len(n.history)-r.k:]
	}
	r.clock++
}

// SetEvictable updates the evictable flag for an existing frame record
// and adjusts the evictable count accordingly.
func (r *Replacer) SetEvictable(frame FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		return
	}
	if n.evictable == evictable {
		return
	}
	n.evictable = evictable
	if evictable {
		r.evictableSize++
	} else {
		r.evictableSize--
	}
}

// Evict selects and removes the victim frame, if any evictable frame
// exists. Candidates with fewer than k recorded accesses ("infinite"
// K-distance) are preferred as a group over candidates with a full
// k-history; within the infinite group the tie-break is classical LRU
// (smallest oldest-access timestamp); within the finite group the
// victim maximizes current_time - kth_oldest_access.
func (r *Replacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		haveInf    bool
		infFrame   FrameID
		infOldest  int64
		haveFinite bool
		finFrame   FrameID
		finDist    int64
	)

	for id, n := range r.nodes {
		if !n.evictable {
			continue
		}
		oldest := n.history[0]
		if len(n.history) < r.k {
			if !haveInf || oldest < infOldest {
				haveInf, infFrame, infOldest = true, id, oldest
			}
			continue
		}
		dist := r.clock - oldest
		if !haveFinite || dist > finDist {
			haveFinite, finFrame, finDist = true, id, dist
		}
	}

	var victim FrameID
	switch {
	case haveInf:
		victim = infFrame
	case haveFinite:
		victim = finFrame
	default:
		return 0, false
	}

	delete(r.nodes, victim)
	r.evictableSize--
	return victim, true
}

// Remove forcibly drops a frame's record, decrementing the evictable
// count if it was evictable. Silent no-op if the frame has no record.
func (r *Replacer) Remove(frame FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		return
	}
	if n.evictable {
		r.evictableSize--
	}
	delete(r.nodes, frame)
}

// Size returns the current count of evictable records.
func (r *Replacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableSize
}
