package buffer

import "errors"

// ErrOutOfMemory is returned when the pool has no free frame and the
// replacer cannot produce an evictable candidate.
var ErrOutOfMemory = errors.New("buffer: out of memory, no evictable frame")

// ErrPagePinned is returned by DeletePage when the page is resident and
// still pinned.
var ErrPagePinned = errors.New("buffer: page is pinned")
