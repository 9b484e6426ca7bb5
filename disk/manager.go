// Package disk implements the core's only I/O primitive: fixed-size page
// reads/writes against a single growable backing file, plus a scheduler
// that serializes those reads/writes onto one worker so concurrent
// callers observe a single, ordered stream of disk operations.
//
// Grounded on storage_engine/disk_manager/main.go: real os.File handles,
// ReadAt/WriteAt at page-aligned offsets, a page count tracked so reads
// past the end of the store fail cleanly instead of returning garbage.
package disk

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"latchdb/page"
)

// ErrOutOfRange is returned when a page id has never been grown into the
// backing store.
var ErrOutOfRange = errors.New("disk: page id out of range")

// Manager owns a single backing file and reads/writes page.Size-byte
// blocks at page-aligned offsets. Space is never reclaimed: DeletePage
// is permitted to be a no-op per spec (§4.1, §9).
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	numPages int64
}

// Open creates or opens path as the backing store, sizing numPages from
// the file's current length.
func Open(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: stat %s: %w", path, err)
	}
	return &Manager{
		file:     f,
		numPages: stat.Size() / page.Size,
	}, nil
}

// ReadPage reads page id into buf, which must be exactly page.Size bytes.
func (m *Manager) ReadPage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id < 0 || id >= m.numPages {
		return fmt.Errorf("disk: read page %d: %w", id, ErrOutOfRange)
	}
	if len(buf) != page.Size {
		return fmt.Errorf("disk: read page %d: buffer must be %d bytes, got %d", id, page.Size, len(buf))
	}

	n, err := m.file.ReadAt(buf, id*page.Size)
	if err != nil && n < page.Size {
		return fmt.Errorf("disk: read page %d: %w", id, err)
	}
	return nil
}

// WritePage writes buf to page id, growing the backing store if needed.
func (m *Manager) WritePage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writePageLocked(id, buf)
}

func (m *Manager) writePageLocked(id page.ID, buf []byte) error {
	if len(buf) != page.Size {
		return fmt.Errorf("disk: write page %d: buffer must be %d bytes, got %d", id, page.Size, len(buf))
	}
	if _, err := m.file.WriteAt(buf, id*page.Size); err != nil {
		return fmt.Errorf("disk: write page %d: %w", id, err)
	}
	if id >= m.numPages {
		m.numPages = id + 1
	}
	return nil
}

// GrowTo ensures the backing store covers at least numPages pages. The
// core treats the store as an arbitrarily growable sparse file: growth
// beyond the current length is implicit on the next write to that
// offset, so GrowTo just raises the bookkeeping counter and, for pages
// that would otherwise be a hole, stamps a zero page so later OutOfRange
// checks on reads succeed.
func (m *Manager) GrowTo(numPages int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if numPages <= m.numPages {
		return nil
	}
	var zero [page.Size]byte
	if err := m.writePageLocked(numPages-1, zero[:]); err != nil {
		return err
	}
	m.numPages = numPages
	return nil
}

// DeletePage is a no-op: space reclamation is explicitly not required
// (spec §9). It exists so callers have a stable place to hang future
// reclamation logic without changing the interface.
func (m *Manager) DeletePage(id page.ID) error {
	return nil
}

// NumPages reports how many pages the store currently covers.
func (m *Manager) NumPages() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numPages
}

// Close syncs and closes the backing file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return err
	}
	return m.file.Close()
}
