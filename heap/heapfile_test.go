package heap

import (
	"fmt"
	"path/filepath"
	"testing"

	"latchdb/buffer"
	"latchdb/disk"
)

func newTestFile(t *testing.T) *File {
	t.Helper()
	dm, err := disk.Open(filepath.Join(t.TempDir(), "heap.db"))
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	sched := disk.NewScheduler(dm)
	t.Cleanup(sched.Shutdown)
	pool := buffer.NewPool(32, 2, sched)

	firstID, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	f, err := New(pool, firstID)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestHeapInsertGetRoundTrip(t *testing.T) {
	f := newTestFile(t)
	const n = 500
	rids := make([]RID, n)
	for i := 0; i < n; i++ {
		rid, err := f.InsertTuple([]byte(fmt.Sprintf("row-%d", i)), Meta{Timestamp: int64(i)})
		if err != nil {
			t.Fatalf("InsertTuple(%d): %v", i, err)
		}
		rids[i] = rid
	}
	for i := 0; i < n; i++ {
		payload, meta, err := f.GetTuple(rids[i])
		if err != nil {
			t.Fatalf("GetTuple(%d): %v", i, err)
		}
		if string(payload) != fmt.Sprintf("row-%d", i) {
			t.Fatalf("GetTuple(%d) payload = %q", i, payload)
		}
		if meta.Timestamp != int64(i) || meta.Deleted {
			t.Fatalf("GetTuple(%d) meta = %+v", i, meta)
		}
	}
}

func TestHeapUpdateInPlaceAndRelocate(t *testing.T) {
	f := newTestFile(t)
	rid, err := f.InsertTuple([]byte("short"), Meta{Timestamp: 1})
	if err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}

	newRID, err := f.UpdateTuple(rid, []byte("shor"), Meta{Timestamp: 2})
	if err != nil {
		t.Fatalf("UpdateTuple (shrink): %v", err)
	}
	if newRID != rid {
		t.Fatalf("in-place update changed RID: got %+v, want %+v", newRID, rid)
	}

	relocated, err := f.UpdateTuple(rid, []byte("a much longer replacement payload"), Meta{Timestamp: 3})
	if err != nil {
		t.Fatalf("UpdateTuple (grow): %v", err)
	}
	if relocated == rid {
		t.Fatalf("expected relocation for oversized update")
	}
	payload, meta, err := f.GetTuple(relocated)
	if err != nil {
		t.Fatalf("GetTuple(relocated): %v", err)
	}
	if string(payload) != "a much longer replacement payload" || meta.Timestamp != 3 {
		t.Fatalf("relocated tuple = %q %+v", payload, meta)
	}

	if _, _, err := f.GetTuple(rid); err == nil {
		t.Fatalf("original slot should be tombstoned after relocation")
	}
}

func TestHeapScanSkipsTombstones(t *testing.T) {
	f := newTestFile(t)
	var rids []RID
	for i := 0; i < 10; i++ {
		rid, err := f.InsertTuple([]byte(fmt.Sprintf("%d", i)), Meta{Timestamp: 1})
		if err != nil {
			t.Fatalf("InsertTuple: %v", err)
		}
		rids = append(rids, rid)
	}
	for i := 0; i < 10; i += 2 {
		if err := f.TombstoneTuple(rids[i]); err != nil {
			t.Fatalf("TombstoneTuple: %v", err)
		}
	}

	seen := 0
	if err := f.Scan(func(rid RID, payload []byte, meta Meta) bool {
		seen++
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if seen != 5 {
		t.Fatalf("Scan saw %d live tuples, want 5", seen)
	}
}

func TestHeapSpansMultiplePages(t *testing.T) {
	f := newTestFile(t)
	big := make([]byte, 1000)
	const n = 30 // forces at least one page split at 4KB pages
	for i := 0; i < n; i++ {
		if _, err := f.InsertTuple(big, Meta{Timestamp: int64(i)}); err != nil {
			t.Fatalf("InsertTuple(%d): %v", i, err)
		}
	}
	count := 0
	if err := f.Scan(func(rid RID, payload []byte, meta Meta) bool {
		count++
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if count != n {
		t.Fatalf("Scan saw %d tuples, want %d", count, n)
	}
}
