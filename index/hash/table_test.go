package hash

import (
	"fmt"
	"path/filepath"
	"testing"

	"latchdb/buffer"
	"latchdb/disk"
	"latchdb/page"
)

func newTestTable(t *testing.T, dirMaxDepth, bucketMax int) *Table {
	t.Helper()
	dm, err := disk.Open(filepath.Join(t.TempDir(), "hash.db"))
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	sched := disk.NewScheduler(dm)
	t.Cleanup(sched.Shutdown)
	pool := buffer.NewPool(64, 2, sched)

	headerID, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	tbl, err := New(pool, headerID, Config{HeaderMaxDepth: 4, DirMaxDepth: dirMaxDepth, BucketMaxSize: bucketMax})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tbl
}

func hkey(n int) []byte { return []byte(fmt.Sprintf("k-%04d", n)) }

func TestHashInsertGetRoundTrip(t *testing.T) {
	tbl := newTestTable(t, 6, 3)
	const n = 300
	for i := 0; i < n; i++ {
		ok, err := tbl.Insert(hkey(i), RID{PageID: page.ID(i), Slot: uint32(i)})
		if err != nil || !ok {
			t.Fatalf("Insert(%d): ok=%v err=%v", i, ok, err)
		}
	}
	for i := 0; i < n; i++ {
		rid, found, err := tbl.GetValue(hkey(i))
		if err != nil {
			t.Fatalf("GetValue(%d): %v", i, err)
		}
		if !found {
			t.Fatalf("GetValue(%d): not found", i)
		}
		if rid.PageID != page.ID(i) || rid.Slot != uint32(i) {
			t.Fatalf("GetValue(%d) = %+v, want PageID=%d Slot=%d", i, rid, i, i)
		}
	}
}

func TestHashInsertDuplicateFails(t *testing.T) {
	tbl := newTestTable(t, 6, 3)
	if ok, err := tbl.Insert(hkey(1), RID{PageID: 1}); err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	if ok, err := tbl.Insert(hkey(1), RID{PageID: 2}); err == nil || ok {
		t.Fatalf("duplicate insert: want error, got ok=%v err=%v", ok, err)
	}
}

func TestHashRemoveThenGetMissing(t *testing.T) {
	tbl := newTestTable(t, 6, 3)
	const n = 200
	for i := 0; i < n; i++ {
		if _, err := tbl.Insert(hkey(i), RID{PageID: page.ID(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i += 2 {
		if err := tbl.Remove(hkey(i)); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		_, found, err := tbl.GetValue(hkey(i))
		if err != nil {
			t.Fatalf("GetValue(%d): %v", i, err)
		}
		want := i%2 != 0
		if found != want {
			t.Fatalf("GetValue(%d) found=%v, want %v", i, found, want)
		}
	}
}

func TestHashRemoveMissingKeyIsNoop(t *testing.T) {
	tbl := newTestTable(t, 6, 3)
	if _, err := tbl.Insert(hkey(1), RID{PageID: 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Remove(hkey(999)); err != nil {
		t.Fatalf("Remove of missing key: %v", err)
	}
}

func TestHashDirectoryGrowsAndShrinks(t *testing.T) {
	tbl := newTestTable(t, 8, 2)
	const n = 400
	for i := 0; i < n; i++ {
		if _, err := tbl.Insert(hkey(i), RID{PageID: page.ID(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		if err := tbl.Remove(hkey(i)); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		_, found, err := tbl.GetValue(hkey(i))
		if err != nil {
			t.Fatalf("GetValue(%d): %v", i, err)
		}
		if found {
			t.Fatalf("GetValue(%d): still found after removal", i)
		}
	}
	// The table should still work after draining back to (near) empty.
	if _, err := tbl.Insert(hkey(1), RID{PageID: 77}); err != nil {
		t.Fatalf("reinsert after drain: %v", err)
	}
	rid, found, err := tbl.GetValue(hkey(1))
	if err != nil || !found || rid.PageID != 77 {
		t.Fatalf("GetValue after reinsert: rid=%+v found=%v err=%v", rid, found, err)
	}
}
