package bplustree

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"latchdb/buffer"
	"latchdb/disk"
	"latchdb/page"
)

// newTestTree builds a small-fanout tree (via an explicit Config) so a
// few dozen keys are enough to exercise splits, merges, and borrows,
// per spec.md's scenarios S2/S3.
func newTestTree(t *testing.T, leafMax, internalMax int) *BPlusTree {
	t.Helper()
	dm, err := disk.Open(filepath.Join(t.TempDir(), "tree.db"))
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
	tree, err := New(pool, headerID, Config{LeafMaxSize: leafMax, InternalMaxSize: internalMax}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tree
}

func intKey(n int) []byte {
	return []byte(fmt.Sprintf("%08d", n))
}

func TestInsertGetRoundTrip(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	const n = 200
	for i := 0; i < n; i++ {
		ok, err := tree.Insert(intKey(i), RID{PageID: page.ID(i), Slot: uint32(i)})
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("Insert(%d): want ok", i)
		}
	}
	for i := 0; i < n; i++ {
		rid, found, err := tree.GetValue(intKey(i))
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

func TestInsertDuplicateKeyFails(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	if ok, err := tree.Insert(intKey(1), RID{PageID: 1}); err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	if ok, err := tree.Insert(intKey(1), RID{PageID: 2}); err == nil || ok {
		t.Fatalf("duplicate insert: want error, got ok=%v err=%v", ok, err)
	}
}

func TestIteratorAscendingOrder(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	const n = 100
	order := rand.New(rand.NewSource(1)).Perm(n)
	for _, i := range order {
		if _, err := tree.Insert(intKey(i), RID{PageID: page.ID(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	it, err := tree.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer it.Close()
	count := 0
	for !it.End() {
		want := intKey(count)
		if string(it.Key()) != string(want) {
			t.Fatalf("iterator entry %d: key = %q, want %q", count, it.Key(), want)
		}
		count++
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if count != n {
		t.Fatalf("iterated %d entries, want %d", count, n)
	}
}

func TestSeekLowerBound(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	for _, i := range []int{0, 2, 4, 6, 8, 10} {
		if _, err := tree.Insert(intKey(i), RID{PageID: page.ID(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	it, err := tree.Seek(intKey(5))
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	defer it.Close()
	if it.End() {
		t.Fatalf("Seek(5): want an entry, got End")
	}
	if string(it.Key()) != string(intKey(6)) {
		t.Fatalf("Seek(5) = %q, want %q", it.Key(), intKey(6))
	}
}

func TestRemoveThenGetMissing(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	const n = 150
	for i := 0; i < n; i++ {
		if _, err := tree.Insert(intKey(i), RID{PageID: page.ID(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i += 2 {
		if err := tree.Remove(intKey(i)); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		_, found, err := tree.GetValue(intKey(i))
		if err != nil {
			t.Fatalf("GetValue(%d): %v", i, err)
		}
		want := i%2 != 0
		if found != want {
			t.Fatalf("GetValue(%d) found=%v, want %v", i, found, want)
		}
	}
}

func TestRemoveMissingKeyIsNoop(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	if _, err := tree.Insert(intKey(1), RID{PageID: 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Remove(intKey(999)); err != nil {
		t.Fatalf("Remove of missing key: %v", err)
	}
	if err := tree.Remove(intKey(1)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := tree.Remove(intKey(1)); err != nil {
		t.Fatalf("Remove of already-removed key: %v", err)
	}
}

func TestRemoveAllThenReinsert(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	const n = 80
	for i := 0; i < n; i++ {
		if _, err := tree.Insert(intKey(i), RID{PageID: page.ID(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		if err := tree.Remove(intKey(i)); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}
	empty, err := tree.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		root, _ := tree.GetRootPageID()
		t.Fatalf("tree not reported empty after removing everything (root=%d)", root)
	}
	if _, err := tree.Insert(intKey(1), RID{PageID: 42}); err != nil {
		t.Fatalf("reinsert after drain: %v", err)
	}
	rid, found, err := tree.GetValue(intKey(1))
	if err != nil || !found || rid.PageID != 42 {
		t.Fatalf("GetValue after reinsert: rid=%+v found=%v err=%v", rid, found, err)
	}
}

func TestKeysStayOrderedUnderRandomInsertsAndDeletes(t *testing.T) {
	tree := newTestTree(t, 5, 5)
	present := map[int]bool{}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		k := rng.Intn(120)
		if present[k] {
			if err := tree.Remove(intKey(k)); err != nil {
				t.Fatalf("Remove(%d): %v", k, err)
			}
			present[k] = false
		} else {
			if _, err := tree.Insert(intKey(k), RID{PageID: page.ID(k)}); err != nil {
				t.Fatalf("Insert(%d): %v", k, err)
			}
			present[k] = true
		}
	}

	it, err := tree.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer it.Close()
	last := -1
	seen := 0
	for !it.End() {
		var k int
		fmt.Sscanf(string(it.Key()), "%d", &k)
		if k <= last {
			t.Fatalf("iterator not strictly ascending: %d after %d", k, last)
		}
		last = k
		seen++
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	want := 0
	for _, ok := range present {
		if ok {
			want++
		}
	}
	if seen != want {
		t.Fatalf("iterated %d live keys, want %d", seen, want)
	}
}
