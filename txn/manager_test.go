package txn

import (
	"path/filepath"
	"testing"

	"latchdb/buffer"
	"latchdb/disk"
	"latchdb/heap"
)

func newTestFile(t *testing.T) *heap.File {
	t.Helper()
	dm, err := disk.Open(filepath.Join(t.TempDir(), "txn.db"))
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
	f, err := heap.New(pool, firstID)
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	return f
}

func mustVisible(t *testing.T, m *Manager, tx *Transaction, f *heap.File, rid heap.RID, want string) {
	t.Helper()
	payload, ok, err := m.Reconstruct(tx, f, rid)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !ok {
		t.Fatalf("Reconstruct: row not visible, want %q", want)
	}
	if string(payload) != want {
		t.Fatalf("Reconstruct = %q, want %q", payload, want)
	}
}

func mustInvisible(t *testing.T, m *Manager, tx *Transaction, f *heap.File, rid heap.RID) {
	t.Helper()
	_, ok, err := m.Reconstruct(tx, f, rid)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if ok {
		t.Fatalf("Reconstruct: row unexpectedly visible")
	}
}

func TestInsertCommitThenVisibleToLaterSnapshot(t *testing.T) {
	f := newTestFile(t)
	m := NewManager()

	writer := m.Begin(SnapshotIsolation)
	rid, err := m.Insert(writer, f, []byte("v1"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// A snapshot started before commit must not see the row.
	reader := m.Begin(SnapshotIsolation)
	mustInvisible(t, m, reader, f, rid)
	if err := m.Commit(writer); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := m.Abort(reader); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	late := m.Begin(SnapshotIsolation)
	mustVisible(t, m, late, f, rid, "v1")
}

func TestInsertVisibleToOwnUncommittedRead(t *testing.T) {
	f := newTestFile(t)
	m := NewManager()

	tx := m.Begin(SnapshotIsolation)
	rid, err := m.Insert(tx, f, []byte("mine"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	mustVisible(t, m, tx, f, rid, "mine")

	other := m.Begin(SnapshotIsolation)
	mustInvisible(t, m, other, f, rid)
	m.Abort(tx)
}

func TestUpdateSnapshotIsolation(t *testing.T) {
	f := newTestFile(t)
	m := NewManager()

	setup := m.Begin(SnapshotIsolation)
	rid, err := m.Insert(setup, f, []byte("v1"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Commit(setup); err != nil {
		t.Fatalf("Commit setup: %v", err)
	}

	reader := m.Begin(SnapshotIsolation) // snapshot before the update below

	writer := m.Begin(SnapshotIsolation)
	if err := m.Update(writer, f, rid, []byte("v2")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	mustVisible(t, m, reader, f, rid, "v1") // unaffected by uncommitted write
	mustVisible(t, m, writer, f, rid, "v2") // writer sees its own write

	if err := m.Commit(writer); err != nil {
		t.Fatalf("Commit writer: %v", err)
	}
	mustVisible(t, m, reader, f, rid, "v1") // still pinned to its snapshot

	late := m.Begin(SnapshotIsolation)
	mustVisible(t, m, late, f, rid, "v2")
	m.Abort(reader)
}

func TestDeleteThenAbortRestoresRow(t *testing.T) {
	f := newTestFile(t)
	m := NewManager()

	setup := m.Begin(SnapshotIsolation)
	rid, err := m.Insert(setup, f, []byte("alive"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Commit(setup); err != nil {
		t.Fatalf("Commit setup: %v", err)
	}

	tx := m.Begin(SnapshotIsolation)
	if err := m.Delete(tx, f, rid); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	mustInvisible(t, m, tx, f, rid)
	if err := m.Abort(tx); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	after := m.Begin(SnapshotIsolation)
	mustVisible(t, m, after, f, rid, "alive")
}

func TestWriteWriteConflictFirstCommitterWins(t *testing.T) {
	f := newTestFile(t)
	m := NewManager()

	setup := m.Begin(SnapshotIsolation)
	rid, err := m.Insert(setup, f, []byte("base"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Commit(setup); err != nil {
		t.Fatalf("Commit setup: %v", err)
	}

	t1 := m.Begin(SnapshotIsolation)
	t2 := m.Begin(SnapshotIsolation)

	if err := m.Update(t1, f, rid, []byte("t1's")); err != nil {
		t.Fatalf("t1 Update: %v", err)
	}
	if err := m.Update(t2, f, rid, []byte("t2's")); err != ErrWriteConflict {
		t.Fatalf("t2 Update: got %v, want ErrWriteConflict", err)
	}
	if err := m.Commit(t1); err != nil {
		t.Fatalf("Commit t1: %v", err)
	}
	m.Abort(t2)
}

func TestSerializableCommitRevalidatesWriteSet(t *testing.T) {
	f := newTestFile(t)
	m := NewManager()

	setup := m.Begin(SnapshotIsolation)
	rid, err := m.Insert(setup, f, []byte("base"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Commit(setup); err != nil {
		t.Fatalf("Commit setup: %v", err)
	}

	tx := m.Begin(Serializable)
	if tx.Isolation != Serializable {
		t.Fatalf("Isolation = %v, want Serializable", tx.Isolation)
	}
	if err := m.Update(tx, f, rid, []byte("t1's")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := m.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	late := m.Begin(SnapshotIsolation)
	mustVisible(t, m, late, f, rid, "t1's")
	m.Abort(late)
}

func TestGarbageCollectDropsChainBelowWatermark(t *testing.T) {
	f := newTestFile(t)
	m := NewManager()

	setup := m.Begin(SnapshotIsolation)
	rid, err := m.Insert(setup, f, []byte("v1"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Commit(setup); err != nil {
		t.Fatalf("Commit setup: %v", err)
	}

	w := m.Begin(SnapshotIsolation)
	if err := m.Update(w, f, rid, []byte("v2")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := m.Commit(w); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got := len(m.chains); got == 0 {
		t.Fatalf("expected a version chain to exist before GC")
	}

	m.GarbageCollect(func(rid heap.RID) (int64, bool) {
		meta, err := f.GetMeta(rid)
		if err != nil {
			return 0, false
		}
		return meta.Timestamp, true
	})

	if len(m.chains) != 0 {
		t.Fatalf("expected chain for rid to be collected, chains=%v", m.chains)
	}

	late := m.Begin(SnapshotIsolation)
	mustVisible(t, m, late, f, rid, "v2")
}

func TestUpdateLengthMismatchRejected(t *testing.T) {
	f := newTestFile(t)
	m := NewManager()

	setup := m.Begin(SnapshotIsolation)
	rid, err := m.Insert(setup, f, []byte("fixed"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Commit(setup); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx := m.Begin(SnapshotIsolation)
	if err := m.Update(tx, f, rid, []byte("longer-than-before")); err != ErrLengthMismatch {
		t.Fatalf("Update: got %v, want ErrLengthMismatch", err)
	}
	m.Abort(tx)
}
