package txn

import (
	"errors"
	"sync"

	"latchdb/heap"
)

// ErrWriteConflict is returned when a transaction's write would
// clobber a version committed after its snapshot began (spec.md §4.8
// "Concurrency & Resource Model" — first-committer-wins).
var ErrWriteConflict = errors.New("txn: write-write conflict")

// ErrLengthMismatch is returned by Update when newPayload's length
// differs from the tuple's current payload length. This core requires
// MVCC-tracked tuples to keep a fixed serialized width across
// versions (DESIGN.md, "Fixed-width MVCC tuples"): without it, an update that shrinks a
// tuple and is later aborted could not be safely restored in place
// (the slot's free-space bookkeeping has already forgotten the
// original length), and allowing growth would require the same
// relocation-and-chain bookkeeping insert/delete already solves in a
// different way. Fixed-width rows sidestep both problems.
var ErrLengthMismatch = errors.New("txn: update payload length must match current length")

// writeEntry is one row a transaction touched, enough to validate at
// commit and roll back on abort.
type writeEntry struct {
	file     *heap.File
	rid      heap.RID
	inserted bool // true: abort tombstones it; false: abort restores orig*

	origPayload []byte
	origMeta    heap.Meta
	origLink    UndoLink
}

// Manager is the transaction manager: issues ids and timestamps,
// tracks running transactions, and owns the version chains threading
// undo logs off every tracked row. Grounded on
// storage_engine/transaction_manager/main.go's Begin/Commit/Abort
// shape (atomic id issuance, an active-transaction map behind a
// mutex), generalized to timestamp-ordered MVCC.
type Manager struct {
	mu         sync.RWMutex
	nextTxnID  uint64
	nextTS     int64
	activeTxns map[uint64]*Transaction
	allTxns    map[uint64]*Transaction

	commitMu sync.Mutex

	chainMu sync.Mutex
	chains  map[heap.RID]UndoLink

	watermark *Watermark
}

// NewManager returns a Manager with no committed history yet.
func NewManager() *Manager {
	return &Manager{
		nextTxnID:  1,
		nextTS:     1,
		activeTxns: make(map[uint64]*Transaction),
		allTxns:    make(map[uint64]*Transaction),
		chains:     make(map[heap.RID]UndoLink),
		watermark:  NewWatermark(0),
	}
}

// Begin starts a new transaction at the given isolation level,
// snapshotting the latest commit timestamp as its read timestamp
// (spec.md §4.8 "begin(isolation)").
func (m *Manager) Begin(isolation IsolationLevel) *Transaction {
	m.mu.Lock()
	id := m.nextTxnID
	m.nextTxnID++
	readTS := m.nextTS - 1

	t := &Transaction{ID: id, ReadTS: readTS, CommitTS: -1, State: TxnActive, Isolation: isolation}
	m.activeTxns[id] = t
	m.allTxns[id] = t
	m.mu.Unlock()

	m.watermark.AddTxn(readTS)
	return t
}

func (m *Manager) chainHead(rid heap.RID) UndoLink {
	m.chainMu.Lock()
	defer m.chainMu.Unlock()
	return m.chains[rid]
}

func (m *Manager) setChainHead(rid heap.RID, link UndoLink) {
	m.chainMu.Lock()
	defer m.chainMu.Unlock()
	if !link.Valid {
		delete(m.chains, rid)
		return
	}
	m.chains[rid] = link
}

// Insert creates a new row owned by t: no prior version exists, so no
// undo log is needed, but the row is tracked so an abort can remove
// it.
func (m *Manager) Insert(t *Transaction, file *heap.File, payload []byte) (heap.RID, error) {
	rid, err := file.InsertTuple(payload, heap.Meta{Timestamp: UncommittedTS(t.ID)})
	if err != nil {
		return heap.RID{}, err
	}
	t.mu.Lock()
	t.entries = append(t.entries, &writeEntry{file: file, rid: rid, inserted: true})
	t.mu.Unlock()
	return rid, nil
}

// checkWritable validates that t may write rid given its current
// meta, per spec.md §4.8's first-committer-wins rule: a row currently
// owned (uncommitted) by a different transaction, or last committed
// after t's snapshot began, conflicts.
func checkWritable(t *Transaction, meta heap.Meta) error {
	if owner, uncommitted := IsUncommitted(meta.Timestamp); uncommitted {
		if owner != t.ID {
			return ErrWriteConflict
		}
		return nil
	}
	if meta.Timestamp > t.ReadTS {
		return ErrWriteConflict
	}
	return nil
}

func (t *Transaction) firstTouch(rid heap.RID, file *heap.File, payload []byte, meta heap.Meta, link UndoLink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.file == file && e.rid == rid {
			return
		}
	}
	t.entries = append(t.entries, &writeEntry{
		file: file, rid: rid, inserted: false,
		origPayload: payload, origMeta: meta, origLink: link,
	})
}

// Update overwrites rid's payload in place. newPayload must be exactly
// as long as the tuple's current payload (ErrLengthMismatch).
func (m *Manager) Update(t *Transaction, file *heap.File, rid heap.RID, newPayload []byte) error {
	payload, meta, err := file.GetTuple(rid)
	if err != nil {
		return err
	}
	if err := checkWritable(t, meta); err != nil {
		return err
	}
	if len(newPayload) != len(payload) {
		return ErrLengthMismatch
	}

	link := m.chainHead(rid)
	t.firstTouch(rid, file, payload, meta, link)

	if err := file.OverwriteInPlace(rid, newPayload, heap.Meta{Timestamp: UncommittedTS(t.ID)}); err != nil {
		return err
	}

	log := UndoLog{IsDeleted: meta.Deleted, Payload: payload, Timestamp: meta.Timestamp, Prev: link}
	newLink := t.pushUndoLog(log)
	m.setChainHead(rid, newLink)
	return nil
}

// Delete logically removes rid: it stays on the heap (so undo can
// restore it) with its meta's Deleted bit set.
func (m *Manager) Delete(t *Transaction, file *heap.File, rid heap.RID) error {
	payload, meta, err := file.GetTuple(rid)
	if err != nil {
		return err
	}
	if err := checkWritable(t, meta); err != nil {
		return err
	}
	if meta.Deleted {
		return nil
	}

	link := m.chainHead(rid)
	t.firstTouch(rid, file, payload, meta, link)

	if err := file.SetMeta(rid, heap.Meta{Timestamp: UncommittedTS(t.ID), Deleted: true}); err != nil {
		return err
	}

	log := UndoLog{IsDeleted: false, Payload: payload, Timestamp: meta.Timestamp, Prev: link}
	newLink := t.pushUndoLog(log)
	m.setChainHead(rid, newLink)
	return nil
}

func (m *Manager) deactivate(t *Transaction) {
	m.mu.Lock()
	delete(m.activeTxns, t.ID)
	m.mu.Unlock()
	m.watermark.RemoveTxn(t.ReadTS)
}

// Commit re-validates t's write set against what has committed since
// its snapshot began when t is Serializable (spec.md §4.8 commit step
// 3 — the resolved SERIALIZABLE verification, SPEC_FULL.md §7), then
// stamps every written row with a freshly allocated commit timestamp.
// SnapshotIsolation transactions skip this step: the write-time
// first-updater-wins check in Update/Delete already rejected any
// conflicting write before it could enter the write set.
func (m *Manager) Commit(t *Transaction) error {
	t.mu.Lock()
	entries := append([]*writeEntry(nil), t.entries...)
	t.mu.Unlock()

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if t.Isolation == Serializable {
		for _, e := range entries {
			if e.inserted {
				continue
			}
			_, meta, err := e.file.GetTuple(e.rid)
			if err != nil {
				return err
			}
			if err := checkWritable(t, meta); err != nil {
				_ = m.abortLocked(t, entries)
				return err
			}
		}
	}

	commitTS := m.nextTS
	m.nextTS++

	for _, e := range entries {
		_, meta, err := e.file.GetTuple(e.rid)
		if err != nil {
			return err
		}
		if err := e.file.SetMeta(e.rid, heap.Meta{Timestamp: commitTS, Deleted: meta.Deleted}); err != nil {
			return err
		}
	}

	t.CommitTS = commitTS
	t.State = TxnCommitted
	m.deactivate(t)
	m.watermark.UpdateFloor(commitTS)
	return nil
}

// Abort rolls every write back to its pre-transaction state.
func (m *Manager) Abort(t *Transaction) error {
	t.mu.Lock()
	entries := append([]*writeEntry(nil), t.entries...)
	t.mu.Unlock()
	return m.abortLocked(t, entries)
}

func (m *Manager) abortLocked(t *Transaction, entries []*writeEntry) error {
	for _, e := range entries {
		if e.inserted {
			if err := e.file.TombstoneTuple(e.rid); err != nil {
				return err
			}
			continue
		}
		if err := e.file.OverwriteInPlace(e.rid, e.origPayload, e.origMeta); err != nil {
			return err
		}
		m.setChainHead(e.rid, e.origLink)
	}
	t.State = TxnAborted
	m.deactivate(t)
	return nil
}

// GarbageCollect drops undo-log history no running transaction could
// still need: for each tracked row, if the row's current on-heap
// timestamp is already at or below the watermark, the entire chain is
// unreachable and is dropped; otherwise the chain is cut at the first
// entry whose timestamp is at or below the watermark, since that
// entry is the oldest version any live snapshot could still need
// (spec.md §4.8 "watermark-based GC").
func (m *Manager) GarbageCollect(currentTS func(rid heap.RID) (int64, bool)) {
	watermark := m.watermark.Value()

	m.chainMu.Lock()
	defer m.chainMu.Unlock()

	for rid, head := range m.chains {
		ts, live := currentTS(rid)
		if !live || ts <= watermark {
			delete(m.chains, rid)
			continue
		}

		link := head
		for link.Valid {
			owner := m.txnByID(link.TxnID)
			if owner == nil {
				break
			}
			owner.mu.Lock()
			log := owner.UndoLogs[link.LogIdx]
			owner.mu.Unlock()
			if log.Timestamp <= watermark {
				log.Prev = UndoLink{}
				owner.mu.Lock()
				owner.UndoLogs[link.LogIdx] = log
				owner.mu.Unlock()
				break
			}
			link = log.Prev
		}
	}
}

func (m *Manager) txnByID(id uint64) *Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allTxns[id]
}

// Watermark returns the current GC watermark.
func (m *Manager) Watermark() int64 {
	return m.watermark.Value()
}
