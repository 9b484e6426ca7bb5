// Package txn implements multi-version concurrency control: snapshot
// isolation via read/commit timestamps, per-transaction undo-log
// chains threading version history off the heap's current tuples, and
// watermark-bounded garbage collection. Grounded on
// storage_engine/transaction_manager/{structs,main}.go's shape — a
// TxnState enum, a TxnManager owning an active-transaction map behind
// a mutex, atomically issued transaction ids, Begin/Commit/Abort — but
// reworked from that package's logical-undo-for-WAL-rollback design to
// the timestamp-ordered, undo-log-chain MVCC design spec.md §4.8
// calls for.
package txn

import (
	"sync"
)

// TxnState mirrors storage_engine/transaction_manager/structs.go's
// TxnState enum.
type TxnState uint8

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

// IsolationLevel selects how Commit validates a transaction's write set
// (spec.md §4.8 "begin(isolation)" / §6). SnapshotIsolation relies
// solely on the write-time conflict check every Update/Delete already
// performs (first-updater-wins); Serializable additionally re-validates
// the whole write set at commit (spec.md §4.8 commit step 3).
type IsolationLevel uint8

const (
	SnapshotIsolation IsolationLevel = iota
	Serializable
)

// uncommittedBit marks a tuple's Meta.Timestamp as "last written by an
// in-progress transaction" rather than a committed timestamp: the
// value is (uncommittedBit | txnID). This is BusTub's TXN_START_ID
// convention — timestamps and in-progress transaction ids share one
// int64 field, disambiguated by this high bit, so a reader can tell
// "committed at ts X" from "being written by txn Y" without a second
// lookup.
const uncommittedBit = int64(1) << 62

// UncommittedTS returns the sentinel Meta.Timestamp value meaning "last
// written by txnID, not yet committed".
func UncommittedTS(txnID uint64) int64 {
	return uncommittedBit | int64(txnID)
}

// IsUncommitted reports whether ts is an in-progress marker, and if so
// which transaction owns it.
func IsUncommitted(ts int64) (uint64, bool) {
	if ts&uncommittedBit != 0 {
		return uint64(ts &^ uncommittedBit), true
	}
	return 0, false
}

// UndoLink points at one undo-log entry: the LogIdx'th entry recorded
// by transaction TxnID. The zero value denotes "no further history".
type UndoLink struct {
	TxnID uint64
	LogIdx int
	Valid  bool
}

// UndoLog is a transaction's own, self-contained record of a tuple's
// state immediately before this transaction overwrote it — the "undo
// log" of spec.md §4.8. Chained via Prev to older versions of the
// same tuple, possibly written by other transactions.
type UndoLog struct {
	IsDeleted bool
	Payload   []byte
	Timestamp int64 // commit ts of the version this log restores
	Prev      UndoLink
}

// Transaction is one MVCC transaction: a read timestamp fixing its
// snapshot, a commit timestamp assigned at commit, the set of heap
// rows it wrote (for conflict checking and rollback), and its own
// slice of undo logs.
type Transaction struct {
	ID        uint64
	ReadTS    int64
	CommitTS  int64 // -1 while active
	State     TxnState
	Isolation IsolationLevel

	mu       sync.Mutex
	entries  []*writeEntry
	UndoLogs []UndoLog
}

// pushUndoLog appends log to the transaction's own history and
// returns the UndoLink a version chain head should now point at.
func (t *Transaction) pushUndoLog(log UndoLog) UndoLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.UndoLogs = append(t.UndoLogs, log)
	return UndoLink{TxnID: t.ID, LogIdx: len(t.UndoLogs) - 1, Valid: true}
}
