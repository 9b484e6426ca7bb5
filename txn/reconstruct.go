package txn

import "latchdb/heap"

// Reconstruct returns the version of rid visible to t's snapshot:
// either the current on-heap tuple directly (it's t's own in-progress
// write, or it committed at or before t.ReadTS), or a materialized
// version walked back through the undo-log chain (spec.md §4.8
// "Reconstruction"). The bool result is false both when the row is
// logically deleted as of the snapshot and when it didn't exist yet —
// callers that need to distinguish those can inspect the chain
// themselves, but for a table scan they're equivalent.
func (m *Manager) Reconstruct(t *Transaction, file *heap.File, rid heap.RID) ([]byte, bool, error) {
	payload, meta, err := file.GetTuple(rid)
	if err != nil {
		return nil, false, err
	}

	if owner, uncommitted := IsUncommitted(meta.Timestamp); uncommitted {
		if owner == t.ID {
			if meta.Deleted {
				return nil, false, nil
			}
			return payload, true, nil
		}
		// Another transaction's in-flight write: invisible regardless
		// of timestamp ordering. Fall through to the undo chain.
	} else if meta.Timestamp <= t.ReadTS {
		if meta.Deleted {
			return nil, false, nil
		}
		return payload, true, nil
	}

	link := m.chainHead(rid)
	for link.Valid {
		owner := m.txnByID(link.TxnID)
		if owner == nil {
			break
		}
		owner.mu.Lock()
		log := owner.UndoLogs[link.LogIdx]
		owner.mu.Unlock()

		if log.Timestamp <= t.ReadTS {
			if log.IsDeleted {
				return nil, false, nil
			}
			return log.Payload, true, nil
		}
		link = log.Prev
	}
	return nil, false, nil // no recorded version old enough: didn't exist yet
}

// ScanVisible calls fn for every row visible to t's snapshot across
// file, reconstructing versions as needed.
func (m *Manager) ScanVisible(t *Transaction, file *heap.File, fn func(rid heap.RID, payload []byte) bool) error {
	var stop bool
	err := file.Scan(func(rid heap.RID, _ []byte, _ heap.Meta) bool {
		payload, visible, rerr := m.Reconstruct(t, file, rid)
		if rerr != nil {
			stop = true
			return false
		}
		if visible && !fn(rid, payload) {
			stop = true
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	_ = stop
	return nil
}
