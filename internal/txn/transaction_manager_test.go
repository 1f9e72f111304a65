package txn

import (
	"path/filepath"
	"testing"
	"time"

	"daemondb/internal/disk"
	"daemondb/internal/lock"
	"daemondb/internal/page"
	"daemondb/internal/wal"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, "t.db"), filepath.Join(dir, "t.log"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	logMgr := wal.New(d, 4096, time.Hour, nil)
	logMgr.Run()
	t.Cleanup(logMgr.Stop)

	lockMgr := lock.New(time.Hour, nil)
	return NewManager(lockMgr, logMgr, nil)
}

func TestBeginAssignsIncreasingTxnIDs(t *testing.T) {
	m := newTestManager(t)
	t1 := m.Begin(lock.RepeatableRead)
	t2 := m.Begin(lock.RepeatableRead)
	require.Greater(t, t2.TxnID(), t1.TxnID())
	require.Equal(t, lock.Growing, t1.GetState())
}

func TestCommitReleasesLocksAndMarksCommitted(t *testing.T) {
	m := newTestManager(t)
	tx := m.Begin(lock.RepeatableRead)
	rid := page.RID{PageID: 1, SlotNum: 0}
	require.NoError(t, m.LockExclusive(tx, rid))

	require.NoError(t, m.Commit(tx))
	require.Equal(t, lock.Committed, tx.GetState())
	require.Empty(t, tx.HeldLocks())

	_, active := m.Get(tx.TxnID())
	require.False(t, active)
}

type recordingTable struct {
	undoneInserts  []page.RID
	appliedDeletes []page.RID
}

func (r *recordingTable) UndoInsert(rid page.RID) error {
	r.undoneInserts = append(r.undoneInserts, rid)
	return nil
}
func (r *recordingTable) UndoMarkDelete(rid page.RID, tx *Transaction) error { return nil }
func (r *recordingTable) UndoUpdate(rid page.RID, old []byte) error          { return nil }
func (r *recordingTable) ApplyDelete(rid page.RID, tx *Transaction) error {
	r.appliedDeletes = append(r.appliedDeletes, rid)
	return nil
}

func TestAbortReplaysWriteSetInReverse(t *testing.T) {
	m := newTestManager(t)
	tx := m.Begin(lock.RepeatableRead)

	tbl := &recordingTable{}
	rid1 := page.RID{PageID: 1, SlotNum: 0}
	rid2 := page.RID{PageID: 1, SlotNum: 1}
	require.NoError(t, m.LockExclusive(tx, rid1))
	require.NoError(t, m.LockExclusive(tx, rid2))
	tx.AppendTableWrite(TableWriteRecord{Op: OpInsert, Table: tbl, RID: rid1})
	tx.AppendTableWrite(TableWriteRecord{Op: OpInsert, Table: tbl, RID: rid2})

	require.NoError(t, m.Abort(tx))
	require.Equal(t, lock.Aborted, tx.GetState())
	require.Equal(t, []page.RID{rid2, rid1}, tbl.undoneInserts)
	require.Empty(t, tx.HeldLocks())
}

func TestCommitAppliesMarkedDeletesFrontToBack(t *testing.T) {
	m := newTestManager(t)
	tx := m.Begin(lock.RepeatableRead)

	tbl := &recordingTable{}
	rid1 := page.RID{PageID: 1, SlotNum: 0}
	rid2 := page.RID{PageID: 1, SlotNum: 1}
	require.NoError(t, m.LockExclusive(tx, rid1))
	require.NoError(t, m.LockExclusive(tx, rid2))
	tx.AppendTableWrite(TableWriteRecord{Op: OpMarkDelete, Table: tbl, RID: rid1})
	tx.AppendTableWrite(TableWriteRecord{Op: OpMarkDelete, Table: tbl, RID: rid2})

	require.NoError(t, m.Commit(tx))
	require.Equal(t, []page.RID{rid1, rid2}, tbl.appliedDeletes)
	require.Empty(t, tx.HeldLocks())
}
