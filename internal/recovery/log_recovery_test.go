package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"daemondb/internal/buffer"
	"daemondb/internal/disk"
	"daemondb/internal/lock"
	"daemondb/internal/page"
	"daemondb/internal/table"
	"daemondb/internal/txn"
	"daemondb/internal/wal"

	"github.com/stretchr/testify/require"
)

func TestRedoThenUndoReconcilesCrashMidTransaction(t *testing.T) {
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, "recovery.db"), filepath.Join(dir, "recovery.log"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	logMgr := wal.New(d, 4096, time.Hour, nil)
	bp1 := buffer.NewPool(8, d, logMgr, nil)
	lockMgr := lock.New(time.Hour, nil)
	txnMgr := txn.NewManager(lockMgr, logMgr, nil)

	firstPageID, err := table.CreateFirstPage(bp1)
	require.NoError(t, err)
	require.NoError(t, bp1.FlushPage(firstPageID))

	heap := table.NewHeap(bp1, logMgr, txnMgr, firstPageID)

	committed := txnMgr.Begin(lock.ReadCommitted)
	rid1, err := heap.InsertTuple([]byte("alice"), committed)
	require.NoError(t, err)
	require.NoError(t, txnMgr.Commit(committed))

	uncommitted := txnMgr.Begin(lock.ReadCommitted)
	rid2, err := heap.InsertTuple([]byte("bob"), uncommitted)
	require.NoError(t, err)
	require.NoError(t, logMgr.Flush(true))
	// uncommitted crashes here: no COMMIT/ABORT record is ever written,
	// and its page never reaches disk.

	// Simulate a restart: fresh buffer pool, same disk and log files.
	bp2 := buffer.NewPool(8, d, logMgr, nil)
	recMgr := New(d, bp2, nil)
	require.NoError(t, recMgr.Redo())
	require.NoError(t, recMgr.Undo())

	lockMgr2 := lock.New(time.Hour, nil)
	txnMgr2 := txn.NewManager(lockMgr2, logMgr, nil)
	recoveredHeap := table.NewHeap(bp2, logMgr, txnMgr2, firstPageID)
	readTxn := txnMgr2.Begin(lock.ReadCommitted)

	got, err := recoveredHeap.GetTuple(rid1, readTxn)
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), got)

	_, err = recoveredHeap.GetTuple(rid2, readTxn)
	require.Error(t, err)

	require.NoError(t, txnMgr2.Commit(readTxn))
}

func TestRedoIsIdempotentWhenPageAlreadyReflectsRecord(t *testing.T) {
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, "recovery.db"), filepath.Join(dir, "recovery.log"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	logMgr := wal.New(d, 4096, time.Hour, nil)
	bp1 := buffer.NewPool(8, d, logMgr, nil)
	lockMgr := lock.New(time.Hour, nil)
	txnMgr := txn.NewManager(lockMgr, logMgr, nil)

	firstPageID, err := table.CreateFirstPage(bp1)
	require.NoError(t, err)

	heap := table.NewHeap(bp1, logMgr, txnMgr, firstPageID)
	committed := txnMgr.Begin(lock.ReadCommitted)
	rid, err := heap.InsertTuple([]byte("carol"), committed)
	require.NoError(t, err)
	require.NoError(t, txnMgr.Commit(committed))

	// Page is durable before the crash this time.
	require.NoError(t, bp1.FlushAllPages())

	bp2 := buffer.NewPool(8, d, logMgr, nil)
	recMgr := New(d, bp2, nil)
	require.NoError(t, recMgr.Redo())
	require.NoError(t, recMgr.Undo())

	pg, err := bp2.FetchPage(rid.PageID)
	require.NoError(t, err)
	tp := table.Wrap(pg.Data)
	tuple, err := tp.GetTuple(rid.SlotNum)
	require.NoError(t, err)
	require.Equal(t, []byte("carol"), tuple)
	require.NoError(t, bp2.UnpinPage(rid.PageID, false))
}

func TestNewPageRecordRedoneAfterSplice(t *testing.T) {
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, "recovery.db"), filepath.Join(dir, "recovery.log"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	logMgr := wal.New(d, 8192, time.Hour, nil)
	bp1 := buffer.NewPool(8, d, logMgr, nil)
	lockMgr := lock.New(time.Hour, nil)
	txnMgr := txn.NewManager(lockMgr, logMgr, nil)

	firstPageID, err := table.CreateFirstPage(bp1)
	require.NoError(t, err)
	require.NoError(t, bp1.FlushPage(firstPageID))

	heap := table.NewHeap(bp1, logMgr, txnMgr, firstPageID)
	tx := txnMgr.Begin(lock.ReadCommitted)

	big := make([]byte, 3000)
	for i := range big {
		big[i] = byte(i)
	}
	_, err = heap.InsertTuple(big, tx)
	require.NoError(t, err)
	_, err = heap.InsertTuple(big, tx) // forces spliceNewPage
	require.NoError(t, err)
	require.NoError(t, txnMgr.Commit(tx))

	bp2 := buffer.NewPool(8, d, logMgr, nil)
	recMgr := New(d, bp2, nil)
	require.NoError(t, recMgr.Redo())
	require.NoError(t, recMgr.Undo())

	first, err := bp2.FetchPage(firstPageID)
	require.NoError(t, err)
	next := table.Wrap(first.Data).NextPageID()
	require.NoError(t, bp2.UnpinPage(firstPageID, false))
	require.NotEqual(t, page.InvalidPageID, next)
}
