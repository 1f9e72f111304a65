package table

import (
	"path/filepath"
	"testing"
	"time"

	"daemondb/internal/buffer"
	"daemondb/internal/disk"
	"daemondb/internal/lock"
	"daemondb/internal/txn"
	"daemondb/internal/wal"

	"github.com/stretchr/testify/require"
)

type testRig struct {
	bp     *buffer.Pool
	logMgr *wal.Manager
	txnMgr *txn.Manager
}

func newTestRig(t *testing.T, poolSize int) *testRig {
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, "t.db"), filepath.Join(dir, "t.log"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	logMgr := wal.New(d, 4096, time.Hour, nil)
	logMgr.Run()
	t.Cleanup(logMgr.Stop)

	bp := buffer.NewPool(poolSize, d, logMgr, nil)
	lockMgr := lock.New(time.Hour, nil)
	txnMgr := txn.NewManager(lockMgr, logMgr, nil)
	return &testRig{bp: bp, logMgr: logMgr, txnMgr: txnMgr}
}

func TestHeapInsertAndGetRoundTrip(t *testing.T) {
	rig := newTestRig(t, 4)
	firstPage, err := CreateFirstPage(rig.bp)
	require.NoError(t, err)
	h := NewHeap(rig.bp, rig.logMgr, rig.txnMgr, firstPage)

	tx := rig.txnMgr.Begin(lock.RepeatableRead)
	rid, err := h.InsertTuple([]byte("row one"), tx)
	require.NoError(t, err)
	require.NoError(t, rig.txnMgr.Commit(tx))

	readTx := rig.txnMgr.Begin(lock.RepeatableRead)
	got, err := h.GetTuple(rid, readTx)
	require.NoError(t, err)
	require.Equal(t, []byte("row one"), got)
	require.NoError(t, rig.txnMgr.Commit(readTx))
}

func TestHeapSplicesNewPageWhenFull(t *testing.T) {
	rig := newTestRig(t, 4)
	firstPage, err := CreateFirstPage(rig.bp)
	require.NoError(t, err)
	h := NewHeap(rig.bp, rig.logMgr, rig.txnMgr, firstPage)

	tx := rig.txnMgr.Begin(lock.RepeatableRead)
	big := make([]byte, 4000)
	var lastPage int32 = -999
	for i := 0; i < 5; i++ {
		rid, err := h.InsertTuple(big, tx)
		require.NoError(t, err)
		lastPage = rid.PageID
	}
	require.NoError(t, rig.txnMgr.Commit(tx))
	require.NotEqual(t, firstPage, lastPage, "5 large tuples must overflow one page")
}

func TestHeapAbortUndoesInsert(t *testing.T) {
	rig := newTestRig(t, 4)
	firstPage, err := CreateFirstPage(rig.bp)
	require.NoError(t, err)
	h := NewHeap(rig.bp, rig.logMgr, rig.txnMgr, firstPage)

	tx := rig.txnMgr.Begin(lock.RepeatableRead)
	rid, err := h.InsertTuple([]byte("doomed"), tx)
	require.NoError(t, err)
	require.NoError(t, rig.txnMgr.Abort(tx))

	readTx := rig.txnMgr.Begin(lock.RepeatableRead)
	_, err = h.GetTuple(rid, readTx)
	require.Error(t, err)
}

func TestHeapMarkDeleteThenAbortRestores(t *testing.T) {
	rig := newTestRig(t, 4)
	firstPage, err := CreateFirstPage(rig.bp)
	require.NoError(t, err)
	h := NewHeap(rig.bp, rig.logMgr, rig.txnMgr, firstPage)

	setupTx := rig.txnMgr.Begin(lock.RepeatableRead)
	rid, err := h.InsertTuple([]byte("keep me"), setupTx)
	require.NoError(t, err)
	require.NoError(t, rig.txnMgr.Commit(setupTx))

	delTx := rig.txnMgr.Begin(lock.RepeatableRead)
	require.NoError(t, h.MarkDelete(rid, delTx))
	require.NoError(t, rig.txnMgr.Abort(delTx))

	readTx := rig.txnMgr.Begin(lock.RepeatableRead)
	got, err := h.GetTuple(rid, readTx)
	require.NoError(t, err)
	require.Equal(t, []byte("keep me"), got)
}

func TestHeapIteratorSkipsDeletedTuples(t *testing.T) {
	rig := newTestRig(t, 4)
	firstPage, err := CreateFirstPage(rig.bp)
	require.NoError(t, err)
	h := NewHeap(rig.bp, rig.logMgr, rig.txnMgr, firstPage)

	tx := rig.txnMgr.Begin(lock.RepeatableRead)
	rid1, _ := h.InsertTuple([]byte("a"), tx)
	_, _ = h.InsertTuple([]byte("b"), tx)
	require.NoError(t, rig.txnMgr.Commit(tx))

	delTx := rig.txnMgr.Begin(lock.RepeatableRead)
	require.NoError(t, h.MarkDelete(rid1, delTx))
	require.NoError(t, rig.txnMgr.Commit(delTx))

	it := h.Iterator()
	var seen [][]byte
	for {
		_, tuple, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		seen = append(seen, tuple)
	}
	require.NoError(t, it.Close())
	require.Equal(t, [][]byte{[]byte("b")}, seen)
}
