package checkpoint

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

func newTestRig(t *testing.T) (*Manager, *txn.Manager) {
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, "cp.db"), filepath.Join(dir, "cp.log"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	logMgr := wal.New(d, 4096, time.Hour, nil)
	bp := buffer.NewPool(8, d, logMgr, nil)
	lockMgr := lock.New(time.Hour, nil)
	txnMgr := txn.NewManager(lockMgr, logMgr, nil)

	return New(dir, bp, logMgr, txnMgr, nil), txnMgr
}

func TestTakeCheckpointRecordsActiveTransactions(t *testing.T) {
	cpMgr, txnMgr := newTestRig(t)

	t1 := txnMgr.Begin(lock.ReadCommitted)
	t2 := txnMgr.Begin(lock.ReadCommitted)

	require.NoError(t, cpMgr.TakeCheckpoint())

	cp, err := cpMgr.Load()
	require.NoError(t, err)
	require.ElementsMatch(t, []int32{t1.TxnID(), t2.TxnID()}, cp.ActiveTxnIDs)
	require.NotEmpty(t, cp.RunID)
}

func TestLoadWithNoCheckpointReturnsInvalidLSN(t *testing.T) {
	cpMgr, _ := newTestRig(t)

	cp, err := cpMgr.Load()
	require.NoError(t, err)
	require.Equal(t, wal.InvalidLSN, cp.LSN)
}

func TestCheckpointExcludesCommittedTransaction(t *testing.T) {
	cpMgr, txnMgr := newTestRig(t)

	t1 := txnMgr.Begin(lock.ReadCommitted)
	require.NoError(t, txnMgr.Commit(t1))
	t2 := txnMgr.Begin(lock.ReadCommitted)

	require.NoError(t, cpMgr.TakeCheckpoint())

	cp, err := cpMgr.Load()
	require.NoError(t, err)
	require.Equal(t, []int32{t2.TxnID()}, cp.ActiveTxnIDs)
}
