package wal

import (
	"path/filepath"
	"testing"
	"time"

	"daemondb/internal/disk"
	"daemondb/internal/page"

	"github.com/stretchr/testify/require"
)

func newTestDisk(t *testing.T) *disk.Manager {
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, "test.db"), filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	m := New(newTestDisk(t), 4096, 50*time.Millisecond, nil)
	m.Run()
	defer m.Stop()

	var last int32 = InvalidLSN
	for i := 0; i < 5; i++ {
		rec := &Record{Type: Begin, TxnID: int32(i)}
		lsn, err := m.Append(rec)
		require.NoError(t, err)
		require.Greater(t, lsn, last)
		last = lsn
	}
}

func TestForceFlushAdvancesPersistentLSN(t *testing.T) {
	m := New(newTestDisk(t), 4096, time.Hour, nil)
	m.Run()
	defer m.Stop()

	rec := &Record{Type: Insert, TxnID: 1, RID: page.RID{PageID: 3, SlotNum: 1}, Tuple: []byte("hello")}
	lsn, err := m.Append(rec)
	require.NoError(t, err)
	require.Equal(t, int32(InvalidLSN), m.PersistentLSN())

	require.NoError(t, m.Flush(true))
	require.Equal(t, lsn, m.PersistentLSN())
}

func TestAppendBlocksUntilFlusherMakesRoom(t *testing.T) {
	// Buffer only fits one small BEGIN record plus header slack; the
	// second append must block until the background flusher swaps.
	m := New(newTestDisk(t), HeaderSize+4, 20*time.Millisecond, nil)
	m.Run()
	defer m.Stop()

	_, err := m.Append(&Record{Type: Begin, TxnID: 1})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, err := m.Append(&Record{Type: Begin, TxnID: 2})
		require.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("append did not unblock after flusher ran")
	}
}
