package engine

import (
	"path/filepath"
	"testing"
	"time"

	"daemondb/internal/lock"
	"daemondb/internal/table"
	"daemondb/types"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	return Config{
		DataDir:            filepath.Join(t.TempDir(), "db"),
		BufferPoolSize:     16,
		WALBufferBytes:     4096,
		WALFlushInterval:   50 * time.Millisecond,
		DeadlockInterval:   time.Hour,
		CheckpointInterval: time.Hour,
	}
}

func TestOpenCreatesDataDirAndClosesCleanly(t *testing.T) {
	e, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func TestCatalogSurvivesReopen(t *testing.T) {
	cfg := testConfig(t)

	e, err := Open(cfg, nil)
	require.NoError(t, err)

	firstPageID, err := table.CreateFirstPage(e.Pool)
	require.NoError(t, err)

	schema := types.TableSchema{
		TableName: "users",
		Columns:   []types.ColumnDef{{Name: "id", Type: "int", IsPrimaryKey: true}},
	}
	require.NoError(t, e.Catalog.CreateTable(schema, firstPageID))
	require.NoError(t, e.Close())

	e2, err := Open(cfg, nil)
	require.NoError(t, err)
	defer e2.Close()

	info, err := e2.Catalog.GetTable("users")
	require.NoError(t, err)
	require.Equal(t, firstPageID, info.FirstPageID)
}

func TestCommittedInsertSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)

	e, err := Open(cfg, nil)
	require.NoError(t, err)

	firstPageID, err := table.CreateFirstPage(e.Pool)
	require.NoError(t, err)
	heap := table.NewHeap(e.Pool, e.Log, e.Txns, firstPageID)

	tx := e.Txns.Begin(lock.ReadCommitted)
	rid, err := heap.InsertTuple([]byte("row one"), tx)
	require.NoError(t, err)
	require.NoError(t, e.Txns.Commit(tx))
	require.NoError(t, e.Close())

	e2, err := Open(cfg, nil)
	require.NoError(t, err)
	defer e2.Close()

	heap2 := table.NewHeap(e2.Pool, e2.Log, e2.Txns, firstPageID)
	readTx := e2.Txns.Begin(lock.ReadCommitted)
	got, err := heap2.GetTuple(rid, readTx)
	require.NoError(t, err)
	require.Equal(t, []byte("row one"), got)
	require.NoError(t, e2.Txns.Commit(readTx))
}
