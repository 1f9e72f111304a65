package table

import (
	"testing"

	"daemondb/internal/page"
	"daemondb/storageerr"

	"github.com/stretchr/testify/require"
)

func newTestPage() *TablePage {
	tp := Wrap(make([]byte, page.Size))
	tp.Init(page.InvalidPageID)
	return tp
}

func TestInsertAndGetTuple(t *testing.T) {
	tp := newTestPage()
	slot, ok := tp.InsertTuple([]byte("hello"))
	require.True(t, ok)
	require.Equal(t, uint32(0), slot)

	got, err := tp.GetTuple(slot)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
	require.Equal(t, uint32(1), tp.TupleCount())
}

func TestInsertFailsWhenPageFull(t *testing.T) {
	tp := newTestPage()
	big := make([]byte, page.Size)
	_, ok := tp.InsertTuple(big)
	require.False(t, ok, "tuple larger than available space must not fit")
}

func TestMarkDeleteThenGetReturnsDeleted(t *testing.T) {
	tp := newTestPage()
	slot, _ := tp.InsertTuple([]byte("row"))

	require.NoError(t, tp.MarkDelete(slot))
	_, err := tp.GetTuple(slot)
	require.ErrorIs(t, err, storageerr.ErrSlotDeleted)
}

func TestRollbackDeleteRestoresTuple(t *testing.T) {
	tp := newTestPage()
	slot, _ := tp.InsertTuple([]byte("row"))
	require.NoError(t, tp.MarkDelete(slot))
	require.NoError(t, tp.RollbackDelete(slot))

	got, err := tp.GetTuple(slot)
	require.NoError(t, err)
	require.Equal(t, []byte("row"), got)
}

func TestApplyDeleteIsPermanent(t *testing.T) {
	tp := newTestPage()
	slot, _ := tp.InsertTuple([]byte("row"))
	freed, err := tp.ApplyDelete(slot)
	require.NoError(t, err)
	require.Equal(t, []byte("row"), freed)

	_, err = tp.GetTuple(slot)
	require.ErrorIs(t, err, storageerr.ErrSlotDeleted)
	require.NoError(t, tp.RollbackDelete(slot)) // not tombstoned, no-op, never resurrects
	_, err = tp.GetTuple(slot)
	require.ErrorIs(t, err, storageerr.ErrSlotDeleted)
}

func TestUpdateTupleInPlace(t *testing.T) {
	tp := newTestPage()
	slot, _ := tp.InsertTuple([]byte("hello"))

	old, err := tp.UpdateTuple(slot, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), old)

	got, err := tp.GetTuple(slot)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), got)
}

func TestUpdateTupleRejectsGrowth(t *testing.T) {
	tp := newTestPage()
	slot, _ := tp.InsertTuple([]byte("hi"))

	_, err := tp.UpdateTuple(slot, []byte("much longer than before"))
	require.ErrorIs(t, err, storageerr.ErrSlotSizeExceeded)
}

func TestGetTupleOutOfRange(t *testing.T) {
	tp := newTestPage()
	_, err := tp.GetTuple(0)
	require.ErrorIs(t, err, storageerr.ErrSlotOutOfRange)
}
