// Package table implements the slot-directory heap page and the
// table-heap linked list from SPEC_FULL §4.5, grounded on the teacher's
// storage_engine/access/heapfile_manager/{heap_page.go,heap_page_helpers.go}
// for the overall slot-directory shape and on
// original_source/src/storage/page/table_page.cpp for Insert/Mark/Apply/
// Rollback/Update semantics.
//
// Layout (little-endian throughout):
//
//	[0:4)   page LSN          (also the first four bytes buffer.Pool reads
//	                           as the page's LSN for force-log-before-write)
//	[4:8)   prev page id
//	[8:12)  next page id
//	[12:16) free space pointer (byte offset where the next tuple is written,
//	                           tuples grow backward from the page end)
//	[16:20) tuple/slot count
//	[20:...) slot directory, 4 bytes per slot: uint16 offset, uint16 size
//	         (size's high bit is the mark-deleted tombstone flag)
//	...      free space ...
//	...tuple bytes, earliest-inserted nearest the page end
package table

import (
	"encoding/binary"

	"daemondb/internal/page"
	"daemondb/storageerr"
)

const (
	offLSN       = 0
	offPrevPage  = 4
	offNextPage  = 8
	offFreeSpace = 12
	offSlotCount = 16

	HeaderSize = 20
	slotSize   = 4

	tombstoneFlag = uint16(0x8000)
	sizeMask      = uint16(0x7FFF)
	maxTupleSize  = int(sizeMask)
)

// TablePage is a thin view over a page's raw byte buffer — it holds no
// state of its own, matching the teacher's heap_page.go helpers operating
// directly on []byte.
type TablePage struct {
	data []byte
}

func Wrap(data []byte) *TablePage { return &TablePage{data: data} }

// Init formats a freshly allocated page as an empty table page.
func (tp *TablePage) Init(prevPageID int32) {
	binary.LittleEndian.PutUint32(tp.data[offLSN:], 0)
	binary.LittleEndian.PutUint32(tp.data[offPrevPage:], uint32(prevPageID))
	invalidPageID := page.InvalidPageID
	binary.LittleEndian.PutUint32(tp.data[offNextPage:], uint32(invalidPageID))
	binary.LittleEndian.PutUint32(tp.data[offFreeSpace:], uint32(page.Size))
	binary.LittleEndian.PutUint32(tp.data[offSlotCount:], 0)
}

func (tp *TablePage) LSN() int32 {
	return int32(binary.LittleEndian.Uint32(tp.data[offLSN:]))
}
func (tp *TablePage) SetLSN(lsn int32) {
	binary.LittleEndian.PutUint32(tp.data[offLSN:], uint32(lsn))
}

func (tp *TablePage) PrevPageID() int32 {
	return int32(binary.LittleEndian.Uint32(tp.data[offPrevPage:]))
}
func (tp *TablePage) SetPrevPageID(id int32) {
	binary.LittleEndian.PutUint32(tp.data[offPrevPage:], uint32(id))
}
func (tp *TablePage) NextPageID() int32 {
	return int32(binary.LittleEndian.Uint32(tp.data[offNextPage:]))
}
func (tp *TablePage) SetNextPageID(id int32) {
	binary.LittleEndian.PutUint32(tp.data[offNextPage:], uint32(id))
}

func (tp *TablePage) freeSpacePointer() int {
	return int(binary.LittleEndian.Uint32(tp.data[offFreeSpace:]))
}
func (tp *TablePage) setFreeSpacePointer(v int) {
	binary.LittleEndian.PutUint32(tp.data[offFreeSpace:], uint32(v))
}

func (tp *TablePage) TupleCount() uint32 {
	return binary.LittleEndian.Uint32(tp.data[offSlotCount:])
}
func (tp *TablePage) setTupleCount(v uint32) {
	binary.LittleEndian.PutUint32(tp.data[offSlotCount:], v)
}

func slotOffset(slotNum uint32) int { return HeaderSize + int(slotNum)*slotSize }

func (tp *TablePage) getSlot(slotNum uint32) (offset int, size uint16, tombstoned bool) {
	so := slotOffset(slotNum)
	off := binary.LittleEndian.Uint16(tp.data[so:])
	raw := binary.LittleEndian.Uint16(tp.data[so+2:])
	return int(off), raw & sizeMask, raw&tombstoneFlag != 0
}

func (tp *TablePage) setSlot(slotNum uint32, offset int, size uint16, tombstoned bool) {
	so := slotOffset(slotNum)
	binary.LittleEndian.PutUint16(tp.data[so:], uint16(offset))
	raw := size & sizeMask
	if tombstoned {
		raw |= tombstoneFlag
	}
	binary.LittleEndian.PutUint16(tp.data[so+2:], raw)
}

// FreeSpaceRemaining returns how many bytes are available for a new slot
// plus its tuple bytes.
func (tp *TablePage) FreeSpaceRemaining() int {
	count := tp.TupleCount()
	directoryEnd := HeaderSize + int(count)*slotSize
	return tp.freeSpacePointer() - directoryEnd
}

// InsertTuple appends tuple to this page's tuple area and a new slot to
// its directory. Returns (0, false) if there is not enough free space —
// the caller (Heap) must then try the next page or allocate one.
func (tp *TablePage) InsertTuple(tuple []byte) (slotNum uint32, ok bool) {
	n := len(tuple)
	if n > maxTupleSize || n == 0 {
		return 0, false
	}
	if tp.FreeSpaceRemaining() < n+slotSize {
		return 0, false
	}

	newFree := tp.freeSpacePointer() - n
	copy(tp.data[newFree:newFree+n], tuple)
	tp.setFreeSpacePointer(newFree)

	slot := tp.TupleCount()
	tp.setSlot(slot, newFree, uint16(n), false)
	tp.setTupleCount(slot + 1)
	return slot, true
}

// GetTuple returns the bytes stored at slotNum. Returns
// storageerr.ErrSlotDeleted for both mark-deleted and apply-deleted slots.
func (tp *TablePage) GetTuple(slotNum uint32) ([]byte, error) {
	if slotNum >= tp.TupleCount() {
		return nil, storageerr.ErrSlotOutOfRange
	}
	off, size, tombstoned := tp.getSlot(slotNum)
	if tombstoned || (off == 0 && size == 0) {
		return nil, storageerr.ErrSlotDeleted
	}
	out := make([]byte, size)
	copy(out, tp.data[off:off+int(size)])
	return out, nil
}

// MarkDelete flags slotNum as logically deleted without reclaiming its
// bytes, so RollbackDelete can restore it.
func (tp *TablePage) MarkDelete(slotNum uint32) error {
	if slotNum >= tp.TupleCount() {
		return storageerr.ErrSlotOutOfRange
	}
	off, size, tombstoned := tp.getSlot(slotNum)
	if tombstoned || (off == 0 && size == 0) {
		return storageerr.ErrSlotDeleted
	}
	tp.setSlot(slotNum, off, size, true)
	return nil
}

// RollbackDelete clears a mark-deleted slot's tombstone, restoring the
// tuple to the live state it held before the delete.
func (tp *TablePage) RollbackDelete(slotNum uint32) error {
	if slotNum >= tp.TupleCount() {
		return storageerr.ErrSlotOutOfRange
	}
	off, size, tombstoned := tp.getSlot(slotNum)
	if !tombstoned {
		return nil
	}
	tp.setSlot(slotNum, off, size, false)
	return nil
}

// ApplyDelete permanently frees slotNum and returns the tuple bytes it
// held, so the caller can log them for APPLY_DELETE's undo-by-reinsert
// recovery path. This implementation does not compact the tuple area —
// the underlying bytes are abandoned rather than reclaimed, trading
// page-space efficiency for a much simpler page format.
func (tp *TablePage) ApplyDelete(slotNum uint32) ([]byte, error) {
	if slotNum >= tp.TupleCount() {
		return nil, storageerr.ErrSlotOutOfRange
	}
	off, size, _ := tp.getSlot(slotNum)
	if off == 0 && size == 0 {
		return nil, storageerr.ErrSlotDeleted
	}
	out := make([]byte, size)
	copy(out, tp.data[off:off+int(size)])
	tp.setSlot(slotNum, 0, 0, false)
	return out, nil
}

// UpdateTuple overwrites slotNum's bytes in place and returns the tuple
// that was there before. The new tuple must fit within the slot's
// existing allocation; growing a tuple past the slot size requires the
// caller to split the update into a delete-then-reinsert instead.
func (tp *TablePage) UpdateTuple(slotNum uint32, newTuple []byte) (oldTuple []byte, err error) {
	if slotNum >= tp.TupleCount() {
		return nil, storageerr.ErrSlotOutOfRange
	}
	off, size, tombstoned := tp.getSlot(slotNum)
	if tombstoned || (off == 0 && size == 0) {
		return nil, storageerr.ErrSlotDeleted
	}
	if len(newTuple) > int(size) {
		return nil, storageerr.ErrSlotSizeExceeded
	}
	old := make([]byte, size)
	copy(old, tp.data[off:off+int(size)])

	copy(tp.data[off:off+len(newTuple)], newTuple)
	tp.setSlot(slotNum, off, uint16(len(newTuple)), false)
	return old, nil
}
