package table

import (
	"daemondb/internal/buffer"
	"daemondb/internal/page"
	"daemondb/internal/txn"
	"daemondb/internal/wal"
)

// Heap is a table's storage: a forward-linked list of table pages chained
// through NextPageID, starting at firstPageID. All mutation goes through
// a transaction so writes are logged and can be undone on abort.
//
// Grounded on storage_engine/access/heapfile_manager/heapfile_manager.go
// for the page-chain-with-splice-on-full structure.
type Heap struct {
	bp          *buffer.Pool
	log         *wal.Manager
	txnMgr      *txn.Manager
	firstPageID int32
}

func NewHeap(bp *buffer.Pool, log *wal.Manager, txnMgr *txn.Manager, firstPageID int32) *Heap {
	return &Heap{bp: bp, log: log, txnMgr: txnMgr, firstPageID: firstPageID}
}

// CreateFirstPage allocates and formats the heap's first page, to be
// called once when a table is created.
func CreateFirstPage(bp *buffer.Pool) (int32, error) {
	pg, err := bp.NewPage()
	if err != nil {
		return 0, err
	}
	Wrap(pg.Data).Init(page.InvalidPageID)
	pageID := pg.ID
	if err := bp.UnpinPage(pageID, true); err != nil {
		return 0, err
	}
	return pageID, nil
}

// InsertTuple appends tuple to the first page with room, allocating and
// splicing in a new page if every existing page is full.
func (h *Heap) InsertTuple(tuple []byte, tx *txn.Transaction) (page.RID, error) {
	pageID := h.firstPageID
	for {
		pg, err := h.bp.FetchPage(pageID)
		if err != nil {
			return page.RID{}, err
		}
		tp := Wrap(pg.Data)

		if slot, ok := tp.InsertTuple(tuple); ok {
			rid := page.RID{PageID: pageID, SlotNum: slot}
			if err := h.txnMgr.LockExclusive(tx, rid); err != nil {
				h.bp.UnpinPage(pageID, false)
				return page.RID{}, err
			}
			lsn, err := h.log.Append(&wal.Record{
				Type: wal.Insert, TxnID: tx.TxnID(), PrevLSN: tx.PrevLSN(),
				RID: rid, Tuple: tuple,
			})
			if err != nil {
				h.bp.UnpinPage(pageID, false)
				return page.RID{}, err
			}
			tx.SetPrevLSN(lsn)
			pg.LSN = uint64(lsn)
			h.bp.UnpinPage(pageID, true)
			tx.AppendTableWrite(txn.TableWriteRecord{Op: txn.OpInsert, Table: h, RID: rid})
			return rid, nil
		}

		next := tp.NextPageID()
		if next != page.InvalidPageID {
			h.bp.UnpinPage(pageID, false)
			pageID = next
			continue
		}

		newPageID, err := h.spliceNewPage(pg, pageID, tx)
		h.bp.UnpinPage(pageID, true)
		if err != nil {
			return page.RID{}, err
		}
		pageID = newPageID
	}
}

func (h *Heap) spliceNewPage(tail *page.Page, tailPageID int32, tx *txn.Transaction) (int32, error) {
	newPg, err := h.bp.NewPage()
	if err != nil {
		return 0, err
	}
	Wrap(newPg.Data).Init(tailPageID)
	newPageID := newPg.ID

	lsn, err := h.log.Append(&wal.Record{
		Type: wal.NewPage, TxnID: tx.TxnID(), PrevLSN: tx.PrevLSN(),
		PrevPageID: tailPageID, PageID: newPageID,
	})
	if err != nil {
		h.bp.UnpinPage(newPageID, true)
		return 0, err
	}
	tx.SetPrevLSN(lsn)
	newPg.LSN = uint64(lsn)
	if err := h.bp.UnpinPage(newPageID, true); err != nil {
		return 0, err
	}

	Wrap(tail.Data).SetNextPageID(newPageID)
	return newPageID, nil
}

// GetTuple reads the tuple at rid, acquiring a shared lock for tx.
func (h *Heap) GetTuple(rid page.RID, tx *txn.Transaction) ([]byte, error) {
	if err := h.txnMgr.LockShared(tx, rid); err != nil {
		return nil, err
	}
	pg, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return nil, err
	}
	defer h.bp.UnpinPage(rid.PageID, false)
	return Wrap(pg.Data).GetTuple(rid.SlotNum)
}

// MarkDelete flags rid as deleted, logging the mutation and pushing an
// undo entry onto tx's write set.
func (h *Heap) MarkDelete(rid page.RID, tx *txn.Transaction) error {
	if err := h.txnMgr.LockExclusive(tx, rid); err != nil {
		return err
	}
	pg, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	defer h.bp.UnpinPage(rid.PageID, true)

	if err := Wrap(pg.Data).MarkDelete(rid.SlotNum); err != nil {
		return err
	}
	lsn, err := h.log.Append(&wal.Record{
		Type: wal.MarkDelete, TxnID: tx.TxnID(), PrevLSN: tx.PrevLSN(), RID: rid,
	})
	if err != nil {
		return err
	}
	tx.SetPrevLSN(lsn)
	pg.LSN = uint64(lsn)
	tx.AppendTableWrite(txn.TableWriteRecord{Op: txn.OpMarkDelete, Table: h, RID: rid})
	return nil
}

// ApplyDelete permanently frees rid and logs APPLY_DELETE. Called by
// txn.Manager.Commit, after the transaction's COMMIT record is durable,
// for every rid that transaction mark-deleted — this finalizes the
// physical removal MARK_DELETE only tombstoned, and cannot itself be
// rolled back.
func (h *Heap) ApplyDelete(rid page.RID, tx *txn.Transaction) error {
	pg, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	defer h.bp.UnpinPage(rid.PageID, true)

	tuple, err := Wrap(pg.Data).ApplyDelete(rid.SlotNum)
	if err != nil {
		return err
	}
	lsn, err := h.log.Append(&wal.Record{
		Type: wal.ApplyDelete, TxnID: tx.TxnID(), PrevLSN: tx.PrevLSN(), RID: rid, Tuple: tuple,
	})
	if err != nil {
		return err
	}
	tx.SetPrevLSN(lsn)
	pg.LSN = uint64(lsn)
	return nil
}

// UpdateTuple overwrites rid in place, logging both the old and new
// tuple bytes so an abort can restore the original.
func (h *Heap) UpdateTuple(rid page.RID, newTuple []byte, tx *txn.Transaction) error {
	if err := h.txnMgr.LockExclusive(tx, rid); err != nil {
		return err
	}
	pg, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	defer h.bp.UnpinPage(rid.PageID, true)

	old, err := Wrap(pg.Data).UpdateTuple(rid.SlotNum, newTuple)
	if err != nil {
		return err
	}
	lsn, err := h.log.Append(&wal.Record{
		Type: wal.Update, TxnID: tx.TxnID(), PrevLSN: tx.PrevLSN(),
		RID: rid, OldTuple: old, NewTuple: newTuple,
	})
	if err != nil {
		return err
	}
	tx.SetPrevLSN(lsn)
	pg.LSN = uint64(lsn)
	tx.AppendTableWrite(txn.TableWriteRecord{Op: txn.OpUpdate, Table: h, RID: rid, OldTuple: old})
	return nil
}

// --- txn.TableUndoer ---

func (h *Heap) UndoInsert(rid page.RID) error {
	pg, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	defer h.bp.UnpinPage(rid.PageID, true)
	_, err = Wrap(pg.Data).ApplyDelete(rid.SlotNum)
	return err
}

// UndoMarkDelete clears a mark-deleted rid's tombstone and logs
// ROLLBACK_DELETE, so a crash mid-abort redoes the same rollback on
// restart instead of leaving the tuple tombstoned.
func (h *Heap) UndoMarkDelete(rid page.RID, tx *txn.Transaction) error {
	pg, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	defer h.bp.UnpinPage(rid.PageID, true)

	if err := Wrap(pg.Data).RollbackDelete(rid.SlotNum); err != nil {
		return err
	}
	lsn, err := h.log.Append(&wal.Record{
		Type: wal.RollbackDelete, TxnID: tx.TxnID(), PrevLSN: tx.PrevLSN(), RID: rid,
	})
	if err != nil {
		return err
	}
	tx.SetPrevLSN(lsn)
	pg.LSN = uint64(lsn)
	return nil
}

func (h *Heap) UndoUpdate(rid page.RID, oldTuple []byte) error {
	pg, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	defer h.bp.UnpinPage(rid.PageID, true)
	_, err = Wrap(pg.Data).UpdateTuple(rid.SlotNum, oldTuple)
	return err
}

// Iterator walks every live tuple in the heap in page/slot order.
type Iterator struct {
	h           *Heap
	pageID      int32
	slot        uint32
	currentPage *page.Page
}

func (h *Heap) Iterator() *Iterator {
	return &Iterator{h: h, pageID: h.firstPageID}
}

// Next returns the next live tuple's RID and bytes, or (RID{}, nil,
// false) once the heap is exhausted.
func (it *Iterator) Next() (page.RID, []byte, bool, error) {
	for {
		if it.currentPage == nil {
			if it.pageID == page.InvalidPageID {
				return page.RID{}, nil, false, nil
			}
			pg, err := it.h.bp.FetchPage(it.pageID)
			if err != nil {
				return page.RID{}, nil, false, err
			}
			it.currentPage = pg
			it.slot = 0
		}

		tp := Wrap(it.currentPage.Data)
		if it.slot >= tp.TupleCount() {
			next := tp.NextPageID()
			it.h.bp.UnpinPage(it.pageID, false)
			it.currentPage = nil
			it.pageID = next
			continue
		}

		rid := page.RID{PageID: it.pageID, SlotNum: it.slot}
		tuple, err := tp.GetTuple(it.slot)
		it.slot++
		if err != nil {
			continue // deleted slot, keep scanning
		}
		return rid, tuple, true, nil
	}
}

func (it *Iterator) Close() error {
	if it.currentPage != nil {
		err := it.h.bp.UnpinPage(it.pageID, false)
		it.currentPage = nil
		return err
	}
	return nil
}
