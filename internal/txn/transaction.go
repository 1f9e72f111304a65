// Package txn implements transaction lifecycle management from
// SPEC_FULL §4.8: per-transaction lock-set bookkeeping and an undo-log
// write set replayed on abort, grounded on the teacher's
// storage_engine/transaction_manager and BusTub's
// concurrency/transaction_manager.cpp for the parts the teacher omitted
// (the teacher never implemented a lock manager or real rollback).
package txn

import (
	"sync"

	"daemondb/internal/lock"
	"daemondb/internal/page"
)

// WriteOp identifies the kind of table mutation recorded in a
// transaction's write set, used to select the correct undo action.
type WriteOp int

const (
	OpInsert WriteOp = iota
	OpMarkDelete
	OpUpdate
)

// TableUndoer is implemented by internal/table.Heap. Kept as an
// interface here so txn never imports table, avoiding a cycle. Besides
// the abort-time undo actions, it also carries ApplyDelete, which
// Manager.Commit drives directly — commit finalizes a mark-delete rather
// than undoing one, but it's the same table and the same avoided-cycle
// problem.
type TableUndoer interface {
	UndoInsert(rid page.RID) error
	UndoMarkDelete(rid page.RID, tx *Transaction) error
	UndoUpdate(rid page.RID, oldTuple []byte) error
	ApplyDelete(rid page.RID, tx *Transaction) error
}

// IndexUndoer is implemented by internal/index.BPlusTree.
type IndexUndoer interface {
	UndoInsertEntry(key []byte) error
	UndoDeleteEntry(key []byte, rid page.RID) error
}

type TableWriteRecord struct {
	Op       WriteOp
	Table    TableUndoer
	RID      page.RID
	OldTuple []byte
}

type IndexWriteRecord struct {
	Op    WriteOp
	Index IndexUndoer
	Key   []byte
	RID   page.RID
}

// Transaction tracks one transaction's identity, phase, isolation level,
// lock sets, and undo write sets. It implements lock.Handle.
type Transaction struct {
	mu sync.Mutex

	id    int32
	state lock.State
	iso   lock.Isolation

	prevLSN int32

	sharedLocks    map[page.RID]bool
	exclusiveLocks map[page.RID]bool

	tableWrites []TableWriteRecord
	indexWrites []IndexWriteRecord
}

func newTransaction(id int32, iso lock.Isolation) *Transaction {
	return &Transaction{
		id:             id,
		state:          lock.Growing,
		iso:            iso,
		prevLSN:        -1,
		sharedLocks:    make(map[page.RID]bool),
		exclusiveLocks: make(map[page.RID]bool),
	}
}

func (t *Transaction) TxnID() int32 { return t.id }

func (t *Transaction) GetState() lock.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s lock.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *Transaction) GetIsolation() lock.Isolation { return t.iso }

func (t *Transaction) PrevLSN() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prevLSN
}

func (t *Transaction) SetPrevLSN(lsn int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prevLSN = lsn
}

func (t *Transaction) recordSharedLock(rid page.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedLocks[rid] = true
}

func (t *Transaction) recordExclusiveLock(rid page.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, rid)
	t.exclusiveLocks[rid] = true
}

func (t *Transaction) forgetLock(rid page.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, rid)
	delete(t.exclusiveLocks, rid)
}

// HeldLocks returns a snapshot of every RID this transaction currently
// holds a lock on, shared or exclusive.
func (t *Transaction) HeldLocks() []page.RID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]page.RID, 0, len(t.sharedLocks)+len(t.exclusiveLocks))
	for rid := range t.sharedLocks {
		out = append(out, rid)
	}
	for rid := range t.exclusiveLocks {
		out = append(out, rid)
	}
	return out
}

func (t *Transaction) AppendTableWrite(rec TableWriteRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableWrites = append(t.tableWrites, rec)
}

func (t *Transaction) AppendIndexWrite(rec IndexWriteRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indexWrites = append(t.indexWrites, rec)
}
