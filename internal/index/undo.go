package index

import "daemondb/internal/page"

// UndoInsertEntry implements txn.IndexUndoer: abort of an insert deletes
// the entry it added.
func (t *BPlusTree) UndoInsertEntry(keyBytes []byte) error {
	return t.Delete(decodeKey(keyBytes))
}

// UndoDeleteEntry implements txn.IndexUndoer: abort of a delete
// reinserts the entry it removed.
func (t *BPlusTree) UndoDeleteEntry(keyBytes []byte, rid page.RID) error {
	return t.Insert(decodeKey(keyBytes), rid)
}

func decodeKey(b []byte) int32 {
	var k int32
	for i := 0; i < 4 && i < len(b); i++ {
		k |= int32(b[i]) << (8 * i)
	}
	return k
}

// EncodeKey is the inverse of decodeKey, used by callers building an
// IndexWriteRecord for the transaction's undo log.
func EncodeKey(k int32) []byte {
	return []byte{byte(k), byte(k >> 8), byte(k >> 16), byte(k >> 24)}
}
