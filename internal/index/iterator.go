package index

import "daemondb/internal/page"

// Iterator walks every (key, rid) pair in ascending key order via the
// leaf sibling chain, without holding a latch between Next calls — the
// snapshot is not isolated against concurrent structural changes; a scan
// relies on the caller's own transaction-level isolation, not on the
// index's internal latching.
type Iterator struct {
	t       *BPlusTree
	pageID  int32
	slot    int32
	started bool
}

// NewIterator starts a full-tree left-to-right scan.
func (t *BPlusTree) NewIterator() (*Iterator, error) {
	root := t.RootPageID()
	if root == page.InvalidPageID {
		return &Iterator{t: t, pageID: page.InvalidPageID}, nil
	}
	leftmost, err := t.findLeftmostLeaf(root)
	if err != nil {
		return nil, err
	}
	return &Iterator{t: t, pageID: leftmost}, nil
}

func (t *BPlusTree) findLeftmostLeaf(pageID int32) (int32, error) {
	pg, err := t.fetchRLock(pageID)
	if err != nil {
		return 0, err
	}
	for !isLeaf(pg.Data) {
		childID := internalChildAt(pg.Data, 0)
		child, err := t.fetchRLock(childID)
		t.releaseRead(pg)
		if err != nil {
			return 0, err
		}
		pg = child
	}
	id := pg.ID
	t.releaseRead(pg)
	return id, nil
}

// Next returns the next (key, rid) pair, or ok=false once exhausted.
func (it *Iterator) Next() (key int32, rid page.RID, ok bool, err error) {
	for it.pageID != page.InvalidPageID {
		pg, err := it.t.fetchRLock(it.pageID)
		if err != nil {
			return 0, page.RID{}, false, err
		}
		count := getKeyCount(pg.Data)
		if it.slot < count {
			k := leafKeyAt(pg.Data, it.slot)
			r := leafRIDAt(pg.Data, it.slot)
			it.slot++
			it.t.releaseRead(pg)
			return k, r, true, nil
		}
		next := getNextPageID(pg.Data)
		it.t.releaseRead(pg)
		it.pageID = next
		it.slot = 0
	}
	return 0, page.RID{}, false, nil
}
