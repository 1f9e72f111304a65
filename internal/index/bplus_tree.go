package index

import (
	"fmt"
	"sync"

	"daemondb/internal/buffer"
	"daemondb/internal/page"
	"daemondb/storageerr"

	"go.uber.org/zap"
)

// BPlusTree is a disk-backed B+ tree keyed on int32, latched per node via
// page.Page's embedded RWMutex during descent (crabbing): readers hold a
// chain of read latches one level deep, writers release every ancestor
// latch as soon as a "safe" node proves the structural change cannot
// propagate further up. Insert/Delete additionally take the tree's own
// root latch on entry and hold it only until descent reaches the first
// safe node, so writers are serialized against each other only while a
// change to the root itself is still possible.
type BPlusTree struct {
	rootMu     sync.RWMutex
	rootPageID int32

	bp     *buffer.Pool
	logger *zap.Logger

	leafMaxSize     int32
	internalMaxSize int32
}

func New(bp *buffer.Pool, leafMaxSize, internalMaxSize int32, logger *zap.Logger) *BPlusTree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BPlusTree{
		rootPageID:      page.InvalidPageID,
		bp:              bp,
		logger:          logger,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}
}

func (t *BPlusTree) RootPageID() int32 {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.rootPageID
}

// SetRootPageID restores a tree's root from persisted catalog metadata.
func (t *BPlusTree) SetRootPageID(id int32) {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	t.rootPageID = id
}

func (t *BPlusTree) IsEmpty() bool { return t.RootPageID() == page.InvalidPageID }

func (t *BPlusTree) leafMinSize() int32     { return (t.leafMaxSize + 1) / 2 }
func (t *BPlusTree) internalMinSize() int32 { return (t.internalMaxSize + 1) / 2 }

func (t *BPlusTree) isSafeForInsert(data []byte) bool {
	if isLeaf(data) {
		return getKeyCount(data) < t.leafMaxSize
	}
	return getKeyCount(data) < t.internalMaxSize
}

func (t *BPlusTree) isSafeForDelete(data []byte) bool {
	if isLeaf(data) {
		return getKeyCount(data) > t.leafMinSize()
	}
	return getKeyCount(data) > t.internalMinSize()
}

func (t *BPlusTree) fetchLock(pageID int32) (*page.Page, error) {
	pg, err := t.bp.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	pg.Lock()
	return pg, nil
}

func (t *BPlusTree) fetchRLock(pageID int32) (*page.Page, error) {
	pg, err := t.bp.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	pg.RLock()
	return pg, nil
}

func (t *BPlusTree) releaseWrite(pg *page.Page, dirty bool) {
	pg.Unlock()
	t.bp.UnpinPage(pg.ID, dirty)
}

func (t *BPlusTree) releaseRead(pg *page.Page) {
	pg.RUnlock()
	t.bp.UnpinPage(pg.ID, false)
}

func (t *BPlusTree) releaseStackDirty(stack []*page.Page, dirty bool) {
	for _, pg := range stack {
		t.releaseWrite(pg, dirty)
	}
}

// Search returns the RID stored for key, if present.
func (t *BPlusTree) Search(key int32) (page.RID, bool, error) {
	root := t.RootPageID()
	if root == page.InvalidPageID {
		return page.RID{}, false, nil
	}

	pg, err := t.fetchRLock(root)
	if err != nil {
		return page.RID{}, false, err
	}
	for !isLeaf(pg.Data) {
		idx := findChildIndex(pg.Data, t.internalMaxSize, getKeyCount(pg.Data), key)
		childID := internalChildAt(pg.Data, idx)
		child, err := t.fetchRLock(childID)
		t.releaseRead(pg)
		if err != nil {
			return page.RID{}, false, err
		}
		pg = child
	}
	defer t.releaseRead(pg)

	idx := findLeafKeyIndex(pg.Data, getKeyCount(pg.Data), key)
	if idx < 0 {
		return page.RID{}, false, nil
	}
	return leafRIDAt(pg.Data, idx), true, nil
}

// Insert adds key -> rid. Returns storageerr.ErrDuplicateKey if key is
// already present (this tree enforces uniqueness, as SPEC_FULL §4.6
// requires for primary-key indexes).
//
// rootMu latches on entry and releases the moment descent proves the root
// page cannot be restructured by this call — the same instant the
// ancestor-release logic below drops every node latch above a safe node.
// Until then (an unsafe root, or a leaf reached with no safe node on the
// path) it stays held for the whole call, since only then can the
// operation still end up replacing the root page itself.
func (t *BPlusTree) Insert(key int32, rid page.RID) error {
	t.rootMu.Lock()
	rootMuHeld := true
	unlockRoot := func() {
		if rootMuHeld {
			t.rootMu.Unlock()
			rootMuHeld = false
		}
	}
	defer unlockRoot()

	if t.rootPageID == page.InvalidPageID {
		pg, err := t.bp.NewPage()
		if err != nil {
			return err
		}
		initNode(pg.Data, leafNode)
		insertLeafEntryAt(pg.Data, 0, 0, key, rid)
		setKeyCount(pg.Data, 1)
		t.rootPageID = pg.ID
		t.bp.UnpinPage(pg.ID, true)
		return nil
	}

	var ancestors []*page.Page
	pageID := t.rootPageID
	for {
		pg, err := t.fetchLock(pageID)
		if err != nil {
			t.releaseStackDirty(ancestors, false)
			return err
		}
		if t.isSafeForInsert(pg.Data) {
			t.releaseStackDirty(ancestors, false)
			ancestors = ancestors[:0]
			unlockRoot()
		}
		ancestors = append(ancestors, pg)
		if isLeaf(pg.Data) {
			break
		}
		idx := findChildIndex(pg.Data, t.internalMaxSize, getKeyCount(pg.Data), key)
		pageID = internalChildAt(pg.Data, idx)
	}

	leaf := ancestors[len(ancestors)-1]
	ancestors = ancestors[:len(ancestors)-1]
	count := getKeyCount(leaf.Data)

	if findLeafKeyIndex(leaf.Data, count, key) >= 0 {
		t.releaseWrite(leaf, false)
		t.releaseStackDirty(ancestors, false)
		return storageerr.ErrDuplicateKey
	}

	idx := leafInsertIndex(leaf.Data, count, key)
	insertLeafEntryAt(leaf.Data, idx, count, key, rid)
	setKeyCount(leaf.Data, count+1)

	if count+1 <= t.leafMaxSize {
		t.releaseWrite(leaf, true)
		t.releaseStackDirty(ancestors, false)
		return nil
	}

	newRight, splitKey, err := t.splitLeaf(leaf)
	if err != nil {
		t.releaseWrite(leaf, true)
		t.releaseStackDirty(ancestors, false)
		return err
	}

	return t.propagateSplit(leaf, newRight, splitKey, ancestors)
}

// splitLeaf moves the upper half of leaf's entries into a new leaf page,
// linking the sibling chain. Returns the new (locked, pinned) page and
// the key the caller must insert into the parent.
func (t *BPlusTree) splitLeaf(leaf *page.Page) (*page.Page, int32, error) {
	data := leaf.Data
	count := getKeyCount(data)
	mid := count / 2

	newPg, err := t.bp.NewPage()
	if err != nil {
		return nil, 0, err
	}
	newPg.Lock()
	initNode(newPg.Data, leafNode)

	newCount := count - mid
	for i := int32(0); i < newCount; i++ {
		setLeafEntry(newPg.Data, i, leafKeyAt(data, mid+i), leafRIDAt(data, mid+i))
	}
	setKeyCount(newPg.Data, newCount)
	setKeyCount(data, mid)

	setNextPageID(newPg.Data, getNextPageID(data))
	setNextPageID(data, newPg.ID)
	setParentPageID(newPg.Data, getParentPageID(data))

	splitKey := leafKeyAt(newPg.Data, 0)
	return newPg, splitKey, nil
}

// splitInternal promotes the middle key of an overflowed internal node
// and moves the upper half of its keys/children to a new node.
func (t *BPlusTree) splitInternal(node *page.Page) (*page.Page, int32, error) {
	data := node.Data
	count := getKeyCount(data)
	mid := count/2 + 1
	splitKey := internalKeyAt(data, t.internalMaxSize, mid)

	newPg, err := t.bp.NewPage()
	if err != nil {
		return nil, 0, err
	}
	newPg.Lock()
	initNode(newPg.Data, internalNode)
	setParentPageID(newPg.Data, getParentPageID(data))

	newCount := count - mid
	for i := int32(0); i <= newCount; i++ {
		setInternalChildAt(newPg.Data, i, internalChildAt(data, mid+i))
	}
	for i := int32(1); i <= newCount; i++ {
		setInternalKeyAt(newPg.Data, t.internalMaxSize, i, internalKeyAt(data, t.internalMaxSize, mid+i))
	}
	setKeyCount(newPg.Data, newCount)
	setKeyCount(data, mid-1)

	for i := int32(0); i <= newCount; i++ {
		childID := internalChildAt(newPg.Data, i)
		if err := t.reparent(childID, newPg.ID); err != nil {
			return newPg, splitKey, err
		}
	}
	return newPg, splitKey, nil
}

func (t *BPlusTree) reparent(childID, newParentID int32) error {
	child, err := t.fetchLock(childID)
	if err != nil {
		return err
	}
	setParentPageID(child.Data, newParentID)
	t.releaseWrite(child, true)
	return nil
}

// propagateSplit walks the ancestor stack bottom-up, inserting
// (splitKey, newRight) into each parent and splitting it in turn if that
// insertion overflows it, until an ancestor absorbs the split without
// overflowing or the root itself splits.
func (t *BPlusTree) propagateSplit(left, newRight *page.Page, splitKey int32, ancestors []*page.Page) error {
	for {
		if len(ancestors) == 0 {
			rootPg, err := t.bp.NewPage()
			if err != nil {
				t.releaseWrite(left, true)
				t.releaseWrite(newRight, true)
				return err
			}
			initNode(rootPg.Data, internalNode)
			setInternalChildAt(rootPg.Data, 0, left.ID)
			setInternalKeyAt(rootPg.Data, t.internalMaxSize, 1, splitKey)
			setInternalChildAt(rootPg.Data, 1, newRight.ID)
			setKeyCount(rootPg.Data, 1)
			setParentPageID(left.Data, rootPg.ID)
			setParentPageID(newRight.Data, rootPg.ID)

			t.rootPageID = rootPg.ID
			t.bp.UnpinPage(rootPg.ID, true)
			t.releaseWrite(left, true)
			t.releaseWrite(newRight, true)
			return nil
		}

		parent := ancestors[len(ancestors)-1]
		ancestors = ancestors[:len(ancestors)-1]

		pcount := getKeyCount(parent.Data)
		slot := findChildSlot(parent.Data, pcount, left.ID)
		if slot < 0 {
			t.releaseWrite(left, true)
			t.releaseWrite(newRight, true)
			t.releaseWrite(parent, false)
			t.releaseStackDirty(ancestors, false)
			return fmt.Errorf("b+tree: split child %d not found in parent %d", left.ID, parent.ID)
		}
		insertInternalAt(parent.Data, t.internalMaxSize, slot+1, pcount, splitKey, newRight.ID)
		setKeyCount(parent.Data, pcount+1)
		setParentPageID(newRight.Data, parent.ID)

		t.releaseWrite(left, true)
		t.releaseWrite(newRight, true)

		if pcount+1 <= t.internalMaxSize {
			t.releaseWrite(parent, true)
			t.releaseStackDirty(ancestors, false)
			return nil
		}

		newParentRight, newSplitKey, err := t.splitInternal(parent)
		if err != nil {
			t.releaseWrite(parent, true)
			t.releaseStackDirty(ancestors, false)
			return err
		}
		left, newRight, splitKey = parent, newParentRight, newSplitKey
	}
}

func findChildSlot(data []byte, count int32, childID int32) int32 {
	for i := int32(0); i <= count; i++ {
		if internalChildAt(data, i) == childID {
			return i
		}
	}
	return -1
}
