package index

import (
	"daemondb/internal/page"
	"daemondb/storageerr"
)

// Delete removes key from the tree. Returns storageerr.ErrNotFound if
// key is absent. Underflow is resolved by redistributing from a sibling
// or merging with one, propagating up through ancestors exactly as
// insert's overflow propagates a split.
//
// rootMu releases the moment descent finds a safe node, exactly as
// Insert's does — see its comment. Until then it stays held, since an
// underflow that reaches the root can still replace rootPageID (see
// fixRootAfterUnderflow).
func (t *BPlusTree) Delete(key int32) error {
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
		return storageerr.ErrNotFound
	}

	var ancestors []*page.Page
	pageID := t.rootPageID
	for {
		pg, err := t.fetchLock(pageID)
		if err != nil {
			t.releaseStackDirty(ancestors, false)
			return err
		}
		if t.isSafeForDelete(pg.Data) {
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
	idx := findLeafKeyIndex(leaf.Data, count, key)
	if idx < 0 {
		t.releaseWrite(leaf, false)
		t.releaseStackDirty(ancestors, false)
		return storageerr.ErrNotFound
	}
	removeLeafEntryAt(leaf.Data, idx, count)
	setKeyCount(leaf.Data, count-1)

	wasRoot := len(ancestors) == 0
	if wasRoot || count-1 >= t.leafMinSize() {
		t.releaseWrite(leaf, true)
		t.releaseStackDirty(ancestors, false)
		return nil
	}

	return t.propagateUnderflow(leaf, ancestors)
}

// propagateUnderflow resolves current's underflow against a sibling
// found through parent, then — if that required a merge that shrank
// parent below its own minimum — recurses with parent as the new
// underflowed node, up to and including collapsing the root.
func (t *BPlusTree) propagateUnderflow(current *page.Page, ancestors []*page.Page) error {
	for {
		if len(ancestors) == 0 {
			return t.fixRootAfterUnderflow(current)
		}
		parent := ancestors[len(ancestors)-1]
		ancestors = ancestors[:len(ancestors)-1]

		parentUnderflowed, err := t.resolveUnderflow(current, parent)
		if err != nil {
			t.releaseWrite(parent, false)
			t.releaseStackDirty(ancestors, false)
			return err
		}

		wasRoot := len(ancestors) == 0
		if !parentUnderflowed || wasRoot && getKeyCount(parent.Data) > 0 {
			t.releaseWrite(parent, true)
			t.releaseStackDirty(ancestors, false)
			return nil
		}
		if wasRoot {
			return t.fixRootAfterUnderflow(parent)
		}
		current = parent
	}
}

// fixRootAfterUnderflow handles the root-level special case: an internal
// root left with zero keys (one remaining child) is replaced by that
// child; an empty leaf root is simply left as the (now-empty) tree.
func (t *BPlusTree) fixRootAfterUnderflow(root *page.Page) error {
	if isLeaf(root.Data) || getKeyCount(root.Data) > 0 {
		t.releaseWrite(root, true)
		return nil
	}
	onlyChild := internalChildAt(root.Data, 0)
	if child, err := t.fetchLock(onlyChild); err == nil {
		setParentPageID(child.Data, page.InvalidPageID)
		t.releaseWrite(child, true)
	}
	oldRootID := root.ID
	t.releaseWrite(root, true)
	t.rootPageID = onlyChild
	return t.bp.DeletePage(oldRootID)
}

// resolveUnderflow fixes current's underflow by borrowing from a sibling
// (redistribute) or absorbing into one (merge), using parent to locate
// siblings and to hold/update the separator key between them. Returns
// whether parent itself underflowed as a result (only possible on merge).
func (t *BPlusTree) resolveUnderflow(current, parent *page.Page) (bool, error) {
	pcount := getKeyCount(parent.Data)
	slot := findChildSlot(parent.Data, pcount, current.ID)

	var leftID, rightID int32 = page.InvalidPageID, page.InvalidPageID
	if slot > 0 {
		leftID = internalChildAt(parent.Data, slot-1)
	}
	if slot < pcount {
		rightID = internalChildAt(parent.Data, slot+1)
	}

	if leftID != page.InvalidPageID {
		left, err := t.fetchLock(leftID)
		if err != nil {
			return false, err
		}
		if t.canLend(left.Data) {
			t.redistributeFromLeft(left, current, parent, slot)
			t.releaseWrite(left, true)
			t.releaseWrite(current, true)
			return false, nil
		}
		underflowed := t.mergeInto(left, current, parent, slot-1)
		t.releaseWrite(left, true)
		t.releaseWrite(current, false)
		t.bp.DeletePage(current.ID)
		return underflowed, nil
	}

	right, err := t.fetchLock(rightID)
	if err != nil {
		return false, err
	}
	if t.canLend(right.Data) {
		t.redistributeFromRight(current, right, parent, slot)
		t.releaseWrite(right, true)
		t.releaseWrite(current, true)
		return false, nil
	}
	underflowed := t.mergeInto(current, right, parent, slot)
	t.releaseWrite(current, true)
	t.releaseWrite(right, false)
	t.bp.DeletePage(right.ID)
	return underflowed, nil
}

func (t *BPlusTree) canLend(data []byte) bool {
	if isLeaf(data) {
		return getKeyCount(data) > t.leafMinSize()
	}
	return getKeyCount(data) > t.internalMinSize()
}

// redistributeFromLeft moves left's last entry into current (which sits
// at child slot), updating the separator key in parent.
func (t *BPlusTree) redistributeFromLeft(left, current, parent *page.Page, slot int32) {
	if isLeaf(current.Data) {
		lc := getKeyCount(left.Data)
		k, r := leafKeyAt(left.Data, lc-1), leafRIDAt(left.Data, lc-1)
		setKeyCount(left.Data, lc-1)
		cc := getKeyCount(current.Data)
		insertLeafEntryAt(current.Data, 0, cc, k, r)
		setKeyCount(current.Data, cc+1)
		setInternalKeyAt(parent.Data, t.internalMaxSize, slot, k)
		return
	}
	lc := getKeyCount(left.Data)
	borrowedKey := internalKeyAt(left.Data, t.internalMaxSize, lc)
	borrowedChild := internalChildAt(left.Data, lc)
	setKeyCount(left.Data, lc-1)

	cc := getKeyCount(current.Data)
	oldChild0 := internalChildAt(current.Data, 0)
	insertInternalAt(current.Data, t.internalMaxSize, 1, cc, internalKeyAt(parent.Data, t.internalMaxSize, slot), oldChild0)
	setInternalChildAt(current.Data, 0, borrowedChild)
	setKeyCount(current.Data, cc+1)
	setInternalKeyAt(parent.Data, t.internalMaxSize, slot, borrowedKey)
	_ = t.reparent(borrowedChild, current.ID)
}

// redistributeFromRight moves right's first entry into current.
func (t *BPlusTree) redistributeFromRight(current, right, parent *page.Page, slot int32) {
	if isLeaf(current.Data) {
		k, r := leafKeyAt(right.Data, 0), leafRIDAt(right.Data, 0)
		rc := getKeyCount(right.Data)
		removeLeafEntryAt(right.Data, 0, rc)
		setKeyCount(right.Data, rc-1)

		cc := getKeyCount(current.Data)
		setLeafEntry(current.Data, cc, k, r)
		setKeyCount(current.Data, cc+1)
		setInternalKeyAt(parent.Data, t.internalMaxSize, slot+1, leafKeyAt(right.Data, 0))
		return
	}
	borrowedKey := internalKeyAt(right.Data, t.internalMaxSize, 1)
	borrowedChild := internalChildAt(right.Data, 0)
	rc := getKeyCount(right.Data)
	setInternalChildAt(right.Data, 0, internalChildAt(right.Data, 1))
	removeInternalAt(right.Data, t.internalMaxSize, 1, rc)
	setKeyCount(right.Data, rc-1)

	cc := getKeyCount(current.Data)
	setInternalKeyAt(current.Data, t.internalMaxSize, cc+1, internalKeyAt(parent.Data, t.internalMaxSize, slot+1))
	setInternalChildAt(current.Data, cc+1, borrowedChild)
	setKeyCount(current.Data, cc+1)
	setInternalKeyAt(parent.Data, t.internalMaxSize, slot+1, borrowedKey)
	_ = t.reparent(borrowedChild, current.ID)
}

// mergeInto appends right's entries onto left and removes the separator
// key at parent key-slot separatorSlot+1. Returns whether parent
// underflowed as a result.
func (t *BPlusTree) mergeInto(left, right, parent *page.Page, separatorSlot int32) bool {
	if isLeaf(left.Data) {
		lc, rc := getKeyCount(left.Data), getKeyCount(right.Data)
		for i := int32(0); i < rc; i++ {
			setLeafEntry(left.Data, lc+i, leafKeyAt(right.Data, i), leafRIDAt(right.Data, i))
		}
		setKeyCount(left.Data, lc+rc)
		setNextPageID(left.Data, getNextPageID(right.Data))
	} else {
		lc, rc := getKeyCount(left.Data), getKeyCount(right.Data)
		separatorKey := internalKeyAt(parent.Data, t.internalMaxSize, separatorSlot+1)
		setInternalKeyAt(left.Data, t.internalMaxSize, lc+1, separatorKey)
		setInternalChildAt(left.Data, lc+1, internalChildAt(right.Data, 0))
		_ = t.reparent(internalChildAt(right.Data, 0), left.ID)
		for i := int32(1); i <= rc; i++ {
			setInternalKeyAt(left.Data, t.internalMaxSize, lc+1+i, internalKeyAt(right.Data, t.internalMaxSize, i))
			setInternalChildAt(left.Data, lc+1+i, internalChildAt(right.Data, i))
			_ = t.reparent(internalChildAt(right.Data, i), left.ID)
		}
		setKeyCount(left.Data, lc+1+rc)
	}

	pcount := getKeyCount(parent.Data)
	removeInternalAt(parent.Data, t.internalMaxSize, separatorSlot+1, pcount)
	setKeyCount(parent.Data, pcount-1)

	if isLeaf(parent.Data) {
		return false
	}
	return (pcount - 1) < t.internalMinSize()
}
