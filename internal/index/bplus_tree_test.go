package index

import (
	"path/filepath"
	"sync"
	"testing"

	"daemondb/internal/buffer"
	"daemondb/internal/disk"
	"daemondb/internal/page"
	"daemondb/storageerr"

	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T, leafMax, internalMax int32) *BPlusTree {
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, "t.db"), filepath.Join(dir, "t.log"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	bp := buffer.NewPool(64, d, noopWAL{}, nil)
	return New(bp, leafMax, internalMax, nil)
}

type noopWAL struct{}

func (noopWAL) PersistentLSN() int32   { return 0 }
func (noopWAL) Flush(force bool) error { return nil }

func TestInsertAndSearchSingleKey(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.Insert(42, page.RID{PageID: 1, SlotNum: 0}))

	rid, ok, err := tree.Search(42)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, page.RID{PageID: 1, SlotNum: 0}, rid)
}

func TestInsertDuplicateKeyRejected(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.Insert(1, page.RID{PageID: 1, SlotNum: 0}))
	err := tree.Insert(1, page.RID{PageID: 2, SlotNum: 0})
	require.ErrorIs(t, err, storageerr.ErrDuplicateKey)
}

func TestInsertManyKeysForcesLeafAndInternalSplits(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	const n = 200
	for i := int32(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, page.RID{PageID: i, SlotNum: 0}))
	}
	for i := int32(0); i < n; i++ {
		rid, ok, err := tree.Search(i)
		require.NoError(t, err)
		require.True(t, ok, "key %d missing after splits", i)
		require.Equal(t, i, rid.PageID)
	}
}

func TestIteratorReturnsKeysInAscendingOrder(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	keys := []int32{50, 10, 30, 90, 20, 70, 60, 40, 80, 0}
	for _, k := range keys {
		require.NoError(t, tree.Insert(k, page.RID{PageID: k, SlotNum: 0}))
	}

	it, err := tree.NewIterator()
	require.NoError(t, err)
	var got []int32
	for {
		k, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, k)
	}
	require.Len(t, got, len(keys))
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	for i := int32(0); i < 20; i++ {
		require.NoError(t, tree.Insert(i, page.RID{PageID: i, SlotNum: 0}))
	}
	require.NoError(t, tree.Delete(10))

	_, ok, err := tree.Search(10)
	require.NoError(t, err)
	require.False(t, ok)

	for _, k := range []int32{0, 5, 9, 11, 19} {
		_, ok, err := tree.Search(k)
		require.NoError(t, err)
		require.True(t, ok, "key %d should still be present", k)
	}
}

func TestDeleteMissingKeyReturnsNotFound(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.Insert(1, page.RID{PageID: 1, SlotNum: 0}))
	err := tree.Delete(999)
	require.ErrorIs(t, err, storageerr.ErrNotFound)
}

func TestDeleteAllKeysEmptiesTree(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	const n = 50
	for i := int32(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, page.RID{PageID: i, SlotNum: 0}))
	}
	for i := int32(0); i < n; i++ {
		require.NoError(t, tree.Delete(i))
	}
	for i := int32(0); i < n; i++ {
		_, ok, err := tree.Search(i)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestConcurrentDisjointHalfInsert(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int32(0); i < n/2; i++ {
			require.NoError(t, tree.Insert(i, page.RID{PageID: i, SlotNum: 0}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := int32(n / 2); i < n; i++ {
			require.NoError(t, tree.Insert(i, page.RID{PageID: i, SlotNum: 0}))
		}
	}()
	wg.Wait()

	for i := int32(0); i < n; i++ {
		rid, ok, err := tree.Search(i)
		require.NoError(t, err)
		require.True(t, ok, "key %d missing after concurrent insert", i)
		require.Equal(t, i, rid.PageID)
	}

	it, err := tree.NewIterator()
	require.NoError(t, err)
	var got []int32
	for {
		k, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, k)
	}
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
}

func TestInsertAndDeleteDescendingOrderTriggersMerges(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	const n = 80
	for i := int32(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, page.RID{PageID: i, SlotNum: 0}))
	}
	for i := int32(n - 1); i >= n/2; i-- {
		require.NoError(t, tree.Delete(i))
	}
	for i := int32(0); i < n/2; i++ {
		_, ok, err := tree.Search(i)
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := int32(n / 2); i < n; i++ {
		_, ok, err := tree.Search(i)
		require.NoError(t, err)
		require.False(t, ok)
	}
}
