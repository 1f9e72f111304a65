// Package index implements the B+ tree secondary/primary index from
// SPEC_FULL §4.6: crabbing latches during descent, split/merge/
// redistribute on insert/delete, and a leaf-level cursor for range scans.
//
// Grounded on storage_engine/access/indexfile_manager/bplustree/*.go for
// the node-serialization idea (a fixed header followed by packed
// entries) and on original_source/src/storage/index/b_plus_tree.cpp for
// the crabbing protocol itself — the teacher's tree guards every
// operation with one tree-wide sync.Mutex instead of per-node latches,
// so FindLeaf/Split/CoalesceOrRedistribute are rebuilt from the original.
package index

import (
	"encoding/binary"

	"daemondb/internal/page"
)

type nodeType int32

const (
	internalNode nodeType = 0
	leafNode     nodeType = 1
)

// Node header, 20 bytes:
//
//	[0:4)   page type (0 internal, 1 leaf)
//	[4:8)   key count
//	[8:12)  parent page id
//	[12:16) next page id (leaf sibling chain only)
//	[16:20) reserved
//
// Node capacity (the split threshold) is a tree-wide constant supplied
// by the caller rather than stored per node — every node in one tree
// shares it, so byte offsets are computed from the caller's configured
// leafMaxSize/internalMaxSize, never read back from the page itself.
const nodeHeaderSize = 20

const (
	hdrType     = 0
	hdrKeyCount = 4
	hdrParent   = 8
	hdrNext     = 12
)

const leafEntrySize = 12 // int32 key + 8-byte RID

func getType(data []byte) nodeType {
	return nodeType(binary.LittleEndian.Uint32(data[hdrType:]))
}
func setType(data []byte, t nodeType) {
	binary.LittleEndian.PutUint32(data[hdrType:], uint32(t))
}
func isLeaf(data []byte) bool { return getType(data) == leafNode }

func getKeyCount(data []byte) int32 {
	return int32(binary.LittleEndian.Uint32(data[hdrKeyCount:]))
}
func setKeyCount(data []byte, n int32) {
	binary.LittleEndian.PutUint32(data[hdrKeyCount:], uint32(n))
}

func getParentPageID(data []byte) int32 {
	return int32(binary.LittleEndian.Uint32(data[hdrParent:]))
}
func setParentPageID(data []byte, id int32) {
	binary.LittleEndian.PutUint32(data[hdrParent:], uint32(id))
}

func getNextPageID(data []byte) int32 {
	return int32(binary.LittleEndian.Uint32(data[hdrNext:]))
}
func setNextPageID(data []byte, id int32) {
	binary.LittleEndian.PutUint32(data[hdrNext:], uint32(id))
}

func initNode(data []byte, t nodeType) {
	setType(data, t)
	setKeyCount(data, 0)
	setParentPageID(data, page.InvalidPageID)
	setNextPageID(data, page.InvalidPageID)
}

// --- leaf entries: packed [key int32][rid uint64] ---

func leafOffset(i int32) int { return nodeHeaderSize + int(i)*leafEntrySize }

func leafKeyAt(data []byte, i int32) int32 {
	return int32(binary.LittleEndian.Uint32(data[leafOffset(i):]))
}

func leafRIDAt(data []byte, i int32) page.RID {
	return page.DecodeRID(binary.LittleEndian.Uint64(data[leafOffset(i)+4:]))
}

func setLeafEntry(data []byte, i int32, key int32, rid page.RID) {
	off := leafOffset(i)
	binary.LittleEndian.PutUint32(data[off:], uint32(key))
	binary.LittleEndian.PutUint64(data[off+4:], rid.Encode())
}

// insertLeafEntryAt shifts entries [i:count) right by one slot and writes
// the new entry at i. The page backing data must have room for count+1
// entries — callers must have sized leaf pages for maxSize+1.
func insertLeafEntryAt(data []byte, i, count int32, key int32, rid page.RID) {
	for j := count; j > i; j-- {
		setLeafEntry(data, j, leafKeyAt(data, j-1), leafRIDAt(data, j-1))
	}
	setLeafEntry(data, i, key, rid)
}

// removeLeafEntryAt shifts entries [i+1:count) left by one slot.
func removeLeafEntryAt(data []byte, i, count int32) {
	for j := i; j < count-1; j++ {
		setLeafEntry(data, j, leafKeyAt(data, j+1), leafRIDAt(data, j+1))
	}
}

// --- internal entries ---
//
// Children region: (internalMaxSize+2) int32 slots, starting right after
// the header. Keys region: (internalMaxSize+2) int32 slots, right after
// the children region. Child i-1 holds keys less than key i; child i
// holds keys greater than or equal to key i; key[0] is unused. The slack
// over the nominal capacity (the unused key[0] plus one spare slot in
// each region) exists so an internal node can temporarily hold one extra
// entry mid-split, exactly as the leaf does.

func internalChildrenStart() int { return nodeHeaderSize }

func internalKeysStart(internalMaxSize int32) int {
	return internalChildrenStart() + int(internalMaxSize+2)*4
}

func internalChildAt(data []byte, i int32) int32 {
	off := internalChildrenStart() + int(i)*4
	return int32(binary.LittleEndian.Uint32(data[off:]))
}

func setInternalChildAt(data []byte, i int32, childPageID int32) {
	off := internalChildrenStart() + int(i)*4
	binary.LittleEndian.PutUint32(data[off:], uint32(childPageID))
}

func internalKeyAt(data []byte, internalMaxSize, i int32) int32 {
	off := internalKeysStart(internalMaxSize) + int(i)*4
	return int32(binary.LittleEndian.Uint32(data[off:]))
}

func setInternalKeyAt(data []byte, internalMaxSize, i int32, key int32) {
	off := internalKeysStart(internalMaxSize) + int(i)*4
	binary.LittleEndian.PutUint32(data[off:], uint32(key))
}

// insertInternalAt inserts key at logical key slot i (i>=1, since key[0]
// is unused) together with its right child at child slot i, shifting
// keys/children [i:count] right by one so that child[i-1] (the existing
// left neighbor) is the only one left untouched. count is the key count
// before insertion.
func insertInternalAt(data []byte, internalMaxSize, i, count int32, key int32, rightChild int32) {
	for j := count; j >= i; j-- {
		setInternalKeyAt(data, internalMaxSize, j+1, internalKeyAt(data, internalMaxSize, j))
		setInternalChildAt(data, j+1, internalChildAt(data, j))
	}
	setInternalKeyAt(data, internalMaxSize, i, key)
	setInternalChildAt(data, i, rightChild)
}

// removeInternalAt removes key[i]/child[i] (i>=1), shifting later
// keys/children left by one.
func removeInternalAt(data []byte, internalMaxSize, i, count int32) {
	for j := i; j < count; j++ {
		setInternalKeyAt(data, internalMaxSize, j, internalKeyAt(data, internalMaxSize, j+1))
		setInternalChildAt(data, j, internalChildAt(data, j+1))
	}
}

// findChildIndex returns the index of the child pointer to follow for
// key: the largest i such that internalKeyAt(i) <= key, or 0.
func findChildIndex(data []byte, internalMaxSize, count int32, key int32) int32 {
	lo, hi := int32(1), count
	res := int32(0)
	for lo <= hi {
		mid := (lo + hi) / 2
		if internalKeyAt(data, internalMaxSize, mid) <= key {
			res = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return res
}

// findLeafKeyIndex returns the index of key in a leaf's entries, or -1.
func findLeafKeyIndex(data []byte, count int32, key int32) int32 {
	lo, hi := int32(0), count-1
	for lo <= hi {
		mid := (lo + hi) / 2
		k := leafKeyAt(data, mid)
		switch {
		case k == key:
			return mid
		case k < key:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1
}

// leafInsertIndex returns where key belongs in sorted order (for a key
// not already present).
func leafInsertIndex(data []byte, count int32, key int32) int32 {
	lo, hi := int32(0), count
	for lo < hi {
		mid := (lo + hi) / 2
		if leafKeyAt(data, mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
