// Package buffer implements the bounded frame-array buffer pool from
// SPEC_FULL §4.3: page-table, free-list-then-replacer victim selection,
// and the force-log-before-write fence against the WAL.
package buffer

import (
	"fmt"
	"sync"

	"daemondb/internal/disk"
	"daemondb/internal/page"
	"daemondb/internal/replacer"
	"daemondb/storageerr"

	"go.uber.org/zap"
)

// WALFlushedLSNGetter is the seam the buffer pool uses to enforce
// write-ahead logging without importing the wal package directly —
// matching the pre-existing teacher interface of the same shape.
type WALFlushedLSNGetter interface {
	PersistentLSN() int32
	Flush(force bool) error
}

// Pool is the buffer pool: a fixed-size frame array, a page_id -> frame_id
// map, a free list of unused frames, and an LRU replacer for the rest.
type Pool struct {
	mu sync.Mutex

	frames    []*page.Page
	pageTable map[int32]int

	freeList []int
	replacer *replacer.LRUReplacer

	disk   *disk.Manager
	wal    WALFlushedLSNGetter
	logger *zap.Logger
}

func NewPool(poolSize int, d *disk.Manager, wal WALFlushedLSNGetter, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	frames := make([]*page.Page, poolSize)
	free := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = page.New(page.InvalidPageID)
		free[i] = i
	}
	return &Pool{
		frames:    frames,
		pageTable: make(map[int32]int, poolSize),
		freeList:  free,
		replacer:  replacer.New(),
		disk:      d,
		wal:       wal,
		logger:    logger,
	}
}

// victimFrame picks a frame to reuse: free list first, then the replacer.
// Returns (frameID, false, nil) when none is available.
func (p *Pool) victimFrame() (int, bool, error) {
	if n := len(p.freeList); n > 0 {
		id := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return id, true, nil
	}
	frameID, ok := p.replacer.Victim()
	if !ok {
		return 0, false, nil
	}
	fr := p.frames[int(frameID)]
	if err := p.writeBackIfDirty(fr); err != nil {
		return 0, false, err
	}
	delete(p.pageTable, fr.ID)
	return int(frameID), true, nil
}

// writeBackIfDirty enforces force-log-before-write: a dirty frame may not
// reach disk until persistent_lsn covers its page LSN.
func (p *Pool) writeBackIfDirty(fr *page.Page) error {
	fr.Lock()
	defer fr.Unlock()
	if !fr.IsDirty {
		return nil
	}
	if p.wal != nil && p.wal.PersistentLSN() < int32(fr.LSN) {
		if err := p.wal.Flush(true); err != nil {
			return fmt.Errorf("force log before write page %d: %w", fr.ID, err)
		}
	}
	if err := p.disk.WritePage(fr.ID, fr.Data); err != nil {
		return fmt.Errorf("write back page %d: %w", fr.ID, err)
	}
	fr.IsDirty = false
	return nil
}

// FetchPage returns the page for pageID, pinned. It loads from disk on a
// miss, evicting a victim frame (flushing it first if dirty) when the
// pool has no free frame.
func (p *Pool) FetchPage(pageID int32) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if frameID, ok := p.pageTable[pageID]; ok {
		fr := p.frames[frameID]
		p.replacer.Pin(int32(frameID))
		fr.Lock()
		fr.PinCount++
		fr.Unlock()
		p.logger.Debug("buffer pool hit", zap.Int32("page_id", pageID))
		return fr, nil
	}

	frameID, ok, err := p.victimFrame()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storageerr.ErrOutOfFrames
	}

	fr := p.frames[frameID]
	fr.Lock()
	fr.ID = pageID
	fr.PinCount = 1
	fr.IsDirty = false
	fr.ResetMemory()
	fr.Unlock()

	if err := p.disk.ReadPage(pageID, fr.Data); err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", pageID, err)
	}
	fr.LSN = uint64(readPageLSN(fr.Data))
	p.pageTable[pageID] = frameID

	p.logger.Debug("buffer pool miss", zap.Int32("page_id", pageID))
	return fr, nil
}

func readPageLSN(data []byte) uint32 {
	if len(data) < 4 {
		return 0
	}
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
}

// UnpinPage decrements the pin count, ORs in the dirty flag, and hands the
// frame to the replacer once its pin count reaches zero.
func (p *Pool) UnpinPage(pageID int32, isDirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.pageTable[pageID]
	if !ok {
		return fmt.Errorf("unpin page %d: %w", pageID, storageerr.ErrNotFound)
	}
	fr := p.frames[frameID]
	fr.Lock()
	if fr.PinCount > 0 {
		fr.PinCount--
	}
	if isDirty {
		fr.IsDirty = true
	}
	pinCount := fr.PinCount
	fr.Unlock()

	if pinCount == 0 {
		p.replacer.Unpin(int32(frameID))
	}
	return nil
}

// FlushPage writes pageID back to disk if dirty, respecting
// force-log-before-write. Pin count is unaffected.
func (p *Pool) FlushPage(pageID int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.pageTable[pageID]
	if !ok {
		return fmt.Errorf("flush page %d: %w", pageID, storageerr.ErrNotFound)
	}
	return p.writeBackIfDirty(p.frames[frameID])
}

// NewPage allocates a fresh page id, obtains a frame exactly as FetchPage
// would on a miss, and returns it pinned — callers must UnpinPage it once
// done, same as a FetchPage result.
func (p *Pool) NewPage() (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok, err := p.victimFrame()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storageerr.ErrOutOfMemory
	}

	pageID := p.disk.AllocatePage()
	fr := p.frames[frameID]
	fr.Lock()
	fr.ResetMemory()
	fr.ID = pageID
	fr.PinCount = 1
	fr.IsDirty = false
	fr.Unlock()

	p.pageTable[pageID] = frameID
	p.logger.Debug("buffer pool new page", zap.Int32("page_id", pageID))
	return fr, nil
}

// DeletePage removes pageID from the pool. Returns nil if it was not
// resident. Returns a plain error (wrapping no storageerr sentinel) if
// still pinned; the caller must unpin first.
func (p *Pool) DeletePage(pageID int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.pageTable[pageID]
	if !ok {
		return nil
	}
	fr := p.frames[frameID]
	fr.Lock()
	if fr.PinCount > 0 {
		fr.Unlock()
		return fmt.Errorf("delete page %d: still pinned", pageID)
	}
	fr.Unlock()

	if err := p.writeBackIfDirty(fr); err != nil {
		return err
	}

	delete(p.pageTable, pageID)
	p.replacer.Pin(int32(frameID)) // remove from replaceable set if present
	p.freeList = append(p.freeList, frameID)

	fr.Lock()
	fr.IsDirty = false
	fr.PinCount = 0
	fr.ResetMemory()
	fr.ID = page.InvalidPageID
	fr.Unlock()

	p.disk.DeallocatePage(pageID)
	return nil
}

// FlushAllPages writes every dirty resident page to disk. It walks the
// page table's actual entries rather than a dense numeric range — see
// SPEC_FULL §4.3's note on the original's page_id==frame_index bug.
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for pageID := range p.pageTable {
		frameID := p.pageTable[pageID]
		if err := p.writeBackIfDirty(p.frames[frameID]); err != nil {
			return err
		}
	}
	return nil
}
