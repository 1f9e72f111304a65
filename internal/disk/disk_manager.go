// Package disk owns the two on-disk files the engine ever touches: the
// database file (a flat array of fixed-size pages) and the log file
// (an append-only byte stream). Nothing above this layer does raw I/O.
package disk

import (
	"fmt"
	"os"
	"sync"

	"daemondb/internal/page"
)

// Manager maps page ids to byte offsets in the database file and appends
// raw bytes to the log file. It knows nothing about page contents, LSNs,
// or the buffer pool above it — see SPEC_FULL §4.1.
type Manager struct {
	mu sync.RWMutex

	dbFile  *os.File
	logFile *os.File

	nextPageID  int32
	freeList    []int32
	logWriteOff int64
}

// Open creates or reopens dbPath/logPath. An existing database file's size
// determines the next page id; an existing log file is appended to.
func Open(dbPath, logPath string) (*Manager, error) {
	dbFile, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open db file %s: %w", dbPath, err)
	}
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		dbFile.Close()
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}

	dbStat, err := dbFile.Stat()
	if err != nil {
		dbFile.Close()
		logFile.Close()
		return nil, fmt.Errorf("stat db file: %w", err)
	}
	logStat, err := logFile.Stat()
	if err != nil {
		dbFile.Close()
		logFile.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	return &Manager{
		dbFile:      dbFile,
		logFile:     logFile,
		nextPageID:  int32(dbStat.Size() / page.Size),
		logWriteOff: logStat.Size(),
	}, nil
}

// AllocatePage reserves the next page id. It prefers a tombstoned id freed
// by DeallocatePage over growing the file, matching the free-list-first
// discipline the buffer pool's free frame list already uses.
func (m *Manager) AllocatePage() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.freeList); n > 0 {
		id := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return id
	}
	id := m.nextPageID
	m.nextPageID++
	return id
}

// DeallocatePage tombstones a page id for reuse. It does not shrink the
// file or zero the page's on-disk bytes.
func (m *Manager) DeallocatePage(pageID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeList = append(m.freeList, pageID)
}

func (m *Manager) ReadPage(pageID int32, buf []byte) error {
	if len(buf) != page.Size {
		return fmt.Errorf("read page %d: buffer size %d != %d", pageID, len(buf), page.Size)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	offset := int64(pageID) * page.Size
	n, err := m.dbFile.ReadAt(buf, offset)
	if err != nil && n == 0 {
		// Reading a page beyond EOF (a page allocated but never written)
		// yields zeros, matching a freshly zeroed frame.
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	for i := n; i < page.Size; i++ {
		buf[i] = 0
	}
	return nil
}

func (m *Manager) WritePage(pageID int32, buf []byte) error {
	if len(buf) != page.Size {
		return fmt.Errorf("write page %d: buffer size %d != %d", pageID, len(buf), page.Size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := int64(pageID) * page.Size
	if _, err := m.dbFile.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("write page %d: %w", pageID, err)
	}
	return nil
}

// ReadLog reads up to len(buf) bytes starting at offset. A partial read
// returns its short byte count and no error; a read that gets no bytes
// at all returns 0 and the read error (io.EOF past the end of the log),
// so the recovery reader's "no more log to read" check is simply n == 0.
func (m *Manager) ReadLog(buf []byte, offset int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, err := m.logFile.ReadAt(buf, offset)
	if n > 0 {
		return n, nil
	}
	return 0, err
}

// WriteLog appends buf to the log file and fsyncs before returning, so a
// successful return means the bytes are durable.
func (m *Manager) WriteLog(buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.logFile.WriteAt(buf, m.logWriteOff)
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	m.logWriteOff += int64(n)
	return m.logFile.Sync()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err1 := m.dbFile.Sync()
	err2 := m.dbFile.Close()
	err3 := m.logFile.Sync()
	err4 := m.logFile.Close()
	for _, e := range []error{err1, err2, err3, err4} {
		if e != nil {
			return e
		}
	}
	return nil
}
