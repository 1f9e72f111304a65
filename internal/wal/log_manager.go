// Package wal implements the double-buffered, background-flushed log
// manager described in SPEC_FULL §4.4, grounded on BusTub's
// recovery/log_manager.cpp swap-and-flush control flow.
package wal

import (
	"fmt"
	"sync"
	"time"

	"daemondb/internal/disk"

	"go.uber.org/zap"
)

// Manager buffers appended log records in logBuffer and periodically (or
// on demand) swaps it with flushBuffer and writes flushBuffer through the
// disk manager. An appender blocks on a buffer-full condition, which the
// flusher relieves; because flushLocked holds mu across the disk write,
// an Append that arrives while a flush is writing also waits for that
// write to finish.
type Manager struct {
	mu         sync.Mutex
	appendCond *sync.Cond

	disk   *disk.Manager
	logger *zap.Logger

	bufSize     int
	logBuffer   []byte
	flushBuffer []byte
	logOffset   int
	flushSize   int

	nextLSN       int32
	lastLSN       int32
	persistentLSN int32
	needFlush     bool

	timeout time.Duration
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// New constructs a Manager without starting its background flusher —
// call Run to start it.
func New(d *disk.Manager, bufSize int, timeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		disk:          d,
		logger:        logger,
		bufSize:       bufSize,
		logBuffer:     make([]byte, bufSize),
		flushBuffer:   make([]byte, bufSize),
		persistentLSN: InvalidLSN,
		lastLSN:       InvalidLSN,
		timeout:       timeout,
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	m.appendCond = sync.NewCond(&m.mu)
	return m
}

// Run starts the background flush goroutine. Safe to call once; a second
// call is a no-op.
func (m *Manager) Run() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.flushLoop()
}

// Stop force-flushes and joins the background goroutine.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	_ = m.Flush(true)
}

func (m *Manager) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
		case <-ticker.C:
		}
		m.mu.Lock()
		if err := m.flushLocked(); err != nil {
			m.logger.Error("log flush failed", zap.Error(err))
		}
		m.mu.Unlock()
	}
}

// Append assigns the record's LSN and copies it into the log buffer,
// blocking the caller only if the buffer is full until the flusher has
// made room. Must not be called while holding a page latch.
func (m *Manager) Append(r *Record) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := int(HeaderSize + r.payloadSize())
	if size > m.bufSize {
		return 0, fmt.Errorf("log record of %d bytes exceeds buffer size %d", size, m.bufSize)
	}

	for m.logOffset+size > m.bufSize {
		m.needFlush = true
		m.signalFlusher()
		m.appendCond.Wait()
	}

	r.LSN = m.nextLSN
	m.nextLSN++
	written := r.Encode(m.logBuffer[m.logOffset:])
	m.logOffset += written
	m.lastLSN = r.LSN

	m.logger.Debug("log record appended",
		zap.Int32("lsn", r.LSN), zap.Int32("txn_id", r.TxnID), zap.Int32("type", int32(r.Type)))

	return r.LSN, nil
}

// Flush forces a swap-and-write of whatever is currently buffered and
// blocks until it is durable. A non-forced call is a no-op — periodic
// flushing is the background goroutine's job.
func (m *Manager) Flush(force bool) error {
	if !force {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

// flushLocked swaps the buffers and writes the (former) log buffer to
// disk. Caller must hold mu. Mirrors BusTub's LogManager::RunFlushThread
// body, which holds its latch across the disk write.
func (m *Manager) flushLocked() error {
	if m.logOffset == 0 {
		m.needFlush = false
		m.appendCond.Broadcast()
		return nil
	}

	m.logBuffer, m.flushBuffer = m.flushBuffer, m.logBuffer
	m.flushSize = m.logOffset
	lsnAtSwap := m.lastLSN
	m.logOffset = 0

	buf := m.flushBuffer[:m.flushSize]
	if err := m.disk.WriteLog(buf); err != nil {
		return fmt.Errorf("flush log: %w", err)
	}
	m.flushSize = 0
	m.persistentLSN = lsnAtSwap
	m.needFlush = false
	m.appendCond.Broadcast()

	m.logger.Debug("log flushed", zap.Int32("persistent_lsn", m.persistentLSN))
	return nil
}

func (m *Manager) signalFlusher() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// PersistentLSN implements buffer.WALFlushedLSNGetter.
func (m *Manager) PersistentLSN() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistentLSN
}

func (m *Manager) LastLSN() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLSN
}
