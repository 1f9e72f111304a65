package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"daemondb/internal/buffer"
	"daemondb/internal/catalog"
	"daemondb/internal/checkpoint"
	"daemondb/internal/disk"
	"daemondb/internal/lock"
	"daemondb/internal/recovery"
	"daemondb/internal/txn"
	"daemondb/internal/wal"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine owns one instance of every storage-core subsystem rooted at a
// single data directory: disk, WAL, buffer pool, lock manager, transaction
// manager, catalog, and checkpoint manager. A driver opens one Engine per
// database and closes it on shutdown.
//
// Grounded on darleet-GraphDB's src/app/entrypoint.go for the background
// goroutine shutdown shape — a context cancelled on Close, an errgroup
// supervising the goroutines derived from it — adapted here to supervise
// the periodic checkpoint loop rather than a signal-driven server run.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	Disk       *disk.Manager
	Log        *wal.Manager
	Pool       *buffer.Pool
	Locks      *lock.Manager
	Txns       *txn.Manager
	Catalog    *catalog.Catalog
	Checkpoint *checkpoint.Manager

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// Open wires up every subsystem against cfg.DataDir, replays the WAL to
// recover from any prior crash, and starts the background flusher,
// deadlock detector, and checkpoint loop.
func Open(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	d, err := disk.Open(cfg.dbFile(), cfg.logFile())
	if err != nil {
		return nil, fmt.Errorf("engine: open disk: %w", err)
	}

	logMgr := wal.New(d, cfg.WALBufferBytes, cfg.WALFlushInterval, logger)
	pool := buffer.NewPool(cfg.BufferPoolSize, d, logMgr, logger)
	lockMgr := lock.New(cfg.DeadlockInterval, logger)
	txnMgr := txn.NewManager(lockMgr, logMgr, logger)

	cat, err := catalog.Open(cfg.DataDir)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("engine: open catalog: %w", err)
	}

	cpMgr := checkpoint.New(cfg.DataDir, pool, logMgr, txnMgr, logger)

	rec := recovery.New(d, pool, logger)
	if err := rec.Redo(); err != nil {
		cat.Close()
		d.Close()
		return nil, fmt.Errorf("engine: redo recovery: %w", err)
	}
	if err := rec.Undo(); err != nil {
		cat.Close()
		d.Close()
		return nil, fmt.Errorf("engine: undo recovery: %w", err)
	}

	logMgr.Run()
	lockMgr.Run()

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		Disk:       d,
		Log:        logMgr,
		Pool:       pool,
		Locks:      lockMgr,
		Txns:       txnMgr,
		Catalog:    cat,
		Checkpoint: cpMgr,
		cancel:     cancel,
		eg:         eg,
	}

	eg.Go(func() error {
		return e.checkpointLoop(egCtx)
	})

	return e, nil
}

// Config returns the configuration the engine was opened with, so a caller
// that needs a setting outside the exported subsystem handles (index node
// sizes, for instance) doesn't have to re-derive it.
func (e *Engine) Config() Config { return e.cfg }

// checkpointLoop takes a checkpoint every cfg.CheckpointInterval until ctx
// is cancelled by Close.
func (e *Engine) checkpointLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Checkpoint.TakeCheckpoint(); err != nil {
				e.logger.Error("periodic checkpoint failed", zap.Error(err))
			}
		}
	}
}

// Close stops the background checkpoint loop and the deadlock detector,
// takes one final checkpoint, stops the log flusher, and closes the
// catalog and the underlying files.
func (e *Engine) Close() error {
	e.cancel()
	if err := e.eg.Wait(); err != nil {
		e.logger.Error("checkpoint loop exited with error", zap.Error(err))
	}

	e.Locks.Stop()

	if err := e.Checkpoint.TakeCheckpoint(); err != nil {
		e.logger.Warn("final checkpoint failed", zap.Error(err))
	}

	e.Log.Stop()
	e.Catalog.Close()

	if err := e.Disk.Close(); err != nil {
		return fmt.Errorf("engine: close disk: %w", err)
	}
	return nil
}
