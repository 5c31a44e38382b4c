package storageengine

import (
	"context"

	"nsfslite/storage_engine/bufferpool"
	"nsfslite/storage_engine/catalog"
	checkpoint "nsfslite/storage_engine/checkpoint_manager"
	diskmanager "nsfslite/storage_engine/disk_manager"
	txn "nsfslite/storage_engine/transaction_manager"
	"nsfslite/storage_engine/wal_manager"
	"nsfslite/types"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

/*
The main file of storage engine. Open wires the managers together:

	disk manager   main store file, header slots, free list
	buffer pool    dirty blocks since the last checkpoint, read cache
	catalog        variable directory loaded from the last checkpoint
	wal manager    operations logged since the last checkpoint
	txn manager    the single writer slot

then replays committed transactions from the WAL before handing out the
connection.
*/

// Open opens (or creates) the main store at mainPath and its WAL at walPath.
func Open(mainPath, walPath string, opts Options) (*Connection, error) {
	opts = opts.withDefaults()

	dm, err := diskmanager.Open(opts.Fs, mainPath, opts.BlockSize)
	if err != nil {
		return nil, errors.WithMessage(err, "open main store")
	}
	bp, err := bufferpool.NewBufferPool(dm, opts.CacheBytes)
	if err != nil {
		dm.Close()
		return nil, errors.WithMessage(err, "init buffer pool")
	}

	h := dm.Header()
	cat, err := catalog.Load(dm.Directory(), h.NextVarID)
	if err != nil {
		bp.Close()
		dm.Close()
		return nil, errors.WithMessage(err, "load directory")
	}

	wal, info, err := wal_manager.OpenWAL(opts.Fs, walPath, h.StoreID, h.CheckpointLSN)
	if err != nil {
		bp.Close()
		dm.Close()
		return nil, errors.WithMessage(err, "open wal")
	}
	walTornBytesTotal.Add(float64(info.TornBytes))

	c := &Connection{
		opts:              opts,
		fs:                opts.Fs,
		DiskManager:       dm,
		BufferPool:        bp,
		WalManager:        wal,
		TxnManager:        txn.NewTxnManager(h.NextTxnID),
		CheckpointManager: checkpoint.NewCheckpointManager(dm, bp, wal),
		CatalogManager:    cat,
	}

	if err := c.RecoverFromWAL(h.CheckpointLSN); err != nil {
		c.closeFiles()
		return nil, err
	}
	openConnections.Inc()

	log.WithFields(log.Fields{
		"main":      mainPath,
		"wal":       walPath,
		"blockSize": dm.BlockSize(),
		"variables": cat.Count(),
		"size":      humanize.IBytes(uint64(dm.Header().NumBlocks) * uint64(dm.BlockSize())),
	}).Info("opened store")
	return c, nil
}

// Close aborts an open transaction, checkpoints, and closes both files.
// Every later call on the connection or its handles fails with ErrClosed.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return errors.Wrap(types.ErrClosed, "close")
	}
	c.closed.Store(true)
	active := c.active
	c.mu.Unlock()

	if active != nil {
		active.mu.Lock()
		if active.inner.State == txn.TxnActive {
			log.WithField("txn", active.inner.ID).Warn("closing with an open transaction, aborting it")
			active.logAbort()
			active.rollbackLocked("close")
		}
		active.mu.Unlock()
	}

	// Hold the writer slot so no transaction starts underneath the final
	// checkpoint.
	slot, err := c.TxnManager.Begin(context.Background(), c.BufferPool, false)
	if err != nil {
		return err
	}
	defer c.TxnManager.Abort(slot)

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	var firstErr error
	if c.poisonErr() == nil {
		firstErr = c.checkpointLocked()
	}
	if err := c.closeFiles(); err != nil && firstErr == nil {
		firstErr = err
	}
	openConnections.Dec()
	log.WithField("main", c.DiskManager.Path()).Info("closed store")
	return firstErr
}

func (c *Connection) closeFiles() error {
	c.BufferPool.Close()
	var firstErr error
	if err := c.WalManager.Close(); err != nil {
		firstErr = err
	}
	if err := c.DiskManager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Checkpoint folds the WAL into the main store now. It waits for the writer
// slot like Begin does.
func (c *Connection) Checkpoint(ctx context.Context) error {
	if err := c.writable(); err != nil {
		return err
	}
	slot, err := c.TxnManager.Begin(ctx, c.BufferPool, c.opts.NonBlocking)
	if err != nil {
		return err
	}
	defer c.TxnManager.Abort(slot)

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.closed.Load() {
		return errors.Wrap(types.ErrClosed, "checkpoint")
	}
	return c.checkpointLocked()
}

// checkpointLocked runs with the writer slot held and stateMu locked.
func (c *Connection) checkpointLocked() error {
	dir, err := c.CatalogManager.Encode()
	if err != nil {
		return errors.Wrap(err, "encode directory")
	}
	if _, err := c.CheckpointManager.SaveCheckpoint(checkpoint.Request{
		LSN:       c.WalManager.NextLSN() - 1,
		Directory: dir,
		NextTxnID: c.TxnManager.NextID(),
		NextVarID: c.CatalogManager.NextID(),
	}); err != nil {
		return err
	}
	checkpointsTotal.Inc()
	return nil
}

// Stat reports the store's shape.
func (c *Connection) Stat() (Stats, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.closed.Load() {
		return Stats{}, errors.Wrap(types.ErrClosed, "stat")
	}

	bs := c.BufferPool.GetStats()
	h := c.DiskManager.Header()
	return Stats{
		MainPath:      c.DiskManager.Path(),
		WALPath:       c.walPath(),
		BlockSize:     c.DiskManager.BlockSize(),
		Blocks:        uint64(bs.NextBlock),
		FreeBlocks:    bs.FreeBlocks,
		PendingBlocks: bs.PendingBlocks,
		DirtyBlocks:   bs.DirtyBlocks,
		CacheHits:     bs.CacheHits,
		CacheMisses:   bs.CacheMisses,
		WALBytes:      c.WalManager.Size(),
		CheckpointLSN: h.CheckpointLSN,
		NextLSN:       c.WalManager.NextLSN(),
		Variables:     c.CatalogManager.Count(),
	}, nil
}

func (c *Connection) walPath() string { return c.WalManager.Path() }

// writable fails once the connection is closed or a WAL failure left it
// unable to log.
func (c *Connection) writable() error {
	if c.closed.Load() {
		return errors.Wrap(types.ErrClosed, "connection")
	}
	if err := c.poisonErr(); err != nil {
		return errors.WithMessage(err, "connection refuses writes after a wal failure")
	}
	return nil
}

func (c *Connection) poison(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poisoned == nil {
		c.poisoned = err
		log.WithError(err).Error("wal failure, connection no longer accepts writes")
	}
}

func (c *Connection) poisonErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poisoned
}

// committed reads blocks of the published state.
type committed struct{ *bufferpool.BufferPool }

func (r committed) ReadBlock(id types.BlockID) ([]byte, error) { return r.Read(id) }
