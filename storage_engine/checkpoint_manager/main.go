package checkpoint

import (
	"time"

	"nsfslite/storage_engine/bufferpool"
	diskmanager "nsfslite/storage_engine/disk_manager"
	"nsfslite/storage_engine/wal_manager"
	"nsfslite/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

/*
This file is the main file of the checkpoint manager
A checkpoint makes the committed in-memory state the durable snapshot of the
main store, after which the WAL records it covers are dropped.

Order matters:
 1. write every dirty block
 2. write the directory and free-list chains into blocks that the current
    header does not reference
 3. sync the main store
 4. write the next header slot and sync it; this is the commit point
 5. promote pending frees and the old chain blocks to reusable
 6. truncate the WAL

A crash before 4 leaves the previous header and the full WAL. A crash after
4 leaves WAL records at or below the header's checkpoint LSN, which replay
skips.
*/

func NewCheckpointManager(disk *diskmanager.DiskManager, pool *bufferpool.BufferPool, wal *wal_manager.WALManager) *CheckpointManager {
	return &CheckpointManager{disk: disk, pool: pool, wal: wal}
}

// SaveCheckpoint runs a checkpoint. The caller holds the writer slot and
// excludes readers.
func (cm *CheckpointManager) SaveCheckpoint(req Request) (Checkpoint, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	flushed, err := cm.pool.FlushDirty()
	if err != nil {
		return Checkpoint{}, errors.WithMessage(err, "checkpoint: flush dirty blocks")
	}

	free := cm.disk.Free()
	oldMeta := cm.disk.MetaBlocks()

	dirBlocks := make([]types.BlockID, cm.disk.ChainBlocksFor(len(req.Directory)))
	for i := range dirBlocks {
		dirBlocks[i] = free.Allocate()
	}

	// The free-list chain lists blocks reusable after this checkpoint, which
	// shrinks as the chain takes blocks for itself.
	var flBlocks []types.BlockID
	for {
		reusable, pending := free.Snapshot()
		n := len(reusable) + len(pending) + len(oldMeta)
		if cm.disk.ChainBlocksFor(8*n) <= len(flBlocks) {
			break
		}
		flBlocks = append(flBlocks, free.Allocate())
	}
	reusable, pending := free.Snapshot()
	ids := make([]types.BlockID, 0, len(reusable)+len(pending)+len(oldMeta))
	ids = append(append(append(ids, reusable...), pending...), oldMeta...)
	payload := diskmanager.EncodeBlockIDs(ids)

	dirHead, err := cm.disk.WriteChain(dirBlocks, types.BlockTypeDirectory, req.Directory)
	if err != nil {
		return Checkpoint{}, errors.WithMessage(err, "checkpoint: write directory")
	}
	flHead, err := cm.disk.WriteChain(flBlocks, types.BlockTypeFreeList, payload)
	if err != nil {
		return Checkpoint{}, errors.WithMessage(err, "checkpoint: write free list")
	}
	if err := cm.disk.Sync(); err != nil {
		return Checkpoint{}, err
	}

	h := cm.disk.Header()
	h.CheckpointLSN = req.LSN
	h.NextTxnID = req.NextTxnID
	h.NextVarID = req.NextVarID
	h.NumBlocks = uint64(free.Next())
	h.DirectoryHead = dirHead
	h.FreeListHead = flHead
	if err := cm.disk.WriteHeader(h, append(dirBlocks, flBlocks...)); err != nil {
		return Checkpoint{}, errors.WithMessage(err, "checkpoint: write header")
	}

	free.Promote()
	for _, id := range oldMeta {
		free.Release(id)
	}

	if err := cm.wal.Checkpoint(req.LSN); err != nil {
		return Checkpoint{}, errors.WithMessage(err, "checkpoint: truncate wal")
	}

	cm.last = Checkpoint{LSN: req.LSN, Timestamp: time.Now(), Blocks: flushed}
	log.WithFields(log.Fields{
		"lsn":     req.LSN,
		"flushed": flushed,
		"blocks":  h.NumBlocks,
		"free":    len(ids),
		"seq":     cm.disk.Header().Seq,
	}).Info("checkpoint complete")
	return cm.last, nil
}

// LoadCheckpoint returns the last checkpoint taken by this process.
func (cm *CheckpointManager) LoadCheckpoint() Checkpoint {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.last
}
