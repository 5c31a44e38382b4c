package checkpoint

import (
	"sync"
	"time"

	"nsfslite/storage_engine/bufferpool"
	diskmanager "nsfslite/storage_engine/disk_manager"
	"nsfslite/storage_engine/wal_manager"
)

// CheckpointManager folds the WAL into the main store.
type CheckpointManager struct {
	disk *diskmanager.DiskManager
	pool *bufferpool.BufferPool
	wal  *wal_manager.WALManager

	last Checkpoint
	mu   sync.Mutex
}

// Checkpoint represents a recovery point in the WAL
type Checkpoint struct {
	LSN       uint64
	Timestamp time.Time
	Blocks    int // dirty blocks written
}

// Request carries the committed state a checkpoint makes durable.
type Request struct {
	LSN       uint64 // every record up to here is reflected in the state
	Directory []byte
	NextTxnID uint64
	NextVarID uint64
}
