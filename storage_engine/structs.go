package storageengine

import (
	"sync"
	"sync/atomic"

	"nsfslite/storage_engine/bufferpool"
	"nsfslite/storage_engine/catalog"
	checkpoint "nsfslite/storage_engine/checkpoint_manager"
	diskmanager "nsfslite/storage_engine/disk_manager"
	txn "nsfslite/storage_engine/transaction_manager"
	"nsfslite/storage_engine/wal_manager"

	"github.com/spf13/afero"
)

// Connection owns a main store and its write-ahead log.
type Connection struct {
	opts Options
	fs   afero.Fs

	DiskManager       *diskmanager.DiskManager
	BufferPool        *bufferpool.BufferPool
	WalManager        *wal_manager.WALManager
	TxnManager        *txn.TxnManager
	CheckpointManager *checkpoint.CheckpointManager
	CatalogManager    *catalog.CatalogManager

	// stateMu guards the committed state (catalog and published trees).
	// Readers share it; publish, checkpoint and close take it exclusively.
	stateMu sync.RWMutex
	closed  atomic.Bool

	mu       sync.Mutex // guards active and poisoned
	active   *Transaction
	poisoned error
}

// Transaction is an open writer. Its changes are visible through its own
// methods and to nobody else until Commit.
type Transaction struct {
	conn  *Connection
	inner *txn.Transaction
	view  *catalog.View
	ops   int
	mark  *wal_manager.Mark // end of the WAL before this transaction's first record

	mu sync.Mutex
}

// Variable is a handle on a variable by id. It does not own anything; it
// stops working when the variable is deleted or the connection closes.
type Variable struct {
	conn *Connection
	id   uint64
	name string
}

// Stats describes a connection's store.
type Stats struct {
	MainPath      string
	WALPath       string
	BlockSize     int
	Blocks        uint64
	FreeBlocks    int
	PendingBlocks int
	DirtyBlocks   int
	CacheHits     uint64
	CacheMisses   uint64
	WALBytes      int64
	CheckpointLSN uint64
	NextLSN       uint64
	Variables     int
}
