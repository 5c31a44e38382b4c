package bufferpool

import (
	"sync"
	"sync/atomic"

	diskmanager "nsfslite/storage_engine/disk_manager"
	"nsfslite/types"

	"github.com/dgraph-io/ristretto/v2"
)

// ############################################# BUFFER POOL #############################################

// BufferPool holds every block allocated since the last checkpoint (the dirty
// set) and caches durable blocks read from the main store.
type BufferPool struct {
	diskManager *diskmanager.DiskManager
	blockSize   int

	dirty map[types.BlockID][]byte
	cache *ristretto.Cache[uint64, []byte] // nil when caching is disabled

	hits   atomic.Uint64
	misses atomic.Uint64

	mu sync.RWMutex
}

// BufferPoolStats is a point-in-time view of the pool.
type BufferPoolStats struct {
	DirtyBlocks   int
	FreeBlocks    int
	PendingBlocks int
	NextBlock     types.BlockID
	CacheHits     uint64
	CacheMisses   uint64
}
