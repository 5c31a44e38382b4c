package bufferpool

import (
	"slices"

	diskmanager "nsfslite/storage_engine/disk_manager"
	"nsfslite/types"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

/*
This file is the main file of the bufferpool

Blocks live in one of two places:
dirty: allocated since the last checkpoint, held in memory until FlushDirty
durable: on disk, read through a ristretto cache bounded by bytes

Only dirty blocks may be written. A durable block is never overwritten; the
tree copies it into a fresh block instead, and the old one is freed. Freeing a
dirty block returns it to the free list at once, freeing a durable one defers
it until the next checkpoint, because the current header still references it.

Buffers returned by Read are shared and must not be modified.
*/

func NewBufferPool(diskManager *diskmanager.DiskManager, cacheBytes int64) (*BufferPool, error) {
	bp := &BufferPool{
		diskManager: diskManager,
		blockSize:   diskManager.BlockSize(),
		dirty:       make(map[types.BlockID][]byte),
	}
	if cacheBytes > 0 {
		blocks := max(cacheBytes/int64(bp.blockSize), 1)
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
			NumCounters: 10 * blocks,
			MaxCost:     cacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, errors.WithMessage(err, "bufferpool: create block cache")
		}
		bp.cache = cache
	}
	return bp, nil
}

func (bp *BufferPool) BlockSize() int { return bp.blockSize }

// Allocate reserves a block and returns its zeroed, writable buffer.
func (bp *BufferPool) Allocate() (types.BlockID, []byte) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	id := bp.diskManager.Free().Allocate()
	buf := make([]byte, bp.blockSize)
	bp.dirty[id] = buf
	if bp.cache != nil {
		bp.cache.Del(uint64(id))
	}
	return id, buf
}

// Read returns the current content of a block.
func (bp *BufferPool) Read(id types.BlockID) ([]byte, error) {
	bp.mu.RLock()
	if buf, ok := bp.dirty[id]; ok {
		bp.mu.RUnlock()
		return buf, nil
	}
	bp.mu.RUnlock()

	if bp.cache != nil {
		if buf, ok := bp.cache.Get(uint64(id)); ok {
			bp.hits.Add(1)
			return buf, nil
		}
	}
	bp.misses.Add(1)

	buf, err := bp.diskManager.ReadBlock(id)
	if err != nil {
		return nil, err
	}
	if bp.cache != nil {
		bp.cache.Set(uint64(id), buf, int64(len(buf)))
	}
	return buf, nil
}

// Write replaces the content of a dirty block. buf is retained.
func (bp *BufferPool) Write(id types.BlockID, buf []byte) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if _, ok := bp.dirty[id]; !ok {
		log.WithField("block", id).Panic("write to a durable block")
	}
	if len(buf) != bp.blockSize {
		return errors.Errorf("bufferpool: block %d: buffer of %d bytes, block size %d", id, len(buf), bp.blockSize)
	}
	bp.dirty[id] = buf
	return nil
}

// IsDirty reports whether id was allocated since the last checkpoint.
func (bp *BufferPool) IsDirty(id types.BlockID) bool {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	_, ok := bp.dirty[id]
	return ok
}

func (bp *BufferPool) Free(id types.BlockID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if _, ok := bp.dirty[id]; ok {
		delete(bp.dirty, id)
		bp.diskManager.Free().Release(id)
		return
	}
	bp.diskManager.Free().Defer(id)
}

// FlushDirty writes every dirty block to the main store, lowest id first,
// and moves them to the cache. The caller syncs the file.
func (bp *BufferPool) FlushDirty() (int, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	ids := make([]types.BlockID, 0, len(bp.dirty))
	for id := range bp.dirty {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		buf := bp.dirty[id]
		if err := bp.diskManager.WriteBlock(id, buf); err != nil {
			return 0, err
		}
		if bp.cache != nil {
			bp.cache.Set(uint64(id), buf, int64(len(buf)))
		}
		delete(bp.dirty, id)
	}
	if bp.cache != nil {
		bp.cache.Wait()
	}
	log.WithField("blocks", len(ids)).Debug("flushed dirty blocks")
	return len(ids), nil
}
