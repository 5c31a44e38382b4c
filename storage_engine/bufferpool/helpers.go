package bufferpool

/*
This file holds helper functions for the bufferpool
*/

// GetStats returns current buffer pool statistics
func (bp *BufferPool) GetStats() BufferPoolStats {
	bp.mu.RLock()
	defer bp.mu.RUnlock()

	free := bp.diskManager.Free()
	return BufferPoolStats{
		DirtyBlocks:   len(bp.dirty),
		FreeBlocks:    free.FreeCount(),
		PendingBlocks: free.PendingCount(),
		NextBlock:     free.Next(),
		CacheHits:     bp.hits.Load(),
		CacheMisses:   bp.misses.Load(),
	}
}

// DirtyCount returns the number of blocks awaiting a checkpoint.
func (bp *BufferPool) DirtyCount() int {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return len(bp.dirty)
}

// Close releases the block cache.
func (bp *BufferPool) Close() {
	if bp.cache != nil {
		bp.cache.Close()
	}
}
