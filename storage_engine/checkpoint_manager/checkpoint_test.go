package checkpoint

import (
	"bytes"
	"testing"

	"nsfslite/storage_engine/bufferpool"
	diskmanager "nsfslite/storage_engine/disk_manager"
	"nsfslite/storage_engine/wal_manager"
	"nsfslite/types"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	fs   afero.Fs
	disk *diskmanager.DiskManager
	pool *bufferpool.BufferPool
	wal  *wal_manager.WALManager
	cm   *CheckpointManager
}

func openStack(t *testing.T, fs afero.Fs) *stack {
	t.Helper()
	disk, err := diskmanager.Open(fs, "main.db", 128)
	require.NoError(t, err)
	pool, err := bufferpool.NewBufferPool(disk, 1<<16)
	require.NoError(t, err)
	h := disk.Header()
	wal, _, err := wal_manager.OpenWAL(fs, "main.wal", h.StoreID, h.CheckpointLSN)
	require.NoError(t, err)
	return &stack{fs: fs, disk: disk, pool: pool, wal: wal, cm: NewCheckpointManager(disk, pool, wal)}
}

func (s *stack) close(t *testing.T) {
	s.pool.Close()
	require.NoError(t, s.wal.Close())
	require.NoError(t, s.disk.Close())
}

func TestCheckpointPersistsBlocksDirectoryAndFreeList(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openStack(t, fs)

	var ids []types.BlockID
	for i := 0; i < 40; i++ {
		id, _ := s.pool.Allocate()
		require.NoError(t, s.pool.Write(id, bytes.Repeat([]byte{byte(i)}, 128)))
		ids = append(ids, id)
	}
	lsn, err := s.wal.AppendOperation(&types.Operation{Type: types.OpTxnBegin, TxnID: 1})
	require.NoError(t, err)

	directory := bytes.Repeat([]byte("d"), 300) // spans several chain blocks
	cp, err := s.cm.SaveCheckpoint(Request{LSN: lsn, Directory: directory, NextTxnID: 2, NextVarID: 5})
	require.NoError(t, err)
	assert.Equal(t, 40, cp.Blocks)
	assert.Equal(t, cp, s.cm.LoadCheckpoint())
	assert.Equal(t, int64(wal_manager.FileHeaderSize), s.wal.Size())

	// Free some durable blocks: they stay pending until the next checkpoint.
	for _, id := range ids[:10] {
		s.pool.Free(id)
	}
	assert.Equal(t, 10, s.disk.Free().PendingCount())
	_, err = s.cm.SaveCheckpoint(Request{LSN: lsn, Directory: directory, NextTxnID: 2, NextVarID: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, s.disk.Free().PendingCount())
	freeBefore := s.disk.Free().FreeCount()
	s.close(t)

	s = openStack(t, fs)
	defer s.close(t)
	h := s.disk.Header()
	assert.Equal(t, lsn, h.CheckpointLSN)
	assert.Equal(t, uint64(2), h.NextTxnID)
	assert.Equal(t, uint64(5), h.NextVarID)
	assert.Equal(t, directory, s.disk.Directory())
	assert.Equal(t, freeBefore, s.disk.Free().FreeCount())

	for i, id := range ids[10:] {
		buf, err := s.pool.Read(id)
		require.NoError(t, err)
		assert.Equal(t, byte(i+10), buf[0])
	}

	// Every block is either free, a chain block, or still holding data.
	seen := make(map[types.BlockID]bool)
	reusable, _ := s.disk.Free().Snapshot()
	for _, id := range append(append(reusable, s.disk.MetaBlocks()...), ids[10:]...) {
		assert.False(t, seen[id], "block %d accounted twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, int(h.NumBlocks)-types.HeaderSlots)
}
