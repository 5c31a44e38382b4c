package bufferpool

import (
	"testing"

	diskmanager "nsfslite/storage_engine/disk_manager"
	"nsfslite/types"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, cacheBytes int64) (*BufferPool, *diskmanager.DiskManager) {
	t.Helper()
	dm, err := diskmanager.Open(afero.NewMemMapFs(), "main.db", 256)
	require.NoError(t, err)
	bp, err := NewBufferPool(dm, cacheBytes)
	require.NoError(t, err)
	t.Cleanup(func() {
		bp.Close()
		dm.Close()
	})
	return bp, dm
}

func fill(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestDirtyBlocksStayInMemoryUntilFlush(t *testing.T) {
	for _, cacheBytes := range []int64{0, 1 << 20} {
		bp, dm := newPool(t, cacheBytes)

		id, buf := bp.Allocate()
		assert.Len(t, buf, 256)
		assert.True(t, bp.IsDirty(id))
		require.NoError(t, bp.Write(id, fill(256, 0xAB)))

		got, err := bp.Read(id)
		require.NoError(t, err)
		assert.Equal(t, fill(256, 0xAB), got)

		// Nothing reached the file yet.
		_, err = dm.ReadBlock(id)
		assert.ErrorIs(t, err, types.ErrCorrupt)

		n, err := bp.FlushDirty()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.False(t, bp.IsDirty(id))
		assert.Equal(t, 0, bp.DirtyCount())

		onDisk, err := dm.ReadBlock(id)
		require.NoError(t, err)
		assert.Equal(t, fill(256, 0xAB), onDisk)

		got, err = bp.Read(id)
		require.NoError(t, err)
		assert.Equal(t, fill(256, 0xAB), got)
	}
}

func TestWriteToDurableBlockPanics(t *testing.T) {
	bp, _ := newPool(t, 0)
	id, _ := bp.Allocate()
	_, err := bp.FlushDirty()
	require.NoError(t, err)

	assert.Panics(t, func() { _ = bp.Write(id, make([]byte, 256)) })
}

func TestFreeFreshVersusDurable(t *testing.T) {
	bp, dm := newPool(t, 0)

	durable, _ := bp.Allocate()
	_, err := bp.FlushDirty()
	require.NoError(t, err)

	fresh, _ := bp.Allocate()
	bp.Free(fresh)
	assert.Equal(t, 1, dm.Free().FreeCount())
	assert.False(t, bp.IsDirty(fresh))

	bp.Free(durable)
	stats := bp.GetStats()
	assert.Equal(t, 1, stats.PendingBlocks)
	assert.Equal(t, 1, stats.FreeBlocks)

	// The fresh block is reused before the file grows.
	again, _ := bp.Allocate()
	assert.Equal(t, fresh, again)
}

func TestWriteRejectsWrongSize(t *testing.T) {
	bp, _ := newPool(t, 0)
	id, _ := bp.Allocate()
	assert.Error(t, bp.Write(id, make([]byte, 10)))
}
