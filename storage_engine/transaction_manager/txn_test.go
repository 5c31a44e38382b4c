package txn

import (
	"context"
	"testing"
	"time"

	"nsfslite/storage_engine/bufferpool"
	diskmanager "nsfslite/storage_engine/disk_manager"
	"nsfslite/types"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T) *bufferpool.BufferPool {
	t.Helper()
	dm, err := diskmanager.Open(afero.NewMemMapFs(), "main.db", 128)
	require.NoError(t, err)
	bp, err := bufferpool.NewBufferPool(dm, 0)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return bp
}

func TestWriterSlotIsExclusive(t *testing.T) {
	tm := NewTxnManager(7)
	bp := newPool(t)

	first, err := tm.Begin(context.Background(), bp, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), first.ID)
	assert.Equal(t, first, tm.Active())

	_, err = tm.Begin(context.Background(), bp, true)
	assert.ErrorIs(t, err, types.ErrBusy)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tm.Begin(ctx, bp, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A blocked Begin proceeds once the slot frees up.
	got := make(chan *Transaction)
	go func() {
		txn, err := tm.Begin(context.Background(), bp, false)
		assert.NoError(t, err)
		got <- txn
	}()
	require.NoError(t, tm.Commit(first))
	second := <-got
	assert.Equal(t, uint64(8), second.ID)

	assert.ErrorIs(t, tm.Commit(first), types.ErrTxnDone)
	require.NoError(t, tm.Abort(second))
	assert.Equal(t, TxnAborted, second.State)
	assert.Nil(t, tm.Active())
}

func TestObserveRaisesNextID(t *testing.T) {
	tm := NewTxnManager(0)
	assert.Equal(t, uint64(1), tm.NextID())
	tm.Observe(41)
	tm.Observe(3)
	assert.Equal(t, uint64(42), tm.NextID())
}

func TestAbortReleasesPrivateBlocks(t *testing.T) {
	tm := NewTxnManager(1)
	bp := newPool(t)

	// A committed block from an earlier transaction.
	setup, err := tm.Begin(context.Background(), bp, false)
	require.NoError(t, err)
	committed, err := setup.AllocateBlock()
	require.NoError(t, err)
	setup.ApplyFrees()
	require.NoError(t, tm.Commit(setup))
	_, err = bp.FlushDirty()
	require.NoError(t, err)

	txn, err := tm.Begin(context.Background(), bp, false)
	require.NoError(t, err)
	a, err := txn.AllocateBlock()
	require.NoError(t, err)
	b, err := txn.AllocateBlock()
	require.NoError(t, err)
	assert.True(t, txn.Writable(a))
	assert.False(t, txn.Writable(committed))
	assert.Error(t, txn.WriteBlock(committed, make([]byte, 128)))

	require.NoError(t, txn.FreeBlock(b)) // private: released now
	require.NoError(t, txn.FreeBlock(committed))
	allocated, freed := txn.Footprint()
	assert.Equal(t, 1, allocated)
	assert.Equal(t, 1, freed)

	txn.ReleaseAllocations()
	require.NoError(t, tm.Abort(txn))

	stats := bp.GetStats()
	assert.Equal(t, 0, stats.DirtyBlocks)
	assert.Equal(t, 2, stats.FreeBlocks)
	assert.Equal(t, 0, stats.PendingBlocks, "the committed block stays in use after abort")
	assert.False(t, txn.Writable(a))
}

func TestApplyFreesDefersCommittedBlocks(t *testing.T) {
	tm := NewTxnManager(1)
	bp := newPool(t)

	setup, err := tm.Begin(context.Background(), bp, false)
	require.NoError(t, err)
	committed, err := setup.AllocateBlock()
	require.NoError(t, err)
	require.NoError(t, tm.Commit(setup))
	_, err = bp.FlushDirty()
	require.NoError(t, err)

	txn, err := tm.Begin(context.Background(), bp, false)
	require.NoError(t, err)
	require.NoError(t, txn.FreeBlock(committed))
	txn.ApplyFrees()
	require.NoError(t, tm.Commit(txn))

	assert.Equal(t, 1, bp.GetStats().PendingBlocks)
}
