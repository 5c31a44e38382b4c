package storageengine

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"nsfslite/storage_engine/wal_manager"
	"nsfslite/types"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(fs afero.Fs) Options {
	return Options{BlockSize: 128, CacheBytes: 1 << 16, CheckpointBytes: -1, Fs: fs}
}

func open(t *testing.T, fs afero.Fs, opts Options) *Connection {
	t.Helper()
	opts.Fs = fs
	c, err := Open("main.db", "main.wal", opts)
	require.NoError(t, err)
	return c
}

func content(t *testing.T, c *Connection, name string) string {
	t.Helper()
	v, err := c.Get(name)
	require.NoError(t, err)
	n, err := v.Len()
	require.NoError(t, err)
	b, err := v.Read(0, int64(n), 1)
	require.NoError(t, err)
	return string(b)
}

func TestConcreteScenario(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	defer c.Close()

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("abcdef")))

	n, err := v.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)

	got, err := v.Read(1, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("bcde"), got)

	require.NoError(t, v.Write(1, 5, 1, []byte("XXXX")))
	assert.Equal(t, "aXXXXf", content(t, c, "v"))

	removed, err := v.Remove(0, 6, 2, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("aXX"), removed)
	assert.Equal(t, "XXf", content(t, c, "v"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))

	big := make([]byte, 5000)
	for i := range big {
		big[i] = byte(i % 251)
	}
	v, err := c.Create("big")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, big))
	_, err = c.Create("empty")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// The block size recorded in the store wins over the option.
	c = open(t, fs, Options{BlockSize: 4096, CheckpointBytes: -1})
	defer c.Close()
	assert.Equal(t, string(big), content(t, c, "big"))
	assert.Equal(t, "", content(t, c, "empty"))

	st, err := c.Stat()
	require.NoError(t, err)
	assert.Equal(t, 128, st.BlockSize)
	assert.Equal(t, 2, st.Variables)
	assert.Equal(t, int64(wal_manager.FileHeaderSize), st.WALBytes)
	assert.Equal(t, 0, st.DirtyBlocks)
}

func TestCommittedTransactionsAreReplayedAfterCrash(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("hello")))
	require.NoError(t, c.Update(context.Background(), func(tx *Transaction) error {
		if err := tx.Insert(v.ID(), 5, []byte(" world")); err != nil {
			return err
		}
		w, err := tx.Create("w")
		if err != nil {
			return err
		}
		return tx.Insert(w.ID(), 0, []byte("second"))
	}))
	// Crash: nothing was checkpointed, the WAL holds every commit.

	c2 := open(t, fs, testOptions(fs))
	defer c2.Close()
	assert.Equal(t, "hello world", content(t, c2, "v"))
	assert.Equal(t, "second", content(t, c2, "w"))

	// Recovery checkpointed, so the WAL is empty again.
	st, err := c2.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(wal_manager.FileHeaderSize), st.WALBytes)

	// Ids keep growing after replay.
	x, err := c2.Create("x")
	require.NoError(t, err)
	assert.Greater(t, x.ID(), v.ID())
}

func TestUncommittedTransactionIsInvisibleAfterCrash(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("committed")))

	tx, err := c.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Insert(v.ID(), 0, []byte("staged ")))
	_, err = tx.Remove(v.ID(), 0, 3, 1, false)
	require.NoError(t, err)
	_, err = tx.Create("ghost")
	require.NoError(t, err)
	// Crash with the transaction open.

	c2 := open(t, fs, testOptions(fs))
	assert.Equal(t, "committed", content(t, c2, "v"))
	_, err = c2.Get("ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// A new transaction under a fresh id commits without adopting the
	// abandoned records.
	w, err := c2.Create("w")
	require.NoError(t, err)
	require.NoError(t, c2.Close())

	c3 := open(t, fs, testOptions(fs))
	defer c3.Close()
	assert.Equal(t, "committed", content(t, c3, "v"))
	assert.Equal(t, "", content(t, c3, "w"))
	_, err = c3.Get("ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, w.ID(), mustGet(t, c3, "w").ID())
}

func mustGet(t *testing.T, c *Connection, name string) *Variable {
	t.Helper()
	v, err := c.Get(name)
	require.NoError(t, err)
	return v
}

func TestTornWALTailIsIgnored(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("durable")))

	// A record header promising 50 bytes, followed by only a few.
	f, err := fs.OpenFile("main.wal", os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 0, 0, 0, 0, 99, 0, 0, 0, 50, 1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c2 := open(t, fs, testOptions(fs))
	defer c2.Close()
	assert.Equal(t, "durable", content(t, c2, "v"))
}

func TestNameLifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	defer c.Close()

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("some bytes")))

	_, err = c.Create("v")
	assert.ErrorIs(t, err, types.ErrNameConflict)
	_, err = c.Create("")
	assert.ErrorIs(t, err, types.ErrInvalidName)

	require.NoError(t, c.Delete("v"))
	_, err = v.Len()
	assert.ErrorIs(t, err, types.ErrStaleHandle)
	_, err = v.Read(0, 1, 1)
	assert.ErrorIs(t, err, types.ErrStaleHandle)
	assert.ErrorIs(t, v.Insert(0, []byte("x")), types.ErrStaleHandle)
	assert.ErrorIs(t, c.Delete("v"), types.ErrNotFound)

	again, err := c.Create("v")
	require.NoError(t, err)
	assert.NotEqual(t, v.ID(), again.ID())
	n, err := again.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	_, err = c.Len(1000)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = c.Get("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStrideBoundsAreValidatedBeforeLogging(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	defer c.Close()

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("0123456789")))
	before, err := c.Stat()
	require.NoError(t, err)

	_, err = v.Read(0, 11, 1)
	assert.ErrorIs(t, err, types.ErrOffsetOutOfRange)
	_, err = v.Read(0, 5, 0)
	assert.ErrorIs(t, err, types.ErrInvalidStride)
	_, err = v.Read(0, 5, -1)
	assert.ErrorIs(t, err, types.ErrInvalidStride)
	_, err = v.Read(-1, 5, 1)
	assert.ErrorIs(t, err, types.ErrOffsetOutOfRange)

	assert.ErrorIs(t, v.Write(8, 12, 1, []byte("abcd")), types.ErrOffsetOutOfRange)
	assert.ErrorIs(t, v.Write(0, 10, 3, []byte("ab")), types.ErrLengthMismatch)
	assert.ErrorIs(t, v.Write(0, 10, 0, nil), types.ErrInvalidStride)
	_, err = v.Remove(0, 10, 0, false)
	assert.ErrorIs(t, err, types.ErrInvalidStride)
	_, err = v.Remove(9, 11, 1, false)
	assert.ErrorIs(t, err, types.ErrOffsetOutOfRange)
	assert.ErrorIs(t, v.Insert(11, []byte("x")), types.ErrOffsetOutOfRange)
	assert.ErrorIs(t, v.Insert(-1, []byte("x")), types.ErrOffsetOutOfRange)

	after, err := c.Stat()
	require.NoError(t, err)
	assert.Equal(t, before.WALBytes, after.WALBytes)
	assert.Equal(t, "0123456789", content(t, c, "v"))

	// Positions may run up to stop as long as the last one is in range.
	got, err := v.Read(1, 100, 4)
	assert.ErrorIs(t, err, types.ErrOffsetOutOfRange)
	assert.Nil(t, got)
	got, err = v.Read(1, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("159"), got)

	got, err = v.Read(7, 3, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
	removed, err := v.Remove(5, 5, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, removed)
}

func TestStrideHelper(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	defer c.Close()

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("abcdefghij")))

	s := Stride{Start: 1, Step: 3, Count: 3}
	start, stop, step := s.Bounds()
	assert.Equal(t, []int64{1, 8, 3}, []int64{start, stop, step})

	got, err := v.ReadStride(s)
	require.NoError(t, err)
	assert.Equal(t, []byte("beh"), got)

	require.NoError(t, v.WriteStride(s, []byte("BEH")))
	assert.Equal(t, "aBcdEfgHij", content(t, c, "v"))

	removed, err := v.RemoveStride(s, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("BEH"), removed)
	assert.Equal(t, "acdfgij", content(t, c, "v"))

	got, err = v.ReadStride(Stride{Start: 2, Step: 1})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTransactionReadsItsOwnWritesOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	defer c.Close()

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("base")))

	tx, err := c.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Insert(v.ID(), 4, []byte("+tx")))
	w, err := tx.Create("w")
	require.NoError(t, err)

	got, err := tx.Read(v.ID(), 0, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("base+tx"), got)
	n, err := tx.Len(w.ID())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
	seen, err := tx.Get("w")
	require.NoError(t, err)
	assert.Equal(t, w.ID(), seen.ID())

	// Other readers see the committed state.
	assert.Equal(t, "base", content(t, c, "v"))
	_, err = c.Get("w")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// A validation failure leaves the transaction usable.
	assert.ErrorIs(t, tx.Insert(v.ID(), 100, []byte("x")), types.ErrOffsetOutOfRange)
	require.NoError(t, tx.Write(v.ID(), 0, 1, 1, []byte("B")))

	require.NoError(t, tx.Abort())
	assert.ErrorIs(t, tx.Commit(), types.ErrTxnDone)
	assert.ErrorIs(t, tx.Insert(v.ID(), 0, []byte("x")), types.ErrTxnDone)
	assert.Equal(t, "base", content(t, c, "v"))

	// Aborted blocks went back to the free list.
	st, err := c.Stat()
	require.NoError(t, err)
	assert.Equal(t, 0, st.PendingBlocks)
}

func TestCommitPublishesAndFreesReplacedBlocks(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	defer c.Close()

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, make([]byte, 1000)))
	require.NoError(t, c.Checkpoint(context.Background()))

	// Replacing durable blocks defers their release to the next checkpoint.
	require.NoError(t, v.Write(0, 1000, 1, make([]byte, 1000)))
	st, err := c.Stat()
	require.NoError(t, err)
	assert.Greater(t, st.PendingBlocks, 0)

	require.NoError(t, c.Checkpoint(context.Background()))
	st, err = c.Stat()
	require.NoError(t, err)
	assert.Equal(t, 0, st.PendingBlocks)
	assert.Greater(t, st.FreeBlocks, 0)

	// Freed blocks are reused before the file grows.
	blocks := st.Blocks
	require.NoError(t, c.Delete("v"))
	w, err := c.Create("w")
	require.NoError(t, err)
	require.NoError(t, w.Insert(0, make([]byte, 500)))
	st, err = c.Stat()
	require.NoError(t, err)
	assert.Equal(t, blocks, st.Blocks)
}

func TestBusyAndWaiting(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := testOptions(fs)
	opts.NonBlocking = true
	c := open(t, fs, opts)
	defer c.Close()

	v, err := c.Create("v")
	require.NoError(t, err)

	tx, err := c.Begin(context.Background())
	require.NoError(t, err)

	_, err = c.Begin(context.Background())
	assert.ErrorIs(t, err, types.ErrBusy)
	assert.ErrorIs(t, v.Insert(0, []byte("x")), types.ErrBusy)

	// Readers are not blocked by the open writer.
	n, err := v.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	require.NoError(t, tx.Commit())
	require.NoError(t, v.Insert(0, []byte("x")))
}

func TestBeginWaitsForTheWriterSlot(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	defer c.Close()

	tx, err := c.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		tx2, err := c.Begin(context.Background())
		if err == nil {
			err = tx2.Commit()
		}
		done <- err
	}()
	require.NoError(t, tx.Commit())
	require.NoError(t, <-done)
}

func TestUpdateAbortsOnErrorAndPanic(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	defer c.Close()

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("keep")))

	err = c.Update(context.Background(), func(tx *Transaction) error {
		if err := tx.Insert(v.ID(), 0, []byte("lost ")); err != nil {
			return err
		}
		return tx.Delete("nope")
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, "keep", content(t, c, "v"))

	assert.Panics(t, func() {
		_ = c.Update(context.Background(), func(tx *Transaction) error {
			_ = tx.Insert(v.ID(), 0, []byte("lost "))
			panic("boom")
		})
	})
	assert.Equal(t, "keep", content(t, c, "v"))

	require.NoError(t, c.Update(context.Background(), func(tx *Transaction) error {
		if err := tx.Delete("v"); err != nil {
			return err
		}
		w, err := tx.Create("v")
		if err != nil {
			return err
		}
		return tx.Insert(w.ID(), 0, []byte("fresh"))
	}))
	assert.Equal(t, "fresh", content(t, c, "v"))
	_, err = v.Len()
	assert.ErrorIs(t, err, types.ErrStaleHandle)
}

func TestCloseAbortsOpenTransaction(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("before")))

	tx, err := c.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Insert(v.ID(), 0, []byte("never ")))
	require.NoError(t, c.Close())

	assert.ErrorIs(t, tx.Commit(), types.ErrClosed)
	assert.ErrorIs(t, tx.Insert(v.ID(), 0, []byte("x")), types.ErrClosed)
	_, err = v.Len()
	assert.ErrorIs(t, err, types.ErrClosed)
	_, err = v.Read(0, 1, 1)
	assert.ErrorIs(t, err, types.ErrClosed)
	_, err = c.Get("v")
	assert.ErrorIs(t, err, types.ErrClosed)
	_, err = c.Begin(context.Background())
	assert.ErrorIs(t, err, types.ErrClosed)
	_, err = c.Stat()
	assert.ErrorIs(t, err, types.ErrClosed)
	assert.ErrorIs(t, c.Close(), types.ErrClosed)

	c = open(t, fs, testOptions(fs))
	defer c.Close()
	assert.Equal(t, "before", content(t, c, "v"))
}

func TestRandomSplicesMatchModelAcrossReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := testOptions(fs)
	opts.CheckpointBytes = 4096
	c := open(t, fs, opts)

	rnd := rand.New(rand.NewSource(7))
	names := []string{"a", "b", "c"}
	model := make(map[string][]byte)
	for _, name := range names {
		_, err := c.Create(name)
		require.NoError(t, err)
		model[name] = []byte{}
	}

	randBytes := func(n int) []byte {
		b := make([]byte, n)
		rnd.Read(b)
		return b
	}

	for step := 0; step < 400; step++ {
		name := names[rnd.Intn(len(names))]
		v, err := c.Get(name)
		require.NoError(t, err)
		cur := model[name]

		switch k := rnd.Intn(10); {
		case k < 4 || len(cur) == 0:
			off := rnd.Intn(len(cur) + 1)
			data := randBytes(1 + rnd.Intn(300))
			require.NoError(t, v.Insert(int64(off), data))
			next := append(append(append([]byte{}, cur[:off]...), data...), cur[off:]...)
			model[name] = next

		case k < 7:
			start := rnd.Intn(len(cur))
			stride := 1 + rnd.Intn(4)
			stop := start + 1 + rnd.Intn(len(cur)-start)
			var want, kept []byte
			for i := range cur {
				if i >= start && i < stop && (i-start)%stride == 0 {
					want = append(want, cur[i])
				} else {
					kept = append(kept, cur[i])
				}
			}
			got, err := v.Remove(int64(start), int64(stop), int64(stride), true)
			require.NoError(t, err)
			require.Equal(t, want, got)
			model[name] = append([]byte{}, kept...)

		default:
			start := rnd.Intn(len(cur))
			stride := 1 + rnd.Intn(3)
			stop := start + 1 + rnd.Intn(len(cur)-start)
			count := (stop-start-1)/stride + 1
			data := randBytes(count)
			require.NoError(t, v.Write(int64(start), int64(stop), int64(stride), data))
			for i := 0; i < count; i++ {
				cur[start+i*stride] = data[i]
			}
		}

		if step%100 == 99 {
			require.NoError(t, c.Close())
			c = open(t, fs, opts)
		}
		require.Equal(t, string(model[name]), content(t, c, name), "step %d", step)
	}

	for _, name := range names {
		assert.Equal(t, string(model[name]), content(t, c, name))
		stats, err := c.Inspect(name, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(len(model[name])), stats.Bytes)
	}
	require.NoError(t, c.Close())
}

func TestInspectDumpsCommittedTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	defer c.Close()

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, bytes.Repeat([]byte("z"), 1000)))

	var buf bytes.Buffer
	stats, err := c.Inspect("v", &buf, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), stats.Bytes)
	assert.GreaterOrEqual(t, stats.Height, 1)
	assert.Greater(t, stats.Leaves, 1)
	assert.Contains(t, buf.String(), "zzzz")

	_, err = c.Inspect("missing", nil, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAbortedCreateDoesNotLendItsID(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))

	tx, err := c.Begin(context.Background())
	require.NoError(t, err)
	aborted, err := tx.Create("a")
	require.NoError(t, err)
	require.NoError(t, tx.Insert(aborted.ID(), 0, []byte("draft")))
	require.NoError(t, tx.Abort())

	b, err := c.Create("b")
	require.NoError(t, err)
	assert.NotEqual(t, aborted.ID(), b.ID())
	require.NoError(t, b.Insert(0, []byte("secret")))

	_, err = aborted.Len()
	assert.ErrorIs(t, err, types.ErrStaleHandle)
	_, err = aborted.Read(0, 1, 1)
	assert.ErrorIs(t, err, types.ErrStaleHandle)
	assert.ErrorIs(t, aborted.Insert(0, []byte("x")), types.ErrStaleHandle)
	assert.Equal(t, "secret", content(t, c, "b"))

	// Crash before any checkpoint: replay must reserve the id again.
	tx, err = c.Begin(context.Background())
	require.NoError(t, err)
	ghost, err := tx.Create("ghost")
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ghost.ID(), 0, []byte("x")))
	require.NoError(t, tx.Abort())

	c2 := open(t, fs, testOptions(fs))
	defer c2.Close()
	d, err := c2.Create("d")
	require.NoError(t, err)
	assert.Greater(t, d.ID(), ghost.ID())
	assert.Equal(t, "secret", content(t, c2, "b"))
}

// flakyFs fails the next syncFailures Sync calls on files named name.
type flakyFs struct {
	afero.Fs
	name         string
	syncFailures atomic.Int32
}

type flakyFile struct {
	afero.File
	fs *flakyFs
}

func (fs *flakyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := fs.Fs.OpenFile(name, flag, perm)
	if err != nil || name != fs.name {
		return f, err
	}
	return flakyFile{File: f, fs: fs}, nil
}

func (f flakyFile) Sync() error {
	if f.fs.syncFailures.Add(-1) >= 0 {
		return errors.New("sync: input/output error")
	}
	f.fs.syncFailures.Store(0)
	return f.File.Sync()
}

func TestFailedCommitSyncLeavesNoTrace(t *testing.T) {
	fs := &flakyFs{Fs: afero.NewMemMapFs(), name: "main.wal"}
	c := open(t, fs, testOptions(fs))

	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, []byte("abc")))
	walBefore, err := c.Stat()
	require.NoError(t, err)

	fs.syncFailures.Store(1)
	err = v.Insert(0, []byte("zzz"))
	assert.ErrorIs(t, err, types.ErrIOFailure)

	// Nothing of the failed commit is visible, and its records are gone.
	n, err := v.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	assert.Equal(t, "abc", content(t, c, "v"))
	st, err := c.Stat()
	require.NoError(t, err)
	assert.Equal(t, walBefore.WALBytes, st.WALBytes)

	// The connection refuses further writes.
	assert.ErrorIs(t, v.Insert(0, []byte("x")), types.ErrIOFailure)
	_, err = c.Create("w")
	assert.ErrorIs(t, err, types.ErrIOFailure)
	_, err = c.Begin(context.Background())
	assert.ErrorIs(t, err, types.ErrIOFailure)
	require.NoError(t, c.Close())

	c2 := open(t, fs, testOptions(fs))
	defer c2.Close()
	assert.Equal(t, "abc", content(t, c2, "v"))
	require.NoError(t, mustGet(t, c2, "v").Insert(3, []byte("d")))
	assert.Equal(t, "abcd", content(t, c2, "v"))
}

func TestOversizedOperationIsRejectedBeforeLogging(t *testing.T) {
	defer func(old int64) { wal_manager.MaxRecordSize = old }(wal_manager.MaxRecordSize)
	wal_manager.MaxRecordSize = 256

	fs := afero.NewMemMapFs()
	c := open(t, fs, testOptions(fs))
	v, err := c.Create("v")
	require.NoError(t, err)
	require.NoError(t, v.Insert(0, bytes.Repeat([]byte("a"), 100)))

	before, err := c.Stat()
	require.NoError(t, err)

	big := make([]byte, 300)
	rand.New(rand.NewSource(1)).Read(big)
	err = v.Insert(0, big)
	assert.ErrorIs(t, err, types.ErrTooLarge)
	assert.True(t, types.IsValidation(err))

	// Inside a transaction the rejection leaves it open and unlogged.
	require.NoError(t, c.Update(context.Background(), func(tx *Transaction) error {
		_, err := tx.Create(string(bytes.Repeat([]byte("n"), 300)))
		assert.ErrorIs(t, err, types.ErrTooLarge)
		return tx.Insert(v.ID(), 100, []byte("b"))
	}))

	after, err := c.Stat()
	require.NoError(t, err)
	assert.Greater(t, after.WALBytes, before.WALBytes)
	require.NoError(t, c.Close())

	c2 := open(t, fs, testOptions(fs))
	defer c2.Close()
	assert.Equal(t, string(bytes.Repeat([]byte("a"), 100))+"b", content(t, c2, "v"))
}
