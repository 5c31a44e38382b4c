package storageengine

import (
	"nsfslite/types"

	"github.com/spf13/afero"
)

// Options configures a Connection. The struct tags let a CLI embed it as a
// go-flags group.
type Options struct {
	BlockSize       int   `long:"block-size" env:"BLOCK_SIZE" default:"4096" description:"Block size of a newly created main store, in bytes (power of two, 128 to 65536)"`
	CacheBytes      int64 `long:"cache-bytes" env:"CACHE_BYTES" default:"67108864" description:"Capacity of the block read cache in bytes. Negative disables the cache"`
	CheckpointBytes int64 `long:"checkpoint-bytes" env:"CHECKPOINT_BYTES" default:"16777216" description:"Checkpoint after a commit once the WAL grows past this many bytes. Negative checkpoints only on open and close"`
	NonBlocking     bool  `long:"non-blocking" env:"NON_BLOCKING" description:"Fail with a busy error instead of waiting while another transaction is open"`

	Fs afero.Fs `no-flag:"t"`
}

const (
	defaultCacheBytes      = 64 << 20
	defaultCheckpointBytes = 16 << 20
)

func (o Options) withDefaults() Options {
	if o.BlockSize == 0 {
		o.BlockSize = types.DefaultBlockSize
	}
	if o.CacheBytes == 0 {
		o.CacheBytes = defaultCacheBytes
	} else if o.CacheBytes < 0 {
		o.CacheBytes = 0
	}
	if o.CheckpointBytes == 0 {
		o.CheckpointBytes = defaultCheckpointBytes
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	return o
}
