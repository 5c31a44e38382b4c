package diskmanager

import (
	"sync"

	"nsfslite/types"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ############################################# HEADER #############################################

// Header is the durable root of the main store. Two copies alternate between
// blocks 0 and 1; the valid copy with the highest Seq is current.
type Header struct {
	StoreID       uuid.UUID
	BlockSize     uint32
	Seq           uint64
	CheckpointLSN uint64 // last WAL LSN folded into this snapshot
	NextTxnID     uint64
	NextVarID     uint64
	NumBlocks     uint64 // file extent in blocks, header slots included
	DirectoryHead types.BlockID
	FreeListHead  types.BlockID
}

// ############################################# FREE LIST #############################################

// FreeList tracks reclaimable blocks. Released blocks are reusable at once;
// deferred blocks are still referenced by the last durable snapshot and only
// become reusable when the next checkpoint promotes them.
type FreeList struct {
	free      []types.BlockID
	isFree    map[types.BlockID]struct{}
	pending   []types.BlockID
	isPending map[types.BlockID]struct{}
	next      types.BlockID // first never-allocated block
}

// ############################################# DISK MANAGER #############################################

// DiskManager owns the main store file: raw block I/O, the header slots and
// block allocation.
type DiskManager struct {
	fs        afero.Fs
	path      string
	file      afero.File
	blockSize int

	header Header
	free   *FreeList

	// blocks of the durable directory and free-list chains; they stay live
	// until the next header replaces them
	metaBlocks []types.BlockID
	directory  []byte

	mu sync.RWMutex
}
