package txn

import (
	"sync"

	"nsfslite/storage_engine/bufferpool"
	"nsfslite/types"
)

type TxnState uint8

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	default:
		return "aborted"
	}
}

// Transaction is the block-level side of a writer: every block it allocated
// (rewritable in place, released on abort) and every older block it stopped
// referencing (released only once it commits).
type Transaction struct {
	ID    uint64
	State TxnState

	pool      *bufferpool.BufferPool
	allocated map[types.BlockID]struct{}
	freed     []types.BlockID
}

type TxnManager struct {
	nextID uint64
	slot   chan struct{} // the single writer slot
	active *Transaction
	mu     sync.Mutex
}
