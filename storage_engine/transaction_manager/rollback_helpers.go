package txn

import (
	"nsfslite/types"

	"github.com/pkg/errors"
)

/*
Before the transaction gets completed, it is not sure whether it will
actually be committed or not (rollbacked or aborted).

Every block a transaction allocates is private to it until commit, so abort
only has to hand those blocks back. Blocks of the committed state that the
transaction replaced stay in use by readers until commit publishes the new
state; only then are they freed.

Transaction implements the tree's block store on top of the bufferpool.
*/

func (txn *Transaction) BlockSize() int { return txn.pool.BlockSize() }

func (txn *Transaction) ReadBlock(id types.BlockID) ([]byte, error) {
	return txn.pool.Read(id)
}

func (txn *Transaction) AllocateBlock() (types.BlockID, error) {
	if txn.State != TxnActive {
		return 0, types.ErrTxnDone
	}
	id, _ := txn.pool.Allocate()
	txn.allocated[id] = struct{}{}
	return id, nil
}

func (txn *Transaction) WriteBlock(id types.BlockID, buf []byte) error {
	if !txn.Writable(id) {
		return errors.Errorf("txn %d: block %d is not writable", txn.ID, id)
	}
	return txn.pool.Write(id, buf)
}

// FreeBlock releases a private block at once and defers any other.
func (txn *Transaction) FreeBlock(id types.BlockID) error {
	if _, ok := txn.allocated[id]; ok {
		delete(txn.allocated, id)
		txn.pool.Free(id)
		return nil
	}
	txn.freed = append(txn.freed, id)
	return nil
}

func (txn *Transaction) Writable(id types.BlockID) bool {
	if txn.State != TxnActive {
		return false
	}
	_, ok := txn.allocated[id]
	return ok
}

// ReleaseAllocations frees every block the transaction allocated and forgets
// the blocks it meant to free. Used on abort.
func (txn *Transaction) ReleaseAllocations() {
	for id := range txn.allocated {
		txn.pool.Free(id)
	}
	clear(txn.allocated)
	txn.freed = nil
}

// ApplyFrees frees the blocks the transaction replaced. Used once its new
// state is published.
func (txn *Transaction) ApplyFrees() {
	for _, id := range txn.freed {
		txn.pool.Free(id)
	}
	txn.freed = nil
	clear(txn.allocated)
}

// Footprint reports allocated and pending-free block counts.
func (txn *Transaction) Footprint() (allocated, freed int) {
	return len(txn.allocated), len(txn.freed)
}
