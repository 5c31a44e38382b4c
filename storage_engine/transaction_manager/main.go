package txn

import (
	"context"

	"nsfslite/storage_engine/bufferpool"
	"nsfslite/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

/*
Transaction manager hands out the single writer slot and transaction ids.
The slot is taken by Begin and given back by Commit or Abort, so at most one
transaction is active at any time and readers never wait on it.
*/

func NewTxnManager(nextID uint64) *TxnManager {
	return &TxnManager{
		nextID: max(nextID, 1),
		slot:   make(chan struct{}, 1),
	}
}

// Begin takes the writer slot and starts a transaction. With nonBlocking it
// fails with ErrBusy instead of waiting; otherwise it waits until the slot
// frees up or ctx is done.
func (tm *TxnManager) Begin(ctx context.Context, pool *bufferpool.BufferPool, nonBlocking bool) (*Transaction, error) {
	if nonBlocking {
		select {
		case tm.slot <- struct{}{}:
		default:
			return nil, errors.Wrap(types.ErrBusy, "another transaction is open")
		}
	} else {
		select {
		case tm.slot <- struct{}{}:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "waiting for writer slot")
		}
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn := &Transaction{
		ID:        tm.nextID,
		State:     TxnActive,
		pool:      pool,
		allocated: make(map[types.BlockID]struct{}),
	}
	tm.nextID++
	tm.active = txn

	log.WithField("txn", txn.ID).Debug("begin transaction")
	return txn, nil
}

// Commit marks a transaction committed and frees the writer slot.
// Called AFTER OpTxnCommit has been written to WAL and synced, and the
// transaction's effects are published.
func (tm *TxnManager) Commit(txn *Transaction) error {
	return tm.finish(txn, TxnCommitted)
}

// Abort marks a transaction aborted and frees the writer slot. Its blocks
// must already have been released with ReleaseAllocations.
func (tm *TxnManager) Abort(txn *Transaction) error {
	return tm.finish(txn, TxnAborted)
}

func (tm *TxnManager) finish(txn *Transaction, state TxnState) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if txn.State != TxnActive {
		return errors.Wrapf(types.ErrTxnDone, "transaction %d is %s", txn.ID, txn.State)
	}
	if tm.active != txn {
		log.WithField("txn", txn.ID).Panic("finishing a transaction that does not hold the writer slot")
	}
	txn.State = state
	tm.active = nil
	<-tm.slot

	log.WithFields(log.Fields{"txn": txn.ID, "state": state}).Debug("transaction finished")
	return nil
}

// Active returns the open transaction, or nil.
func (tm *TxnManager) Active() *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.active
}

func (tm *TxnManager) NextID() uint64 {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.nextID
}

// Observe raises the id counter past an id seen during recovery.
func (tm *TxnManager) Observe(id uint64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.nextID = max(tm.nextID, id+1)
}
