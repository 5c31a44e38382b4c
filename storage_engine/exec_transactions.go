package storageengine

import (
	"context"

	txn "nsfslite/storage_engine/transaction_manager"
	"nsfslite/storage_engine/wal_manager"
	"nsfslite/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

/*
A transaction's life, as seen in the WAL:

	Begin   written with the first staged operation, not by Begin itself,
	        so a transaction that stages nothing leaves no trace
	op ...  each written after it validated and before it is applied
	Commit  written and synced before anything is published
	Abort   written on rollback; recovery would discard the ops anyway

Operations are applied to the transaction's private copy-on-write version
as they are staged, so the transaction reads its own writes while every
other reader keeps seeing the committed state. Commit publishes the new
directory under the state lock and frees the blocks the old version used.
*/

// Begin opens a transaction. It waits for the writer slot until ctx is done,
// or fails with ErrBusy right away when the connection is non-blocking.
func (c *Connection) Begin(ctx context.Context) (*Transaction, error) {
	if err := c.writable(); err != nil {
		return nil, err
	}
	inner, err := c.TxnManager.Begin(ctx, c.BufferPool, c.opts.NonBlocking)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed.Load() || c.poisoned != nil {
		c.mu.Unlock()
		c.TxnManager.Abort(inner)
		return nil, c.writable()
	}
	tx := &Transaction{conn: c, inner: inner, view: c.CatalogManager.NewView()}
	c.active = tx
	c.mu.Unlock()
	return tx, nil
}

// Update runs fn in a transaction, committing when fn returns nil and
// aborting when it fails or panics.
func (c *Connection) Update(ctx context.Context, fn func(tx *Transaction) error) error {
	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Abort()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if abortErr := tx.Abort(); abortErr != nil && !errors.Is(abortErr, types.ErrTxnDone) {
			log.WithFields(log.Fields{"txn": tx.ID(), "err": abortErr}).Warn("abort after failed update")
		}
		return err
	}
	return tx.Commit()
}

func (tx *Transaction) ID() uint64 { return tx.inner.ID }

// Commit makes the transaction durable and then visible. A WAL failure
// aborts the transaction and leaves the connection refusing writes.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.usable(); err != nil {
		return err
	}
	c := tx.conn

	if tx.ops != 0 {
		err := tx.log(&types.Operation{Type: types.OpTxnCommit})
		if err == nil {
			if err = c.WalManager.Sync(); err != nil {
				c.poison(err)
			}
		}
		if err != nil {
			tx.unlog()
			tx.rollbackLocked("wal")
			return errors.WithMessagef(err, "commit txn %d", tx.inner.ID)
		}
		walSyncsTotal.Inc()
	}

	c.stateMu.Lock()
	c.CatalogManager.Publish(tx.view)
	tx.inner.ApplyFrees()
	if c.opts.CheckpointBytes > 0 && c.WalManager.Size() > c.opts.CheckpointBytes {
		if err := c.checkpointLocked(); err != nil {
			// The commit is durable in the WAL; the next checkpoint retries.
			log.WithFields(log.Fields{"txn": tx.inner.ID, "err": err}).Error("checkpoint after commit failed")
		}
	}
	c.stateMu.Unlock()

	c.release(tx)
	if err := c.TxnManager.Commit(tx.inner); err != nil {
		return err
	}
	txnCommitsTotal.Inc()
	log.WithFields(log.Fields{"txn": tx.inner.ID, "ops": tx.ops}).Debug("committed")
	return nil
}

// Abort discards every staged operation.
func (tx *Transaction) Abort() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.usable(); err != nil {
		return err
	}
	err := tx.logAbort()
	tx.rollbackLocked("abort")
	return err
}

// logAbort records the abort when the transaction has logged anything.
func (tx *Transaction) logAbort() error {
	if tx.ops == 0 || tx.conn.poisonErr() != nil {
		return nil
	}
	return tx.log(&types.Operation{Type: types.OpTxnAbort})
}

// rollbackLocked hands back the transaction's blocks and the writer slot.
func (tx *Transaction) rollbackLocked(cause string) {
	if tx.inner.State != txn.TxnActive {
		return
	}
	tx.inner.ReleaseAllocations()
	if c := tx.conn; tx.view.NextID() > c.CatalogManager.NextID() {
		c.stateMu.Lock()
		c.CatalogManager.Reserve(tx.view.NextID())
		c.stateMu.Unlock()
	}
	tx.view = nil
	tx.conn.release(tx)
	tx.conn.TxnManager.Abort(tx.inner)
	txnAbortsTotal.WithLabelValues(cause).Inc()
	log.WithFields(log.Fields{"txn": tx.inner.ID, "ops": tx.ops, "cause": cause}).Debug("rolled back")
}

func (c *Connection) release(tx *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == tx {
		c.active = nil
	}
}

func (tx *Transaction) usable() error {
	if tx.conn.closed.Load() {
		return errors.Wrap(types.ErrClosed, "transaction")
	}
	if tx.inner.State != txn.TxnActive {
		return errors.Wrapf(types.ErrTxnDone, "transaction %d is %s", tx.inner.ID, tx.inner.State)
	}
	return nil
}

// log appends op for this transaction, preceded by the Begin record when it
// is the first. A failure poisons the connection.
func (tx *Transaction) log(op *types.Operation) error {
	if tx.ops == 0 && !op.Type.IsControl() {
		if tx.mark == nil {
			m := tx.conn.WalManager.Mark()
			tx.mark = &m
		}
		if err := tx.append(&types.Operation{Type: types.OpTxnBegin}); err != nil {
			return err
		}
	}
	if err := tx.append(op); err != nil {
		return err
	}
	if !op.Type.IsControl() {
		tx.ops++
	}
	return nil
}

// unlog cuts the transaction's records off the WAL after a failed append or
// sync, so the next open does not replay a commit that was reported failed.
func (tx *Transaction) unlog() {
	if tx.mark == nil {
		return
	}
	if err := tx.conn.WalManager.Rewind(*tx.mark); err != nil {
		log.WithFields(log.Fields{"txn": tx.inner.ID, "err": err}).
			Error("cannot cut failed transaction off the wal, the next open may replay it")
	}
}

func (tx *Transaction) append(op *types.Operation) error {
	c := tx.conn
	op.TxnID = tx.inner.ID
	before := c.WalManager.Size()
	if _, err := c.WalManager.AppendOperation(op); err != nil {
		c.poison(err)
		return err
	}
	walBytesTotal.Add(float64(c.WalManager.Size() - before))
	return nil
}

// stage validates an operation against the transaction's view, logs it, and
// applies it to the private version. A validation failure changes nothing
// and leaves the transaction open; any later failure rolls it back.
func (tx *Transaction) stage(op *types.Operation, validate func() error, wantRemoved bool) ([]byte, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.usable(); err != nil {
		return nil, err
	}
	if err := validate(); err != nil {
		return nil, err
	}
	if n := op.MaxEncodedLen(); n > wal_manager.MaxRecordSize {
		return nil, errors.Wrapf(types.ErrTooLarge, "%s of %d bytes, limit %d", op.Type, n, wal_manager.MaxRecordSize)
	}
	if err := tx.log(op); err != nil {
		tx.unlog()
		tx.rollbackLocked("wal")
		return nil, err
	}
	removed, err := apply(tx.inner, tx.view, op, wantRemoved)
	if err != nil {
		tx.rollbackLocked("apply")
		return nil, errors.WithMessagef(err, "txn %d: %s", tx.inner.ID, op.Type)
	}
	opsStagedTotal.WithLabelValues(op.Type.String()).Inc()
	return removed, nil
}
