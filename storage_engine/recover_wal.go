package storageengine

import (
	"context"

	"nsfslite/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// RecoverFromWAL is called once by Open before the connection is handed out.
// It reads every record after the checkpoint LSN, buffering operations per
// transaction. A Commit record redoes that transaction's operations, in
// commit order, through the same code path staging uses; an Abort record or
// the end of the log discards them. If anything was found, a checkpoint folds
// the result into the main store and empties the log.
func (c *Connection) RecoverFromWAL(checkpointLSN uint64) error {
	var (
		pending   = make(map[uint64][]*types.Operation)
		records   int
		committed int
		aborted   int
		maxTxnID  uint64
		maxVarID  uint64
	)

	err := c.WalManager.ReplayFromLSN(checkpointLSN+1, func(op *types.Operation) error {
		records++
		maxTxnID = max(maxTxnID, op.TxnID)
		if op.Type == types.OpCreate {
			maxVarID = max(maxVarID, op.VarID)
		}

		switch op.Type {
		case types.OpTxnBegin:
			if _, open := pending[op.TxnID]; open {
				return errors.Wrapf(types.ErrCorrupt, "txn %d begins twice", op.TxnID)
			}
			pending[op.TxnID] = nil
		case types.OpTxnCommit:
			ops := pending[op.TxnID]
			delete(pending, op.TxnID)
			if err := c.redo(op.TxnID, ops); err != nil {
				return err
			}
			committed++
		case types.OpTxnAbort:
			delete(pending, op.TxnID)
			aborted++
		default:
			pending[op.TxnID] = append(pending[op.TxnID], op)
		}
		return nil
	})
	if err != nil {
		return errors.WithMessage(err, "wal recovery")
	}

	// Ids of transactions that never finished must not be handed out again,
	// or a later commit under the same id would adopt their records.
	c.TxnManager.Observe(maxTxnID)
	// Likewise for variable ids reserved by creates that never committed.
	c.CatalogManager.Reserve(maxVarID + 1)

	recoveredTxnsTotal.WithLabelValues("committed").Add(float64(committed))
	recoveredTxnsTotal.WithLabelValues("aborted").Add(float64(aborted))
	recoveredTxnsTotal.WithLabelValues("incomplete").Add(float64(len(pending)))

	if records == 0 {
		log.WithField("checkpointLSN", checkpointLSN).Debug("wal recovery: nothing to replay")
		return nil
	}
	log.WithFields(log.Fields{
		"checkpointLSN": checkpointLSN,
		"records":       records,
		"committed":     committed,
		"aborted":       aborted,
		"incomplete":    len(pending),
	}).Info("wal recovery complete")

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return errors.WithMessage(c.checkpointLocked(), "checkpoint after recovery")
}

// redo applies one committed transaction. The operations were validated
// before they were logged, so any failure here means the log and the store
// disagree.
func (c *Connection) redo(txnID uint64, ops []*types.Operation) error {
	inner, err := c.TxnManager.Begin(context.Background(), c.BufferPool, true)
	if err != nil {
		return err
	}
	view := c.CatalogManager.NewView()

	for _, op := range ops {
		if _, err := apply(inner, view, op, false); err != nil {
			inner.ReleaseAllocations()
			c.TxnManager.Abort(inner)
			if types.IsValidation(err) {
				err = errors.Wrapf(types.ErrCorrupt, "%v", err)
			}
			return errors.WithMessagef(err, "redo txn %d, LSN %d (%s)", txnID, op.LSN, op.Type)
		}
	}

	c.CatalogManager.Publish(view)
	inner.ApplyFrees()
	log.WithFields(log.Fields{"txn": txnID, "ops": len(ops)}).Debug("redo transaction")
	return c.TxnManager.Commit(inner)
}
