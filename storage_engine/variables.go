package storageengine

import (
	"context"

	"nsfslite/storage_engine/access/ropetree"
	"nsfslite/storage_engine/catalog"
	txn "nsfslite/storage_engine/transaction_manager"
	"nsfslite/types"

	"github.com/pkg/errors"
)

// MaxNameLen bounds variable names; the WAL stores the length in 16 bits.
const MaxNameLen = 4096

// Stride addresses Count positions Start, Start+Step, ...
type Stride struct {
	Start int64
	Step  int64
	Count int64
}

// Bounds converts the stride to the (start, stop, step) form the variable
// operations take.
func (s Stride) Bounds() (start, stop, step int64) {
	if s.Count <= 0 {
		return s.Start, s.Start, s.Step
	}
	return s.Start, s.Start + (s.Count-1)*s.Step + 1, s.Step
}

// apply performs op on a transaction's private version. It is shared by
// staging and WAL replay. Remove returns the removed bytes when asked.
func apply(inner *txn.Transaction, view *catalog.View, op *types.Operation, wantRemoved bool) ([]byte, error) {
	switch op.Type {
	case types.OpCreate:
		tree, err := ropetree.Create(inner)
		if err != nil {
			return nil, err
		}
		_, err = view.CreateWithID(op.VarID, op.Name, tree.Root())
		return nil, err

	case types.OpDelete:
		e, err := view.Delete(op.Name)
		if err != nil {
			return nil, err
		}
		if e.ID != op.VarID {
			return nil, errors.Wrapf(types.ErrCorrupt, "delete %q: id %d, logged %d", op.Name, e.ID, op.VarID)
		}
		return nil, ropetree.Open(inner, e.Root, e.Length).Destroy()
	}

	e, err := view.Get(op.VarID)
	if err != nil {
		return nil, err
	}
	tree := ropetree.Open(inner, e.Root, e.Length)

	var removed []byte
	switch op.Type {
	case types.OpInsert:
		err = tree.Insert(op.Start, op.Data)
	case types.OpWrite:
		err = tree.WriteStride(op.Start, op.Stop, op.Step, op.Data)
	case types.OpRemove:
		removed, err = tree.RemoveStride(op.Start, op.Stop, op.Step, wantRemoved)
	default:
		err = errors.Wrapf(types.ErrCorrupt, "cannot apply %s", op.Type)
	}
	if err != nil {
		return nil, err
	}
	return removed, view.Update(op.VarID, tree.Root(), tree.Len())
}

// span checks signed stride arguments against a variable's length and
// returns them unsigned with the number of addressed positions.
func span(length uint64, start, stop, step int64) (ustart, ustop, ustep, count uint64, err error) {
	if step <= 0 {
		return 0, 0, 0, 0, errors.Wrapf(types.ErrInvalidStride, "step %d", step)
	}
	if start < 0 || stop < 0 {
		return 0, 0, 0, 0, errors.Wrapf(types.ErrOffsetOutOfRange, "range [%d, %d)", start, stop)
	}
	ustart, ustop, ustep = uint64(start), uint64(stop), uint64(step)
	count = ropetree.StrideCount(ustart, ustop, ustep)
	if count != 0 {
		if last := ustart + (count-1)*ustep; last >= length {
			return 0, 0, 0, 0, errors.Wrapf(types.ErrOffsetOutOfRange, "position %d, length %d", last, length)
		}
	}
	return ustart, ustop, ustep, count, nil
}

func checkName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return errors.Wrapf(types.ErrInvalidName, "name of %d bytes", len(name))
	}
	return nil
}

// ############################################# TRANSACTION #############################################

// Create adds a variable of length zero.
func (tx *Transaction) Create(name string) (*Variable, error) {
	op := &types.Operation{Type: types.OpCreate, Name: name}
	_, err := tx.stage(op, func() error {
		if err := checkName(name); err != nil {
			return err
		}
		if _, err := tx.view.Lookup(name); err == nil {
			return errors.Wrapf(types.ErrNameConflict, "variable %q", name)
		}
		op.VarID = tx.view.NextID()
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return &Variable{conn: tx.conn, id: op.VarID, name: name}, nil
}

// Delete removes a variable and frees its bytes once the transaction
// commits.
func (tx *Transaction) Delete(name string) error {
	op := &types.Operation{Type: types.OpDelete, Name: name}
	_, err := tx.stage(op, func() error {
		e, err := tx.view.Lookup(name)
		if err != nil {
			return err
		}
		op.VarID = e.ID
		return nil
	}, false)
	return err
}

// Get looks a variable up as this transaction sees the directory.
func (tx *Transaction) Get(name string) (*Variable, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.usable(); err != nil {
		return nil, err
	}
	e, err := tx.view.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &Variable{conn: tx.conn, id: e.ID, name: e.Name}, nil
}

func (tx *Transaction) Len(id uint64) (uint64, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.usable(); err != nil {
		return 0, err
	}
	e, err := tx.view.Get(id)
	if err != nil {
		return 0, err
	}
	return e.Length, nil
}

// Read reads from the transaction's version, including its staged writes.
func (tx *Transaction) Read(id uint64, start, stop, step int64) ([]byte, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.usable(); err != nil {
		return nil, err
	}
	e, err := tx.view.Get(id)
	if err != nil {
		return nil, err
	}
	return readEntry(tx.inner, e, start, stop, step)
}

// Insert puts data before offset; offset may equal the length.
func (tx *Transaction) Insert(id uint64, offset int64, data []byte) error {
	op := &types.Operation{Type: types.OpInsert, VarID: id, Data: data}
	_, err := tx.stage(op, func() error {
		e, err := tx.view.Get(id)
		if err != nil {
			return err
		}
		if offset < 0 || uint64(offset) > e.Length {
			return errors.Wrapf(types.ErrOffsetOutOfRange, "insert at %d, length %d", offset, e.Length)
		}
		op.Start = uint64(offset)
		return nil
	}, false)
	return err
}

// Write overwrites the addressed positions with data, one byte each.
func (tx *Transaction) Write(id uint64, start, stop, step int64, data []byte) error {
	op := &types.Operation{Type: types.OpWrite, VarID: id, Data: data}
	_, err := tx.stage(op, func() error {
		e, err := tx.view.Get(id)
		if err != nil {
			return err
		}
		var count uint64
		if op.Start, op.Stop, op.Step, count, err = span(e.Length, start, stop, step); err != nil {
			return err
		}
		if uint64(len(data)) != count {
			return errors.Wrapf(types.ErrLengthMismatch, "%d bytes for %d positions", len(data), count)
		}
		return nil
	}, false)
	return err
}

// Remove deletes the addressed positions as one edit and, when asked,
// returns their bytes in position order.
func (tx *Transaction) Remove(id uint64, start, stop, step int64, returnRemoved bool) ([]byte, error) {
	op := &types.Operation{Type: types.OpRemove, VarID: id}
	removed, err := tx.stage(op, func() error {
		e, err := tx.view.Get(id)
		if err != nil {
			return err
		}
		op.Start, op.Stop, op.Step, _, err = span(e.Length, start, stop, step)
		return err
	}, returnRemoved)
	if err != nil || !returnRemoved {
		return nil, err
	}
	if removed == nil {
		removed = []byte{}
	}
	return removed, nil
}

// ############################################# CONNECTION #############################################

// Create adds a variable in its own transaction.
func (c *Connection) Create(name string) (v *Variable, err error) {
	err = c.Update(context.Background(), func(tx *Transaction) error {
		v, err = tx.Create(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Delete removes a variable in its own transaction.
func (c *Connection) Delete(name string) error {
	return c.Update(context.Background(), func(tx *Transaction) error {
		return tx.Delete(name)
	})
}

func (c *Connection) Insert(id uint64, offset int64, data []byte) error {
	return c.Update(context.Background(), func(tx *Transaction) error {
		return tx.Insert(id, offset, data)
	})
}

func (c *Connection) Write(id uint64, start, stop, step int64, data []byte) error {
	return c.Update(context.Background(), func(tx *Transaction) error {
		return tx.Write(id, start, stop, step, data)
	})
}

func (c *Connection) Remove(id uint64, start, stop, step int64, returnRemoved bool) (removed []byte, err error) {
	err = c.Update(context.Background(), func(tx *Transaction) error {
		removed, err = tx.Remove(id, start, stop, step, returnRemoved)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Get looks a variable up in the committed directory.
func (c *Connection) Get(name string) (*Variable, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.closed.Load() {
		return nil, errors.Wrap(types.ErrClosed, "get")
	}
	e, err := c.CatalogManager.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &Variable{conn: c, id: e.ID, name: e.Name}, nil
}

// List returns every committed variable ordered by id.
func (c *Connection) List() ([]catalog.Entry, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.closed.Load() {
		return nil, errors.Wrap(types.ErrClosed, "list")
	}
	return c.CatalogManager.Entries(), nil
}

func (c *Connection) Len(id uint64) (uint64, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.closed.Load() {
		return 0, errors.Wrap(types.ErrClosed, "len")
	}
	e, err := c.CatalogManager.Get(id)
	if err != nil {
		return 0, err
	}
	return e.Length, nil
}

// Read reads committed bytes; staged writes of an open transaction are not
// visible.
func (c *Connection) Read(id uint64, start, stop, step int64) ([]byte, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.closed.Load() {
		return nil, errors.Wrap(types.ErrClosed, "read")
	}
	e, err := c.CatalogManager.Get(id)
	if err != nil {
		return nil, err
	}
	return readEntry(committed{c.BufferPool}, e, start, stop, step)
}

func readEntry(r ropetree.BlockReader, e catalog.Entry, start, stop, step int64) ([]byte, error) {
	ustart, ustop, ustep, _, err := span(e.Length, start, stop, step)
	if err != nil {
		return nil, err
	}
	return ropetree.OpenReader(r, e.Root, e.Length).ReadStride(ustart, ustop, ustep)
}

// ############################################# VARIABLE #############################################

func (v *Variable) ID() uint64 { return v.id }
func (v *Variable) Name() string { return v.name }
func (v *Variable) Len() (uint64, error) { return v.conn.Len(v.id) }

func (v *Variable) Read(start, stop, step int64) ([]byte, error) {
	return v.conn.Read(v.id, start, stop, step)
}

func (v *Variable) ReadStride(s Stride) ([]byte, error) {
	start, stop, step := s.Bounds()
	return v.conn.Read(v.id, start, stop, step)
}

func (v *Variable) Insert(offset int64, data []byte) error {
	return v.conn.Insert(v.id, offset, data)
}

func (v *Variable) Write(start, stop, step int64, data []byte) error {
	return v.conn.Write(v.id, start, stop, step, data)
}

func (v *Variable) WriteStride(s Stride, data []byte) error {
	start, stop, step := s.Bounds()
	return v.conn.Write(v.id, start, stop, step, data)
}

func (v *Variable) Remove(start, stop, step int64, returnRemoved bool) ([]byte, error) {
	return v.conn.Remove(v.id, start, stop, step, returnRemoved)
}

func (v *Variable) RemoveStride(s Stride, returnRemoved bool) ([]byte, error) {
	start, stop, step := s.Bounds()
	return v.conn.Remove(v.id, start, stop, step, returnRemoved)
}
