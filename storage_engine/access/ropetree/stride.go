package ropetree

import (
	"nsfslite/types"

	"github.com/pkg/errors"
)

/*
Strided access addresses the positions start, start+step, ... < stop, one
byte per position. Dense strides (step below a leaf's capacity) touch every
leaf of the span anyway, so they read the span once; sparse strides descend
once per position.
*/

// StrideCount is the number of positions in [start, stop) with the given step.
func StrideCount(start, stop, step uint64) uint64 {
	if start >= stop || step == 0 {
		return 0
	}
	return (stop-start-1)/step + 1
}

func (t *Tree) checkStride(start, stop, step uint64) (count, last uint64, err error) {
	if step == 0 {
		return 0, 0, errors.Wrap(types.ErrInvalidStride, "step must be positive")
	}
	count = StrideCount(start, stop, step)
	if count == 0 {
		return 0, 0, nil
	}
	last = start + (count-1)*step
	if last >= t.length {
		return 0, 0, errors.Wrapf(types.ErrOffsetOutOfRange, "position %d, length %d", last, t.length)
	}
	return count, last, nil
}

func (t *Tree) dense(step uint64) bool {
	return step < uint64(t.geo.LeafCapacity())
}

// ReadStride returns the addressed bytes in position order.
func (t *Tree) ReadStride(start, stop, step uint64) ([]byte, error) {
	count, last, err := t.checkStride(start, stop, step)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []byte{}, nil
	}
	if step == 1 {
		return t.ReadRange(start, last+1)
	}

	out := make([]byte, 0, count)
	if t.dense(step) {
		span, err := t.ReadRange(start, last+1)
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < uint64(len(span)); i += step {
			out = append(out, span[i])
		}
		return out, nil
	}
	for pos := start; pos <= last; pos += step {
		b, err := t.ByteAt(pos)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// WriteStride replaces the addressed bytes with data, one byte per position.
func (t *Tree) WriteStride(start, stop, step uint64, data []byte) error {
	count, last, err := t.checkStride(start, stop, step)
	if err != nil {
		return err
	}
	if uint64(len(data)) != count {
		return errors.Wrapf(types.ErrLengthMismatch, "%d bytes for %d positions", len(data), count)
	}
	if count == 0 {
		return nil
	}
	if step == 1 {
		return t.Overwrite(start, data)
	}

	if t.dense(step) {
		span, err := t.ReadRange(start, last+1)
		if err != nil {
			return err
		}
		for i := range data {
			span[uint64(i)*step] = data[i]
		}
		return t.Overwrite(start, span)
	}
	for i := range data {
		if err := t.Overwrite(start+uint64(i)*step, data[i:i+1]); err != nil {
			return err
		}
	}
	return nil
}

// RemoveStride deletes the addressed bytes as one edit; positions refer to
// the content before removal. The removed bytes are returned in position
// order when wantRemoved is set.
func (t *Tree) RemoveStride(start, stop, step uint64, wantRemoved bool) ([]byte, error) {
	count, last, err := t.checkStride(start, stop, step)
	if err != nil {
		return nil, err
	}
	var removed []byte
	if wantRemoved {
		removed = make([]byte, 0, count)
	}
	if count == 0 {
		return removed, nil
	}

	if step == 1 {
		if wantRemoved {
			if removed, err = t.ReadRange(start, last+1); err != nil {
				return nil, err
			}
		}
		return removed, t.RemoveRange(start, last+1)
	}

	span, err := t.ReadRange(start, last+1)
	if err != nil {
		return nil, err
	}
	kept := make([]byte, 0, uint64(len(span))-count)
	for i := range span {
		if uint64(i)%step == 0 {
			if wantRemoved {
				removed = append(removed, span[i])
			}
		} else {
			kept = append(kept, span[i])
		}
	}
	if err := t.RemoveRange(start, last+1); err != nil {
		return nil, err
	}
	if err := t.Insert(start, kept); err != nil {
		return nil, err
	}
	return removed, nil
}
