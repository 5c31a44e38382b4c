package ropetree

import (
	"nsfslite/types"

	"github.com/pkg/errors"
)

// ReadRange returns a copy of the bytes [lo, hi).
func (t *Tree) ReadRange(lo, hi uint64) ([]byte, error) {
	if lo > hi || hi > t.length {
		return nil, errors.Wrapf(types.ErrOffsetOutOfRange, "read [%d, %d), length %d", lo, hi, t.length)
	}
	out := make([]byte, 0, hi-lo)
	if lo == hi {
		return out, nil
	}
	return t.readRange(t.root, lo, hi, out)
}

func (t *Tree) readRange(id types.BlockID, lo, hi uint64, out []byte) ([]byte, error) {
	n, err := t.load(id)
	if err != nil {
		return nil, err
	}
	if n.leaf {
		if hi > uint64(len(n.data)) {
			return nil, errors.Wrapf(types.ErrCorrupt, "block %d: leaf holds %d bytes, parent counts %d", id, len(n.data), hi)
		}
		return append(out, n.data[lo:hi]...), nil
	}

	var base uint64
	for _, c := range n.children {
		start, end := base, base+c.Size
		base = end
		if end <= lo {
			continue
		}
		if start >= hi {
			break
		}
		if out, err = t.readRange(c.ID, max(lo, start)-start, min(hi, end)-start, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ByteAt returns the byte at pos with a single descent.
func (t *Tree) ByteAt(pos uint64) (byte, error) {
	if pos >= t.length {
		return 0, errors.Wrapf(types.ErrOffsetOutOfRange, "position %d, length %d", pos, t.length)
	}
	id := t.root
	for {
		n, err := t.load(id)
		if err != nil {
			return 0, err
		}
		if n.leaf {
			if pos >= uint64(len(n.data)) {
				return 0, errors.Wrapf(types.ErrCorrupt, "block %d: position %d past leaf end", id, pos)
			}
			return n.data[pos], nil
		}
		i, base := childAt(n.children, pos, false)
		id, pos = n.children[i].ID, pos-base
	}
}
