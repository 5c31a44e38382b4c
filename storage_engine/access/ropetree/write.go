package ropetree

import (
	"nsfslite/storage_engine/page"
	"nsfslite/types"

	"github.com/pkg/errors"
)

// Overwrite replaces len(data) bytes starting at pos. The length is unchanged,
// so only the blocks on the touched paths are copied.
func (t *Tree) Overwrite(pos uint64, data []byte) error {
	end := pos + uint64(len(data))
	if end < pos || end > t.length {
		return errors.Wrapf(types.ErrOffsetOutOfRange, "overwrite [%d, %d), length %d", pos, end, t.length)
	}
	if len(data) == 0 {
		return nil
	}
	ref, err := t.overwrite(t.root, pos, data)
	if err != nil {
		return errors.WithMessagef(err, "Overwrite: at %d", pos)
	}
	t.root = ref.ID
	return nil
}

func (t *Tree) overwrite(id types.BlockID, pos uint64, data []byte) (page.ChildRef, error) {
	n, err := t.load(id)
	if err != nil {
		return page.ChildRef{}, err
	}
	if n.leaf {
		if pos+uint64(len(data)) > uint64(len(n.data)) {
			return page.ChildRef{}, errors.Wrapf(types.ErrCorrupt, "block %d: overwrite past leaf end", id)
		}
		copy(n.data[pos:], data)
		return t.put(id, n)
	}

	lo, hi := pos, pos+uint64(len(data))
	var base uint64
	for i, c := range n.children {
		start, end := base, base+c.Size
		base = end
		if end <= lo {
			continue
		}
		if start >= hi {
			break
		}
		from, to := max(lo, start), min(hi, end)
		ref, err := t.overwrite(c.ID, from-start, data[from-lo:to-lo])
		if err != nil {
			return page.ChildRef{}, err
		}
		n.children[i] = ref
	}
	return t.put(id, n)
}
