package ropetree

import (
	"nsfslite/storage_engine/page"
	"nsfslite/types"

	"github.com/pkg/errors"
)

// RemoveRange deletes the bytes [lo, hi).
func (t *Tree) RemoveRange(lo, hi uint64) error {
	if lo > hi || hi > t.length {
		return errors.Wrapf(types.ErrOffsetOutOfRange, "remove [%d, %d), length %d", lo, hi, t.length)
	}
	if lo == hi {
		return nil
	}

	depth, err := t.height()
	if err != nil {
		return err
	}
	ref, empty, err := t.remove(t.root, depth, lo, hi)
	if err != nil {
		return errors.WithMessagef(err, "RemoveRange: [%d, %d)", lo, hi)
	}
	if empty {
		if ref, err = t.putNew(&node{leaf: true}); err != nil {
			return err
		}
	}
	t.root = ref.ID
	t.length -= hi - lo
	return t.collapseRoot()
}

// remove deletes [lo, hi) relative to the subtree at id. empty reports that
// nothing is left, in which case id has been freed.
func (t *Tree) remove(id types.BlockID, depth int, lo, hi uint64) (page.ChildRef, bool, error) {
	n, err := t.load(id)
	if err != nil {
		return page.ChildRef{}, false, err
	}

	if n.leaf {
		if lo == 0 && hi == uint64(len(n.data)) {
			return page.ChildRef{}, true, t.store.FreeBlock(id)
		}
		content := make([]byte, 0, len(n.data)-int(hi-lo))
		content = append(content, n.data[:lo]...)
		content = append(content, n.data[hi:]...)
		ref, err := t.put(id, &node{leaf: true, data: content})
		return ref, false, err
	}

	var (
		children = make([]page.ChildRef, 0, len(n.children))
		touched  = make([]bool, 0, len(n.children))
		base     uint64
		dropped  bool // the previous child was removed entirely
	)
	keep := func(c page.ChildRef, changed bool) {
		children = append(children, c)
		touched = append(touched, changed || dropped)
		dropped = false
	}
	drop := func() {
		if len(touched) > 0 {
			touched[len(touched)-1] = true
		}
		dropped = true
	}

	for _, c := range n.children {
		start, end := base, base+c.Size
		base = end

		switch {
		case end <= lo || start >= hi:
			keep(c, false)
		case lo <= start && end <= hi:
			if err := t.freeSubtree(c.ID, depth-1); err != nil {
				return page.ChildRef{}, false, err
			}
			drop()
		default:
			ref, empty, err := t.remove(c.ID, depth-1, max(lo, start)-start, min(hi, end)-start)
			if err != nil {
				return page.ChildRef{}, false, err
			}
			if empty {
				drop()
			} else {
				keep(ref, true)
			}
		}
	}

	if len(children) == 0 {
		return page.ChildRef{}, true, t.store.FreeBlock(id)
	}
	if children, err = t.mergeTouched(children, touched, depth-1 == 0); err != nil {
		return page.ChildRef{}, false, err
	}
	ref, err := t.put(id, &node{children: children})
	return ref, false, err
}

// mergeTouched folds each touched child into its right neighbour while the
// pair fits one block. A child beside a removed range counts as touched.
func (t *Tree) mergeTouched(children []page.ChildRef, touched []bool, leaves bool) ([]page.ChildRef, error) {
	for i := 0; i+1 < len(children); {
		if !touched[i] && !touched[i+1] {
			i++
			continue
		}
		merged, ok, err := t.merge(children[i], children[i+1], leaves)
		if err != nil {
			return nil, err
		}
		if !ok {
			i++
			continue
		}
		children[i] = merged
		touched[i] = true
		children = append(children[:i+1], children[i+2:]...)
		touched = append(touched[:i+1], touched[i+2:]...)
	}
	return children, nil
}

// merge combines two siblings into the left one when the result fits.
func (t *Tree) merge(a, b page.ChildRef, leaves bool) (page.ChildRef, bool, error) {
	if leaves && a.Size+b.Size > uint64(t.geo.LeafCapacity()) {
		return a, false, nil
	}
	left, err := t.load(a.ID)
	if err != nil {
		return a, false, err
	}
	right, err := t.load(b.ID)
	if err != nil {
		return a, false, err
	}

	var combined *node
	if leaves {
		combined = &node{leaf: true, data: append(append([]byte(nil), left.data...), right.data...)}
	} else {
		if len(left.children)+len(right.children) > t.geo.Fanout() {
			return a, false, nil
		}
		combined = &node{children: append(append([]page.ChildRef(nil), left.children...), right.children...)}
	}

	ref, err := t.put(a.ID, combined)
	if err != nil {
		return a, false, err
	}
	if err := t.store.FreeBlock(b.ID); err != nil {
		return a, false, err
	}
	return ref, true, nil
}

// collapseRoot replaces an inner root having a single child by that child.
func (t *Tree) collapseRoot() error {
	for {
		n, err := t.load(t.root)
		if err != nil {
			return err
		}
		if n.leaf || len(n.children) > 1 {
			return nil
		}
		if err := t.store.FreeBlock(t.root); err != nil {
			return err
		}
		t.root = n.children[0].ID
	}
}
