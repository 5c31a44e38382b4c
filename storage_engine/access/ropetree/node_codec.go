package ropetree

import (
	"nsfslite/storage_engine/page"
	"nsfslite/types"

	"github.com/pkg/errors"
)

func (t *Tree) load(id types.BlockID) (*node, error) {
	buf, err := t.store.ReadBlock(id)
	if err != nil {
		return nil, err
	}
	switch page.Type(buf) {
	case types.BlockTypeLeaf:
		data, err := page.DecodeLeaf(id, buf)
		if err != nil {
			return nil, err
		}
		return &node{id: id, leaf: true, data: data}, nil
	case types.BlockTypeInner:
		children, err := page.DecodeInner(id, buf)
		if err != nil {
			return nil, err
		}
		if len(children) == 0 {
			return nil, errors.Wrapf(types.ErrCorrupt, "block %d: inner node without children", id)
		}
		return &node{id: id, children: children}, nil
	default:
		return nil, errors.Wrapf(types.ErrCorrupt, "block %d: %s block inside a tree", id, page.Type(buf))
	}
}

func (t *Tree) encode(n *node) ([]byte, error) {
	buf := make([]byte, t.geo.BlockSize)
	if n.leaf {
		return buf, page.EncodeLeaf(buf, n.data)
	}
	return buf, page.EncodeInner(buf, n.children)
}

// put stores n in place of the block old. old is rewritten when writable,
// otherwise n goes to a new block and old is freed.
func (t *Tree) put(old types.BlockID, n *node) (page.ChildRef, error) {
	if old == types.NilBlock || !t.store.Writable(old) {
		ref, err := t.putNew(n)
		if err != nil {
			return ref, err
		}
		if old != types.NilBlock {
			if err := t.store.FreeBlock(old); err != nil {
				return ref, err
			}
		}
		return ref, nil
	}
	buf, err := t.encode(n)
	if err != nil {
		return page.ChildRef{}, err
	}
	if err := t.store.WriteBlock(old, buf); err != nil {
		return page.ChildRef{}, err
	}
	n.id = old
	return page.ChildRef{ID: old, Size: n.size()}, nil
}

func (t *Tree) putNew(n *node) (page.ChildRef, error) {
	buf, err := t.encode(n)
	if err != nil {
		return page.ChildRef{}, err
	}
	id, err := t.store.AllocateBlock()
	if err != nil {
		return page.ChildRef{}, err
	}
	if err := t.store.WriteBlock(id, buf); err != nil {
		return page.ChildRef{}, err
	}
	n.id = id
	return page.ChildRef{ID: id, Size: n.size()}, nil
}

// putSplit stores a node whose content may exceed one block, splitting it
// evenly. The first piece replaces old.
func (t *Tree) putSplit(old types.BlockID, n *node) ([]page.ChildRef, error) {
	var pieces []*node
	if n.leaf {
		for _, r := range evenSplit(len(n.data), t.geo.LeafCapacity()) {
			pieces = append(pieces, &node{leaf: true, data: n.data[r[0]:r[1]]})
		}
	} else {
		for _, r := range evenSplit(len(n.children), t.geo.Fanout()) {
			pieces = append(pieces, &node{children: n.children[r[0]:r[1]]})
		}
	}

	refs := make([]page.ChildRef, 0, len(pieces))
	for i, p := range pieces {
		var (
			ref page.ChildRef
			err error
		)
		if i == 0 {
			ref, err = t.put(old, p)
		} else {
			ref, err = t.putNew(p)
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// evenSplit cuts n items into ceil(n/capacity) ranges whose sizes differ by
// at most one. n == 0 yields a single empty range.
func evenSplit(n, capacity int) [][2]int {
	k := max((n+capacity-1)/capacity, 1)
	base, extra := n/k, n%k
	out := make([][2]int, 0, k)
	lo := 0
	for i := 0; i < k; i++ {
		hi := lo + base
		if i < extra {
			hi++
		}
		out = append(out, [2]int{lo, hi})
		lo = hi
	}
	return out
}

// freeSubtree releases every block under id. depth is the node's height
// above the leaves, so leaves are freed without being read.
func (t *Tree) freeSubtree(id types.BlockID, depth int) error {
	if depth > 0 {
		n, err := t.load(id)
		if err != nil {
			return err
		}
		for _, c := range n.children {
			if err := t.freeSubtree(c.ID, depth-1); err != nil {
				return err
			}
		}
	}
	return t.store.FreeBlock(id)
}

// height returns the number of inner levels above the leaves.
func (t *Tree) height() (int, error) {
	h := 0
	for id := t.root; ; h++ {
		n, err := t.load(id)
		if err != nil {
			return 0, err
		}
		if n.leaf {
			return h, nil
		}
		id = n.children[0].ID
	}
}

// Destroy frees every block of the tree. The tree must not be used after.
func (t *Tree) Destroy() error {
	h, err := t.height()
	if err != nil {
		return err
	}
	return t.freeSubtree(t.root, h)
}
