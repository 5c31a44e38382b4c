package ropetree

import (
	"nsfslite/storage_engine/page"
	"nsfslite/types"

	"github.com/pkg/errors"
)

// Insert splices data in before offset. offset == Len appends.
func (t *Tree) Insert(offset uint64, data []byte) error {
	if offset > t.length {
		return errors.Wrapf(types.ErrOffsetOutOfRange, "insert at %d, length %d", offset, t.length)
	}
	if len(data) == 0 {
		return nil
	}

	refs, err := t.insert(t.root, offset, data)
	if err != nil {
		return errors.WithMessagef(err, "Insert: offset %d", offset)
	}
	if err := t.setRoot(refs); err != nil {
		return err
	}
	t.length += uint64(len(data))
	return nil
}

// insert returns the refs that replace id in its parent. There is more than
// one when the node overflowed and split.
func (t *Tree) insert(id types.BlockID, offset uint64, data []byte) ([]page.ChildRef, error) {
	n, err := t.load(id)
	if err != nil {
		return nil, err
	}

	if n.leaf {
		content := make([]byte, 0, len(n.data)+len(data))
		content = append(content, n.data[:offset]...)
		content = append(content, data...)
		content = append(content, n.data[offset:]...)
		return t.putSplit(id, &node{leaf: true, data: content})
	}

	i, base := childAt(n.children, offset, true)
	sub, err := t.insert(n.children[i].ID, offset-base, data)
	if err != nil {
		return nil, err
	}

	children := make([]page.ChildRef, 0, len(n.children)+len(sub)-1)
	children = append(children, n.children[:i]...)
	children = append(children, sub...)
	children = append(children, n.children[i+1:]...)
	return t.putSplit(id, &node{children: children})
}

// setRoot grows new levels until a single ref remains.
func (t *Tree) setRoot(refs []page.ChildRef) error {
	for len(refs) > 1 {
		var parents []page.ChildRef
		for _, r := range evenSplit(len(refs), t.geo.Fanout()) {
			ref, err := t.putNew(&node{children: append([]page.ChildRef(nil), refs[r[0]:r[1]]...)})
			if err != nil {
				return err
			}
			parents = append(parents, ref)
		}
		refs = parents
	}
	t.root = refs[0].ID
	return nil
}

// childAt finds the child holding offset and the offset where that child
// starts. With atEnd an offset on a boundary belongs to the child ending
// there, which is how appends reach the last leaf.
func childAt(children []page.ChildRef, offset uint64, atEnd bool) (int, uint64) {
	var base uint64
	for i, c := range children {
		end := base + c.Size
		if offset < end || (atEnd && offset == end) {
			return i, base
		}
		base = end
	}
	last := len(children) - 1
	return last, base - children[last].Size
}
