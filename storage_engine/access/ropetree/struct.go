// Structure of the rope tree
/*
Tree
 ├── Inner Node [(child, bytes below child), ...]
 │      └── Inner Nodes ...
 │             └── Leaf Nodes (a chunk of the variable's bytes)

- the in-order concatenation of leaf chunks is the variable's content
- an inner entry carries the byte count of its subtree, so a descent to
  offset N subtracts counts instead of comparing keys
- all leaves at same depth
- no leaf is empty, except a leaf root of an empty variable
- an inner root has at least two children

Blocks are copy-on-write: a node is rewritten in place only when the store
says its block is writable (allocated by the current transaction); any other
node is copied to a new block and the old block is freed through the store.
*/
package ropetree

import (
	"nsfslite/storage_engine/page"
	"nsfslite/types"
)

// BlockReader is the read side of the block store.
type BlockReader interface {
	BlockSize() int
	ReadBlock(id types.BlockID) ([]byte, error)
}

// BlockStore is what a tree mutates through. Buffers passed to WriteBlock are
// retained by the store.
type BlockStore interface {
	BlockReader
	AllocateBlock() (types.BlockID, error)
	WriteBlock(id types.BlockID, buf []byte) error
	FreeBlock(id types.BlockID) error
	// Writable reports whether id may be rewritten in place.
	Writable(id types.BlockID) bool
}

type node struct {
	id       types.BlockID
	leaf     bool
	data     []byte          // leaf
	children []page.ChildRef // inner
}

func (n *node) size() uint64 {
	if n.leaf {
		return uint64(len(n.data))
	}
	var s uint64
	for _, c := range n.children {
		s += c.Size
	}
	return s
}

type Tree struct {
	store  BlockStore
	geo    page.Geometry
	root   types.BlockID
	length uint64
}
