package ropetree

import (
	"nsfslite/storage_engine/page"
	"nsfslite/types"

	"github.com/pkg/errors"
)

// Create allocates an empty leaf root.
func Create(store BlockStore) (*Tree, error) {
	t := &Tree{store: store, geo: page.Geometry{BlockSize: store.BlockSize()}}
	ref, err := t.putNew(&node{leaf: true})
	if err != nil {
		return nil, errors.WithMessage(err, "ropetree: create root")
	}
	t.root = ref.ID
	return t, nil
}

// Open attaches to an existing tree for mutation.
func Open(store BlockStore, root types.BlockID, length uint64) *Tree {
	return &Tree{store: store, geo: page.Geometry{BlockSize: store.BlockSize()}, root: root, length: length}
}

// OpenReader attaches to an existing tree for reads only; mutations fail.
func OpenReader(r BlockReader, root types.BlockID, length uint64) *Tree {
	return Open(readOnly{r}, root, length)
}

func (t *Tree) Root() types.BlockID { return t.root }
func (t *Tree) Len() uint64         { return t.length }

var errReadOnly = errors.New("ropetree: tree opened read-only")

type readOnly struct{ BlockReader }

func (readOnly) AllocateBlock() (types.BlockID, error)  { return 0, errReadOnly }
func (readOnly) WriteBlock(types.BlockID, []byte) error { return errReadOnly }
func (readOnly) FreeBlock(types.BlockID) error          { return errReadOnly }
func (readOnly) Writable(types.BlockID) bool            { return false }
