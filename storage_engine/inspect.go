package storageengine

import (
	"io"

	"nsfslite/storage_engine/access/ropetree"
	"nsfslite/types"

	"github.com/pkg/errors"
)

// Inspect validates the committed tree of a variable and, when w is not
// nil, writes an indented dump of it. preview bounds the bytes shown per
// leaf.
func (c *Connection) Inspect(name string, w io.Writer, preview int) (ropetree.TreeStats, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.closed.Load() {
		return ropetree.TreeStats{}, errors.Wrap(types.ErrClosed, "inspect")
	}
	e, err := c.CatalogManager.Lookup(name)
	if err != nil {
		return ropetree.TreeStats{}, err
	}
	tree := ropetree.OpenReader(committed{c.BufferPool}, e.Root, e.Length)
	stats, err := tree.Check()
	if err != nil {
		return stats, errors.WithMessagef(err, "variable %q", name)
	}
	if w != nil {
		if err := tree.Dump(w, preview); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
