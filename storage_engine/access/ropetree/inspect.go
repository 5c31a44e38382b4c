package ropetree

import (
	"fmt"
	"io"
	"strings"

	"nsfslite/types"

	"github.com/pkg/errors"
)

// TreeStats summarises the shape of a tree.
type TreeStats struct {
	Height     int
	InnerNodes int
	Leaves     int
	Bytes      uint64
}

// Check walks the whole tree and verifies its structural invariants:
// counts match subtree sizes, leaves sit at one depth, only an empty root
// leaf may be empty, and an inner root has more than one child.
func (t *Tree) Check() (TreeStats, error) {
	var stats TreeStats
	leafDepth := -1

	var walk func(id types.BlockID, depth int) (uint64, error)
	walk = func(id types.BlockID, depth int) (uint64, error) {
		n, err := t.load(id)
		if err != nil {
			return 0, err
		}
		if n.leaf {
			stats.Leaves++
			if leafDepth == -1 {
				leafDepth = depth
			} else if leafDepth != depth {
				return 0, errors.Wrapf(types.ErrCorrupt, "leaf %d at depth %d, others at %d", id, depth, leafDepth)
			}
			if len(n.data) == 0 && (id != t.root || t.length != 0) {
				return 0, errors.Wrapf(types.ErrCorrupt, "empty leaf %d", id)
			}
			return uint64(len(n.data)), nil
		}

		stats.InnerNodes++
		if id == t.root && len(n.children) < 2 {
			return 0, errors.Wrapf(types.ErrCorrupt, "inner root %d has %d children", id, len(n.children))
		}
		var total uint64
		for _, c := range n.children {
			got, err := walk(c.ID, depth+1)
			if err != nil {
				return 0, err
			}
			if got != c.Size {
				return 0, errors.Wrapf(types.ErrCorrupt, "inner %d counts %d bytes under %d, found %d", id, c.Size, c.ID, got)
			}
			total += got
		}
		return total, nil
	}

	total, err := walk(t.root, 0)
	if err != nil {
		return stats, err
	}
	if total != t.length {
		return stats, errors.Wrapf(types.ErrCorrupt, "tree holds %d bytes, length is %d", total, t.length)
	}
	stats.Height = leafDepth
	stats.Bytes = total
	return stats, nil
}

// Dump writes one line per node, indented by depth. Leaf content is shown up
// to preview bytes.
func (t *Tree) Dump(w io.Writer, preview int) error {
	var walk func(id types.BlockID, depth int) error
	walk = func(id types.BlockID, depth int) error {
		n, err := t.load(id)
		if err != nil {
			return err
		}
		indent := strings.Repeat("  ", depth)
		if n.leaf {
			shown := n.data
			if len(shown) > preview {
				shown = shown[:preview]
			}
			fmt.Fprintf(w, "%s[block %d] leaf %d bytes %q\n", indent, id, len(n.data), shown)
			return nil
		}
		fmt.Fprintf(w, "%s[block %d] inner %d children, %d bytes\n", indent, id, len(n.children), n.size())
		for _, c := range n.children {
			if err := walk(c.ID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(t.root, 0)
}
