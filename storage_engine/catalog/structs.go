package catalog

import (
	"nsfslite/types"
)

// Entry is one variable: its immutable name and the root of its byte tree.
type Entry struct {
	ID     uint64        `json:"id"`
	Name   string        `json:"name"`
	Root   types.BlockID `json:"root"`
	Length uint64        `json:"length"`
}

// CatalogManager is the committed directory.
type CatalogManager struct {
	byID   map[uint64]Entry
	byName map[string]uint64
	nextID uint64
}

// View overlays one transaction's directory changes on the committed
// directory. A nil entry marks a deletion, a zero id a deleted name.
type View struct {
	base    *CatalogManager
	entries map[uint64]*Entry
	byName  map[string]uint64
	nextID  uint64
}

// persisted form, stored in the directory chain at each checkpoint
type document struct {
	NextID    uint64  `json:"next_id"`
	Variables []Entry `json:"variables"`
}
