package catalog

import (
	"encoding/json"
	"sort"

	"nsfslite/types"

	"github.com/pkg/errors"
)

/*
This file is the main acess of Catalog Manager
Catalog manager maps variable names to ids and ids to tree roots and lengths.
Writers never touch it directly: a transaction edits a View, and commit
publishes the View in one step. The directory is persisted as JSON in the
directory chain at every checkpoint and loaded back on open.

Ids start at 1 and are never reused. An id below nextID that has no entry
belonged to a deleted variable (StaleHandle); any other unknown id is
NotFound.
*/

func NewCatalogManager() *CatalogManager {
	return &CatalogManager{
		byID:   make(map[uint64]Entry),
		byName: make(map[string]uint64),
		nextID: 1,
	}
}

// Load decodes a persisted directory. An empty payload is an empty catalog.
// nextID from the store header wins when it is larger.
func Load(payload []byte, nextID uint64) (*CatalogManager, error) {
	cm := NewCatalogManager()
	if len(payload) != 0 {
		var doc document
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, errors.Wrapf(types.ErrCorrupt, "decode directory: %v", err)
		}
		cm.nextID = max(cm.nextID, doc.NextID)
		for _, e := range doc.Variables {
			if e.ID == 0 || e.ID >= doc.NextID || e.Root == types.NilBlock {
				return nil, errors.Wrapf(types.ErrCorrupt, "directory entry %q has id %d root %d", e.Name, e.ID, e.Root)
			}
			if _, dup := cm.byName[e.Name]; dup {
				return nil, errors.Wrapf(types.ErrCorrupt, "directory names %q twice", e.Name)
			}
			cm.byID[e.ID] = e
			cm.byName[e.Name] = e.ID
		}
	}
	cm.nextID = max(cm.nextID, nextID)
	return cm, nil
}

// Encode renders the directory for the directory chain.
func (cm *CatalogManager) Encode() ([]byte, error) {
	doc := document{NextID: cm.nextID, Variables: cm.Entries()}
	return json.Marshal(doc)
}

func (cm *CatalogManager) NextID() uint64 { return cm.nextID }
func (cm *CatalogManager) Count() int     { return len(cm.byID) }

// Entries returns every variable ordered by id.
func (cm *CatalogManager) Entries() []Entry {
	out := make([]Entry, 0, len(cm.byID))
	for _, e := range cm.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (cm *CatalogManager) Lookup(name string) (Entry, error) {
	id, ok := cm.byName[name]
	if !ok {
		return Entry{}, errors.Wrapf(types.ErrNotFound, "variable %q", name)
	}
	return cm.byID[id], nil
}

func (cm *CatalogManager) Get(id uint64) (Entry, error) {
	if e, ok := cm.byID[id]; ok {
		return e, nil
	}
	return Entry{}, missing(id, cm.nextID)
}

func missing(id, nextID uint64) error {
	if id != 0 && id < nextID {
		return errors.Wrapf(types.ErrStaleHandle, "variable %d was deleted", id)
	}
	return errors.Wrapf(types.ErrNotFound, "variable %d", id)
}

// NewView starts an empty overlay on the committed directory.
func (cm *CatalogManager) NewView() *View {
	return &View{
		base:    cm,
		entries: make(map[uint64]*Entry),
		byName:  make(map[string]uint64),
		nextID:  cm.nextID,
	}
}

// Publish folds a view into the committed directory.
func (cm *CatalogManager) Publish(v *View) {
	if v.base != cm {
		panic("catalog: publishing a view of another catalog")
	}
	for id := range v.entries {
		if old, ok := cm.byID[id]; ok {
			delete(cm.byName, old.Name)
			delete(cm.byID, id)
		}
	}
	for id, e := range v.entries {
		if e != nil {
			cm.byID[id] = *e
			cm.byName[e.Name] = id
		}
	}
	cm.Reserve(v.nextID)
}

// Reserve marks every id below next as handed out. Rollback and recovery use
// it so an aborted create's id is never given to another variable.
func (cm *CatalogManager) Reserve(next uint64) {
	cm.nextID = max(cm.nextID, next)
}

// ############################################# VIEW #############################################

func (v *View) NextID() uint64 { return v.nextID }

// Dirty reports whether the view changes anything.
func (v *View) Dirty() bool { return len(v.entries) != 0 || v.nextID != v.base.nextID }

func (v *View) Lookup(name string) (Entry, error) {
	if id, ok := v.byName[name]; ok {
		if id == 0 {
			return Entry{}, errors.Wrapf(types.ErrNotFound, "variable %q", name)
		}
		return *v.entries[id], nil
	}
	e, err := v.base.Lookup(name)
	if err != nil {
		return Entry{}, err
	}
	if _, touched := v.entries[e.ID]; touched {
		return v.Get(e.ID)
	}
	return e, nil
}

func (v *View) Get(id uint64) (Entry, error) {
	if e, ok := v.entries[id]; ok {
		if e == nil {
			return Entry{}, missing(id, v.nextID)
		}
		return *e, nil
	}
	if e, ok := v.base.byID[id]; ok {
		return e, nil
	}
	return Entry{}, missing(id, v.nextID)
}

// Create adds a variable under the next id. root is its empty tree.
func (v *View) Create(name string, root types.BlockID) (Entry, error) {
	return v.CreateWithID(v.nextID, name, root)
}

// CreateWithID adds a variable under a given id; replay uses it to reproduce
// the ids handed out before a crash.
func (v *View) CreateWithID(id uint64, name string, root types.BlockID) (Entry, error) {
	if _, err := v.Lookup(name); err == nil {
		return Entry{}, errors.Wrapf(types.ErrNameConflict, "variable %q", name)
	}
	if id < v.nextID {
		return Entry{}, errors.Wrapf(types.ErrCorrupt, "variable id %d already handed out (next %d)", id, v.nextID)
	}
	e := &Entry{ID: id, Name: name, Root: root}
	v.entries[id] = e
	v.byName[name] = id
	v.nextID = id + 1
	return *e, nil
}

// Delete removes a variable by name and returns its last entry so the caller
// can free its tree.
func (v *View) Delete(name string) (Entry, error) {
	e, err := v.Lookup(name)
	if err != nil {
		return Entry{}, err
	}
	v.entries[e.ID] = nil
	v.byName[name] = 0
	return e, nil
}

// Update records a variable's new root and length.
func (v *View) Update(id uint64, root types.BlockID, length uint64) error {
	e, err := v.Get(id)
	if err != nil {
		return err
	}
	e.Root, e.Length = root, length
	v.entries[id] = &e
	v.byName[e.Name] = id
	return nil
}
