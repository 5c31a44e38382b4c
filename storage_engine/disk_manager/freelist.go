package diskmanager

import (
	"encoding/binary"

	"nsfslite/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func NewFreeList(next types.BlockID, free []types.BlockID) *FreeList {
	fl := &FreeList{
		isFree:    make(map[types.BlockID]struct{}, len(free)),
		isPending: make(map[types.BlockID]struct{}),
		next:      next,
	}
	for _, id := range free {
		fl.push(id)
	}
	return fl
}

// Allocate pops a reusable block, or extends the file by one block.
func (fl *FreeList) Allocate() types.BlockID {
	if n := len(fl.free); n > 0 {
		id := fl.free[n-1]
		fl.free = fl.free[:n-1]
		delete(fl.isFree, id)
		return id
	}
	id := fl.next
	fl.next++
	return id
}

// Release makes an allocated block reusable immediately.
func (fl *FreeList) Release(id types.BlockID) {
	fl.mustBeAllocated(id)
	fl.push(id)
}

// Defer marks an allocated block free once the next checkpoint lands.
func (fl *FreeList) Defer(id types.BlockID) {
	fl.mustBeAllocated(id)
	fl.pending = append(fl.pending, id)
	fl.isPending[id] = struct{}{}
}

// Promote moves every deferred block to the reusable set.
func (fl *FreeList) Promote() {
	for _, id := range fl.pending {
		fl.push(id)
	}
	fl.pending = fl.pending[:0]
	clear(fl.isPending)
}

func (fl *FreeList) Next() types.BlockID { return fl.next }
func (fl *FreeList) FreeCount() int      { return len(fl.free) }
func (fl *FreeList) PendingCount() int   { return len(fl.pending) }

// Snapshot returns the reusable and deferred blocks, in that order.
func (fl *FreeList) Snapshot() (free, pending []types.BlockID) {
	return append([]types.BlockID(nil), fl.free...), append([]types.BlockID(nil), fl.pending...)
}

func (fl *FreeList) push(id types.BlockID) {
	fl.free = append(fl.free, id)
	fl.isFree[id] = struct{}{}
}

func (fl *FreeList) mustBeAllocated(id types.BlockID) {
	_, free := fl.isFree[id]
	_, pending := fl.isPending[id]
	if id < types.HeaderSlots || id >= fl.next || free || pending {
		log.WithFields(log.Fields{
			"block":   id,
			"next":    fl.next,
			"free":    free,
			"pending": pending,
		}).Panic("freeing a block that is not allocated")
	}
}

// EncodeBlockIDs packs ids for a free-list chain payload.
func EncodeBlockIDs(ids []types.BlockID) []byte {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(id))
	}
	return buf
}

func DecodeBlockIDs(buf []byte) ([]types.BlockID, error) {
	if len(buf)%8 != 0 {
		return nil, errors.Wrapf(types.ErrCorrupt, "free list payload of %d bytes", len(buf))
	}
	ids := make([]types.BlockID, len(buf)/8)
	for i := range ids {
		ids[i] = types.BlockID(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return ids, nil
}
