package diskmanager

import (
	"io"
	"os"

	"nsfslite/storage_engine/page"
	"nsfslite/types"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

/*
This is main file for disk manager
It owns:
The main store file handle (afero.File)
Reading/writing whole blocks at id*blockSize (ReadAt, WriteAt)
The two header slots and the store identity
Block allocation (FreeList) and the durable free-list / directory chains

The disk manager never decides what a block means; the bufferpool sits on top
of it for dirty tracking and caching, and the checkpoint manager decides when
dirty blocks and a new header reach the file.
*/

// Open opens or creates the main store at path. blockSize is used when the
// file is new; an existing store keeps the block size recorded in its header.
func Open(fs afero.Fs, path string, blockSize int) (*DiskManager, error) {
	if !validBlockSize(blockSize) {
		return nil, errors.Errorf("diskmanager: invalid block size %d", blockSize)
	}
	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, types.IOFailure(err, "open %s", path)
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, types.IOFailure(err, "stat %s", path)
	}

	dm := &DiskManager{fs: fs, path: path, file: file, blockSize: blockSize}

	if st.Size() == 0 {
		err = dm.initialize()
	} else {
		err = dm.load(blockSize)
	}
	if err != nil {
		file.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"path":      path,
		"store":     dm.header.StoreID,
		"blockSize": dm.blockSize,
		"blocks":    dm.header.NumBlocks,
		"size":      humanize.IBytes(uint64(dm.blockSize) * dm.header.NumBlocks),
		"seq":       dm.header.Seq,
	}).Info("opened main store")

	return dm, nil
}

// initialize writes both header slots of an empty store.
func (dm *DiskManager) initialize() error {
	h := Header{
		StoreID:   uuid.New(),
		BlockSize: uint32(dm.blockSize),
		NextTxnID: 1,
		NextVarID: 1,
		NumBlocks: types.HeaderSlots,
	}
	buf := make([]byte, dm.blockSize)
	for slot := uint64(0); slot < types.HeaderSlots; slot++ {
		h.Seq = slot
		encodeHeader(h, buf)
		if _, err := dm.file.WriteAt(buf, int64(slot)*int64(dm.blockSize)); err != nil {
			return types.IOFailure(err, "initialize header slot %d", slot)
		}
	}
	if err := dm.file.Sync(); err != nil {
		return types.IOFailure(err, "sync %s", dm.path)
	}
	dm.header = h
	dm.free = NewFreeList(types.HeaderSlots, nil)
	return nil
}

// load picks the newest valid header slot, then reads the free-list chain.
func (dm *DiskManager) load(hint int) error {
	buf := make([]byte, headerEncodedSize)

	var slots []Header
	if h, ok := dm.readSlot(buf, 0); ok {
		slots = append(slots, h)
		hint = int(h.BlockSize)
	}
	// slot 1 sits one block in; if slot 0 is torn its size is unknown, so try
	// every legal block size.
	candidates := []int{hint}
	for bs := types.MinBlockSize; bs <= types.MaxBlockSize; bs <<= 1 {
		if bs != hint {
			candidates = append(candidates, bs)
		}
	}
	for _, bs := range candidates {
		if h, ok := dm.readSlot(buf, int64(bs)); ok && int(h.BlockSize) == bs {
			slots = append(slots, h)
			break
		}
	}
	if len(slots) == 0 {
		return errors.Wrapf(types.ErrCorrupt, "%s: no valid header slot", dm.path)
	}

	cur := slots[0]
	if len(slots) == 2 {
		if slots[1].BlockSize != cur.BlockSize || slots[1].StoreID != cur.StoreID {
			return errors.Wrapf(types.ErrCorrupt, "%s: header slots disagree", dm.path)
		}
		if slots[1].Seq > cur.Seq {
			cur = slots[1]
		}
	}
	if !validBlockSize(int(cur.BlockSize)) || cur.NumBlocks < types.HeaderSlots {
		return errors.Wrapf(types.ErrCorrupt, "%s: implausible header (block size %d, %d blocks)",
			dm.path, cur.BlockSize, cur.NumBlocks)
	}
	if int(cur.BlockSize) != dm.blockSize {
		log.WithFields(log.Fields{
			"requested": dm.blockSize,
			"stored":    cur.BlockSize,
		}).Warn("using block size recorded in store header")
		dm.blockSize = int(cur.BlockSize)
	}
	dm.header = cur

	payload, chain, err := dm.ReadChain(cur.FreeListHead, types.BlockTypeFreeList)
	if err != nil {
		return errors.WithMessage(err, "load free list")
	}
	free, err := DecodeBlockIDs(payload)
	if err != nil {
		return err
	}
	for _, id := range free {
		if id < types.HeaderSlots || uint64(id) >= cur.NumBlocks {
			return errors.Wrapf(types.ErrCorrupt, "free list names block %d outside store", id)
		}
	}
	directory, dirChain, err := dm.ReadChain(cur.DirectoryHead, types.BlockTypeDirectory)
	if err != nil {
		return errors.WithMessage(err, "load directory")
	}
	dm.free = NewFreeList(types.BlockID(cur.NumBlocks), free)
	dm.metaBlocks = append(chain, dirChain...)
	dm.directory = directory
	return nil
}

func (dm *DiskManager) readSlot(buf []byte, off int64) (Header, bool) {
	n, err := dm.file.ReadAt(buf, off)
	if n < len(buf) || (err != nil && err != io.EOF) {
		return Header{}, false
	}
	return decodeHeader(buf)
}

func (dm *DiskManager) BlockSize() int  { return dm.blockSize }
func (dm *DiskManager) Path() string    { return dm.path }
func (dm *DiskManager) Free() *FreeList { return dm.free }

func (dm *DiskManager) Header() Header {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.header
}

// Directory returns the directory payload of the header the store opened with.
func (dm *DiskManager) Directory() []byte { return dm.directory }

// MetaBlocks lists the blocks of the durable directory and free-list chains.
func (dm *DiskManager) MetaBlocks() []types.BlockID {
	return append([]types.BlockID(nil), dm.metaBlocks...)
}

// ReadBlock reads one block from the file. Blocks past the durable extent
// have never been written and are reported as corrupt.
func (dm *DiskManager) ReadBlock(id types.BlockID) ([]byte, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	if dm.file == nil {
		return nil, types.ErrClosed
	}
	if id < types.HeaderSlots {
		return nil, errors.Errorf("diskmanager: block %d is a header slot", id)
	}
	buf := make([]byte, dm.blockSize)
	n, err := dm.file.ReadAt(buf, int64(id)*int64(dm.blockSize))
	if n < dm.blockSize {
		if err == nil || err == io.EOF {
			return nil, errors.Wrapf(types.ErrCorrupt, "block %d: short read (%d bytes)", id, n)
		}
		return nil, types.IOFailure(err, "read block %d", id)
	}
	return buf, nil
}

func (dm *DiskManager) WriteBlock(id types.BlockID, buf []byte) error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	if dm.file == nil {
		return types.ErrClosed
	}
	if id < types.HeaderSlots {
		log.WithField("block", id).Panic("write of header slot through WriteBlock")
	}
	if len(buf) != dm.blockSize {
		return errors.Errorf("diskmanager: block %d: buffer of %d bytes, block size %d", id, len(buf), dm.blockSize)
	}
	if _, err := dm.file.WriteAt(buf, int64(id)*int64(dm.blockSize)); err != nil {
		return types.IOFailure(err, "write block %d", id)
	}
	return nil
}

func (dm *DiskManager) Sync() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	if dm.file == nil {
		return types.ErrClosed
	}
	if err := dm.file.Sync(); err != nil {
		return types.IOFailure(err, "sync %s", dm.path)
	}
	return nil
}

// WriteHeader makes h the current header: it goes to the slot not holding
// the previous header, and is synced before returning. meta lists the chain
// blocks h references.
func (dm *DiskManager) WriteHeader(h Header, meta []types.BlockID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.file == nil {
		return types.ErrClosed
	}
	h.StoreID = dm.header.StoreID
	h.BlockSize = uint32(dm.blockSize)
	h.Seq = dm.header.Seq + 1

	buf := make([]byte, dm.blockSize)
	encodeHeader(h, buf)
	slot := int64(h.Seq % types.HeaderSlots)
	if _, err := dm.file.WriteAt(buf, slot*int64(dm.blockSize)); err != nil {
		return types.IOFailure(err, "write header slot %d", slot)
	}
	if err := dm.file.Sync(); err != nil {
		return types.IOFailure(err, "sync header")
	}
	dm.header = h
	dm.metaBlocks = append([]types.BlockID(nil), meta...)
	return nil
}

// ChainBlocksFor returns how many chain blocks hold n payload bytes.
func (dm *DiskManager) ChainBlocksFor(n int) int {
	c := page.Geometry{BlockSize: dm.blockSize}.ChainCapacity()
	if n == 0 {
		return 0
	}
	return (n + c - 1) / c
}

// WriteChain spreads payload over blocks, in order, and returns the head.
// Blocks beyond what the payload needs carry nothing. No blocks yields the
// nil head.
func (dm *DiskManager) WriteChain(blocks []types.BlockID, t types.BlockType, payload []byte) (types.BlockID, error) {
	if need := dm.ChainBlocksFor(len(payload)); need > len(blocks) {
		return types.NilBlock, errors.Errorf("diskmanager: %s chain needs %d blocks, got %d", t, need, len(blocks))
	}
	c := page.Geometry{BlockSize: dm.blockSize}.ChainCapacity()
	buf := make([]byte, dm.blockSize)
	for i, id := range blocks {
		next := types.NilBlock
		if i+1 < len(blocks) {
			next = blocks[i+1]
		}
		lo, hi := min(i*c, len(payload)), min((i+1)*c, len(payload))
		if err := page.EncodeChain(buf, t, next, payload[lo:hi]); err != nil {
			return types.NilBlock, err
		}
		if err := dm.WriteBlock(id, buf); err != nil {
			return types.NilBlock, err
		}
	}
	if len(blocks) == 0 {
		return types.NilBlock, nil
	}
	return blocks[0], nil
}

// ReadChain concatenates the payload of the chain starting at head and
// returns the blocks it visited.
func (dm *DiskManager) ReadChain(head types.BlockID, t types.BlockType) ([]byte, []types.BlockID, error) {
	var (
		payload []byte
		blocks  []types.BlockID
		limit   = dm.header.NumBlocks
	)
	for id := head; id != types.NilBlock; {
		if uint64(len(blocks)) >= limit || uint64(id) >= limit {
			return nil, nil, errors.Wrapf(types.ErrCorrupt, "%s chain: block %d out of range or cyclic", t, id)
		}
		buf, err := dm.ReadBlock(id)
		if err != nil {
			return nil, nil, err
		}
		next, part, err := page.DecodeChain(id, buf, t)
		if err != nil {
			return nil, nil, err
		}
		payload = append(payload, part...)
		blocks = append(blocks, id)
		id = next
	}
	return payload, blocks, nil
}

func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.file == nil {
		return nil
	}
	err := dm.file.Close()
	dm.file = nil
	if err != nil {
		return types.IOFailure(err, "close %s", dm.path)
	}
	return nil
}
