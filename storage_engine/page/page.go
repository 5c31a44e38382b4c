package page

import (
	"encoding/binary"

	"nsfslite/types"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

/*
Block codec shared by the byte-sequence tree, the free list and the
directory. Every block written by the engine starts with the same header:

	type     (1)  types.BlockType
	reserved (1)
	count    (2)  leaf: bytes used, inner: children, chain: payload bytes
	checksum (8)  xxhash64 over bytes [0,4) and the used body

Body by block type:

	leaf:    count bytes of variable content
	inner:   count × [ child BlockID (8) | subtree byte count (8) ]
	chain:   next BlockID (8) | count payload bytes     (free list, directory)

Unused tail bytes are zero and are not covered by the checksum, so a block
can be rewritten with a shorter body without clearing it first.
*/

const (
	HeaderSize      = 12
	ChainHeaderSize = HeaderSize + 8
	InnerEntrySize  = 16
)

// ChildRef is one inner-node entry: a child block and the number of content
// bytes below it.
type ChildRef struct {
	ID   types.BlockID
	Size uint64
}

// Geometry derives node capacities from the store's block size.
type Geometry struct {
	BlockSize int
}

func (g Geometry) LeafCapacity() int  { return g.BlockSize - HeaderSize }
func (g Geometry) Fanout() int        { return (g.BlockSize - HeaderSize) / InnerEntrySize }
func (g Geometry) ChainCapacity() int { return g.BlockSize - ChainHeaderSize }

func Type(buf []byte) types.BlockType {
	if len(buf) < HeaderSize {
		return types.BlockTypeUnknown
	}
	return types.BlockType(buf[0])
}

func EncodeLeaf(buf, data []byte) error {
	if len(data) > len(buf)-HeaderSize {
		return errors.Errorf("encodeLeaf: %d bytes exceed leaf capacity %d", len(data), len(buf)-HeaderSize)
	}
	copy(buf[HeaderSize:], data)
	clear(buf[HeaderSize+len(data):])
	seal(buf, types.BlockTypeLeaf, len(data), len(data))
	return nil
}

func EncodeInner(buf []byte, children []ChildRef) error {
	body := len(children) * InnerEntrySize
	if body > len(buf)-HeaderSize {
		return errors.Errorf("encodeInner: %d children exceed fanout %d", len(children), (len(buf)-HeaderSize)/InnerEntrySize)
	}
	off := HeaderSize
	for _, c := range children {
		binary.LittleEndian.PutUint64(buf[off:], uint64(c.ID))
		binary.LittleEndian.PutUint64(buf[off+8:], c.Size)
		off += InnerEntrySize
	}
	clear(buf[off:])
	seal(buf, types.BlockTypeInner, len(children), body)
	return nil
}

func EncodeChain(buf []byte, t types.BlockType, next types.BlockID, payload []byte) error {
	if len(payload) > len(buf)-ChainHeaderSize {
		return errors.Errorf("encodeChain: %d bytes exceed chain capacity %d", len(payload), len(buf)-ChainHeaderSize)
	}
	binary.LittleEndian.PutUint64(buf[HeaderSize:], uint64(next))
	copy(buf[ChainHeaderSize:], payload)
	clear(buf[ChainHeaderSize+len(payload):])
	seal(buf, t, len(payload), 8+len(payload))
	return nil
}

// DecodeLeaf returns a copy of the leaf's content.
func DecodeLeaf(id types.BlockID, buf []byte) ([]byte, error) {
	n, err := verify(id, buf, types.BlockTypeLeaf, 1)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), buf[HeaderSize:HeaderSize+n]...), nil
}

func DecodeInner(id types.BlockID, buf []byte) ([]ChildRef, error) {
	n, err := verify(id, buf, types.BlockTypeInner, InnerEntrySize)
	if err != nil {
		return nil, err
	}
	children := make([]ChildRef, n)
	off := HeaderSize
	for i := range children {
		children[i].ID = types.BlockID(binary.LittleEndian.Uint64(buf[off:]))
		children[i].Size = binary.LittleEndian.Uint64(buf[off+8:])
		off += InnerEntrySize
	}
	return children, nil
}

func DecodeChain(id types.BlockID, buf []byte, t types.BlockType) (types.BlockID, []byte, error) {
	if len(buf) < ChainHeaderSize {
		return 0, nil, errors.Wrapf(types.ErrCorrupt, "block %d: short chain block", id)
	}
	n := int(binary.LittleEndian.Uint16(buf[2:4]))
	if _, err := verifyBody(id, buf, t, 8+n); err != nil {
		return 0, nil, err
	}
	next := types.BlockID(binary.LittleEndian.Uint64(buf[HeaderSize:]))
	return next, append([]byte(nil), buf[ChainHeaderSize:ChainHeaderSize+n]...), nil
}

func verify(id types.BlockID, buf []byte, t types.BlockType, unit int) (int, error) {
	if len(buf) < HeaderSize {
		return 0, errors.Wrapf(types.ErrCorrupt, "block %d: short block", id)
	}
	n := int(binary.LittleEndian.Uint16(buf[2:4]))
	return verifyBody(id, buf, t, n*unit)
}

func verifyBody(id types.BlockID, buf []byte, t types.BlockType, body int) (int, error) {
	if got := types.BlockType(buf[0]); got != t {
		return 0, errors.Wrapf(types.ErrCorrupt, "block %d: type %s, expected %s", id, got, t)
	}
	if HeaderSize+body > len(buf) {
		return 0, errors.Wrapf(types.ErrCorrupt, "block %d: body of %d bytes overruns block", id, body)
	}
	if sum := checksum(buf, body); sum != binary.LittleEndian.Uint64(buf[4:12]) {
		return 0, errors.Wrapf(types.ErrCorrupt, "block %d: checksum mismatch", id)
	}
	return int(binary.LittleEndian.Uint16(buf[2:4])), nil
}

func seal(buf []byte, t types.BlockType, count, body int) {
	buf[0] = byte(t)
	buf[1] = 0
	binary.LittleEndian.PutUint16(buf[2:4], uint16(count))
	binary.LittleEndian.PutUint64(buf[4:12], checksum(buf, body))
}

func checksum(buf []byte, body int) uint64 {
	d := xxhash.New()
	d.Write(buf[0:4])
	d.Write(buf[HeaderSize : HeaderSize+body])
	return d.Sum64()
}
