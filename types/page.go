package types

// BlockID addresses a fixed-size block of the main store file. Blocks 0 and 1
// hold the two alternating header slots, so 0 doubles as the nil pointer.
type BlockID uint64

const NilBlock BlockID = 0

const (
	DefaultBlockSize = 4096
	MinBlockSize     = 128
	MaxBlockSize     = 65536

	// HeaderSlots is the number of leading blocks reserved for store headers.
	HeaderSlots = 2
)

type BlockType uint8

const (
	BlockTypeUnknown BlockType = iota
	BlockTypeHeader
	BlockTypeLeaf
	BlockTypeInner
	BlockTypeFreeList
	BlockTypeDirectory
)

func (t BlockType) String() string {
	switch t {
	case BlockTypeHeader:
		return "header"
	case BlockTypeLeaf:
		return "leaf"
	case BlockTypeInner:
		return "inner"
	case BlockTypeFreeList:
		return "freelist"
	case BlockTypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}
