package diskmanager

import (
	"bytes"
	"encoding/binary"

	"nsfslite/types"

	"github.com/cespare/xxhash/v2"
)

/*
Header slot layout (little endian), at the start of block 0 or block 1:

	magic         [8]  "NSFSLITE"
	version       (4)
	blockSize     (4)
	storeID       [16]
	seq           (8)
	checkpointLSN (8)
	nextTxnID     (8)
	nextVarID     (8)
	numBlocks     (8)
	directoryHead (8)
	freeListHead  (8)
	checksum      (8)  xxhash64 over bytes [0,88)

A checkpoint writes slot seq%2, so the previous header survives a torn write.
*/

const (
	headerVersion     = 1
	headerEncodedSize = 96
	headerSumOffset   = headerEncodedSize - 8
)

var headerMagic = []byte("NSFSLITE")

func encodeHeader(h Header, buf []byte) {
	clear(buf)
	copy(buf[0:8], headerMagic)
	binary.LittleEndian.PutUint32(buf[8:], headerVersion)
	binary.LittleEndian.PutUint32(buf[12:], h.BlockSize)
	copy(buf[16:32], h.StoreID[:])
	binary.LittleEndian.PutUint64(buf[32:], h.Seq)
	binary.LittleEndian.PutUint64(buf[40:], h.CheckpointLSN)
	binary.LittleEndian.PutUint64(buf[48:], h.NextTxnID)
	binary.LittleEndian.PutUint64(buf[56:], h.NextVarID)
	binary.LittleEndian.PutUint64(buf[64:], h.NumBlocks)
	binary.LittleEndian.PutUint64(buf[72:], uint64(h.DirectoryHead))
	binary.LittleEndian.PutUint64(buf[80:], uint64(h.FreeListHead))
	binary.LittleEndian.PutUint64(buf[headerSumOffset:], xxhash.Sum64(buf[:headerSumOffset]))
}

// decodeHeader returns false for a slot that was never written or was torn.
func decodeHeader(buf []byte) (Header, bool) {
	var h Header
	if len(buf) < headerEncodedSize || !bytes.Equal(buf[0:8], headerMagic) {
		return h, false
	}
	if binary.LittleEndian.Uint32(buf[8:]) != headerVersion {
		return h, false
	}
	if xxhash.Sum64(buf[:headerSumOffset]) != binary.LittleEndian.Uint64(buf[headerSumOffset:]) {
		return h, false
	}
	h.BlockSize = binary.LittleEndian.Uint32(buf[12:])
	copy(h.StoreID[:], buf[16:32])
	h.Seq = binary.LittleEndian.Uint64(buf[32:])
	h.CheckpointLSN = binary.LittleEndian.Uint64(buf[40:])
	h.NextTxnID = binary.LittleEndian.Uint64(buf[48:])
	h.NextVarID = binary.LittleEndian.Uint64(buf[56:])
	h.NumBlocks = binary.LittleEndian.Uint64(buf[64:])
	h.DirectoryHead = types.BlockID(binary.LittleEndian.Uint64(buf[72:]))
	h.FreeListHead = types.BlockID(binary.LittleEndian.Uint64(buf[80:]))
	return h, true
}

func validBlockSize(bs int) bool {
	return bs >= types.MinBlockSize && bs <= types.MaxBlockSize && bs&(bs-1) == 0
}
