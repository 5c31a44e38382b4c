package wal_manager

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"nsfslite/types"

	"github.com/pkg/errors"
)

func (r *WALRecord) Encode() []byte {
	totalSize := RecordHeaderSize + len(r.Data)
	buf := make([]byte, totalSize)

	binary.BigEndian.PutUint64(buf[0:8], r.LSN)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(r.Data)))
	binary.BigEndian.PutUint32(buf[12:16], r.CRC)
	copy(buf[16:], r.Data)

	return buf
}

func (r *WALRecord) ValidateCRC() bool {
	return calculateCRC(r.LSN, r.Data) == r.CRC
}

// calculateCRC computes CRC32 checksum over LSN and data
func calculateCRC(lsn uint64, data []byte) uint32 {
	hasher := crc32.NewIEEE()

	var lsnBytes [8]byte
	binary.BigEndian.PutUint64(lsnBytes[:], lsn)
	hasher.Write(lsnBytes[:])
	hasher.Write(data)

	return hasher.Sum32()
}

/*
File header:

	magic    [8]  "NSFSWAL\x00"
	version  (4)
	reserved (4)
	storeID  [16] identity of the main store this log belongs to
	baseLSN  (8)
	crc      (4)  CRC32 over bytes [0,40)
	padding  (4)
*/

const walVersion = 1

var walMagic = []byte("NSFSWAL\x00")

func encodeFileHeader(h fileHeader) []byte {
	buf := make([]byte, FileHeaderSize)
	copy(buf[0:8], walMagic)
	binary.BigEndian.PutUint32(buf[8:12], walVersion)
	copy(buf[16:32], h.StoreID[:])
	binary.BigEndian.PutUint64(buf[32:40], h.BaseLSN)
	binary.BigEndian.PutUint32(buf[40:44], crc32.ChecksumIEEE(buf[:40]))
	return buf
}

func decodeFileHeader(buf []byte) (fileHeader, error) {
	var h fileHeader
	if len(buf) < FileHeaderSize || !bytes.Equal(buf[0:8], walMagic) {
		return h, errors.Wrap(types.ErrCorrupt, "wal: bad magic")
	}
	if v := binary.BigEndian.Uint32(buf[8:12]); v != walVersion {
		return h, errors.Wrapf(types.ErrCorrupt, "wal: unsupported version %d", v)
	}
	if crc32.ChecksumIEEE(buf[:40]) != binary.BigEndian.Uint32(buf[40:44]) {
		return h, errors.Wrap(types.ErrCorrupt, "wal: header checksum mismatch")
	}
	copy(h.StoreID[:], buf[16:32])
	h.BaseLSN = binary.BigEndian.Uint64(buf[32:40])
	return h, nil
}
