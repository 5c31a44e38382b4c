package wal_manager

import (
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	FileHeaderSize   = 48
	RecordHeaderSize = 16
)

// MaxRecordSize bounds the data of a single record. Appends refuse anything
// larger, so a larger LEN field can only come from a torn or corrupt header.
var MaxRecordSize int64 = 1 << 30

type WALManager struct {
	fs      afero.Fs
	file    *WALFile
	storeID uuid.UUID

	baseLSN uint64 // first LSN this file may hold
	lastLSN uint64 // LSN of the last record, 0 when empty
	nextLSN uint64

	mu sync.Mutex
}

// WALFile is the log file itself: raw appends at the tracked end offset.
type WALFile struct {
	FilePath string
	File     afero.File
	Size     int64
	mu       sync.Mutex
}

// Mark is a position in the log to Rewind to.
type Mark struct {
	Size    int64
	LastLSN uint64
}

type WALRecord struct {
	LSN  uint64
	Data []byte
	CRC  uint32
}

type fileHeader struct {
	StoreID uuid.UUID
	BaseLSN uint64
}

// RecoveryInfo describes what Open found in an existing log.
type RecoveryInfo struct {
	Records   int
	LastLSN   uint64
	TornBytes int64 // bytes of an incomplete final record that were cut off
}
