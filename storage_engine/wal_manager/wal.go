package wal_manager

import (
	"encoding/binary"
	"os"

	"nsfslite/types"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

/*

WAL File
──────────────────────────────────────────────
| Header (48) | Record | Record | Record | ... |
──────────────────────────────────────────────

Each Record:
────────────────────────────────────────────
| LSN (8) | LEN (4) | CRC (4) | DATA (LEN) |
────────────────────────────────────────────

DATA is a types.Operation encoding. LSNs increase strictly through the file
and across checkpoints; the header's baseLSN is the smallest LSN the file
may hold.

A record whose header or body runs past the end of the file, or whose CRC
fails while it is the last thing in the file, is the remains of an append
interrupted by a crash. It was never acknowledged, so it is cut off on open.
A CRC failure with more data behind it is real corruption.

A new header is never written over an old one: a fresh log, or the log
left after a checkpoint, is built in a side file and renamed into place.
*/

// OpenWAL opens the log at path, creating it when missing. storeID must
// match the identity recorded in an existing log. checkpointLSN is the last
// LSN the main store already contains.
func OpenWAL(fs afero.Fs, path string, storeID uuid.UUID, checkpointLSN uint64) (*WALManager, RecoveryInfo, error) {
	var info RecoveryInfo
	wal := &WALManager{fs: fs, storeID: storeID}

	st, err := fs.Stat(path)
	switch {
	case os.IsNotExist(err) || (err == nil && st.Size() == 0):
		if err := wal.install(path, checkpointLSN+1, nil); err != nil {
			return nil, info, err
		}
	case err != nil:
		return nil, info, types.IOFailure(err, "stat wal %s", path)
	default:
		if wal.file, err = OpenWALFile(fs, path); err != nil {
			return nil, info, err
		}
	}

	if info, err = wal.recoverWALEntries(); err != nil {
		wal.file.Close()
		return nil, info, err
	}

	wal.nextLSN = max(wal.baseLSN, wal.lastLSN+1, checkpointLSN+1)

	log.WithFields(log.Fields{
		"path":    path,
		"records": info.Records,
		"lastLSN": info.LastLSN,
		"nextLSN": wal.nextLSN,
		"size":    humanize.IBytes(uint64(wal.file.Size)),
	}).Info("opened write-ahead log")

	return wal, info, nil
}

// recoverWALEntries validates the header, then scans every record to find
// the last LSN and cut off a torn tail.
func (w *WALManager) recoverWALEntries() (RecoveryInfo, error) {
	var info RecoveryInfo

	hdr := make([]byte, FileHeaderSize)
	if n, _ := w.file.File.ReadAt(hdr, 0); n < FileHeaderSize {
		return info, errors.Wrapf(types.ErrCorrupt, "wal %s: short header", w.file.FilePath)
	}
	h, err := decodeFileHeader(hdr)
	if err != nil {
		return info, errors.WithMessage(err, w.file.FilePath)
	}
	if h.StoreID != w.storeID {
		return info, errors.Wrapf(types.ErrCorrupt, "wal %s belongs to store %s, not %s",
			w.file.FilePath, h.StoreID, w.storeID)
	}
	w.baseLSN = h.BaseLSN

	end, err := w.iterate(func(rec WALRecord, _ int64) error {
		if rec.LSN < w.baseLSN || (w.lastLSN != 0 && rec.LSN <= w.lastLSN) {
			return errors.Wrapf(types.ErrCorrupt, "wal: LSN %d out of order after %d", rec.LSN, w.lastLSN)
		}
		if _, err := types.DecodeOperation(rec.Data); err != nil {
			return errors.WithMessagef(err, "wal: LSN %d", rec.LSN)
		}
		w.lastLSN = rec.LSN
		info.Records++
		return nil
	})
	if err != nil {
		return info, err
	}
	info.LastLSN = w.lastLSN

	if size := w.file.Size; end < size {
		info.TornBytes = size - end
		log.WithFields(log.Fields{
			"path":   w.file.FilePath,
			"offset": end,
			"bytes":  info.TornBytes,
		}).Warn("truncating incomplete record at end of wal")
		if err := w.file.Truncate(end); err != nil {
			return info, err
		}
	}
	return info, nil
}

// iterate calls fn for each intact record in file order and returns the
// offset just past the last one. The remaining bytes, if any, are a torn
// tail.
func (w *WALManager) iterate(fn func(rec WALRecord, offset int64) error) (int64, error) {
	var (
		file = w.file.File
		size = w.file.Size
		off  = int64(FileHeaderSize)
		hdr  = make([]byte, RecordHeaderSize)
	)
	for off < size {
		if size-off < RecordHeaderSize {
			return off, nil
		}
		if _, err := file.ReadAt(hdr, off); err != nil {
			return off, types.IOFailure(err, "read wal record header at %d", off)
		}
		rec := WALRecord{
			LSN: binary.BigEndian.Uint64(hdr[0:8]),
			CRC: binary.BigEndian.Uint32(hdr[12:16]),
		}
		dataLen := int64(binary.BigEndian.Uint32(hdr[8:12]))
		end := off + RecordHeaderSize + dataLen
		if dataLen > MaxRecordSize || end > size {
			return off, nil
		}

		rec.Data = make([]byte, dataLen)
		if _, err := file.ReadAt(rec.Data, off+RecordHeaderSize); err != nil {
			return off, types.IOFailure(err, "read wal record at %d", off)
		}
		if !rec.ValidateCRC() {
			if end == size {
				return off, nil
			}
			return off, errors.Wrapf(types.ErrCorrupt, "wal: CRC mismatch at offset %d (LSN %d)", off, rec.LSN)
		}
		if err := fn(rec, off); err != nil {
			return off, err
		}
		off = end
	}
	return off, nil
}

// AppendOperation writes op to the log and returns its LSN. It is durable
// only after Sync.
func (wm *WALManager) AppendOperation(op *types.Operation) (uint64, error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	data := op.Encode()
	if int64(len(data)) > MaxRecordSize {
		return 0, errors.Wrapf(types.ErrTooLarge, "%s record of %d bytes, limit %d", op.Type, len(data), MaxRecordSize)
	}
	lsn := wm.nextLSN

	record := &WALRecord{
		LSN:  lsn,
		Data: data,
		CRC:  calculateCRC(lsn, data),
	}
	if _, err := wm.file.Append(record.Encode()); err != nil {
		return 0, err
	}

	wm.nextLSN++
	wm.lastLSN = lsn
	op.LSN = lsn
	return lsn, nil
}

// Mark returns the current end of the log.
func (wm *WALManager) Mark() Mark {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return Mark{Size: wm.file.Size, LastLSN: wm.lastLSN}
}

// Rewind cuts every record appended after m off the log and syncs it. LSNs
// handed out since m are not reused.
func (wm *WALManager) Rewind(m Mark) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if m.Size < FileHeaderSize || m.Size > wm.file.Size {
		return errors.Errorf("wal: cannot rewind to %d, size %d", m.Size, wm.file.Size)
	}
	if err := wm.file.Truncate(m.Size); err != nil {
		return err
	}
	wm.lastLSN = m.LastLSN
	return nil
}

func (wm *WALManager) Sync() error {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.file.Sync()
}

// ReplayFromLSN hands every operation with LSN >= startLSN to applyFunc, in
// log order.
func (wm *WALManager) ReplayFromLSN(startLSN uint64, applyFunc func(*types.Operation) error) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	_, err := wm.iterate(func(rec WALRecord, _ int64) error {
		if rec.LSN < startLSN {
			return nil
		}
		op, err := types.DecodeOperation(rec.Data)
		if err != nil {
			return errors.WithMessagef(err, "wal: LSN %d", rec.LSN)
		}
		op.LSN = rec.LSN
		if err := applyFunc(op); err != nil {
			return errors.WithMessagef(err, "failed to apply operation at LSN %d", rec.LSN)
		}
		return nil
	})
	return err
}

// Checkpoint drops every record with LSN <= upTo. Later records are kept.
func (wm *WALManager) Checkpoint(upTo uint64) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	var tail []byte
	if _, err := wm.iterate(func(rec WALRecord, _ int64) error {
		if rec.LSN > upTo {
			tail = append(tail, rec.Encode()...)
		}
		return nil
	}); err != nil {
		return err
	}
	if err := wm.install(wm.file.FilePath, upTo+1, tail); err != nil {
		return err
	}
	if len(tail) == 0 {
		wm.lastLSN = 0
	}
	wm.nextLSN = max(wm.nextLSN, upTo+1)
	return nil
}

// install builds a log holding header(baseLSN) and tail in a side file,
// syncs it, and renames it over path.
func (wm *WALManager) install(path string, baseLSN uint64, tail []byte) error {
	tmp := path + ".tmp"
	f, err := wm.fs.OpenFile(tmp, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return types.IOFailure(err, "create %s", tmp)
	}
	buf := append(encodeFileHeader(fileHeader{StoreID: wm.storeID, BaseLSN: baseLSN}), tail...)
	if _, err := f.WriteAt(buf, 0); err != nil {
		f.Close()
		return types.IOFailure(err, "write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return types.IOFailure(err, "sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		return types.IOFailure(err, "close %s", tmp)
	}

	if wm.file != nil {
		if err := wm.file.Close(); err != nil {
			return err
		}
	}
	if err := wm.fs.Rename(tmp, path); err != nil {
		return types.IOFailure(err, "rename %s", tmp)
	}
	if wm.file, err = OpenWALFile(wm.fs, path); err != nil {
		return err
	}
	wm.baseLSN = baseLSN
	return nil
}

func (wm *WALManager) Path() string {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.file.FilePath
}

// Size is the current file size in bytes.
func (wm *WALManager) Size() int64 {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.file.Size
}

// LastLSN is the LSN of the newest record, or 0 for an empty log.
func (wm *WALManager) LastLSN() uint64 {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.lastLSN
}

func (wm *WALManager) NextLSN() uint64 {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.nextLSN
}

func (wm *WALManager) Close() error {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.file.Close()
}
