package wal_manager

import (
	"os"

	"nsfslite/types"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

/*
This file contains the actual internal operation of the log file

The Two of the important functions

WALFile.Append: lowest level. Writes raw bytes at the tracked end offset.
No fsync, the data is in the OS buffer, not guaranteed durable.

WALFile.Sync: calls File.Sync(), which forces the OS buffer to disk.
After this, data is durable even if process crashes.

Appends use WriteAt rather than O_APPEND so a torn tail that was cut off on
open is overwritten in place.
*/

func OpenWALFile(fs afero.Fs, path string) (*WALFile, error) {
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, types.IOFailure(err, "open wal %s", path)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, types.IOFailure(err, "stat wal %s", path)
	}
	return &WALFile{FilePath: path, File: file, Size: stat.Size()}, nil
}

// Append writes data at the end of the file and returns bytes written.
func (wf *WALFile) Append(data []byte) (int, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	if wf.File == nil {
		return 0, errors.New("wal file not opened")
	}
	n, err := wf.File.WriteAt(data, wf.Size)
	if err != nil {
		// drop whatever part made it; the next append overwrites it
		return 0, types.IOFailure(err, "append to %s", wf.FilePath)
	}
	wf.Size += int64(n)
	return n, nil
}

func (wf *WALFile) Sync() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	if wf.File == nil {
		return errors.New("wal file not opened")
	}
	if err := wf.File.Sync(); err != nil {
		return types.IOFailure(err, "sync %s", wf.FilePath)
	}
	return nil
}

// Truncate cuts the file to size and syncs it.
func (wf *WALFile) Truncate(size int64) error {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	if err := wf.File.Truncate(size); err != nil {
		return types.IOFailure(err, "truncate %s", wf.FilePath)
	}
	wf.Size = size
	if err := wf.File.Sync(); err != nil {
		return types.IOFailure(err, "sync %s", wf.FilePath)
	}
	return nil
}

func (wf *WALFile) Close() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	if wf.File != nil {
		err := wf.File.Close()
		wf.File = nil
		if err != nil {
			return types.IOFailure(err, "close %s", wf.FilePath)
		}
	}
	return nil
}
