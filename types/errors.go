package types

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Error taxonomy of the store. Call sites wrap these with context; callers
// match them with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrNameConflict     = errors.New("name already exists")
	ErrInvalidName      = errors.New("invalid variable name")
	ErrOffsetOutOfRange = errors.New("offset out of range")
	ErrInvalidStride    = errors.New("invalid stride")
	ErrLengthMismatch   = errors.New("payload length mismatch")
	ErrTooLarge         = errors.New("operation too large")
	ErrStaleHandle      = errors.New("stale variable handle")
	ErrBusy             = errors.New("writer busy")
	ErrCorrupt          = errors.New("corrupt store")
	ErrIOFailure        = errors.New("i/o failure")
	ErrClosed           = errors.New("connection closed")
	ErrTxnDone          = errors.New("transaction already finished")
)

// IsValidation reports whether err is a caller error detected before any
// durable side effect.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrNameConflict, ErrInvalidName, ErrOffsetOutOfRange, ErrInvalidStride,
		ErrLengthMismatch, ErrStaleHandle, ErrTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IOFailure tags a file-system error as ErrIOFailure, keeping its text.
func IOFailure(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(ErrIOFailure, "%s: %v", fmt.Sprintf(format, args...), err)
}
