package types

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/snappy"
	"github.com/pkg/errors"
)

type OperationType byte

const (
	// Variable mutations
	OpCreate OperationType = 1
	OpDelete OperationType = 2
	OpInsert OperationType = 3
	OpWrite  OperationType = 4
	OpRemove OperationType = 5

	// Transaction control
	OpTxnBegin  OperationType = 6
	OpTxnCommit OperationType = 7
	OpTxnAbort  OperationType = 8
)

func (t OperationType) String() string {
	switch t {
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpInsert:
		return "insert"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpTxnBegin:
		return "begin"
	case OpTxnCommit:
		return "commit"
	case OpTxnAbort:
		return "abort"
	default:
		return fmt.Sprintf("op(%d)", byte(t))
	}
}

// IsControl is true for records that delimit transactions rather than
// change variables.
func (t OperationType) IsControl() bool {
	return t == OpTxnBegin || t == OpTxnCommit || t == OpTxnAbort
}

// Operation is the logical redo record carried in the WAL.
//
// Insert uses Start as the insertion offset. Write and Remove address the
// position set Start, Start+Step, ... < Stop. Create and Delete carry both
// the name and the variable id so replay reproduces the same ids.
type Operation struct {
	Type  OperationType
	TxnID uint64
	VarID uint64
	Name  string

	Start uint64
	Stop  uint64
	Step  uint64
	Data  []byte

	LSN uint64 // assigned by the WAL, not part of the encoding
}

/*
Operation encoding (little endian):

	type(1) | flags(1) | txn(8) | var(8) | start(8) | stop(8) | step(8)
	| nameLen(2) | name | rawLen(4) | data

flags bit 0 marks a snappy-compressed data section; rawLen is always the
uncompressed length.
*/

const (
	opFixedSize       = 1 + 1 + 8*5 + 2
	opFlagCompressed  = 0x01
	CompressThreshold = 256
)

// MaxEncodedLen bounds len(op.Encode()); compression only ever shrinks it.
func (op *Operation) MaxEncodedLen() int64 {
	return int64(opFixedSize + len(op.Name) + 4 + len(op.Data))
}

func (op *Operation) Encode() []byte {
	var flags byte
	data := op.Data
	if len(data) >= CompressThreshold {
		if c := snappy.Encode(nil, data); len(c) < len(data) {
			data = c
			flags |= opFlagCompressed
		}
	}

	buf := make([]byte, opFixedSize+len(op.Name)+4+len(data))
	buf[0] = byte(op.Type)
	buf[1] = flags
	binary.LittleEndian.PutUint64(buf[2:], op.TxnID)
	binary.LittleEndian.PutUint64(buf[10:], op.VarID)
	binary.LittleEndian.PutUint64(buf[18:], op.Start)
	binary.LittleEndian.PutUint64(buf[26:], op.Stop)
	binary.LittleEndian.PutUint64(buf[34:], op.Step)
	binary.LittleEndian.PutUint16(buf[42:], uint16(len(op.Name)))

	off := opFixedSize
	off += copy(buf[off:], op.Name)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(op.Data)))
	off += 4
	copy(buf[off:], data)

	return buf
}

func DecodeOperation(buf []byte) (*Operation, error) {
	if len(buf) < opFixedSize+4 {
		return nil, errors.Wrapf(ErrCorrupt, "operation record too short (%d bytes)", len(buf))
	}

	op := &Operation{
		Type:  OperationType(buf[0]),
		TxnID: binary.LittleEndian.Uint64(buf[2:]),
		VarID: binary.LittleEndian.Uint64(buf[10:]),
		Start: binary.LittleEndian.Uint64(buf[18:]),
		Stop:  binary.LittleEndian.Uint64(buf[26:]),
		Step:  binary.LittleEndian.Uint64(buf[34:]),
	}
	if op.Type < OpCreate || op.Type > OpTxnAbort {
		return nil, errors.Wrapf(ErrCorrupt, "unknown operation type %d", buf[0])
	}
	flags := buf[1]

	nameLen := int(binary.LittleEndian.Uint16(buf[42:]))
	off := opFixedSize
	if len(buf) < off+nameLen+4 {
		return nil, errors.Wrapf(ErrCorrupt, "operation name overruns record")
	}
	op.Name = string(buf[off : off+nameLen])
	off += nameLen

	rawLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	data := buf[off:]

	if flags&opFlagCompressed != 0 {
		n, err := snappy.DecodedLen(data)
		if err != nil || n != rawLen {
			return nil, errors.Wrapf(ErrCorrupt, "bad compressed payload (decoded %d, want %d)", n, rawLen)
		}
		if op.Data, err = snappy.Decode(nil, data); err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "decompress payload: %v", err)
		}
	} else if len(data) != rawLen {
		return nil, errors.Wrapf(ErrCorrupt, "payload length %d, want %d", len(data), rawLen)
	} else if rawLen != 0 {
		op.Data = append([]byte(nil), data...)
	}
	return op, nil
}
