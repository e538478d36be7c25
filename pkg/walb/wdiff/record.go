// Package wdiff implements the on-disk wdiff record and file format: an
// address-ordered, non-overlapping stream of diff records with optional
// snappy-compressed payloads.
package wdiff

import (
	"encoding/binary"

	"github.com/walb-linux/walb-go/pkg/walb/block"
	"github.com/walb-linux/walb-go/pkg/walb/walberr"
)

// Flag bits for Record.Flags. ALLZERO and DISCARD are mutually exclusive.
const (
	FlagExist   uint8 = 1 << 0
	FlagAllZero uint8 = 1 << 1
	FlagDiscard uint8 = 1 << 2
)

// Compression type codes for Record.CompressionType.
const (
	CompressionNone   uint8 = 0
	CompressionSnappy uint8 = 1
)

// RecordSize is the on-disk size of one diff record.
const RecordSize = 24

// Record is one wdiff record: an address range on the target volume and
// how to reconstruct its bytes.
type Record struct {
	IoAddress        uint64 // LB
	IoBlocks         uint16 // LB
	Flags            uint8
	CompressionType  uint8
	DataOffset       uint32 // byte offset of payload within the pack's payload section
	DataSize         uint32 // payload bytes on disk (compressed length if CompressionSnappy)
	Checksum         uint32 // over the uncompressed payload; unused for non-normal records
}

// IsExist reports whether EXIST is set.
func (r *Record) IsExist() bool { return r.Flags&FlagExist != 0 }

// IsAllZero reports whether this record stands in for a zeroed region.
func (r *Record) IsAllZero() bool { return r.Flags&FlagAllZero != 0 }

// IsDiscard reports whether this record is a deallocation hint.
func (r *Record) IsDiscard() bool { return r.Flags&FlagDiscard != 0 }

// IsNormal reports whether the record carries real payload bytes.
func (r *Record) IsNormal() bool { return !r.IsAllZero() && !r.IsDiscard() }

// IsCompressed reports whether the payload is snappy-compressed.
func (r *Record) IsCompressed() bool { return r.CompressionType == CompressionSnappy }

// EndIoAddress returns the exclusive end of the record's target range.
func (r *Record) EndIoAddress() uint64 { return r.IoAddress + uint64(r.IoBlocks) }

// IsValid reports whether the record satisfies the format's structural
// invariants (mirrors the original walb_diff_base.hpp Record::isValid).
func (r *Record) IsValid() bool {
	if !r.IsExist() {
		return false
	}
	if r.IsAllZero() && r.IsDiscard() {
		return false
	}
	if !r.IsNormal() {
		return r.DataSize == 0
	}
	return r.CompressionType == CompressionNone || r.CompressionType == CompressionSnappy
}

func (r *Record) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], r.IoAddress)
	binary.LittleEndian.PutUint16(b[8:10], r.IoBlocks)
	b[10] = r.Flags
	b[11] = r.CompressionType
	binary.LittleEndian.PutUint32(b[12:16], r.DataOffset)
	binary.LittleEndian.PutUint32(b[16:20], r.DataSize)
	binary.LittleEndian.PutUint32(b[20:24], r.Checksum)
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) < RecordSize {
		return Record{}, walberr.ErrBadFormat
	}
	return Record{
		IoAddress:       binary.LittleEndian.Uint64(b[0:8]),
		IoBlocks:        binary.LittleEndian.Uint16(b[8:10]),
		Flags:           b[10],
		CompressionType: b[11],
		DataOffset:      binary.LittleEndian.Uint32(b[12:16]),
		DataSize:        binary.LittleEndian.Uint32(b[16:20]),
		Checksum:        binary.LittleEndian.Uint32(b[20:24]),
	}, nil
}

// Split divides a record at ioBlocks0 logical blocks from its start,
// returning the [0,ioBlocks0) and [ioBlocks0,end) halves. It rejects
// zero-length splits, splits at or beyond the record's own length, and
// splitting a compressed record (its payload cannot be sliced without
// decompressing first).
func Split(rec Record, ioBlocks0 uint16) (Record, Record, error) {
	if ioBlocks0 == 0 || ioBlocks0 >= rec.IoBlocks {
		return Record{}, Record{}, walberr.ErrArgError
	}
	if rec.IsCompressed() {
		return Record{}, Record{}, walberr.ErrArgError
	}
	left := rec
	left.IoBlocks = ioBlocks0
	right := rec
	right.IoAddress = rec.IoAddress + uint64(ioBlocks0)
	right.IoBlocks = rec.IoBlocks - ioBlocks0
	if rec.IsNormal() {
		left.DataSize = uint32(ioBlocks0) * block.LogicalBlockSize
		right.DataSize = uint32(right.IoBlocks) * block.LogicalBlockSize
	}
	left.Checksum = 0
	right.Checksum = 0
	return left, right, nil
}
