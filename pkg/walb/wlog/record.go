package wlog

import (
	"encoding/binary"

	"github.com/walb-linux/walb-go/pkg/walb/walberr"
)

// Flag bits for Record.Flags.
const (
	FlagExist   uint32 = 1 << 0
	FlagPadding uint32 = 1 << 1
	FlagDiscard uint32 = 1 << 2
)

// RecordSize is the on-disk size of one log record.
const RecordSize = 32

// SectorTypeLogpack is the only sector type a log-pack header may carry.
const SectorTypeLogpack uint16 = 1

// Record is one walb log record: a description of a single IO that was
// appended to the log device, plus its position in both the log (lsid) and
// the pack it belongs to (lsid_local).
type Record struct {
	Checksum  uint32
	Lsid      uint64
	LsidLocal uint32
	IoSizeLB  uint32 // payload size in logical blocks
	OffsetLB  uint64 // target device offset in logical blocks
	Flags     uint32
}

// IsExist reports whether the EXIST flag is set; a cleared record is a
// hole left in a padding-trimmed or truncated pack.
func (r *Record) IsExist() bool { return r.Flags&FlagExist != 0 }

// IsPadding reports whether this record is a pack-alignment filler.
func (r *Record) IsPadding() bool { return r.Flags&FlagPadding != 0 }

// IsDiscard reports whether this record is a deallocation hint.
func (r *Record) IsDiscard() bool { return r.Flags&FlagDiscard != 0 }

// IsNormal reports whether this record carries a real IO to replay.
func (r *Record) IsNormal() bool { return r.IsExist() && !r.IsPadding() && !r.IsDiscard() }

// HasDataForChecksum reports whether the record's payload participates in
// the per-record checksum. Discard and padding records do not.
func (r *Record) HasDataForChecksum() bool {
	return r.IsExist() && !r.IsDiscard() && !r.IsPadding()
}

// EndOffsetLB returns the exclusive end of the record's target range.
func (r *Record) EndOffsetLB() uint64 { return r.OffsetLB + uint64(r.IoSizeLB) }

func (r *Record) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], r.Checksum)
	binary.LittleEndian.PutUint64(b[4:12], r.Lsid)
	binary.LittleEndian.PutUint32(b[12:16], r.LsidLocal)
	binary.LittleEndian.PutUint32(b[16:20], r.IoSizeLB)
	binary.LittleEndian.PutUint64(b[20:28], r.OffsetLB)
	binary.LittleEndian.PutUint32(b[28:32], r.Flags)
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) < RecordSize {
		return Record{}, walberr.ErrBadFormat
	}
	return Record{
		Checksum:  binary.LittleEndian.Uint32(b[0:4]),
		Lsid:      binary.LittleEndian.Uint64(b[4:12]),
		LsidLocal: binary.LittleEndian.Uint32(b[12:16]),
		IoSizeLB:  binary.LittleEndian.Uint32(b[16:20]),
		OffsetLB:  binary.LittleEndian.Uint64(b[20:28]),
		Flags:     binary.LittleEndian.Uint32(b[28:32]),
	}, nil
}
