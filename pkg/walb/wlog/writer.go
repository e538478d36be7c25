package wlog

import (
	"io"

	"github.com/walb-linux/walb-go/pkg/walb/block"
	"github.com/walb-linux/walb-go/pkg/walb/walberr"
)

// Writer is the push-based API for producing a wlog stream: callers add
// records to the pack currently being built; each Add call reports whether
// it fit, and the caller must Flush and start a new pack when it doesn't.
type Writer struct {
	w      io.Writer
	pbs    uint32
	salt   uint32
	cur    PackHeader
	blocks [][]byte // payload for cur.Records, aligned 1:1, nil entries for discard
	closed bool
}

// NewWriter writes fh as the stream's file header and returns a Writer
// ready to build packs starting at fh.BeginLsid.
func NewWriter(w io.Writer, fh FileHeader) (*Writer, error) {
	if _, err := w.Write(fh.encode(fh.PBS)); err != nil {
		return nil, err
	}
	return &Writer{
		w:    w,
		pbs:  fh.PBS,
		salt: fh.Salt,
		cur:  PackHeader{LogpackLsid: fh.BeginLsid},
	}, nil
}

// AddNormal appends a normal IO record covering payload (io_size ==
// len(payload)/512 logical blocks). It returns false without modifying the
// pack if the pack's record array is full; the caller should Flush and
// retry.
func (w *Writer) AddNormal(offsetLB uint64, payload []byte) (bool, error) {
	if len(payload)%block.LogicalBlockSize != 0 {
		return false, walberr.ErrArgError
	}
	ioBlocks := uint32(len(payload) / block.LogicalBlockSize)
	if !w.roomFor() {
		return false, nil
	}
	lsidLocal := w.cur.TotalIoSize + 1
	rec := Record{
		Lsid:      w.cur.LogpackLsid + uint64(lsidLocal),
		LsidLocal: lsidLocal,
		IoSizeLB:  ioBlocks,
		OffsetLB:  offsetLB,
		Flags:     FlagExist,
		Checksum:  block.Checksum(payload, w.salt),
	}
	w.cur.Records = append(w.cur.Records, rec)
	w.cur.TotalIoSize += block.CapacityPB(w.pbs, ioBlocks)
	w.blocks = append(w.blocks, payload)
	return true, nil
}

// AddDiscard appends a discard record. Discard records carry no payload and
// do not advance total_io_size.
func (w *Writer) AddDiscard(offsetLB uint64, ioBlocks uint32) (bool, error) {
	if !w.roomFor() {
		return false, nil
	}
	lsidLocal := w.cur.TotalIoSize + 1
	rec := Record{
		Lsid:      w.cur.LogpackLsid + uint64(lsidLocal),
		LsidLocal: lsidLocal,
		IoSizeLB:  ioBlocks,
		OffsetLB:  offsetLB,
		Flags:     FlagExist | FlagDiscard,
	}
	w.cur.Records = append(w.cur.Records, rec)
	w.blocks = append(w.blocks, nil)
	return true, nil
}

// AddPadding appends the pack's alignment filler. At most one padding
// record is allowed per pack, it must be the last record added, and its
// size must be a whole number of physical blocks.
func (w *Writer) AddPadding(sizeLB uint32) (bool, error) {
	if w.cur.NPadding > 0 {
		return false, walberr.ErrArgError
	}
	if !block.IsPBAligned(w.pbs, sizeLB) {
		return false, walberr.ErrArgError
	}
	if !w.roomFor() {
		return false, nil
	}
	lsidLocal := w.cur.TotalIoSize + 1
	rec := Record{
		Lsid:      w.cur.LogpackLsid + uint64(lsidLocal),
		LsidLocal: lsidLocal,
		IoSizeLB:  sizeLB,
		Flags:     FlagExist | FlagPadding,
	}
	w.cur.Records = append(w.cur.Records, rec)
	w.cur.TotalIoSize += block.CapacityPB(w.pbs, sizeLB)
	w.cur.NPadding = 1
	w.blocks = append(w.blocks, make([]byte, uint64(sizeLB)*block.LogicalBlockSize))
	return true, nil
}

func (w *Writer) roomFor() bool {
	return len(w.cur.Records) < MaxRecordsInPB(w.pbs)
}

// Flush writes the pack currently being built, if it holds any records, and
// starts a fresh empty pack at the next LSID.
func (w *Writer) Flush() error {
	if len(w.cur.Records) == 0 {
		return nil
	}
	if _, err := w.w.Write(w.cur.encode(w.pbs, w.salt)); err != nil {
		return err
	}
	for i, rec := range w.cur.Records {
		if rec.IsDiscard() {
			continue
		}
		payload := w.blocks[i]
		capacityBytes := int(block.CapacityPB(w.pbs, rec.IoSizeLB)) * int(w.pbs)
		if len(payload) < capacityBytes {
			padded := make([]byte, capacityBytes)
			copy(padded, payload)
			payload = padded
		}
		if _, err := w.w.Write(payload); err != nil {
			return err
		}
	}
	nextLsid := w.cur.LogpackLsid + uint64(w.cur.TotalIoSize)
	w.cur = PackHeader{LogpackLsid: nextLsid}
	w.blocks = nil
	return nil
}

// Close flushes any pending pack and writes the end-of-stream marker. It
// does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.Flush(); err != nil {
		return err
	}
	end := EndHeader()
	_, err := w.w.Write(end.encode(w.pbs, w.salt))
	return err
}
