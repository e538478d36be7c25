package wlog

import (
	"io"

	"github.com/walb-linux/walb-go/pkg/walb/block"
	"github.com/walb-linux/walb-go/pkg/walb/walberr"
)

// Reader is the pull-based API for consuming a wlog stream: ReadHeader once,
// then alternate FetchNext (advance to the next pack) with ReadLog (drain
// that pack's records) until FetchNext reports end of stream.
type Reader struct {
	r      io.Reader
	pbs    uint32
	salt   uint32
	header FileHeader

	cur       PackHeader
	curBlocks [][]byte
	idx       int
	ended     bool
}

// NewReader constructs a Reader; call ReadHeader before FetchNext.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadHeader decodes the stream's file header and fixes the physical block
// size and checksum salt used for every subsequent pack.
func (r *Reader) ReadHeader() (FileHeader, error) {
	// The file header is exactly one physical block, but its own size is
	// unknown until decoded; the smallest legal PBS is 512 so probe that
	// first PB-sized window.
	probe := make([]byte, block.LogicalBlockSize)
	if _, err := io.ReadFull(r.r, probe); err != nil {
		return FileHeader{}, err
	}
	h, pbs, err := decodeFileHeader(probe)
	if err != nil {
		return FileHeader{}, err
	}
	if pbs > uint32(len(probe)) {
		rest := make([]byte, pbs-uint32(len(probe)))
		if _, err := io.ReadFull(r.r, rest); err != nil {
			return FileHeader{}, err
		}
	}
	r.header = h
	r.pbs = h.PBS
	r.salt = h.Salt
	return h, nil
}

// Header returns the file header read by ReadHeader.
func (r *Reader) Header() FileHeader { return r.header }

// FetchNext reads the next pack header and its payload blocks. It returns
// false, nil at a clean end-of-stream marker, and false, io.EOF (or another
// error) on a short read.
func (r *Reader) FetchNext() (bool, error) {
	if r.ended {
		return false, nil
	}
	buf := make([]byte, r.pbs)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return false, err
	}
	hdr, err := decodePackHeader(buf, r.pbs, r.salt)
	if err != nil {
		return false, err
	}
	if hdr.IsEnd() {
		r.ended = true
		return false, nil
	}

	totalBytes := int(hdr.TotalIoSize) * int(r.pbs)
	payload := make([]byte, totalBytes)
	if totalBytes > 0 {
		if _, err := io.ReadFull(r.r, payload); err != nil {
			return false, err
		}
	}

	blocks := make([][]byte, len(hdr.Records))
	off := 0
	for i, rec := range hdr.Records {
		if rec.IsDiscard() {
			continue
		}
		capBytes := int(block.CapacityPB(r.pbs, rec.IoSizeLB)) * int(r.pbs)
		ioBytes := int(rec.IoSizeLB) * block.LogicalBlockSize
		if off+capBytes > len(payload) || ioBytes > capBytes {
			return false, walberr.ErrBadFormat
		}
		blocks[i] = payload[off : off+capBytes][:ioBytes]
		off += capBytes
	}

	r.cur = hdr
	r.curBlocks = blocks
	r.idx = 0
	return true, nil
}

// ReadLog returns the next record of the current pack along with its
// payload (nil for discard records; padding records return their filler
// blocks), verifying the per-record checksum where one applies. It returns
// io.EOF once the pack is drained.
func (r *Reader) ReadLog() (Record, []byte, error) {
	if r.idx >= len(r.cur.Records) {
		return Record{}, nil, io.EOF
	}
	rec := r.cur.Records[r.idx]
	payload := r.curBlocks[r.idx]
	r.idx++

	if rec.HasDataForChecksum() {
		if block.Checksum(payload, r.salt) != rec.Checksum {
			return Record{}, nil, walberr.ErrBadChecksum
		}
	}
	return rec, payload, nil
}

// CurrentLsid returns the LSID of the pack currently loaded by FetchNext.
func (r *Reader) CurrentLsid() uint64 { return r.cur.LogpackLsid }
