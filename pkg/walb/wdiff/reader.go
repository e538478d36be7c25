package wdiff

import (
	"io"

	"github.com/walb-linux/walb-go/pkg/walb/walberr"
)

// Reader is the pull-based API for consuming a wdiff stream.
type Reader struct {
	r      io.Reader
	header FileHeader

	recs  []Record
	data  [][]byte
	idx   int
	ended bool
}

// NewReader constructs a Reader; call ReadHeader before FetchNext.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadHeader decodes the stream's file header.
func (r *Reader) ReadHeader() (FileHeader, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return FileHeader{}, err
	}
	h, err := decodeFileHeader(buf)
	if err != nil {
		return FileHeader{}, err
	}
	r.header = h
	return h, nil
}

// Header returns the file header read by ReadHeader.
func (r *Reader) Header() FileHeader { return r.header }

// FetchNext loads the next pack. It returns false, nil at the end-of-file
// marker.
func (r *Reader) FetchNext() (bool, error) {
	if r.ended {
		return false, nil
	}
	microBuf := make([]byte, packMicroHeaderSize)
	if _, err := io.ReadFull(r.r, microBuf); err != nil {
		return false, err
	}
	micro, err := decodePackMicro(microBuf)
	if err != nil {
		return false, err
	}
	if micro.isEnd {
		r.ended = true
		return false, nil
	}
	if micro.totalSize < packMicroHeaderSize || micro.totalSize > MaxPackSize {
		return false, walberr.ErrBadFormat
	}

	rest := make([]byte, micro.totalSize-packMicroHeaderSize)
	if len(rest) > 0 {
		if _, err := io.ReadFull(r.r, rest); err != nil {
			return false, err
		}
	}

	recBytes := int(micro.nRecords) * RecordSize
	if recBytes > len(rest) {
		return false, walberr.ErrBadFormat
	}
	recs := make([]Record, micro.nRecords)
	for i := 0; i < int(micro.nRecords); i++ {
		rec, err := decodeRecord(rest[i*RecordSize : (i+1)*RecordSize])
		if err != nil {
			return false, err
		}
		recs[i] = rec
	}
	payload := rest[recBytes:]

	data := make([][]byte, len(recs))
	for i, rec := range recs {
		if !rec.IsNormal() {
			continue
		}
		start, end := int(rec.DataOffset), int(rec.DataOffset)+int(rec.DataSize)
		if start < 0 || end > len(payload) || end < start {
			return false, walberr.ErrBadFormat
		}
		data[i] = payload[start:end]
	}

	r.recs = recs
	r.data = data
	r.idx = 0
	return true, nil
}

// ReadLog returns the next record of the current pack, decompressed and
// checksum-verified, or io.EOF once the pack is drained.
func (r *Reader) ReadLog() (RecIo, error) {
	if r.idx >= len(r.recs) {
		return RecIo{}, io.EOF
	}
	rio := RecIo{Rec: r.recs[r.idx], Data: r.data[r.idx]}
	r.idx++

	if rio.Rec.IsNormal() {
		if err := rio.Decompress(); err != nil {
			return RecIo{}, err
		}
		if !rio.VerifyChecksum() {
			return RecIo{}, walberr.ErrBadChecksum
		}
	}
	return rio, nil
}
