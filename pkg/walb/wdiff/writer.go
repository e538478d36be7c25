package wdiff

import "io"

// Writer buffers diff records and their payloads, flushing one pack at a
// time once MaxPackSize would otherwise be exceeded. Compression is applied
// per record at flush time so callers can Add uncompressed RecIo values
// freely.
type Writer struct {
	w        io.Writer
	compress bool

	pending  []RecIo
	estimate int
	closed   bool
}

// NewWriter writes fh as the stream's file header. compress selects whether
// normal records are snappy-compressed at flush time.
func NewWriter(w io.Writer, fh FileHeader, compress bool) (*Writer, error) {
	if _, err := w.Write(fh.encode()); err != nil {
		return nil, err
	}
	return &Writer{w: w, compress: compress}, nil
}

// Add appends one record to the pack currently being buffered, flushing the
// current pack first if it is already full.
func (w *Writer) Add(rio RecIo) error {
	cost := RecordSize + len(rio.Data)
	if len(w.pending) > 0 && w.estimate+cost > MaxPackSize {
		if err := w.flush(false); err != nil {
			return err
		}
	}
	w.pending = append(w.pending, rio)
	w.estimate += cost
	return nil
}

func (w *Writer) flush(isEnd bool) error {
	if len(w.pending) == 0 && !isEnd {
		return nil
	}

	recs := make([]Record, len(w.pending))
	var payload []byte
	for i := range w.pending {
		rio := w.pending[i]
		if rio.Rec.IsNormal() {
			if w.compress && !rio.Rec.IsCompressed() {
				if err := rio.Compress(); err != nil {
					return err
				}
			}
			rio.Rec.DataOffset = uint32(len(payload))
			payload = append(payload, rio.Data...)
		}
		recs[i] = rio.Rec
	}

	totalSize := packMicroHeaderSize + len(recs)*RecordSize + len(payload)
	micro := packMicroHeader{nRecords: uint16(len(recs)), isEnd: isEnd, totalSize: uint32(totalSize)}
	if _, err := w.w.Write(encodePackMicro(micro)); err != nil {
		return err
	}
	recBuf := make([]byte, len(recs)*RecordSize)
	for i, r := range recs {
		r.encode(recBuf[i*RecordSize : (i+1)*RecordSize])
	}
	if _, err := w.w.Write(recBuf); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.w.Write(payload); err != nil {
			return err
		}
	}

	w.pending = nil
	w.estimate = 0
	return nil
}

// Close flushes any buffered records and writes the end-of-file marker
// pack. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flush(false); err != nil {
		return err
	}
	return w.flush(true)
}
