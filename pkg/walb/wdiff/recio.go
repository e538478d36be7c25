package wdiff

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/walb-linux/walb-go/pkg/walb/block"
	"github.com/walb-linux/walb-go/pkg/walb/walberr"
)

// RecIo pairs a diff record with its payload. Data is nil for ALLZERO and
// DISCARD records. Diff IO checksums always use salt 0, unlike log record
// checksums which mix in the device's log-checksum salt.
type RecIo struct {
	Rec  Record
	Data []byte
}

// ChecksumData computes the diff-IO checksum of raw (uncompressed) bytes.
func ChecksumData(data []byte) uint32 {
	return block.Checksum(data, 0)
}

// Decompress ensures Data holds the uncompressed payload, decompressing in
// place if necessary. It is a no-op for non-normal or already-uncompressed
// records.
func (io *RecIo) Decompress() error {
	if !io.Rec.IsNormal() || !io.Rec.IsCompressed() {
		return nil
	}
	want := int(io.Rec.IoBlocks) * block.LogicalBlockSize
	raw, err := snappy.Decode(nil, io.Data)
	if err != nil {
		return err
	}
	if len(raw) != want {
		return walberr.ErrBadFormat
	}
	io.Data = raw
	io.Rec.CompressionType = CompressionNone
	io.Rec.DataSize = uint32(want)
	return nil
}

// Compress snappy-compresses an uncompressed normal record's payload.
func (io *RecIo) Compress() error {
	if !io.Rec.IsNormal() {
		return nil
	}
	if io.Rec.IsCompressed() {
		return walberr.ErrArgError
	}
	compressed := snappy.Encode(nil, io.Data)
	io.Data = compressed
	io.Rec.CompressionType = CompressionSnappy
	io.Rec.DataSize = uint32(len(compressed))
	return nil
}

// VerifyChecksum reports whether the (uncompressed) payload matches the
// record's stored checksum. Only meaningful for normal records.
func (io *RecIo) VerifyChecksum() bool {
	if !io.Rec.IsNormal() {
		return true
	}
	return ChecksumData(io.Data) == io.Rec.Checksum
}

// Slice returns a new RecIo covering [startLB, startLB+lenLB) of io's
// address range. io must be uncompressed. For non-normal records the
// returned RecIo simply narrows the address range.
func (io *RecIo) Slice(startLB, lenLB uint64) (RecIo, error) {
	if io.Rec.IsCompressed() {
		return RecIo{}, walberr.ErrArgError
	}
	if startLB < io.Rec.IoAddress || startLB+lenLB > io.Rec.EndIoAddress() {
		return RecIo{}, walberr.ErrArgError
	}
	out := RecIo{Rec: io.Rec}
	out.Rec.IoAddress = startLB
	out.Rec.IoBlocks = uint16(lenLB)
	if io.Rec.IsNormal() {
		off := (startLB - io.Rec.IoAddress) * block.LogicalBlockSize
		n := lenLB * block.LogicalBlockSize
		out.Data = bytes.Clone(io.Data[off : off+n])
		out.Rec.DataSize = uint32(len(out.Data))
		out.Rec.Checksum = ChecksumData(out.Data)
	}
	return out, nil
}

// SplitByMaxBlocks divides io into consecutive chunks each at most
// maxBlocks logical blocks. io must be uncompressed. A maxBlocks of 0 or an
// io already within the limit returns io unchanged as the sole element.
func (io *RecIo) SplitByMaxBlocks(maxBlocks uint16) ([]RecIo, error) {
	if maxBlocks == 0 || io.Rec.IoBlocks <= maxBlocks {
		return []RecIo{*io}, nil
	}
	if io.Rec.IsCompressed() {
		return nil, walberr.ErrArgError
	}
	var out []RecIo
	addr := io.Rec.IoAddress
	end := io.Rec.EndIoAddress()
	for addr < end {
		n := uint64(maxBlocks)
		if addr+n > end {
			n = end - addr
		}
		piece, err := io.Slice(addr, n)
		if err != nil {
			return nil, err
		}
		out = append(out, piece)
		addr += n
	}
	return out, nil
}
