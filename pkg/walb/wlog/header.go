package wlog

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/walb-linux/walb-go/pkg/walb/block"
	"github.com/walb-linux/walb-go/pkg/walb/walberr"
)

// fileHeaderFixedSize is the encoded size of everything before the trailing
// zero pad in FileHeader.
const fileHeaderFixedSize = 52

var fileMagic = [4]byte{'W', 'L', 'O', 'G'}

const fileVersion uint16 = 1

// FileHeader precedes every wlog stream: it fixes the physical block size
// and checksum salt for every pack that follows, names the source device
// by UUID, and records the LSID range the stream covers.
type FileHeader struct {
	PBS       uint32
	Salt      uint32
	UUID      uuid.UUID
	BeginLsid uint64
	EndLsid   uint64
}

func (h *FileHeader) encode(pbs uint32) []byte {
	buf := make([]byte, pbs)
	copy(buf[0:4], fileMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], fileVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.PBS)
	binary.LittleEndian.PutUint32(buf[12:16], h.Salt)
	copy(buf[16:32], h.UUID[:])
	binary.LittleEndian.PutUint64(buf[32:40], h.BeginLsid)
	binary.LittleEndian.PutUint64(buf[40:48], h.EndLsid)
	csum := block.Checksum(buf, 0)
	binary.LittleEndian.PutUint32(buf[48:52], csum)
	return buf
}

func decodeFileHeader(buf []byte) (FileHeader, uint32, error) {
	if len(buf) < fileHeaderFixedSize {
		return FileHeader{}, 0, walberr.ErrBadFormat
	}
	if string(buf[0:4]) != string(fileMagic[:]) {
		return FileHeader{}, 0, walberr.ErrBadFormat
	}
	if binary.LittleEndian.Uint16(buf[4:6]) != fileVersion {
		return FileHeader{}, 0, walberr.ErrBadFormat
	}
	want := binary.LittleEndian.Uint32(buf[48:52])
	check := make([]byte, len(buf))
	copy(check, buf)
	binary.LittleEndian.PutUint32(check[48:52], 0)
	if block.Checksum(check, 0) != want {
		return FileHeader{}, 0, walberr.ErrBadChecksum
	}

	var h FileHeader
	h.PBS = binary.LittleEndian.Uint32(buf[8:12])
	h.Salt = binary.LittleEndian.Uint32(buf[12:16])
	copy(h.UUID[:], buf[16:32])
	h.BeginLsid = binary.LittleEndian.Uint64(buf[32:40])
	h.EndLsid = binary.LittleEndian.Uint64(buf[40:48])
	return h, h.PBS, nil
}

// endLsidMarker is the logpack_lsid value that identifies an end-of-stream
// header (a header with n_records == 0 sharing this lsid).
const endLsidMarker uint64 = ^uint64(0)

// packHeaderFixedSize is the size of everything in a PackHeader before the
// inline record array.
const packHeaderFixedSize = 28

// PackHeader describes one log pack: its own checksum, the total number of
// physical blocks its records' payloads occupy, its base LSID, and the
// inline array of up to MaxRecordsInPB(pbs) records.
type PackHeader struct {
	Checksum    uint32
	TotalIoSize uint32 // in PB
	LogpackLsid uint64
	NPadding    uint16
	Records     []Record
}

// MaxRecordsInPB returns how many 32-byte records fit alongside the fixed
// header fields in one physical block.
func MaxRecordsInPB(pbs uint32) int {
	return (int(pbs) - packHeaderFixedSize) / RecordSize
}

// IsEnd reports whether this header is the end-of-stream marker.
func (h *PackHeader) IsEnd() bool {
	return len(h.Records) == 0 && h.LogpackLsid == endLsidMarker
}

// EndHeader builds the terminal header written by Writer.Close.
func EndHeader() PackHeader {
	return PackHeader{LogpackLsid: endLsidMarker}
}

func (h *PackHeader) encode(pbs uint32, salt uint32) []byte {
	buf := make([]byte, pbs)
	binary.LittleEndian.PutUint16(buf[4:6], SectorTypeLogpack)
	binary.LittleEndian.PutUint32(buf[8:12], h.TotalIoSize)
	binary.LittleEndian.PutUint64(buf[12:20], h.LogpackLsid)
	binary.LittleEndian.PutUint16(buf[20:22], uint16(len(h.Records)))
	binary.LittleEndian.PutUint16(buf[22:24], h.NPadding)
	off := packHeaderFixedSize
	for i := range h.Records {
		h.Records[i].encode(buf[off : off+RecordSize])
		off += RecordSize
	}
	checksum := block.Checksum(buf, salt)
	binary.LittleEndian.PutUint32(buf[0:4], checksum)
	return buf
}

func decodePackHeader(buf []byte, pbs uint32, salt uint32) (PackHeader, error) {
	if len(buf) < packHeaderFixedSize {
		return PackHeader{}, walberr.ErrBadFormat
	}
	sectorType := binary.LittleEndian.Uint16(buf[4:6])
	nRecords := binary.LittleEndian.Uint16(buf[20:22])
	logpackLsid := binary.LittleEndian.Uint64(buf[12:20])

	// The end marker is recognised before its sector type and checksum
	// are checked.
	if nRecords == 0 && logpackLsid == endLsidMarker {
		return PackHeader{LogpackLsid: endLsidMarker}, nil
	}
	if sectorType != SectorTypeLogpack {
		return PackHeader{}, walberr.ErrBadFormat
	}
	if int(nRecords) > MaxRecordsInPB(pbs) {
		return PackHeader{}, walberr.ErrBadFormat
	}

	wantChecksum := binary.LittleEndian.Uint32(buf[0:4])
	check := make([]byte, len(buf))
	copy(check, buf)
	binary.LittleEndian.PutUint32(check[0:4], 0)
	if block.Checksum(check, salt) != wantChecksum {
		return PackHeader{}, walberr.ErrBadChecksum
	}

	h := PackHeader{
		Checksum:    wantChecksum,
		TotalIoSize: binary.LittleEndian.Uint32(buf[8:12]),
		LogpackLsid: logpackLsid,
		NPadding:    binary.LittleEndian.Uint16(buf[22:24]),
	}
	off := packHeaderFixedSize
	h.Records = make([]Record, nRecords)
	for i := 0; i < int(nRecords); i++ {
		if off+RecordSize > len(buf) {
			return PackHeader{}, walberr.ErrBadFormat
		}
		rec, err := decodeRecord(buf[off : off+RecordSize])
		if err != nil {
			return PackHeader{}, err
		}
		h.Records[i] = rec
		off += RecordSize
	}
	return h, nil
}
