package wdiff

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/walb-linux/walb-go/pkg/walb/block"
	"github.com/walb-linux/walb-go/pkg/walb/walberr"
)

var fileMagic = [4]byte{'w', 'd', 'i', 'f'}

const fileVersion uint16 = 1

// HeaderSize is the fixed on-disk size of a wdiff FileHeader block. It is
// independent of the source device's physical block size so a reader can
// find the first pack without first learning the device geometry.
const HeaderSize = 4096

const fileHeaderFixedSize = 40

// MaxPackSize bounds the total encoded size (micro-header + records +
// payloads) of a single pack.
const MaxPackSize = 1 << 20 // 1 MiB

// FileHeader precedes every wdiff stream.
type FileHeader struct {
	PBS         uint32
	Salt        uint32
	UUID        uuid.UUID
	MaxIoBlocks uint16
}

func (h *FileHeader) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], fileMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], fileVersion)
	binary.LittleEndian.PutUint16(buf[8:10], h.MaxIoBlocks)
	binary.LittleEndian.PutUint32(buf[12:16], h.PBS)
	binary.LittleEndian.PutUint32(buf[16:20], h.Salt)
	copy(buf[20:36], h.UUID[:])
	csum := block.Checksum(buf, 0)
	binary.LittleEndian.PutUint32(buf[36:40], csum)
	return buf
}

func decodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < fileHeaderFixedSize {
		return FileHeader{}, walberr.ErrBadFormat
	}
	if string(buf[0:4]) != string(fileMagic[:]) {
		return FileHeader{}, walberr.ErrBadFormat
	}
	if binary.LittleEndian.Uint16(buf[4:6]) != fileVersion {
		return FileHeader{}, walberr.ErrBadFormat
	}
	want := binary.LittleEndian.Uint32(buf[36:40])
	check := make([]byte, len(buf))
	copy(check, buf)
	binary.LittleEndian.PutUint32(check[36:40], 0)
	if block.Checksum(check, 0) != want {
		return FileHeader{}, walberr.ErrBadChecksum
	}
	var h FileHeader
	h.MaxIoBlocks = binary.LittleEndian.Uint16(buf[8:10])
	h.PBS = binary.LittleEndian.Uint32(buf[12:16])
	h.Salt = binary.LittleEndian.Uint32(buf[16:20])
	copy(h.UUID[:], buf[20:36])
	return h, nil
}

// packMicroHeaderSize is the fixed prefix that lets a reader learn a pack's
// total size before decoding its record array.
const packMicroHeaderSize = 8

type packMicroHeader struct {
	nRecords  uint16
	isEnd     bool
	totalSize uint32 // includes packMicroHeaderSize itself
}

func encodePackMicro(h packMicroHeader) []byte {
	buf := make([]byte, packMicroHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.nRecords)
	if h.isEnd {
		buf[2] = 1
	}
	binary.LittleEndian.PutUint32(buf[4:8], h.totalSize)
	return buf
}

func decodePackMicro(buf []byte) (packMicroHeader, error) {
	if len(buf) < packMicroHeaderSize {
		return packMicroHeader{}, walberr.ErrBadFormat
	}
	return packMicroHeader{
		nRecords:  binary.LittleEndian.Uint16(buf[0:2]),
		isEnd:     buf[2] != 0,
		totalSize: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}
