// Package block implements the logical/physical block arithmetic, the
// device-salted rolling checksum, and the page-aligned allocator that every
// other walb package builds on.
package block

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

const (
	// LogicalBlockSize is the fixed unit of addressing and IO size used in
	// every on-disk record (LB).
	LogicalBlockSize = 512

	// DefaultPhysicalBlockSize is the physical block size (PB) most log
	// devices are formatted with. It must be a power-of-two multiple of
	// LogicalBlockSize.
	DefaultPhysicalBlockSize = 4096

	// MaxIoSize bounds a single coalesced redo IO.
	MaxIoSize = 1 << 20 // 1 MiB
)

// LBInPB returns how many logical blocks fit in one physical block of the
// given size.
func LBInPB(pbs uint32) uint32 {
	return pbs / LogicalBlockSize
}

// CapacityPB returns the number of physical blocks needed to hold an IO of
// ioBlocks logical blocks, i.e. ceil(ioBlocks*LB / pbs).
func CapacityPB(pbs uint32, ioBlocks uint32) uint32 {
	bytes := uint64(ioBlocks) * LogicalBlockSize
	return uint32((bytes + uint64(pbs) - 1) / uint64(pbs))
}

// IsPBAligned reports whether a size in logical blocks lands on a physical
// block boundary.
func IsPBAligned(pbs uint32, ioBlocks uint32) bool {
	return ioBlocks%LBInPB(pbs) == 0
}

// Checksum computes the rolling 32-bit checksum described by the format:
// data is summed as little-endian u32 words (mod 2^32), tail bytes are
// zero-padded, and the running accumulator is finalized by two's-complement
// negation. Associative over concatenated spans via ChecksumPartial /
// ChecksumFinish.
func Checksum(data []byte, salt uint32) uint32 {
	return ChecksumFinish(ChecksumPartial(salt, data))
}

// ChecksumPartial folds data into an in-progress accumulator without
// finalizing it, so callers can checksum several spans (e.g. the blocks of
// a log pack) incrementally before calling ChecksumFinish once.
func ChecksumPartial(acc uint32, data []byte) uint32 {
	n := len(data)
	i := 0
	for ; i+4 <= n; i += 4 {
		acc += binary.LittleEndian.Uint32(data[i : i+4])
	}
	if i < n {
		var tail [4]byte
		copy(tail[:], data[i:])
		acc += binary.LittleEndian.Uint32(tail[:])
	}
	return acc
}

// ChecksumFinish finalizes an accumulator produced by ChecksumPartial.
func ChecksumFinish(acc uint32) uint32 {
	return ^acc + 1
}

// IsAllZero reports whether data, assumed to hold one or more whole logical
// blocks, is entirely zero.
func IsAllZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// AlignedAlloc returns a page-aligned buffer of exactly size bytes, suitable
// for O_DIRECT reads and writes. size should be a multiple of the target
// physical block size. Release it with Free.
func AlignedAlloc(size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Free releases a buffer obtained from AlignedAlloc.
func Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Munmap(buf)
}

// Pool hands out and reclaims fixed-size aligned buffers, avoiding an
// mmap/munmap round trip per buffer. It is not safe for concurrent use.
// The redo engine does not use it; its chunk buffers are allocated with
// make.
type Pool struct {
	size int
	free [][]byte
}

// NewPool creates a pool of buffers of the given size.
func NewPool(size int) *Pool {
	return &Pool{size: size}
}

// Get returns a buffer from the pool, allocating a new one if empty.
func (p *Pool) Get() ([]byte, error) {
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		return buf, nil
	}
	return AlignedAlloc(p.size)
}

// Put returns a buffer to the pool for reuse. Buffers of the wrong size are
// freed instead of pooled.
func (p *Pool) Put(buf []byte) {
	if len(buf) != p.size {
		_ = Free(buf)
		return
	}
	p.free = append(p.free, buf)
}

// Close releases every buffer currently held by the pool.
func (p *Pool) Close() {
	for _, buf := range p.free {
		_ = Free(buf)
	}
	p.free = nil
}
