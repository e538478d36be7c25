// Package redo implements the wlog replay engine: it applies a log stream
// to a target block device with overlap serialization, adjacent-IO
// coalescing, and overwrite elimination. Writes go through os.File.WriteAt
// on the file the caller opened, from ordinary heap buffers; the package
// does not open the device with O_DIRECT and does not page-align its
// buffers.
package redo

import (
	"io"
	"os"
	"sort"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/walb-linux/walb-go/pkg/metrics"
	"github.com/walb-linux/walb-go/pkg/walb/block"
	"github.com/walb-linux/walb-go/pkg/walb/walberr"
	"github.com/walb-linux/walb-go/pkg/walb/wlog"
)

// DiscardMode selects how DISCARD log records are applied.
type DiscardMode int

const (
	// IssueDiscard flushes pending writes and issues a real BLKDISCARD.
	IssueDiscard DiscardMode = iota
	// IgnoreDiscard drops the record entirely.
	IgnoreDiscard
	// ZeroDiscard replays the range as a normal write of zeroed blocks.
	ZeroDiscard
)

// Stats reports the outcome of one Apply call.
type Stats struct {
	NWritten     int
	NOverwritten int
	NClipped     int
	NDiscard     int
	NPadding     int
	BeginLsid    uint64
	EndLsid      uint64
}

// blkDiscardIoctl is the standard Linux BLKDISCARD ioctl request number,
// _IO(0x12, 119).
const blkDiscardIoctl = 0x1277

// ioReq is one pending physical-block write, owning its payload until it
// is either submitted or found to be fully overwritten first.
type ioReq struct {
	offsetLB    uint64
	sizeLB      uint32
	data        []byte
	seq         uint64
	submitted   bool
	completed   bool
	overwritten bool
	nOverlapped int
	overlappers []*ioReq
	done        chan error
}

func (r *ioReq) endLB() uint64 { return r.offsetLB + uint64(r.sizeLB) }

// Redoer replays a wlog onto an open target device.
type Redoer struct {
	target      *os.File
	deviceSizeLB uint64
	devicePBS   uint32
	logPBS      uint32
	queueSize   int
	discardMode DiscardMode

	sem chan struct{}

	seq        uint64
	ioQ        []*ioReq
	readyQ     []*ioReq
	overlapMap []*ioReq // sorted by offsetLB
	maxSizeLB  uint32
	pendingLB  uint32 // blocks currently owned by in-flight IOs

	pendingMerge *ioReq // staged IO awaiting a possible coalesce

	stats     Stats
	metrics   metrics.PipelineMetrics
	startTime time.Time
}

// NewRedoer validates device compatibility and constructs a Redoer.
// bufferSize (bytes) sizes the submission ring: queueSize = bufferSize /
// devicePBS.
func NewRedoer(target *os.File, deviceSizeBytes int64, devicePBS uint32, logPBS uint32, bufferSize int, mode DiscardMode) (*Redoer, error) {
	if logPBS%devicePBS != 0 || logPBS < devicePBS {
		return nil, walberr.ErrIncompatible
	}
	queueSize := bufferSize / int(devicePBS)
	if queueSize < 1 {
		queueSize = 1
	}
	return &Redoer{
		target:       target,
		deviceSizeLB: uint64(deviceSizeBytes) / block.LogicalBlockSize,
		devicePBS:    devicePBS,
		logPBS:       logPBS,
		queueSize:    queueSize,
		discardMode:  mode,
		sem:          make(chan struct{}, queueSize),
		startTime:    time.Now(),
	}, nil
}

// Stats returns the running statistics accumulated so far.
func (rd *Redoer) Stats() Stats { return rd.stats }

// SetMetrics attaches an optional metrics sink. Passing nil disables
// reporting with zero overhead.
func (rd *Redoer) SetMetrics(m metrics.PipelineMetrics) { rd.metrics = m }

// Apply replays every record of r onto the target device and fdatasyncs it
// on completion.
func (rd *Redoer) Apply(r io.Reader) (Stats, error) {
	reader := wlog.NewReader(r)
	h, err := reader.ReadHeader()
	if err != nil {
		return rd.stats, err
	}
	rd.stats.BeginLsid = h.BeginLsid
	rd.stats.EndLsid = h.EndLsid

	for {
		ok, err := reader.FetchNext()
		if err != nil {
			return rd.stats, err
		}
		if !ok {
			break
		}
		for {
			rec, payload, err := reader.ReadLog()
			if err == io.EOF {
				break
			}
			if err != nil {
				return rd.stats, err
			}
			if err := rd.applyRecord(rec, payload); err != nil {
				return rd.stats, err
			}
		}
	}

	if err := rd.flushPendingMerge(); err != nil {
		return rd.stats, err
	}
	if err := rd.drainAll(); err != nil {
		return rd.stats, err
	}
	if err := unix.Fdatasync(int(rd.target.Fd())); err != nil {
		return rd.stats, walberr.ErrIoError
	}
	metrics.ObserveRedo(rd.metrics, rd.stats.NWritten, rd.stats.NOverwritten, rd.stats.NClipped, rd.stats.NDiscard, rd.stats.NPadding, time.Since(rd.startTime))
	return rd.stats, nil
}

func (rd *Redoer) applyRecord(rec wlog.Record, payload []byte) error {
	if rec.IsPadding() {
		rd.stats.NPadding++
		return nil
	}
	if rec.IsDiscard() {
		switch rd.discardMode {
		case IgnoreDiscard:
			return nil
		case IssueDiscard:
			if err := rd.flushPendingMerge(); err != nil {
				return err
			}
			if err := rd.drainAll(); err != nil {
				return err
			}
			rd.stats.NDiscard++
			return rd.issueDiscard(rec.OffsetLB, uint64(rec.IoSizeLB))
		case ZeroDiscard:
			zero := make([]byte, uint64(rec.IoSizeLB)*block.LogicalBlockSize)
			return rd.splitAndSubmit(rec.OffsetLB, rec.IoSizeLB, zero)
		}
	}
	return rd.splitAndSubmit(rec.OffsetLB, rec.IoSizeLB, payload)
}

func (rd *Redoer) issueDiscard(offsetLB, sizeLB uint64) error {
	rng := [2]uint64{offsetLB * block.LogicalBlockSize, sizeLB * block.LogicalBlockSize}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, rd.target.Fd(), blkDiscardIoctl, uintptr(unsafe.Pointer(&rng)))
	if errno != 0 {
		return walberr.ErrIoError
	}
	return nil
}

// splitAndSubmit breaks one log record's payload into devicePBS-sized
// chunks and feeds each through coalescing, clipping, and overlap
// tracking.
func (rd *Redoer) splitAndSubmit(offsetLB uint64, sizeLB uint32, payload []byte) error {
	lbInPB := rd.devicePBS / block.LogicalBlockSize
	off := offsetLB
	pos := 0
	for remaining := sizeLB; remaining > 0; {
		chunkLB := lbInPB
		if remaining < chunkLB {
			chunkLB = remaining
		}
		chunkBytes := int(chunkLB) * block.LogicalBlockSize
		chunk := payload[pos : pos+chunkBytes]
		if err := rd.submitChunk(off, chunkLB, chunk); err != nil {
			return err
		}
		off += uint64(chunkLB)
		pos += chunkBytes
		remaining -= chunkLB
	}
	return nil
}

// submitChunk is the per-physical-block entry point: clip, try to coalesce
// with the staged IO, then (once a chunk can no longer be extended) push
// it through overlap tracking and into the ready/submission pipeline.
func (rd *Redoer) submitChunk(offsetLB uint64, sizeLB uint32, data []byte) error {
	if offsetLB+uint64(sizeLB) > rd.deviceSizeLB {
		rd.stats.NClipped++
		return rd.flushPendingMerge()
	}

	if rd.pendingMerge != nil {
		p := rd.pendingMerge
		combinedBytes := len(p.data) + len(data)
		if p.endLB() == offsetLB && combinedBytes <= block.MaxIoSize {
			merged := make([]byte, 0, combinedBytes)
			merged = append(merged, p.data...)
			merged = append(merged, data...)
			p.data = merged
			p.sizeLB += sizeLB
			return nil
		}
		if err := rd.flushPendingMerge(); err != nil {
			return err
		}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	rd.seq++
	rd.pendingMerge = &ioReq{
		offsetLB: offsetLB,
		sizeLB:   sizeLB,
		data:     buf,
		seq:      rd.seq,
		done:     make(chan error, 1),
	}
	return nil
}

func (rd *Redoer) flushPendingMerge() error {
	if rd.pendingMerge == nil {
		return nil
	}
	req := rd.pendingMerge
	rd.pendingMerge = nil
	return rd.admit(req)
}

// admit enforces flow control, inserts req into the overlap graph, and
// queues it for submission once it has no outstanding blockers.
func (rd *Redoer) admit(req *ioReq) error {
	for rd.pendingLB+req.sizeLB > uint32(rd.queueSize) && len(rd.ioQ) > 0 {
		if err := rd.completeOldest(); err != nil {
			return err
		}
	}

	rd.insertOverlap(req)
	rd.pendingLB += req.sizeLB
	rd.ioQ = append(rd.ioQ, req)
	if req.nOverlapped == 0 {
		rd.readyQ = append(rd.readyQ, req)
	}
	metrics.RecordQueueDepth(rd.metrics, int(rd.pendingLB))
	return rd.drainReadyIfFull()
}

// insertOverlap scans the address-ordered live-IO set for every entry that
// overlaps req, marks req blocked by them, and marks any entry req fully
// covers as overwritten so it need never reach the device.
func (rd *Redoer) insertOverlap(req *ioReq) {
	lo := req.offsetLB
	hi := req.endLB()
	for _, p := range rd.overlapMap {
		if p.offsetLB >= hi || p.endLB() <= lo {
			continue
		}
		req.nOverlapped++
		p.overlappers = append(p.overlappers, req)
		if p.offsetLB >= lo && p.endLB() <= hi {
			p.overwritten = true
		}
	}

	i := sort.Search(len(rd.overlapMap), func(i int) bool { return rd.overlapMap[i].offsetLB >= req.offsetLB })
	rd.overlapMap = append(rd.overlapMap, nil)
	copy(rd.overlapMap[i+1:], rd.overlapMap[i:])
	rd.overlapMap[i] = req
	if req.sizeLB > rd.maxSizeLB {
		rd.maxSizeLB = req.sizeLB
	}
}

func (rd *Redoer) removeOverlap(req *ioReq) {
	for i, p := range rd.overlapMap {
		if p == req {
			rd.overlapMap = append(rd.overlapMap[:i], rd.overlapMap[i+1:]...)
			break
		}
	}
	for _, p := range req.overlappers {
		p.nOverlapped--
		if p.nOverlapped == 0 && !p.submitted && !p.completed && !p.overwritten {
			rd.readyQ = append([]*ioReq{p}, rd.readyQ...)
		}
	}
}

// drainReadyIfFull moves ready IOs into a batch sorted by offset, issuing
// the batch once it reaches queueSize IOs.
func (rd *Redoer) drainReadyIfFull() error {
	pending := rd.readyQ
	rd.readyQ = nil
	var batch []*ioReq
	for _, req := range pending {
		if req.overwritten {
			continue
		}
		batch = append(batch, req)
	}
	if len(batch) < rd.queueSize {
		rd.readyQ = batch
		return nil
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].offsetLB < batch[j].offsetLB })
	return rd.issueBatch(batch)
}

func (rd *Redoer) issueBatch(batch []*ioReq) error {
	for _, req := range batch {
		if req.overwritten || req.submitted {
			continue
		}
		req.submitted = true
		rd.sem <- struct{}{} // acquire a ring slot
		go func(req *ioReq) {
			defer func() { <-rd.sem }() // release it on completion
			_, err := rd.target.WriteAt(req.data, int64(req.offsetLB)*block.LogicalBlockSize)
			req.done <- err
		}(req)
	}
	return nil
}

// completeOldest pops the oldest outstanding IO from io_q and blocks for
// its completion, flushing the ready queue first if it was never
// submitted.
func (rd *Redoer) completeOldest() error {
	if len(rd.ioQ) == 0 {
		return nil
	}
	req := rd.ioQ[0]
	rd.ioQ = rd.ioQ[1:]

	if !req.submitted && !req.overwritten {
		batch := append(rd.readyQ, req)
		rd.readyQ = nil
		sort.Slice(batch, func(i, j int) bool { return batch[i].offsetLB < batch[j].offsetLB })
		if err := rd.issueBatch(batch); err != nil {
			return err
		}
	}

	if req.submitted {
		if err := <-req.done; err != nil {
			return walberr.ErrIoError
		}
		req.completed = true
		rd.stats.NWritten++
	} else {
		rd.stats.NOverwritten++
	}

	rd.pendingLB -= req.sizeLB
	rd.removeOverlap(req)
	return nil
}

func (rd *Redoer) drainAll() error {
	for len(rd.ioQ) > 0 {
		if err := rd.completeOldest(); err != nil {
			return err
		}
	}
	return nil
}
