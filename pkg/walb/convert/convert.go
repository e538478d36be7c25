// Package convert drives a wlog reader and an in-memory diff map to turn a
// log stream into a wdiff file.
package convert

import (
	"io"
	"time"

	"github.com/walb-linux/walb-go/pkg/metrics"
	"github.com/walb-linux/walb-go/pkg/walb/block"
	"github.com/walb-linux/walb-go/pkg/walb/diffmap"
	"github.com/walb-linux/walb-go/pkg/walb/walberr"
	"github.com/walb-linux/walb-go/pkg/walb/wdiff"
	"github.com/walb-linux/walb-go/pkg/walb/wlog"
)

// Converter accumulates log records from one or more concatenated wlog
// streams into a single diff map, enforcing LSID and UUID continuity
// across the concatenation.
type Converter struct {
	mem         *diffmap.Map
	maxIoBlocks uint16
	metrics     metrics.PipelineMetrics
	startTime   time.Time

	haveHeader bool
	uuid       [16]byte
	salt       uint32
	pbs        uint32
	beginLsid  uint64
	endLsid    uint64

	NumRecordsIn int
	NumAllZero   int
	NumDiscard   int
	NumNormal    int
}

// NewConverter creates a Converter. maxIoBlocks caps the size of any diff
// record the underlying map will hold; 0 means unlimited.
func NewConverter(maxIoBlocks uint16) *Converter {
	return &Converter{mem: diffmap.New(maxIoBlocks), maxIoBlocks: maxIoBlocks, startTime: time.Now()}
}

// SetMetrics attaches an optional metrics sink. Passing nil disables
// reporting with zero overhead.
func (c *Converter) SetMetrics(m metrics.PipelineMetrics) { c.metrics = m }

// AddWlog reads every record of one wlog stream into the converter's diff
// map. When called more than once, the new stream's begin_lsid must equal
// the running end_lsid and its UUID must match the first stream's, or the
// call fails with walberr.ErrLsidMismatch / walberr.ErrUuidMismatch.
func (c *Converter) AddWlog(r io.Reader) error {
	rd := wlog.NewReader(r)
	h, err := rd.ReadHeader()
	if err != nil {
		return err
	}

	if !c.haveHeader {
		c.uuid = h.UUID
		c.salt = h.Salt
		c.pbs = h.PBS
		c.beginLsid = h.BeginLsid
		c.endLsid = h.EndLsid
		c.haveHeader = true
	} else {
		if h.UUID != c.uuid {
			return walberr.ErrUuidMismatch
		}
		if h.BeginLsid != c.endLsid {
			return walberr.ErrLsidMismatch
		}
		c.endLsid = h.EndLsid
	}

	for {
		ok, err := rd.FetchNext()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for {
			rec, payload, err := rd.ReadLog()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			c.NumRecordsIn++
			if err := c.convertOne(rec, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// convertOne implements the per-record log-to-diff translation: padding is
// skipped, discards become empty DISCARD records, all-zero payloads become
// empty ALLZERO records, and everything else is copied verbatim.
func (c *Converter) convertOne(rec wlog.Record, payload []byte) error {
	if rec.IsPadding() {
		return nil
	}

	diffRec := wdiff.Record{
		IoAddress: rec.OffsetLB,
		IoBlocks:  uint16(rec.IoSizeLB),
		Flags:     wdiff.FlagExist,
	}

	switch {
	case rec.IsDiscard():
		diffRec.Flags |= wdiff.FlagDiscard
		c.NumDiscard++
		return c.mem.Add(wdiff.RecIo{Rec: diffRec})

	case block.IsAllZero(payload):
		diffRec.Flags |= wdiff.FlagAllZero
		c.NumAllZero++
		return c.mem.Add(wdiff.RecIo{Rec: diffRec})

	default:
		diffRec.CompressionType = wdiff.CompressionNone
		diffRec.DataSize = uint32(len(payload))
		diffRec.Checksum = wdiff.ChecksumData(payload)
		c.NumNormal++
		return c.mem.Add(wdiff.RecIo{Rec: diffRec, Data: payload})
	}
}

// WriteTo serializes the accumulated diff map to w as a complete wdiff
// file, compressing normal payloads with snappy.
func (c *Converter) WriteTo(w io.Writer) error {
	fh := wdiff.FileHeader{
		PBS:         c.pbs,
		Salt:        c.salt,
		UUID:        c.uuid,
		MaxIoBlocks: c.maxIoBlocks,
	}
	ww, err := wdiff.NewWriter(w, fh, true)
	if err != nil {
		return err
	}
	for {
		rio, ok := c.mem.ExtractFirst()
		if !ok {
			break
		}
		if err := ww.Add(rio); err != nil {
			return err
		}
	}
	if err := ww.Close(); err != nil {
		return err
	}
	metrics.ObserveConvert(c.metrics, c.NumRecordsIn, c.NumAllZero, c.NumDiscard, c.NumNormal, time.Since(c.startTime))
	return nil
}
