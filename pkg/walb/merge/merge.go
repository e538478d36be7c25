// Package merge implements the bounded-memory streaming N-way merge of an
// ordered chain of wdiff streams into one address-ordered, non-overlapping
// stream, where the newer stream wins on any overlap.
package merge

import (
	"io"
	"math"
	"time"

	"github.com/walb-linux/walb-go/pkg/metrics"
	"github.com/walb-linux/walb-go/pkg/walb/diffmap"
	"github.com/walb-linux/walb-go/pkg/walb/walberr"
	"github.com/walb-linux/walb-go/pkg/walb/wdiff"
)

// DefaultSearchLen is the default merge window, 1 MiB expressed in logical
// blocks.
const DefaultSearchLen = 2048

// stream wraps a wdiff.Reader with lazy, one-record-ahead lookahead.
type stream struct {
	r       *wdiff.Reader
	header  wdiff.FileHeader
	hasPack bool
	front   *wdiff.RecIo
	ended   bool
}

func newStream(r io.Reader) (*stream, error) {
	rd := wdiff.NewReader(r)
	h, err := rd.ReadHeader()
	if err != nil {
		return nil, err
	}
	return &stream{r: rd, header: h}, nil
}

func (s *stream) fill() error {
	if s.front != nil || s.ended {
		return nil
	}
	for {
		if !s.hasPack {
			ok, err := s.r.FetchNext()
			if err != nil {
				return err
			}
			if !ok {
				s.ended = true
				return nil
			}
			s.hasPack = true
		}
		rio, err := s.r.ReadLog()
		if err == io.EOF {
			s.hasPack = false
			continue
		}
		if err != nil {
			return err
		}
		s.front = &rio
		return nil
	}
}

func (s *stream) isEnd() (bool, error) {
	if err := s.fill(); err != nil {
		return false, err
	}
	return s.ended, nil
}

func (s *stream) pop() (wdiff.RecIo, error) {
	if err := s.fill(); err != nil {
		return wdiff.RecIo{}, err
	}
	rio := *s.front
	s.front = nil
	return rio, nil
}

// Merger drives the merge of an ordered list of wdiff streams, oldest
// added first.
type Merger struct {
	streams      []*stream
	mem          *diffmap.Map
	queue        []wdiff.RecIo
	doneAddr     uint64
	searchLen    uint64
	maxIoBlocks  uint16
	validateUUID bool
	prepared     bool
	headerOut    wdiff.FileHeader
	metrics      metrics.PipelineMetrics
	startTime    time.Time

	NumRecordsIn  int
	NumRecordsOut int
}

// NewMerger creates a Merger with the given search window in logical
// blocks; 0 selects DefaultSearchLen.
func NewMerger(searchLen uint64) *Merger {
	if searchLen == 0 {
		searchLen = DefaultSearchLen
	}
	return &Merger{searchLen: searchLen, startTime: time.Now()}
}

// SetMetrics attaches an optional metrics sink. Passing nil disables
// reporting with zero overhead.
func (m *Merger) SetMetrics(pm metrics.PipelineMetrics) { m.metrics = pm }

// SetMaxIoBlocks caps the size of any merged output record; 0 means the
// largest max_io_blocks among the inputs' headers (no limit if that is 0
// too).
func (m *Merger) SetMaxIoBlocks(n uint16) { m.maxIoBlocks = n }

// SetValidateUUID enables rejecting streams whose device UUID differs from
// the first stream added. Off by default, matching the source's
// opt-in-only validation.
func (m *Merger) SetValidateUUID(v bool) { m.validateUUID = v }

// AddWdiff adds one input stream. Newer streams must be added later.
func (m *Merger) AddWdiff(r io.Reader) error {
	s, err := newStream(r)
	if err != nil {
		return err
	}
	if m.validateUUID && len(m.streams) > 0 && s.header.UUID != m.streams[0].header.UUID {
		return walberr.ErrUuidMismatch
	}
	m.streams = append(m.streams, s)
	return nil
}

// Prepare computes the output header. It is called automatically by
// GetAndRemove/MergeToWriter if not called explicitly.
func (m *Merger) Prepare() error {
	maxIoBlocks := m.maxIoBlocks
	var pbs, salt uint32
	var id [16]byte
	for _, s := range m.streams {
		if m.maxIoBlocks == 0 && s.header.MaxIoBlocks > maxIoBlocks {
			maxIoBlocks = s.header.MaxIoBlocks
		}
		pbs = s.header.PBS
		salt = s.header.Salt
		id = s.header.UUID // last wdiff's uuid wins
	}
	m.maxIoBlocks = maxIoBlocks
	m.mem = diffmap.New(maxIoBlocks)
	m.headerOut = wdiff.FileHeader{PBS: pbs, Salt: salt, UUID: id, MaxIoBlocks: maxIoBlocks}
	m.prepared = true
	return nil
}

// Header returns the merged output's file header. Valid after Prepare.
func (m *Merger) Header() wdiff.FileHeader { return m.headerOut }

// GetAndRemove returns the next merged record in address order, or
// ok == false once every input is exhausted and drained.
func (m *Merger) GetAndRemove() (wdiff.RecIo, bool, error) {
	if !m.prepared {
		if err := m.Prepare(); err != nil {
			return wdiff.RecIo{}, false, err
		}
	}
	for len(m.queue) == 0 {
		progressed, err := m.step()
		if err != nil {
			return wdiff.RecIo{}, false, err
		}
		if !progressed {
			break
		}
	}
	if len(m.queue) == 0 {
		return wdiff.RecIo{}, false, nil
	}
	rio := m.queue[0]
	m.queue = m.queue[1:]
	m.NumRecordsOut++
	return rio, true, nil
}

// step runs one pass of the bounded-memory merge: pull everything within
// the current search window from every open stream in oldest-first order,
// advance the watermark, and move whatever is now provably final into the
// output queue. It returns false once there is nothing left anywhere.
func (m *Merger) step() (bool, error) {
	minAddr := uint64(math.MaxUint64)
	anyOpen := false
	for _, s := range m.streams {
		ended, err := s.isEnd()
		if err != nil {
			return false, err
		}
		if ended {
			continue
		}
		anyOpen = true
		if s.front.Rec.IoAddress < minAddr {
			minAddr = s.front.Rec.IoAddress
		}
	}

	if !anyOpen {
		if m.mem.Len() == 0 {
			return false, nil
		}
		for {
			e, ok := m.mem.ExtractFirst()
			if !ok {
				break
			}
			m.queue = append(m.queue, e)
		}
		return true, nil
	}

	window := m.doneAddr + m.searchLen
	for _, s := range m.streams {
		for {
			ended, err := s.isEnd()
			if err != nil {
				return false, err
			}
			if ended || s.front.Rec.IoAddress >= window {
				break
			}
			rio, err := s.pop()
			if err != nil {
				return false, err
			}
			m.NumRecordsIn++
			if rio.Rec.IsCompressed() {
				if err := rio.Decompress(); err != nil {
					return false, err
				}
			}
			if err := m.mem.Add(rio); err != nil {
				return false, err
			}
		}
	}

	m.doneAddr = minAddr
	m.queue = append(m.queue, m.mem.ExtractBefore(m.doneAddr)...)
	return true, nil
}

// MergeToWriter drains the merger and writes every output record to w,
// re-compressing normal records with snappy.
func (m *Merger) MergeToWriter(w io.Writer) error {
	if !m.prepared {
		if err := m.Prepare(); err != nil {
			return err
		}
	}
	ww, err := wdiff.NewWriter(w, m.headerOut, true)
	if err != nil {
		return err
	}
	for {
		rio, ok, err := m.GetAndRemove()
		if err != nil {
			return err
		}
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
	metrics.ObserveMerge(m.metrics, m.NumRecordsIn, m.NumRecordsOut, time.Since(m.startTime))
	return nil
}
