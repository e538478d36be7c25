// Package diffmap implements the address-ordered, non-overlapping in-memory
// collection of diff records that backs both the log-to-diff converter and
// the diff merger: on every insertion the newcomer always wins, trimming or
// splitting whatever it overlaps.
package diffmap

import (
	"sort"

	"github.com/walb-linux/walb-go/pkg/walb/wdiff"
)

// Map holds diff records ordered by address with the invariant that no two
// entries overlap.
type Map struct {
	entries     []wdiff.RecIo
	maxIoBlocks uint16
}

// New creates an empty Map. maxIoBlocks caps the size of any single entry
// inserted via Add (0 means unlimited).
func New(maxIoBlocks uint16) *Map {
	return &Map{maxIoBlocks: maxIoBlocks}
}

// Stats summarizes the map's current contents.
type Stats struct {
	NumEntries int
	NumBlocks  uint64
}

// Stats returns the current entry and logical-block counts.
func (m *Map) Stats() Stats {
	s := Stats{NumEntries: len(m.entries)}
	for _, e := range m.entries {
		s.NumBlocks += uint64(e.Rec.IoBlocks)
	}
	return s
}

// Len reports the number of entries currently held.
func (m *Map) Len() int { return len(m.entries) }

// Iter returns a copy of the entries in ascending address order.
func (m *Map) Iter() []wdiff.RecIo {
	out := make([]wdiff.RecIo, len(m.entries))
	copy(out, m.entries)
	return out
}

// ExtractFirst removes and returns the lowest-address entry.
func (m *Map) ExtractFirst() (wdiff.RecIo, bool) {
	if len(m.entries) == 0 {
		return wdiff.RecIo{}, false
	}
	e := m.entries[0]
	m.entries = m.entries[1:]
	return e, true
}

// ExtractBefore removes and returns, in address order, every entry whose
// end address is at most addr. Because entries are non-overlapping and
// address-sorted their end addresses are also non-decreasing, so this is a
// single prefix scan.
func (m *Map) ExtractBefore(addr uint64) []wdiff.RecIo {
	i := 0
	for i < len(m.entries) && m.entries[i].Rec.EndIoAddress() <= addr {
		i++
	}
	out := append([]wdiff.RecIo(nil), m.entries[:i]...)
	m.entries = m.entries[i:]
	return out
}

// Add inserts newRec, splitting or trimming any existing entry it overlaps.
// The newcomer always wins: entries fully covered by newRec are dropped,
// entries partially covered are truncated or left-trimmed, and entries that
// straddle newRec's range are split in two. Existing entries that must be
// trimmed are decompressed first since their payload needs slicing.
func (m *Map) Add(newRec wdiff.RecIo) error {
	lo, hi := newRec.Rec.IoAddress, newRec.Rec.EndIoAddress()

	survivors := make([]wdiff.RecIo, 0, len(m.entries)+1)
	for _, e := range m.entries {
		eLo, eHi := e.Rec.IoAddress, e.Rec.EndIoAddress()

		if eHi <= lo || eLo >= hi {
			survivors = append(survivors, e)
			continue
		}

		coveredLeft := eLo >= lo
		coveredRight := eHi <= hi

		switch {
		case coveredLeft && coveredRight:
			// Fully covered by newRec: drop.

		case !coveredLeft && coveredRight:
			// Left-overlap: existing starts earlier, ends inside newRec.
			// Truncate its right edge to newRec's start.
			if err := e.Decompress(); err != nil {
				return err
			}
			trimmed, err := e.Slice(eLo, lo-eLo)
			if err != nil {
				return err
			}
			survivors = append(survivors, trimmed)

		case coveredLeft && !coveredRight:
			// Right-overlap: existing starts inside newRec, ends later.
			// Left-trim it to newRec's end.
			if err := e.Decompress(); err != nil {
				return err
			}
			trimmed, err := e.Slice(hi, eHi-hi)
			if err != nil {
				return err
			}
			survivors = append(survivors, trimmed)

		default:
			// Straddle: existing spans newRec entirely. Split into a
			// left remainder and a right remainder.
			if err := e.Decompress(); err != nil {
				return err
			}
			left, err := e.Slice(eLo, lo-eLo)
			if err != nil {
				return err
			}
			right, err := e.Slice(hi, eHi-hi)
			if err != nil {
				return err
			}
			survivors = append(survivors, left, right)
		}
	}

	pieces, err := splitForInsert(newRec, m.maxIoBlocks)
	if err != nil {
		return err
	}
	survivors = append(survivors, pieces...)

	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].Rec.IoAddress < survivors[j].Rec.IoAddress
	})
	m.entries = survivors
	return nil
}

// splitForInsert breaks rec into consecutive chunks no larger than
// maxIoBlocks when it exceeds that limit. Splitting a compressed record is
// rejected by RecIo.SplitByMaxBlocks.
func splitForInsert(rec wdiff.RecIo, maxIoBlocks uint16) ([]wdiff.RecIo, error) {
	if maxIoBlocks == 0 || rec.Rec.IoBlocks <= maxIoBlocks {
		return []wdiff.RecIo{rec}, nil
	}
	return rec.SplitByMaxBlocks(maxIoBlocks)
}
