package redo

import (
	"bytes"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walb-linux/walb-go/pkg/walb/block"
	"github.com/walb-linux/walb-go/pkg/walb/wlog"
)

func buildWlog(t *testing.T, add func(w *wlog.Writer)) []byte {
	t.Helper()
	fh := wlog.FileHeader{PBS: block.DefaultPhysicalBlockSize, UUID: uuid.New(), BeginLsid: 0, EndLsid: 1}
	var buf bytes.Buffer
	w, err := wlog.NewWriter(&buf, fh)
	require.NoError(t, err)
	add(w)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func openTempDevice(t *testing.T, sizeBytes int64) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "walb-redo-device-*")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(sizeBytes))
	t.Cleanup(func() { f.Close() })
	return f
}

func readAt(t *testing.T, f *os.File, offsetBytes int64, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := f.ReadAt(buf, offsetBytes)
	require.NoError(t, err)
	return buf
}

const deviceLB = 256 // 128 KiB at 512-byte logical blocks

func TestApplyWritesNormalRecord(t *testing.T) {
	target := openTempDevice(t, deviceLB*block.LogicalBlockSize)

	payload := bytes.Repeat([]byte{0x42}, 4*block.LogicalBlockSize)
	raw := buildWlog(t, func(w *wlog.Writer) {
		ok, err := w.AddNormal(10, payload)
		require.NoError(t, err)
		require.True(t, ok)
	})

	rd, err := NewRedoer(target, deviceLB*block.LogicalBlockSize, block.DefaultPhysicalBlockSize, block.DefaultPhysicalBlockSize, 4<<20, IgnoreDiscard)
	require.NoError(t, err)

	stats, err := rd.Apply(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NWritten)

	got := readAt(t, target, 10*block.LogicalBlockSize, len(payload))
	assert.Equal(t, payload, got)
}

func TestApplyOverwriteElision(t *testing.T) {
	target := openTempDevice(t, deviceLB*block.LogicalBlockSize)

	first := bytes.Repeat([]byte{0x11}, 8*block.LogicalBlockSize)
	second := bytes.Repeat([]byte{0x22}, 8*block.LogicalBlockSize)
	raw := buildWlog(t, func(w *wlog.Writer) {
		ok, err := w.AddNormal(0, first)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = w.AddNormal(0, second)
		require.NoError(t, err)
		require.True(t, ok)
	})

	rd, err := NewRedoer(target, deviceLB*block.LogicalBlockSize, block.DefaultPhysicalBlockSize, block.DefaultPhysicalBlockSize, 4<<20, IgnoreDiscard)
	require.NoError(t, err)

	stats, err := rd.Apply(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NWritten)
	assert.Equal(t, 1, stats.NOverwritten)

	got := readAt(t, target, 0, len(second))
	assert.Equal(t, second, got)
}

func TestApplyClipsOutOfRangeWrite(t *testing.T) {
	target := openTempDevice(t, deviceLB*block.LogicalBlockSize)

	payload := bytes.Repeat([]byte{0x33}, 4*block.LogicalBlockSize)
	raw := buildWlog(t, func(w *wlog.Writer) {
		// Starts within range but extends past the device's end.
		ok, err := w.AddNormal(deviceLB-2, payload)
		require.NoError(t, err)
		require.True(t, ok)
	})

	rd, err := NewRedoer(target, deviceLB*block.LogicalBlockSize, block.DefaultPhysicalBlockSize, block.DefaultPhysicalBlockSize, 4<<20, IgnoreDiscard)
	require.NoError(t, err)

	stats, err := rd.Apply(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NClipped)
	assert.Equal(t, 0, stats.NWritten)
}

func TestApplyIgnoreDiscardDropsRecord(t *testing.T) {
	target := openTempDevice(t, deviceLB*block.LogicalBlockSize)
	// Seed the region with a known pattern to prove discard left it alone.
	seed := bytes.Repeat([]byte{0x5}, 4*block.LogicalBlockSize)
	_, err := target.WriteAt(seed, 0)
	require.NoError(t, err)

	raw := buildWlog(t, func(w *wlog.Writer) {
		ok, err := w.AddDiscard(0, 4)
		require.NoError(t, err)
		require.True(t, ok)
	})

	rd, err := NewRedoer(target, deviceLB*block.LogicalBlockSize, block.DefaultPhysicalBlockSize, block.DefaultPhysicalBlockSize, 4<<20, IgnoreDiscard)
	require.NoError(t, err)

	stats, err := rd.Apply(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.NDiscard)
	assert.Equal(t, 0, stats.NWritten)

	got := readAt(t, target, 0, len(seed))
	assert.Equal(t, seed, got)
}

func TestApplyZeroDiscardWritesZeros(t *testing.T) {
	target := openTempDevice(t, deviceLB*block.LogicalBlockSize)
	seed := bytes.Repeat([]byte{0x5}, 4*block.LogicalBlockSize)
	_, err := target.WriteAt(seed, 0)
	require.NoError(t, err)

	raw := buildWlog(t, func(w *wlog.Writer) {
		ok, err := w.AddDiscard(0, 4)
		require.NoError(t, err)
		require.True(t, ok)
	})

	rd, err := NewRedoer(target, deviceLB*block.LogicalBlockSize, block.DefaultPhysicalBlockSize, block.DefaultPhysicalBlockSize, 4<<20, ZeroDiscard)
	require.NoError(t, err)

	stats, err := rd.Apply(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NWritten)

	got := readAt(t, target, 0, len(seed))
	assert.Equal(t, make([]byte, len(seed)), got)
}

func TestApplyCoalescesAdjacentChunks(t *testing.T) {
	target := openTempDevice(t, deviceLB*block.LogicalBlockSize)

	// One record spanning several physical blocks' worth of logical blocks
	// should reach the device as a single coalesced write, not one write
	// per physical-block chunk.
	lbInPB := block.DefaultPhysicalBlockSize / block.LogicalBlockSize
	payload := bytes.Repeat([]byte{0x9}, int(lbInPB)*3*block.LogicalBlockSize)
	raw := buildWlog(t, func(w *wlog.Writer) {
		ok, err := w.AddNormal(0, payload)
		require.NoError(t, err)
		require.True(t, ok)
	})

	rd, err := NewRedoer(target, deviceLB*block.LogicalBlockSize, block.DefaultPhysicalBlockSize, block.DefaultPhysicalBlockSize, 4<<20, IgnoreDiscard)
	require.NoError(t, err)

	stats, err := rd.Apply(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NWritten, "adjacent chunks of one record should coalesce into a single write")

	got := readAt(t, target, 0, len(payload))
	assert.Equal(t, payload, got)
}

func TestNewRedoerRejectsIncompatiblePBS(t *testing.T) {
	target := openTempDevice(t, deviceLB*block.LogicalBlockSize)
	_, err := NewRedoer(target, deviceLB*block.LogicalBlockSize, 4096, 512, 4<<20, IgnoreDiscard)
	assert.Error(t, err)
}
