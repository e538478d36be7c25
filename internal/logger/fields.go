package logger

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Standard field keys for structured logging across the wlog/wdiff
// pipelines. Use these keys consistently so log lines stay greppable and
// aggregatable across the three subcommands.
const (
	// ------------------------------------------------------------------
	// Tracing
	// ------------------------------------------------------------------
	KeyTraceID = "trace_id"

	// ------------------------------------------------------------------
	// Pipeline identity
	// ------------------------------------------------------------------
	KeyOperation = "operation" // convert, merge, redo
	KeyDevice    = "device"    // target block device or input file path
	KeyUUID      = "uuid"      // device UUID carried by a wlog/wdiff header

	// ------------------------------------------------------------------
	// Log/diff position
	// ------------------------------------------------------------------
	KeyLsid      = "lsid"
	KeyBeginLsid = "begin_lsid"
	KeyEndLsid   = "end_lsid"
	KeyIoAddress = "io_address" // LB
	KeyIoBlocks  = "io_blocks"  // LB

	// ------------------------------------------------------------------
	// Block geometry
	// ------------------------------------------------------------------
	KeyPBS      = "pbs"
	KeySalt     = "salt"
	KeyChecksum = "checksum"

	// ------------------------------------------------------------------
	// Counters & results
	// ------------------------------------------------------------------
	KeyNRecords     = "n_records"
	KeyNWritten     = "n_written"
	KeyNOverwritten = "n_overwritten"
	KeyNClipped     = "n_clipped"
	KeyNDiscard     = "n_discard"
	KeyNPadding     = "n_padding"

	// ------------------------------------------------------------------
	// Operation metadata
	// ------------------------------------------------------------------
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// TraceID returns a slog.Attr for the run's trace ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// Operation returns a slog.Attr for the pipeline operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Device returns a slog.Attr for a device or file path.
func Device(path string) slog.Attr {
	return slog.String(KeyDevice, path)
}

// UUID returns a slog.Attr for a device UUID.
func UUID(id uuid.UUID) slog.Attr {
	return slog.String(KeyUUID, id.String())
}

// Lsid returns a slog.Attr for a single LSID.
func Lsid(lsid uint64) slog.Attr {
	return slog.Uint64(KeyLsid, lsid)
}

// LsidRange returns the begin/end LSID pair as a pair of slog.Attr.
func LsidRange(begin, end uint64) []slog.Attr {
	return []slog.Attr{slog.Uint64(KeyBeginLsid, begin), slog.Uint64(KeyEndLsid, end)}
}

// IoAddress returns a slog.Attr for an IO's target address in LB.
func IoAddress(addr uint64) slog.Attr {
	return slog.Uint64(KeyIoAddress, addr)
}

// IoBlocks returns a slog.Attr for an IO's size in LB.
func IoBlocks(n uint32) slog.Attr {
	return slog.Uint64(KeyIoBlocks, uint64(n))
}

// PBS returns a slog.Attr for a physical block size.
func PBS(pbs uint32) slog.Attr {
	return slog.Uint64(KeyPBS, uint64(pbs))
}

// Salt returns a slog.Attr for a checksum salt.
func Salt(salt uint32) slog.Attr {
	return slog.Uint64(KeySalt, uint64(salt))
}

// Checksum returns a slog.Attr for a checksum value, formatted as hex.
func Checksum(csum uint32) slog.Attr {
	return slog.String(KeyChecksum, fmt.Sprintf("%08x", csum))
}

// NRecords returns a slog.Attr for a record count.
func NRecords(n int) slog.Attr {
	return slog.Int(KeyNRecords, n)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error, or a no-op attr for a nil error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
