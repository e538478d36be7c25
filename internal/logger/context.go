package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for one pipeline run
// (a wlog-to-wdiff conversion, a merge, or a redo).
type LogContext struct {
	TraceID   string    // OpenTelemetry-style trace ID, if one was supplied upstream
	Operation string    // "convert", "merge", "redo"
	Device    string    // target/log device path or input file name
	BeginLsid uint64    // LSID range this run covers
	EndLsid   uint64
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a run against the given
// device or file path.
func NewLogContext(device string) *LogContext {
	return &LogContext{
		Device:    device,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		Operation: lc.Operation,
		Device:    lc.Device,
		BeginLsid: lc.BeginLsid,
		EndLsid:   lc.EndLsid,
		StartTime: lc.StartTime,
	}
}

// WithOperation returns a copy with the operation name set.
func (lc *LogContext) WithOperation(operation string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Operation = operation
	}
	return clone
}

// WithLsidRange returns a copy with the LSID range set.
func (lc *LogContext) WithLsidRange(begin, end uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.BeginLsid = begin
		clone.EndLsid = end
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
