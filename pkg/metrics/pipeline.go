package metrics

import "time"

// PipelineMetrics records counters and durations for one run of the
// convert, merge, or redo pipeline.
//
// Returns nil from NewPipelineMetrics if metrics are not enabled
// (InitRegistry not called). Callers may pass that nil to the pipelines'
// SetMetrics; the package-level helpers below are no-ops for a nil
// PipelineMetrics.
type PipelineMetrics interface {
	// ObserveConvert records one wlog-to-wdiff conversion run.
	ObserveConvert(recordsIn, allZero, discard, normal int, duration time.Duration)
	// ObserveMerge records one N-way wdiff merge run.
	ObserveMerge(recordsIn, recordsOut int, duration time.Duration)
	// ObserveRedo records one wlog replay run against a target device.
	ObserveRedo(written, overwritten, clipped, discard, padding int, duration time.Duration)
	// RecordQueueDepth reports the redo engine's current in-flight IO
	// queue depth, in logical blocks.
	RecordQueueDepth(pendingLB int)
}

// NewPipelineMetrics creates a new Prometheus-backed PipelineMetrics
// instance, or nil if metrics are not enabled.
func NewPipelineMetrics() PipelineMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusPipelineMetrics()
}

// newPrometheusPipelineMetrics is implemented in
// pkg/metrics/prometheus/pipeline.go. This indirection avoids an import
// cycle (pkg/metrics/prometheus depends on this package for
// GetRegistry/IsEnabled).
var newPrometheusPipelineMetrics func() PipelineMetrics

// RegisterPipelineMetricsConstructor registers the Prometheus pipeline
// metrics constructor. Called by pkg/metrics/prometheus/pipeline.go during
// package initialization.
func RegisterPipelineMetricsConstructor(constructor func() PipelineMetrics) {
	newPrometheusPipelineMetrics = constructor
}

// ObserveConvert is a nil-safe helper for callers holding a possibly-nil
// PipelineMetrics.
func ObserveConvert(m PipelineMetrics, recordsIn, allZero, discard, normal int, duration time.Duration) {
	if m != nil {
		m.ObserveConvert(recordsIn, allZero, discard, normal, duration)
	}
}

// ObserveMerge is a nil-safe helper for callers holding a possibly-nil
// PipelineMetrics.
func ObserveMerge(m PipelineMetrics, recordsIn, recordsOut int, duration time.Duration) {
	if m != nil {
		m.ObserveMerge(recordsIn, recordsOut, duration)
	}
}

// ObserveRedo is a nil-safe helper for callers holding a possibly-nil
// PipelineMetrics.
func ObserveRedo(m PipelineMetrics, written, overwritten, clipped, discard, padding int, duration time.Duration) {
	if m != nil {
		m.ObserveRedo(written, overwritten, clipped, discard, padding, duration)
	}
}

// RecordQueueDepth is a nil-safe helper for callers holding a possibly-nil
// PipelineMetrics.
func RecordQueueDepth(m PipelineMetrics, pendingLB int) {
	if m != nil {
		m.RecordQueueDepth(pendingLB)
	}
}
