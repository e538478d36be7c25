package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/walb-linux/walb-go/pkg/metrics"
)

// pipelineMetrics is the Prometheus implementation of
// metrics.PipelineMetrics.
type pipelineMetrics struct {
	convertRuns    *prometheus.CounterVec
	convertRecords *prometheus.CounterVec
	convertSeconds prometheus.Histogram

	mergeRuns        prometheus.Counter
	mergeRecordsIn   prometheus.Counter
	mergeRecordsOut  prometheus.Counter
	mergeSeconds     prometheus.Histogram

	redoRuns     prometheus.Counter
	redoWrites   *prometheus.CounterVec
	redoSeconds  prometheus.Histogram
	redoQueueLB  prometheus.Gauge
}

// NewPipelineMetrics creates a new Prometheus-backed PipelineMetrics
// instance, or nil if metrics are not enabled.
func NewPipelineMetrics() metrics.PipelineMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()
	durationBuckets := []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300}

	return &pipelineMetrics{
		convertRuns: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "walb_convert_runs_total",
				Help: "Total number of wlog-to-wdiff conversion runs",
			},
			[]string{"status"},
		),
		convertRecords: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "walb_convert_records_total",
				Help: "Total log records processed by the converter, by outcome",
			},
			[]string{"outcome"}, // "all_zero", "discard", "normal"
		),
		convertSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "walb_convert_duration_seconds",
				Help:    "Duration of wlog-to-wdiff conversion runs",
				Buckets: durationBuckets,
			},
		),
		mergeRuns: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "walb_merge_runs_total",
				Help: "Total number of wdiff merge runs",
			},
		),
		mergeRecordsIn: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "walb_merge_records_in_total",
				Help: "Total diff records read across every merge input stream",
			},
		),
		mergeRecordsOut: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "walb_merge_records_out_total",
				Help: "Total diff records written to the merged output stream",
			},
		),
		mergeSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "walb_merge_duration_seconds",
				Help:    "Duration of wdiff merge runs",
				Buckets: durationBuckets,
			},
		),
		redoRuns: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "walb_redo_runs_total",
				Help: "Total number of wlog redo runs",
			},
		),
		redoWrites: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "walb_redo_ios_total",
				Help: "Total IOs issued by the redo engine, by outcome",
			},
			[]string{"outcome"}, // "written", "overwritten", "clipped", "discard", "padding"
		),
		redoSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "walb_redo_duration_seconds",
				Help:    "Duration of wlog redo runs",
				Buckets: durationBuckets,
			},
		),
		redoQueueLB: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "walb_redo_queue_depth_logical_blocks",
				Help: "Current in-flight IO queue depth of the redo engine, in logical blocks",
			},
		),
	}
}

func (m *pipelineMetrics) ObserveConvert(recordsIn, allZero, discard, normal int, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	m.convertRuns.WithLabelValues(status).Inc()
	m.convertRecords.WithLabelValues("all_zero").Add(float64(allZero))
	m.convertRecords.WithLabelValues("discard").Add(float64(discard))
	m.convertRecords.WithLabelValues("normal").Add(float64(normal))
	m.convertSeconds.Observe(duration.Seconds())
}

func (m *pipelineMetrics) ObserveMerge(recordsIn, recordsOut int, duration time.Duration) {
	if m == nil {
		return
	}
	m.mergeRuns.Inc()
	m.mergeRecordsIn.Add(float64(recordsIn))
	m.mergeRecordsOut.Add(float64(recordsOut))
	m.mergeSeconds.Observe(duration.Seconds())
}

func (m *pipelineMetrics) ObserveRedo(written, overwritten, clipped, discard, padding int, duration time.Duration) {
	if m == nil {
		return
	}
	m.redoRuns.Inc()
	m.redoWrites.WithLabelValues("written").Add(float64(written))
	m.redoWrites.WithLabelValues("overwritten").Add(float64(overwritten))
	m.redoWrites.WithLabelValues("clipped").Add(float64(clipped))
	m.redoWrites.WithLabelValues("discard").Add(float64(discard))
	m.redoWrites.WithLabelValues("padding").Add(float64(padding))
	m.redoSeconds.Observe(duration.Seconds())
}

func (m *pipelineMetrics) RecordQueueDepth(pendingLB int) {
	if m == nil {
		return
	}
	m.redoQueueLB.Set(float64(pendingLB))
}

func init() {
	metrics.RegisterPipelineMetricsConstructor(NewPipelineMetrics)
}
