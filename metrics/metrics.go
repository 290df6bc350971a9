// Package metrics exposes Prometheus collectors for the sort pipeline.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hugesort"

// Stage names used with ObserveStage.
const (
	StageProduce = "produce"
	StageMerge   = "merge"
	StageSort    = "sort"
)

type Metrics struct {
	RecordsRead    prometheus.Counter
	RecordsSkipped prometheus.Counter
	RunsWritten    prometheus.Counter
	RunBytes       prometheus.Counter
	Merges         prometheus.Counter
	MergedRecords  prometheus.Counter
	MergeRetries   prometheus.Counter

	PoolQueued   prometheus.Gauge
	PoolInFlight prometheus.Gauge

	StageDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Records parsed from the input",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Input lines dropped because they did not parse",
		}),
		RunsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_written_total",
			Help:      "Sorted runs spilled by run writers",
		}),
		RunBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_bytes_total",
			Help:      "Bytes written to sorted runs by run writers",
		}),
		Merges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Completed merges",
		}),
		MergedRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merged_records_total",
			Help:      "Records written by completed merges",
		}),
		MergeRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_retries_total",
			Help:      "Merges that failed and were retried",
		}),
		PoolQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_queued_runs",
			Help:      "Runs waiting in the pool",
		}),
		PoolInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_flight_runs",
			Help:      "Runs held by merge workers",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
	}
}

func (m *Metrics) AddRecords(read, skipped int64) {
	if m == nil {
		return
	}
	m.RecordsRead.Add(float64(read))
	m.RecordsSkipped.Add(float64(skipped))
}

// RunWritten satisfies runwriter.Observer.
func (m *Metrics) RunWritten(records, bytes int64) {
	if m == nil {
		return
	}
	m.RunsWritten.Inc()
	m.RunBytes.Add(float64(bytes))
}

func (m *Metrics) MergeDone(records int64) {
	if m == nil {
		return
	}
	m.Merges.Inc()
	m.MergedRecords.Add(float64(records))
}

func (m *Metrics) MergeRetried() {
	if m == nil {
		return
	}
	m.MergeRetries.Inc()
}

// PoolChanged satisfies runpool.Observer.
func (m *Metrics) PoolChanged(queued, inFlight int) {
	if m == nil {
		return
	}
	m.PoolQueued.Set(float64(queued))
	m.PoolInFlight.Set(float64(inFlight))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
