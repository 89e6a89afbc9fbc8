package indexer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes used as the "outcome" label.
const (
	outcomeIndexed  = "indexed"
	outcomeFailed   = "failed"
	outcomeConflict = "conflict"
)

// Metrics holds Prometheus metrics for indexing runs. A nil *Metrics records
// nothing.
//
// Metrics:
//   - repolens_indexer_runs_total{outcome} - finished runs by outcome
//   - repolens_indexer_run_duration_seconds{outcome} - run duration
//   - repolens_indexer_chunks_total - chunks written to the vector store
//   - repolens_indexer_runs_in_flight - runs currently executing
type Metrics struct {
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	ChunksTotal prometheus.Counter
	InFlight    prometheus.Gauge
}

// NewMetrics registers the indexer metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repolens_indexer_runs_total",
				Help: "Total number of indexing runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repolens_indexer_run_duration_seconds",
				Help:    "Duration of indexing runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"outcome"},
		),
		ChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "repolens_indexer_chunks_total",
			Help: "Total number of chunks written to the vector store",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "repolens_indexer_runs_in_flight",
			Help: "Number of indexing runs currently executing",
		}),
	}
}

func (m *Metrics) started() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) finished(outcome string, d time.Duration, chunks int) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if chunks > 0 {
		m.ChunksTotal.Add(float64(chunks))
	}
}

func (m *Metrics) conflict() {
	if m != nil {
		m.RunsTotal.WithLabelValues(outcomeConflict).Inc()
	}
}
