// Package observability holds the Prometheus metrics for counselling streams and
// collaborator searches.
//
// All methods are safe on a nil *Metrics, which records nothing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "careerflow"

// Metrics groups the service's collectors.
type Metrics struct {
	StreamsTotal            *prometheus.CounterVec
	ClassifiedTotal         *prometheus.CounterVec
	TimeToFirstChunkSeconds prometheus.Histogram
	StreamDurationSeconds   *prometheus.HistogramVec
	ActiveStreams           prometheus.Gauge
	SearchRequestsTotal     *prometheus.CounterVec
	SearchCacheHitsTotal    *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StreamsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counsel",
			Name:      "streams_total",
			Help:      "Counselling streams by terminal state.",
		}, []string{"state"}),
		ClassifiedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counsel",
			Name:      "answers_total",
			Help:      "Finished answers by final message kind.",
		}, []string{"kind"}),
		TimeToFirstChunkSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "counsel",
			Name:      "time_to_first_chunk_seconds",
			Help:      "Latency from dispatch to the first decoded chunk.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		StreamDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "counsel",
			Name:      "stream_duration_seconds",
			Help:      "Total counselling stream duration by terminal state.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		}, []string{"state"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "counsel",
			Name:      "active_streams",
			Help:      "Counselling streams currently in flight.",
		}),
		SearchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Collaborator requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SearchCacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "cache_hits_total",
			Help:      "Collaborator searches answered from cache.",
		}, []string{"kind"}),
	}
}

// StreamStarted marks a stream as in flight.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// FirstChunk records the time until the first chunk arrived.
func (m *Metrics) FirstChunk(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstChunkSeconds.Observe(d.Seconds())
}

// StreamFinished records a stream's terminal state and the kind of answer it produced.
func (m *Metrics) StreamFinished(state, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.StreamsTotal.WithLabelValues(state).Inc()
	m.StreamDurationSeconds.WithLabelValues(state).Observe(d.Seconds())
	if kind != "" {
		m.ClassifiedTotal.WithLabelValues(kind).Inc()
	}
}

// SearchCompleted counts one collaborator request.
func (m *Metrics) SearchCompleted(kind, outcome string) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// SearchCacheHit counts a search answered from cache.
func (m *Metrics) SearchCacheHit(kind string) {
	if m == nil {
		return
	}
	m.SearchCacheHitsTotal.WithLabelValues(kind).Inc()
}
