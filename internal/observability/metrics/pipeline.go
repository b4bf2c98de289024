package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	pageTotal     *prometheus.CounterVec
	pageDuration  *prometheus.HistogramVec
	pageInFlight  prometheus.Gauge
	cacheHits     *prometheus.CounterVec
	mergeSkips    *prometheus.CounterVec
	batchTotal    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
}

var _ ports.PipelineMetrics = (*PipelineMetrics)(nil)

// NewPipelineMetrics registers on registry, or on a private registry when
// registry is nil.
func NewPipelineMetrics(service string, registry *prometheus.Registry) *PipelineMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pages_total",
			Help:      "Total extracted pages by subtype and status.",
		},
		[]string{"service", "subtype", "status"},
	)
	pageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "page_duration_seconds",
			Help:      "Page extraction duration in seconds by subtype.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "subtype"},
	)
	pageInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pages_in_flight",
			Help:      "Number of pages currently being extracted.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	cacheHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cache_hits_total",
			Help:      "Pages served from the fingerprint cache.",
		},
		[]string{"service", "subtype"},
	)
	mergeSkips := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "skipped_entities_total",
			Help:      "Entities rejected by the merge schema.",
		},
		[]string{"service", "entity"},
	)
	batchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Finished batches by terminal status.",
		},
		[]string{"service", "status"},
	)
	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Batch duration in seconds by terminal status.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"service", "status"},
	)

	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retried calls by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state by operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(pageTotal, pageDuration, pageInFlight, cacheHits, mergeSkips, batchTotal, batchDuration, retries, breakerState)

	return &PipelineMetrics{
		registry:      registry,
		service:       service,
		pageTotal:     pageTotal,
		pageDuration:  pageDuration,
		pageInFlight:  pageInFlight,
		cacheHits:     cacheHits,
		mergeSkips:    mergeSkips,
		batchTotal:    batchTotal,
		batchDuration: batchDuration,
		retries:       retries,
		breakerState:  breakerState,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartPage() {
	m.pageInFlight.Inc()
}

func (m *PipelineMetrics) FinishPage(subtype domain.Subtype, status string, duration time.Duration) {
	m.pageInFlight.Dec()
	if status == "" {
		status = "unknown"
	}
	m.pageTotal.WithLabelValues(m.service, string(subtype), status).Inc()
	m.pageDuration.WithLabelValues(m.service, string(subtype)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) CacheHit(subtype domain.Subtype) {
	m.cacheHits.WithLabelValues(m.service, string(subtype)).Inc()
}

func (m *PipelineMetrics) MergeSkip(entity string) {
	m.mergeSkips.WithLabelValues(m.service, entity).Inc()
}

func (m *PipelineMetrics) FinishBatch(status domain.BatchStatus, duration time.Duration) {
	m.batchTotal.WithLabelValues(m.service, string(status)).Inc()
	m.batchDuration.WithLabelValues(m.service, string(status)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) Retry(operation string) {
	m.retries.WithLabelValues(m.service, operation).Inc()
}

func (m *PipelineMetrics) BreakerState(operation, state string) {
	value := 0.0
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}
