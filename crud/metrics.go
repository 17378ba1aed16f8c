package crud

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of a Service.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	cache      *prometheus.CounterVec
}

// NewMetrics creates the service collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynacrud_operations_total",
			Help: "CRUD operations by model, operation and outcome.",
		}, []string{"model", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dynacrud_operation_duration_seconds",
			Help:    "Duration of CRUD operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model", "operation"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynacrud_cache_requests_total",
			Help: "Record cache lookups by model and result.",
		}, []string{"model", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m)
	}
	return m
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.operations.Describe(ch)
	m.duration.Describe(ch)
	m.cache.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.operations.Collect(ch)
	m.duration.Collect(ch)
	m.cache.Collect(ch)
}

var _ prometheus.Collector = (*Metrics)(nil)

func (m *Metrics) observe(op, model, outcome string, d time.Duration) {
	m.operations.WithLabelValues(model, op, outcome).Inc()
	m.duration.WithLabelValues(model, op).Observe(d.Seconds())
}

func (m *Metrics) cacheResult(model string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(model, result).Inc()
}
