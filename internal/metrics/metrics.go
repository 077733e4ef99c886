// Package metrics holds the Prometheus instruments of the dashboard server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	AggregationDuration *prometheus.HistogramVec
	AggregationErrors   *prometheus.CounterVec
	ImageFetchFailures  prometheus.Counter
	CacheLookups        *prometheus.CounterVec
	RowsLoaded          prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AggregationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dashboard",
			Name:      "aggregation_duration_seconds",
			Help:      "Time spent answering one aggregation query.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"query"}),
		AggregationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "aggregation_errors_total",
			Help:      "Aggregation queries that returned an error.",
		}, []string{"query"}),
		ImageFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "map_image_fetch_failures_total",
			Help:      "Background map images that could not be loaded.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "cache_lookups_total",
			Help:      "Dashboard cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		RowsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dashboard",
			Name:      "order_rows_loaded",
			Help:      "Order line items currently held in memory.",
		}),
	}
	reg.MustRegister(
		m.AggregationDuration,
		m.AggregationErrors,
		m.ImageFetchFailures,
		m.CacheLookups,
		m.RowsLoaded,
	)
	return m
}

// ObserveQuery records how long query took, counting it as failed when err
// is non-nil. Safe on a nil *Metrics.
func (m *Metrics) ObserveQuery(query string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.AggregationDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	if err != nil {
		m.AggregationErrors.WithLabelValues(query).Inc()
	}
}

func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ImageFetchFailed() {
	if m == nil {
		return
	}
	m.ImageFetchFailures.Inc()
}

func (m *Metrics) SetRows(n int) {
	if m == nil {
		return
	}
	m.RowsLoaded.Set(float64(n))
}
