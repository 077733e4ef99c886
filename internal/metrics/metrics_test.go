package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveQuery(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveQuery("daily_orders", time.Now(), nil)
	m.ObserveQuery("review_scores", time.Now(), errors.New("no data"))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.AggregationErrors.WithLabelValues("daily_orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AggregationErrors.WithLabelValues("review_scores")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.AggregationDuration))
}

func TestCountersAndGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CacheResult("hit")
	m.CacheResult("hit")
	m.CacheResult("miss")
	m.ImageFetchFailed()
	m.SetRows(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageFetchFailures))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.RowsLoaded))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveQuery("x", time.Now(), errors.New("boom"))
		m.CacheResult("hit")
		m.ImageFetchFailed()
		m.SetRows(1)
	})
}
