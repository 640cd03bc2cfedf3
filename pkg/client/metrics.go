package client

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus instruments shared by every Client in
// the process. They register against the default registry, so embedding
// applications expose them through their usual /metrics handler.
type metrics struct {
	// RequestsTotal counts operations by op and outcome.
	RequestsTotal *prometheus.CounterVec
	// HitsTotal and MissesTotal count get results.
	HitsTotal   prometheus.Counter
	MissesTotal prometheus.Counter
	// CompressedTotal counts values compressed on write.
	CompressedTotal prometheus.Counter
	// PoolTimeoutsTotal counts acquires that hit the pool timeout.
	PoolTimeoutsTotal prometheus.Counter
	// RequestDuration observes operation latency by op.
	RequestDuration *prometheus.HistogramVec
}

var (
	globalMetrics *metrics
	metricsOnce   sync.Once
)

func getMetrics() *metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

func newMetrics() *metrics {
	return &metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memring_requests_total",
				Help: "The total number of cache requests",
			},
			[]string{"op", "status"}, // status: ok, miss, error
		),
		HitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "memring_hits_total",
				Help: "The total number of get hits",
			},
		),
		MissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "memring_misses_total",
				Help: "The total number of get misses",
			},
		),
		CompressedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "memring_compressed_values_total",
				Help: "The total number of values compressed before storage",
			},
		),
		PoolTimeoutsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "memring_pool_acquire_timeouts_total",
				Help: "The total number of connection acquires that timed out",
			},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memring_request_duration_seconds",
				Help:    "The request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

func (m *metrics) recordRequest(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(op, status).Inc()
}
