package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmcache_store_operations_total",
		Help: "Total number of cache store operations",
	}, []string{"backend", "op", "result"})

	CacheOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmcache_store_operation_seconds",
		Help:    "Time taken by cache store operations",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"backend", "op"})

	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "llmcache_store_entries",
		Help: "Number of entries held by a cache store",
	}, []string{"backend"})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmcache_store_evictions_total",
		Help: "Total number of entries evicted from a bounded cache store",
	}, []string{"backend"})
)

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
