package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Named query Prometheus metrics.
var (
	QueryCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "named_query_calls_total",
			Help:      "Total number of named query calls",
		},
		[]string{"query", "kind", "status"}, // kind: "fetch" / "count"
	)

	QueryCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nova",
			Name:      "named_query_call_duration_seconds",
			Help:      "Named query call duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"query", "kind"},
	)

	FirewallRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "firewall_rejections_total",
			Help:      "Named query calls rejected by a firewall",
		},
		[]string{"query"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "rate_limited_total",
			Help:      "Remote method calls rejected by a rate limit rule",
		},
		[]string{"method"},
	)

	CacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "cache_total",
			Help:      "Result cache hits and misses",
		},
		[]string{"cacher", "result"}, // result: "hit" / "miss"
	)
)

var registerOnce sync.Once

// RegisterQueryMetrics registers the HTTP and named query metrics on the
// default registry. Safe to call more than once.
func RegisterQueryMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequestDuration)
		prometheus.MustRegister(httpRequestsTotal)
		prometheus.MustRegister(QueryCallsTotal)
		prometheus.MustRegister(QueryCallDuration)
		prometheus.MustRegister(FirewallRejectionsTotal)
		prometheus.MustRegister(RateLimitedTotal)
		prometheus.MustRegister(CacheTotal)
	})
}
