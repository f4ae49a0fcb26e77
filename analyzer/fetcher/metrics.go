package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_fetch_attempts_total",
		Help: "External fetch attempts by source, data kind and outcome.",
	}, []string{"source", "kind", "outcome"})
	fallbackAdvancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_fallback_advances_total",
		Help: "Times the fallback chain advanced past a failing source.",
	}, []string{"kind", "from"})
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_response_cache_hits_total",
		Help: "Response cache hits by data kind.",
	}, []string{"kind"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_response_cache_misses_total",
		Help: "Response cache misses by data kind.",
	}, []string{"kind"})
	simulatedDegradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_simulated_degrades_total",
		Help: "Fetches that degraded to simulated data after chain exhaustion.",
	}, []string{"kind"})
	retryWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "govscope_retry_wait_seconds",
		Help:    "Backoff waits between retry attempts.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
	})
	throttleRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_throttle_rejects_total",
		Help: "Calls rejected by the local rate limiter or the global bound.",
	}, []string{"source"})
)

const (
	outcomeOK      = "ok"
	outcomeRetry   = "retry"
	outcomeSkip    = "skip"
	outcomeFailure = "failure"
)
