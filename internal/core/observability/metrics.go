package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	resolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extent_resolve_total",
			Help: "Dataset extent resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	resolveDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "extent_resolve_duration_seconds",
			Help:    "Time to resolve one dataset extent, probes included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	probeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_probe_attempts_total",
			Help: "Band grid probe attempts by result.",
		},
		[]string{"result"},
	)

	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extent_store_operations_total",
			Help: "Storage driver operations by backend layout, operation and result.",
		},
		[]string{"layout", "op", "result"},
	)

	storeOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extent_store_operation_duration_seconds",
			Help:    "Storage driver operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"layout", "op"},
	)

	layoutDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extent_store_layout_detections_total",
			Help: "Schema layouts detected when a store is first used.",
		},
		[]string{"layout"},
	)

	redisOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"op"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_cache_results_total",
			Help: "Record cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extent_events_total",
			Help: "Indexed-extent events by result (queued, dropped, error).",
		},
		[]string{"result"},
	)

	listingRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_list_records_total",
			Help: "Records streamed by dataset listings, by output format.",
		},
		[]string{"format"},
	)
	listingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataset_list_duration_seconds",
			Help:    "Time to stream a dataset listing, by output format.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveResolve records one dataset resolution; outcome is ok, partial or an error class.
func ObserveResolve(outcome string, durationSeconds float64) {
	resolveTotal.WithLabelValues(outcome).Inc()
	resolveDurationSeconds.Observe(durationSeconds)
}

func IncProbeAttempt(result string) { probeAttempts.WithLabelValues(result).Inc() }

func ObserveStoreOp(layout, op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOps.WithLabelValues(layout, op, result).Inc()
	storeOpDurationSeconds.WithLabelValues(layout, op).Observe(durationSeconds)
}

func IncLayoutDetected(layout string) { layoutDetections.WithLabelValues(layout).Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	redisOps.WithLabelValues(op, result).Inc()
	redisOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit()   { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss()  { cacheResults.WithLabelValues("miss").Inc() }
func IncCacheError() { cacheResults.WithLabelValues("error").Inc() }

func IncEvent(result string) { eventsTotal.WithLabelValues(result).Inc() }

func ObserveListing(format string, records int, durationSeconds float64) {
	listingRecords.WithLabelValues(format).Add(float64(records))
	listingDurationSeconds.WithLabelValues(format).Observe(durationSeconds)
}
