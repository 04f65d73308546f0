// Package observability holds the Prometheus collectors shared by the layer and its hosts.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
		},
		[]string{"upstream"},
	)

	layerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_requests_total",
			Help: "Overpass request outcomes (ok, timeout, status, malformed, transport, vetoed).",
		},
		[]string{"outcome"},
	)

	layerViewport = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_viewport_changes_total",
			Help: "Viewport changes by decision (below_min_zoom, pending, coalesced, covered, fetch).",
		},
		[]string{"decision"},
	)

	layerFeatures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_features_total",
			Help: "Features received, split into new and duplicate.",
		},
		[]string{"kind"},
	)

	layerCoveredRegions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "layer_covered_regions",
			Help: "Number of rectangles in the covered region set.",
		},
	)

	responseCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_total",
			Help: "Response cache lookups by result.",
		},
		[]string{"result"},
	)

	storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_store_op_total",
			Help: "Feature store operations by op and result.",
		},
		[]string{"op", "result"},
	)

	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	publishedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_events_total",
			Help: "Feature discovery events by result (sent, dropped, encode_error, producer_error).",
		},
		[]string{"result"},
	)

	consumedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_events_consumed_total",
			Help: "Discovery events read back by the indexer, by result (stored, decode_error, invalid, store_error).",
		},
		[]string{"result"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		layerRequests, layerViewport, layerFeatures, layerCoveredRegions,
		responseCache, storeOps, storeOpDuration, publishedEvents, consumedEvents, buildInfo,
	}
}

func init() {
	Init(prometheus.DefaultRegisterer, true)
}

// Init registers the collectors on reg. Registering on the same registry
// twice is a no-op.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncRequest(outcome string) { layerRequests.WithLabelValues(outcome).Inc() }

func IncViewport(decision string) { layerViewport.WithLabelValues(decision).Inc() }

func AddFeatures(fresh, duplicate int) {
	if fresh > 0 {
		layerFeatures.WithLabelValues("new").Add(float64(fresh))
	}
	if duplicate > 0 {
		layerFeatures.WithLabelValues("duplicate").Add(float64(duplicate))
	}
}

func SetCoveredRegions(n int) { layerCoveredRegions.Set(float64(n)) }

func IncResponseCache(result string) { responseCache.WithLabelValues(result).Inc() }

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	storeOps.WithLabelValues(op, res).Inc()
	storeOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncPublished(result string) { publishedEvents.WithLabelValues(result).Inc() }

func IncConsumed(result string) { consumedEvents.WithLabelValues(result).Inc() }

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
