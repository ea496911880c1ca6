package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redub",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "redub",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redub",
		Name:      "provider_requests_total",
		Help:      "Total acquisition attempts by provider name and result status.",
	}, []string{"provider", "status"})

	ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "redub",
		Name:      "provider_request_duration_seconds",
		Help:      "Acquisition attempt duration in seconds, metadata plus payload.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 180},
	}, []string{"provider"})

	ProviderLastAttemptOK = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "redub",
		Name:      "provider_last_attempt_ok",
		Help:      "Whether the provider's most recent acquisition attempt delivered (1) or failed (0).",
	}, []string{"provider"})

	AcquiredBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redub",
		Name:      "acquired_bytes_total",
		Help:      "Total payload bytes accepted from acquisition providers.",
	}, []string{"provider"})

	TitleCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "redub",
		Name:      "title_cache_hits_total",
		Help:      "Total number of title cache hits.",
	})

	TitleCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "redub",
		Name:      "title_cache_misses_total",
		Help:      "Total number of title cache misses.",
	})

	EngineExecDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "redub",
		Name:      "engine_exec_duration_seconds",
		Help:      "Transcoding engine invocation duration by operation.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"op"})

	EngineExecFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redub",
		Name:      "engine_exec_failures_total",
		Help:      "Total failed transcoding engine invocations by operation.",
	}, []string{"op"})

	SegmentsProducedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "redub",
		Name:      "segments_produced_total",
		Help:      "Total number of segments produced by the segmentation engine.",
	})

	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redub",
		Name:      "runs_total",
		Help:      "Pipeline stage outcomes by stage and result.",
	}, []string{"stage", "result"})

	ActiveRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "redub",
		Name:      "active_runs",
		Help:      "Number of pipeline stages currently executing (0 or 1).",
	})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "redub",
		Name:      "ws_clients",
		Help:      "Number of connected status WebSocket clients.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderLastAttemptOK,
		AcquiredBytesTotal,
		TitleCacheHitsTotal,
		TitleCacheMissesTotal,
		EngineExecDuration,
		EngineExecFailuresTotal,
		SegmentsProducedTotal,
		RunsTotal,
		ActiveRuns,
		WSClients,
	)
}
