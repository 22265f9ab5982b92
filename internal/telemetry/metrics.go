package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_provider_calls_total",
		Help: "Provider attempts by outcome (ok, error, invalid)",
	}, []string{"provider", "outcome"})

	ProviderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_provider_fallback_total",
		Help: "Fallback substitutions after a provider exhausted its retries",
	}, []string{"from", "to"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "interview_provider_latency_seconds",
		Help:    "Latency of individual provider attempts",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})

	JobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_jobs_created_total",
		Help: "Jobs created by pipeline (deduplicated triggers excluded)",
	}, []string{"pipeline"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_jobs_processed_total",
		Help: "Job processing outcomes by pipeline (completed, retried, failed)",
	}, []string{"pipeline", "outcome"})

	StaleRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_stale_recovered_total",
		Help: "Processing jobs reclaimed by the stale-recovery pass",
	}, []string{"pipeline"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_queue_depth",
		Help: "Queued jobs per pipeline at the last cycle",
	}, []string{"pipeline"})

	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_cycles_total",
		Help: "Worker cycles run per pipeline",
	}, []string{"pipeline"})

	CyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_cycles_skipped_total",
		Help: "Cycles skipped because the previous one was still running",
	}, []string{"pipeline"})

	SessionsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_sessions_abandoned_total",
		Help: "Sessions expired by the abandonment sweep",
	})

	RateLimitRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_rate_limit_rejects_total",
		Help: "Trigger requests rejected by the rate limiter",
	})
)

// Handler exposes the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
