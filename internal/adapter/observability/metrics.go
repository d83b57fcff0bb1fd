package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests"},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"route", "method"},
	)

	// RankingScoreHistogram is the histogram of rankingScore values returned by RANK.
	RankingScoreHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ranking_score",
		Help:    "Distribution of rankingScore values",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
	// FusionFinalScoreHistogram is the histogram of finalScore values returned by FUSE.
	FusionFinalScoreHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fusion_final_score",
		Help:    "Distribution of finalScore values",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	// BatcherBatchSize records the size of each flushed inference batch.
	BatcherBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "batcher_batch_size",
		Help:    "Size of flushed inference batches",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
	})
	// BatcherFlushesTotal counts flush events by trigger (size|timeout).
	BatcherFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "batcher_flushes_total", Help: "Total number of batch flushes"},
		[]string{"trigger"},
	)
	// BatcherErrorsTotal counts terminal batcher outcomes by kind.
	BatcherErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "batcher_errors_total", Help: "Total number of batcher call failures"},
		[]string{"kind"},
	)

	// FeatureStoreHitsTotal counts feature store reads by tier and hit/miss.
	FeatureStoreHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feature_store_reads_total", Help: "Total feature store reads by tier and outcome"},
		[]string{"tier", "outcome"},
	)

	// OfflineJobRunsTotal counts offline job runs by name and outcome.
	OfflineJobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "offline_job_runs_total", Help: "Total offline job runs"},
		[]string{"job", "outcome"},
	)
	// OfflineJobDuration records offline job durations by name.
	OfflineJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offline_job_duration_seconds",
			Help:    "Offline job processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"job"},
	)

	// FusionRejectionsTotal counts policy-filter rejections by reason (spec.md §4.8 Stage C).
	FusionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fusion_policy_rejections_total", Help: "Total fusion policy-filter rejections by reason"},
		[]string{"reason"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RankingScoreHistogram,
		FusionFinalScoreHistogram,
		BatcherBatchSize,
		BatcherFlushesTotal,
		BatcherErrorsTotal,
		FeatureStoreHitsTotal,
		OfflineJobRunsTotal,
		OfflineJobDuration,
		FusionRejectionsTotal,
	)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordOfflineJob records a completed offline job run's outcome and duration.
func RecordOfflineJob(job string, success bool, dur time.Duration) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	OfflineJobRunsTotal.WithLabelValues(job, outcome).Inc()
	OfflineJobDuration.WithLabelValues(job).Observe(dur.Seconds())
}

// RecordFusionRejection increments the policy-rejection counter for reason.
func RecordFusionRejection(reason string) {
	FusionRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordFeatureStoreRead records a feature store read outcome for tier
// ("l1"|"l2"|"l3") and outcome ("hit"|"miss").
func RecordFeatureStoreRead(tier, outcome string) {
	FeatureStoreHitsTotal.WithLabelValues(tier, outcome).Inc()
}

// MetricsHandler exposes the default Prometheus registry over /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
