package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type schedulerMetrics struct {
	windowsProcessed *prometheus.CounterVec
	windowErrors     *prometheus.CounterVec
	windowLatency    *prometheus.HistogramVec
	governorSpeed    *prometheus.GaugeVec
	activeGovernors  prometheus.Gauge
}

var (
	schedulerMetricsOnce sync.Once
	schedulerRegistry    *schedulerMetrics

	adapterMetricsOnce sync.Once
	adapterRegistry    *adapterMetrics

	mapperMetricsOnce sync.Once
	mapperRegistry    *mapperMetrics

	jobQueueMetricsOnce sync.Once
	jobQueueRegistry    *jobQueueMetrics
)

// Scheduler returns the lazily-initialised metrics registry tracking the
// per-governor indexing loop.
func Scheduler() *schedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerRegistry = &schedulerMetrics{
			windowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "scheduler",
				Name:      "windows_processed_total",
				Help:      "Count of indexing windows processed per governor and outcome.",
			}, []string{"governor", "outcome"}),
			windowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "scheduler",
				Name:      "window_errors_total",
				Help:      "Count of indexing window failures per governor and reason.",
			}, []string{"governor", "reason"}),
			windowLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "governanceagg",
				Subsystem: "scheduler",
				Name:      "window_duration_seconds",
				Help:      "Latency distribution for a single governor indexing window.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"governor"}),
			governorSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "governanceagg",
				Subsystem: "scheduler",
				Name:      "governor_speed_blocks",
				Help:      "Current adaptive window size, in cursor units (blocks on-chain, messages for Snapshot), for a governor.",
			}, []string{"governor"}),
			activeGovernors: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "governanceagg",
				Subsystem: "scheduler",
				Name:      "active_governors",
				Help:      "Number of governor indexing loops currently running.",
			}),
		}
		prometheus.MustRegister(
			schedulerRegistry.windowsProcessed,
			schedulerRegistry.windowErrors,
			schedulerRegistry.windowLatency,
			schedulerRegistry.governorSpeed,
			schedulerRegistry.activeGovernors,
		)
	})
	return schedulerRegistry
}

// ObserveWindow records the outcome and latency of an indexing window.
func (m *schedulerMetrics) ObserveWindow(governor string, d time.Duration, err error) {
	if m == nil {
		return
	}
	g := labelOrUnknown(governor)
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.windowErrors.WithLabelValues(g, reason).Inc()
	}
	m.windowsProcessed.WithLabelValues(g, outcome).Inc()
	m.windowLatency.WithLabelValues(g).Observe(d.Seconds())
}

// SetGovernorSpeed records the current adaptive batch size for a governor.
func (m *schedulerMetrics) SetGovernorSpeed(governor string, speed uint64) {
	if m == nil {
		return
	}
	m.governorSpeed.WithLabelValues(labelOrUnknown(governor)).Set(float64(speed))
}

// SetActiveGovernors records how many governor loops are currently running.
func (m *schedulerMetrics) SetActiveGovernors(n int) {
	if m == nil {
		return
	}
	m.activeGovernors.Set(float64(n))
}

// adapterMetrics tracks outbound calls to chain RPC, Snapshot, and Discourse.
type adapterMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// Adapter returns the metrics registry for outbound adapter calls.
func Adapter() *adapterMetrics {
	adapterMetricsOnce.Do(func() {
		adapterRegistry = &adapterMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "adapter",
				Name:      "requests_total",
				Help:      "Total outbound adapter requests segmented by source and outcome.",
			}, []string{"source", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "adapter",
				Name:      "errors_total",
				Help:      "Total outbound adapter errors segmented by source and reason.",
			}, []string{"source", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "governanceagg",
				Subsystem: "adapter",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for outbound adapter calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"source"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "adapter",
				Name:      "throttles_total",
				Help:      "Count of outbound requests delayed or rejected by rate limiting.",
			}, []string{"source", "reason"}),
		}
		prometheus.MustRegister(
			adapterRegistry.requests,
			adapterRegistry.errors,
			adapterRegistry.latency,
			adapterRegistry.throttles,
		)
	})
	return adapterRegistry
}

// Observe records the outcome and latency of a single outbound adapter call.
func (m *adapterMetrics) Observe(source string, d time.Duration, err error) {
	if m == nil {
		return
	}
	s := labelOrUnknown(source)
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(s, reason).Inc()
	}
	m.requests.WithLabelValues(s, outcome).Inc()
	m.latency.WithLabelValues(s).Observe(d.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied source and
// reason, e.g. "429", "5xx" or "retry".
func (m *adapterMetrics) RecordThrottle(source, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(labelOrUnknown(source), reason).Inc()
}

// mapperMetrics tracks the proposal-to-topic linking passes.
type mapperMetrics struct {
	urlMatches      prometheus.Counter
	semanticMatches *prometheus.CounterVec
	embedded        *prometheus.CounterVec
	embedErrors     *prometheus.CounterVec
	matchScore      prometheus.Histogram
}

// Mapper returns the metrics registry for the proposal/topic linking passes.
func Mapper() *mapperMetrics {
	mapperMetricsOnce.Do(func() {
		mapperRegistry = &mapperMetrics{
			urlMatches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "mapper",
				Name:      "url_matches_total",
				Help:      "Count of proposals linked to topics by deterministic URL matching.",
			}),
			semanticMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "mapper",
				Name:      "semantic_matches_total",
				Help:      "Count of proposals linked to topics by embedding similarity, segmented by outcome.",
			}, []string{"outcome"}),
			embedded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "mapper",
				Name:      "embedded_total",
				Help:      "Count of entities sent through the embedding pipeline, by entity type.",
			}, []string{"entity"}),
			embedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "mapper",
				Name:      "embed_errors_total",
				Help:      "Count of embedding pipeline failures, by entity type.",
			}, []string{"entity"}),
			matchScore: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "governanceagg",
				Subsystem: "mapper",
				Name:      "semantic_match_score",
				Help:      "Cosine similarity score of the best semantic match considered, whether accepted or not.",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			}),
		}
		prometheus.MustRegister(
			mapperRegistry.urlMatches,
			mapperRegistry.semanticMatches,
			mapperRegistry.embedded,
			mapperRegistry.embedErrors,
			mapperRegistry.matchScore,
		)
	})
	return mapperRegistry
}

// RecordURLMatch increments the deterministic URL-match counter.
func (m *mapperMetrics) RecordURLMatch() {
	if m == nil {
		return
	}
	m.urlMatches.Inc()
}

// RecordSemanticMatch records a semantic matching attempt's outcome
// ("accepted" or "rejected") and the score considered.
func (m *mapperMetrics) RecordSemanticMatch(outcome string, score float64) {
	if m == nil {
		return
	}
	m.semanticMatches.WithLabelValues(labelOrUnknown(outcome)).Inc()
	m.matchScore.Observe(score)
}

// RecordEmbed increments the embed counter/error counter for an entity type
// ("proposal" or "topic").
func (m *mapperMetrics) RecordEmbed(entity string, err error) {
	if m == nil {
		return
	}
	e := labelOrUnknown(entity)
	if err != nil {
		m.embedErrors.WithLabelValues(e).Inc()
		return
	}
	m.embedded.WithLabelValues(e).Inc()
}

// jobQueueMetrics tracks the background job processor.
type jobQueueMetrics struct {
	claimed   *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	depth     prometheus.Gauge
}

// JobQueue returns the metrics registry for the background job processor.
func JobQueue() *jobQueueMetrics {
	jobQueueMetricsOnce.Do(func() {
		jobQueueRegistry = &jobQueueMetrics{
			claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "jobqueue",
				Name:      "claimed_total",
				Help:      "Count of jobs claimed by the processor, by job type.",
			}, []string{"type"}),
			completed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "jobqueue",
				Name:      "completed_total",
				Help:      "Count of jobs completed successfully, by job type.",
			}, []string{"type"}),
			failed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governanceagg",
				Subsystem: "jobqueue",
				Name:      "failed_total",
				Help:      "Count of jobs whose handler returned an error, by job type.",
			}, []string{"type"}),
			depth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "governanceagg",
				Subsystem: "jobqueue",
				Name:      "pending_depth",
				Help:      "Number of pending jobs awaiting a claim.",
			}),
		}
		prometheus.MustRegister(
			jobQueueRegistry.claimed,
			jobQueueRegistry.completed,
			jobQueueRegistry.failed,
			jobQueueRegistry.depth,
		)
	})
	return jobQueueRegistry
}

// RecordClaim increments the claimed counter for a job type.
func (m *jobQueueMetrics) RecordClaim(jobType string) {
	if m == nil {
		return
	}
	m.claimed.WithLabelValues(labelOrUnknown(jobType)).Inc()
}

// RecordOutcome increments the completed or failed counter for a job type.
func (m *jobQueueMetrics) RecordOutcome(jobType string, err error) {
	if m == nil {
		return
	}
	t := labelOrUnknown(jobType)
	if err != nil {
		m.failed.WithLabelValues(t).Inc()
		return
	}
	m.completed.WithLabelValues(t).Inc()
}

// SetDepth records the current pending job queue depth.
func (m *jobQueueMetrics) SetDepth(n int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(n))
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
