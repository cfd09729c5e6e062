package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datecoach",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datecoach",
			Subsystem: "training",
			Name:      "evaluations_total",
			Help:      "Completed training evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	evaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "datecoach",
			Subsystem: "training",
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of training evaluations, scoring included.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	scoringFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datecoach",
			Subsystem: "training",
			Name:      "scoring_failures_total",
			Help:      "Evaluations aborted because the scoring call failed.",
		},
	)

	parseFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datecoach",
			Subsystem: "training",
			Name:      "parse_fallbacks_total",
			Help:      "Scoring responses that could not be parsed and were recorded as a fail.",
		},
	)

	unlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datecoach",
			Subsystem: "training",
			Name:      "unlocks_total",
			Help:      "Levels newly unlocked by passed evaluations.",
		},
	)

	llmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datecoach",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Duration of scoring model requests.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 11),
		},
		[]string{"model", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		evaluations,
		evaluationDuration,
		scoringFailures,
		parseFallbacks,
		unlocks,
		llmDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler counts requests by chi route pattern so path parameters
// do not explode label cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequests.WithLabelValues(strings.ToUpper(r.Method), route, strconv.Itoa(rec.status)).Inc()
	})
}

// RecordEvaluation records one completed evaluation.
func RecordEvaluation(outcome string, duration time.Duration, unlocked int) {
	evaluations.WithLabelValues(outcome).Inc()
	evaluationDuration.Observe(duration.Seconds())
	if unlocked > 0 {
		unlocks.Add(float64(unlocked))
	}
}

func RecordScoringFailure() {
	scoringFailures.Inc()
}

func RecordParseFallback() {
	parseFallbacks.Inc()
}

// RecordLLMRequest records the latency of one model call.
func RecordLLMRequest(model string, success bool, duration time.Duration) {
	llmDuration.WithLabelValues(model, strconv.FormatBool(success)).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
