package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fanchat"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method", "route"},
	)

	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "dispatches_total",
			Help:      "Authorization requests published, by chat kind and result.",
		},
		[]string{"chat_kind", "result"},
	)

	pollOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "poll_outcomes_total",
			Help:      "Result polls by outcome (found, timed_out, cancelled, infrastructure).",
		},
		[]string{"outcome"},
	)

	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "poll_duration_seconds",
			Help:      "Time spent waiting for an authorization result.",
			Buckets:   prometheus.LinearBuckets(0.25, 0.5, 16),
		},
		[]string{"outcome"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Authorization decisions, by chat kind and outcome.",
		},
		[]string{"chat_kind", "outcome"},
	)

	decisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decision_duration_seconds",
			Help:      "Duration of a single authorization decision.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"chat_kind"},
	)

	duplicates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "duplicates_total",
			Help:      "Redelivered requests absorbed by the processed marker.",
		},
	)

	activeRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "active_rooms",
			Help:      "Live chat rooms held by this process.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		dispatches,
		pollOutcomes,
		pollDuration,
		decisions,
		decisionDuration,
		duplicates,
		activeRooms,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades need the raw ResponseWriter for Hijack.
		if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := canonicalRoute(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordDispatch counts one published (or failed) authorization request.
func RecordDispatch(chatKind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	dispatches.WithLabelValues(chatKind, result).Inc()
}

// RecordPoll records the outcome and wait time of one Poller.Wait call.
func RecordPoll(outcome string, waited time.Duration) {
	pollOutcomes.WithLabelValues(outcome).Inc()
	pollDuration.WithLabelValues(outcome).Observe(waited.Seconds())
}

// RecordDecision records one engine decision.
func RecordDecision(chatKind, outcome string, duration time.Duration) {
	if chatKind == "" {
		chatKind = "unknown"
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	decisions.WithLabelValues(chatKind, outcome).Inc()
	decisionDuration.WithLabelValues(chatKind).Observe(duration.Seconds())
}

func RecordDuplicate() {
	duplicates.Inc()
}

func SetActiveRooms(n int) {
	activeRooms.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalRoute collapses ids out of the path to keep label cardinality bounded.
func canonicalRoute(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}

	parts := strings.Split(trimmed, "/")
	switch {
	case parts[0] == "ws":
		return "/ws/:roomId"
	case len(parts) >= 3 && parts[0] == "api" && parts[1] == "chat":
		if parts[2] == "authorizations" {
			if len(parts) == 3 {
				return "/api/chat/authorizations"
			}
			return "/api/chat/authorizations/:correlationId"
		}
		if len(parts) == 4 {
			return "/api/chat/:kind/rooms"
		}
		return "/api/chat/:kind/rooms/:roomId/join"
	default:
		return "/" + parts[0]
	}
}
