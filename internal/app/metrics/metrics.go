package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Total transactions submitted, by intent and outcome.",
		},
		[]string{"intent", "outcome"},
	)

	confirmationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "ledger",
			Name:      "confirmation_duration_seconds",
			Help:      "Time from submission to confirmation.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9), // 500ms to ~2m
		},
		[]string{"intent"},
	)

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total reconcile passes, by outcome.",
		},
		[]string{"outcome"},
	)

	reconcileHeals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "reconcile",
			Name:      "heals_total",
			Help:      "Total sale-request documents synthesized from ledger state.",
		},
	)

	quoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "trade",
			Name:      "quote_duration_seconds",
			Help:      "Duration of liquidity-service quote fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		transactions,
		confirmationDuration,
		reconcileRuns,
		reconcileHeals,
		quoteDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTransaction records one submitted transaction and its outcome
// ("confirmed", "unconfirmed" or "failed").
func RecordTransaction(intent, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	transactions.WithLabelValues(intent, outcome).Inc()
	if outcome == "confirmed" {
		confirmationDuration.WithLabelValues(intent).Observe(duration.Seconds())
	}
}

// RecordReconcile records one reconcile pass.
func RecordReconcile(outcome string, synthesized bool) {
	reconcileRuns.WithLabelValues(outcome).Inc()
	if synthesized {
		reconcileHeals.Inc()
	}
}

// RecordQuote records one liquidity-service quote fetch.
func RecordQuote(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	quoteDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource IDs so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "listings", "pools", "assets", "requests":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if len(parts) == 2 {
			return "/" + parts[0] + "/:id"
		}
		return "/" + parts[0] + "/:id/" + parts[len(parts)-1]
	default:
		return "/" + parts[0]
	}
}
