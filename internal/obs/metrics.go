package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	topupInitiatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "topup_initiated_total",
		Help: "Top-up sagas that produced a ledger row.",
	})

	topupConfirmedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_confirmed_total",
			Help: "Top-up confirmations by terminal result.",
		},
		[]string{"result"},
	)

	chainConfirmRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chain_confirm_retries_total",
		Help: "Chain confirmation attempts executed by the outbox worker.",
	})

	depositsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_ingested_total",
			Help: "Bank batch entries processed, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		topupInitiatedTotal,
		topupConfirmedTotal,
		chainConfirmRetriesTotal,
		depositsIngestedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncTopUpInitiated counts a freshly opened top-up saga.
func IncTopUpInitiated() { topupInitiatedTotal.Inc() }

// IncTopUpConfirmed counts a terminal confirmation outcome ("success"/"failed").
func IncTopUpConfirmed(result string) { topupConfirmedTotal.WithLabelValues(result).Inc() }

// IncChainConfirmRetry counts one outbox confirmation attempt.
func IncChainConfirmRetry() { chainConfirmRetriesTotal.Inc() }

// IncDepositIngested counts one batch entry ("booked"/"duplicate"/"invalid"/"failed").
func IncDepositIngested(outcome string) { depositsIngestedTotal.WithLabelValues(outcome).Inc() }

// Instrument wraps a handler with RPS/latency/in-flight accounting.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses per-resource path segments so metric cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(path, "/v1/accounts/"); ok && rest != "" {
		switch parts := strings.Split(rest, "/"); {
		case len(parts) == 1:
			return "/v1/accounts/:id"
		case len(parts) == 2 && parts[1] == "balance":
			return "/v1/accounts/:id/balance"
		}
	}
	return path
}

// statusWriter is a local copy so the middleware package stays decoupled.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the instrumented chain:
// embedding the interface does not carry the underlying writer's Flusher.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
