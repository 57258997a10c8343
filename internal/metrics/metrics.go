// Package metrics exposes Prometheus collectors for the price watcher.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	productsTotal              *prometheus.CounterVec
	priceNotFoundTotal         *prometheus.CounterVec
	samplesCommittedTotal      prometheus.Counter
	signalPollsTotal           *prometheus.CounterVec
	lastProcessedSignal        prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_cycles_total",
				Help: "Total number of update cycles, labeled by status.",
			},
			[]string{"status"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricewatch_cycle_duration_seconds",
				Help:    "Histogram of update cycle wall time.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		productsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_products_total",
				Help: "Products processed by update cycles, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		priceNotFoundTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_price_not_found_total",
				Help: "Pages where no price selector matched, labeled by site.",
			},
			[]string{"site"},
		)

		samplesCommittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricewatch_samples_committed_total",
				Help: "Total number of price samples committed.",
			},
		)

		signalPollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_signal_polls_total",
				Help: "Signal watcher polls, labeled by result.",
			},
			[]string{"result"},
		)

		lastProcessedSignal = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricewatch_last_processed_signal_timestamp_seconds",
				Help: "Unix time of the last refresh signal handled by a completed cycle.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricewatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCycle records a finished cycle. status is completed, empty or aborted.
func ObserveCycle(status string, duration time.Duration) {
	Init()
	cyclesTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		cycleDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveProduct records one product outcome for the product's site.
func ObserveProduct(site, outcome string, priceFound bool) {
	Init()
	sanitized := SanitizeSite(site)
	productsTotal.WithLabelValues(sanitized, outcome).Inc()
	if !priceFound && outcome == "sampled" {
		priceNotFoundTotal.WithLabelValues(sanitized).Inc()
	}
}

// ObserveCommit adds committed samples.
func ObserveCommit(samples int) {
	Init()
	if samples > 0 {
		samplesCommittedTotal.Add(float64(samples))
	}
}

// ObserveSignalPoll counts one watcher poll by result.
func ObserveSignalPoll(result string) {
	Init()
	signalPollsTotal.WithLabelValues(result).Inc()
}

// SetLastProcessedSignal records the signal a completed cycle handled.
func SetLastProcessedSignal(at time.Time) {
	Init()
	lastProcessedSignal.Set(float64(at.UnixNano()) / float64(time.Second))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware records request counts and latencies by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		ObserveHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
