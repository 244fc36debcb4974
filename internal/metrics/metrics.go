// Package metrics exposes Prometheus collectors for linkpub.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchAttemptSeconds        *prometheus.HistogramVec
	itemsTotal                 *prometheus.CounterVec
	stepsTotal                 *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkpub_fetch_attempts_total",
				Help: "Fetcher attempts, labeled by fetcher and outcome.",
			},
			[]string{"fetcher", "outcome"},
		)

		fetchAttemptSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkpub_fetch_attempt_duration_seconds",
				Help:    "Histogram of fetcher attempt latencies, labeled by fetcher.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"fetcher"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkpub_items_total",
				Help: "Links processed by the pipeline, labeled by status.",
			},
			[]string{"status"},
		)

		stepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkpub_steps_total",
				Help: "Pipeline step results, labeled by step and outcome.",
			},
			[]string{"step", "outcome"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkpub_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
	return promhttp.Handler()
}

// ObserveFetchAttempt records one fetcher attempt.
func ObserveFetchAttempt(fetcher, outcome string, elapsed time.Duration) {
	fetchAttemptsTotal.WithLabelValues(fetcher, outcome).Inc()
	fetchAttemptSeconds.WithLabelValues(fetcher).Observe(elapsed.Seconds())
}

// ObserveItem counts one processed link.
func ObserveItem(success bool) {
	status := "failed"
	if success {
		status = "success"
	}
	itemsTotal.WithLabelValues(status).Inc()
}

// ObserveStep counts one pipeline step result. Outcome is typically
// "success", "failed" or "skipped".
func ObserveStep(step, outcome string) {
	stepsTotal.WithLabelValues(step, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait. The domain
// label is normalized with SanitizeSite.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// Recorder adapts the package collectors to retrieval.Observer and
// pipeline.Observer.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// ObserveAttempt implements retrieval.Observer.
func (Recorder) ObserveAttempt(fetcher, outcome string, elapsed time.Duration) {
	ObserveFetchAttempt(fetcher, outcome, elapsed)
}

// ObserveItem implements pipeline.Observer.
func (Recorder) ObserveItem(success bool) { ObserveItem(success) }

// ObserveStep implements pipeline.Observer.
func (Recorder) ObserveStep(step, outcome string) { ObserveStep(step, outcome) }

// Push sends the default registry to a Pushgateway. Batch runs are too
// short-lived to be scraped.
func Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
