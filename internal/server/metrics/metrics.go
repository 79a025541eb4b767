// Package metrics exposes the Prometheus metrics of the HTTP API.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wara-ops/tableqa/pkg/llm"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tableqa_build_info",
			Help: "Build information of the tableqa API",
		},
		[]string{"version"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tableqa_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tableqa_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	AsksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_asks_total",
			Help: "Total number of questions answered, by outcome",
		},
		[]string{"outcome"},
	)

	AskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tableqa_ask_duration_seconds",
			Help:    "End-to-end duration of answering a question",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	LLMCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tableqa_llm_call_duration_seconds",
			Help:    "Duration of individual model calls",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

// InstrumentLLM wraps a model client to record per-call durations.
func InstrumentLLM(c llm.Client) llm.Client {
	return &instrumentedLLM{inner: c}
}

type instrumentedLLM struct {
	inner llm.Client
}

func (c *instrumentedLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...llm.CompleteOption) (string, error) {
	start := time.Now()
	out, err := c.inner.Complete(ctx, systemPrompt, userPrompt, opts...)
	LLMCallDuration.Observe(time.Since(start).Seconds())
	return out, err
}

// RecordAsk records the outcome and duration of one answered question.
func RecordAsk(duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	AsksTotal.WithLabelValues(outcome).Inc()
	AskDuration.Observe(duration.Seconds())
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise the raw path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}
