// Package metrics provides Prometheus instrumentation for the trading loop
// and the dashboard API.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignalsGenerated counts inserted signals by admitting rule and side.
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kalshi_edge_signals_generated_total",
		Help: "Signals inserted by the generator",
	}, []string{"rule", "side"})

	// SignalOutcomes counts execution results by final status.
	SignalOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kalshi_edge_signal_outcomes_total",
		Help: "Signals processed by the execution engine, by resulting status",
	}, []string{"status"})

	// ExitsTriggered counts closing orders by trigger reason.
	ExitsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kalshi_edge_exits_total",
		Help: "Closing orders emitted by the exit engine",
	}, []string{"reason"})

	// StageDuration tracks scheduler stage latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kalshi_edge_stage_duration_seconds",
		Help:    "Scheduler stage duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"stage"})

	// StageFailures counts stages that returned an error.
	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kalshi_edge_stage_failures_total",
		Help: "Scheduler stages that failed",
	}, []string{"stage"})

	// VenueRequests counts Kalshi API calls by endpoint and outcome.
	VenueRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kalshi_edge_venue_requests_total",
		Help: "Kalshi API requests",
	}, []string{"endpoint", "status"})

	// PricesIngested counts new price snapshots stored.
	PricesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kalshi_edge_prices_ingested_total",
		Help: "New price snapshots stored by ingestion",
	})

	// ExposureUSD tracks committed risk after each execution pass.
	ExposureUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kalshi_edge_exposure_usd",
		Help: "Committed at-risk USD over open signals and positions",
	})

	// WebSocketClients tracks connected dashboard clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kalshi_edge_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kalshi_edge_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kalshi_edge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveStage records how long a stage took and whether it failed.
func ObserveStage(stage string, start time.Time, err error) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		StageFailures.WithLabelValues(stage).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps label cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
