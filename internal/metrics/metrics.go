// Package metrics exposes Prometheus instrumentation for the tool server.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Outcome labels for tool calls.
const (
	OutcomeOK          = "ok"
	OutcomeToolError   = "tool_error"
	OutcomeBadRequest  = "bad_request"
	OutcomeInternalErr = "internal"
)

// Metrics holds the server's collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	openDocuments  prometheus.Gauge
	protocolErrors prometheus.Counter
	renderCache    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_mcp_tool_calls_total",
			Help: "Tool calls by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdf_mcp_tool_call_duration_seconds",
			Help:    "Tool call latency, including time spent waiting for the document lock.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"tool"}),
		openDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pdf_mcp_open_documents",
			Help: "Documents currently held in the session store.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdf_mcp_protocol_errors_total",
			Help: "JSON-RPC requests rejected as malformed, unknown or invalid.",
		}),
		renderCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_mcp_render_cache_lookups_total",
			Help: "Render cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.toolCalls,
		m.toolDuration,
		m.openDocuments,
		m.protocolErrors,
		m.renderCache,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveToolCall records one finished tool call. A nil receiver is a no-op.
func (m *Metrics) ObserveToolCall(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// SetOpenDocuments sets the open document gauge.
func (m *Metrics) SetOpenDocuments(n int) {
	if m == nil {
		return
	}
	m.openDocuments.Set(float64(n))
}

// ProtocolError counts a rejected request.
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

// RenderCacheLookup counts a render cache hit or miss.
func (m *Metrics) RenderCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.renderCache.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
