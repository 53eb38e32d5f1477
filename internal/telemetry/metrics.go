// Package telemetry provides logging and metrics for the memory server.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatmemory"

// Metrics holds the server's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	summaries     *prometheus.CounterVec
	injections    *prometheus.CounterVec
	llmTokens     *prometheus.CounterVec
	warmGenerated prometheus.Counter
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls handled, by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tool"}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_requests_total",
			Help:      "Summary lookups, by style and result (cached, generated, no_messages, error).",
		}, []string{"style", "result"}),
		injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injections_total",
			Help:      "Injection blocks requested, by method and status.",
		}, []string{"method", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by summary generation.",
		}, []string{"direction"}),
		warmGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warm_summaries_generated_total",
			Help:      "Summaries generated by the background warmer.",
		}),
	}
	m.registry.MustRegister(
		m.toolCalls, m.toolDuration, m.summaries, m.injections, m.llmTokens, m.warmGenerated,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordToolCall records a completed tool call.
func (m *Metrics) RecordToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordSummary records one summary lookup outcome.
func (m *Metrics) RecordSummary(style, result string) {
	if m == nil {
		return
	}
	m.summaries.WithLabelValues(style, result).Inc()
}

// RecordInjection records one injection request.
func (m *Metrics) RecordInjection(method, status string) {
	if m == nil {
		return
	}
	m.injections.WithLabelValues(method, status).Inc()
}

// RecordTokens adds generation token usage.
func (m *Metrics) RecordTokens(input, output int) {
	if m == nil {
		return
	}
	m.llmTokens.WithLabelValues("input").Add(float64(input))
	m.llmTokens.WithLabelValues("output").Add(float64(output))
}

// RecordWarmed adds n summaries generated by the warmer.
func (m *Metrics) RecordWarmed(n int) {
	if m == nil {
		return
	}
	m.warmGenerated.Add(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler that serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
