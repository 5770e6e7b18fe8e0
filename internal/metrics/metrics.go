// Package metrics collects and exposes Prometheus metrics for the
// authentication resolver and the tool layer.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiangong-lca/mcp-server-go/sessioncache"
)

// Collector records authentication and tool-call metrics. Callers hold
// the concrete type; a nil *Collector is safe and records nothing,
// which keeps instrumentation optional in tests.
type Collector struct {
	authAttempts *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lcamcp_auth_attempts_total",
			Help: "Authentication attempts by credential kind and outcome.",
		}, []string{"kind", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lcamcp_session_cache_lookups_total",
			Help: "Session cache lookups by result.",
		}, []string{"result"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lcamcp_tool_calls_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lcamcp_tool_latency_seconds",
			Help:    "Tool invocation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.cacheLookups,
		c.toolCalls,
		c.toolLatency,
	)

	return c
}

// RecordAuthAttempt records one authentication attempt. Outcome is
// "success", "rejected", or "error".
func (c *Collector) RecordAuthAttempt(kind, outcome string) {
	if c == nil {
		return
	}
	c.authAttempts.WithLabelValues(kind, outcome).Inc()
}

// RecordCacheLookup records a session cache lookup. Result is "hit",
// "miss", or "error".
func (c *Collector) RecordCacheLookup(result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// InstrumentCache wraps a session cache so that every read is counted.
// Writes and TTL refreshes pass through untouched.
func InstrumentCache(cache sessioncache.Cache, c *Collector) sessioncache.Cache {
	return &instrumentedCache{Cache: cache, collector: c}
}

type instrumentedCache struct {
	sessioncache.Cache
	collector *Collector
}

func (ic *instrumentedCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := ic.Cache.Get(ctx, key)
	switch {
	case err != nil:
		ic.collector.RecordCacheLookup("error")
	case ok:
		ic.collector.RecordCacheLookup("hit")
	default:
		ic.collector.RecordCacheLookup("miss")
	}
	return value, ok, err
}

// RecordToolCall records one tool invocation and its duration.
func (c *Collector) RecordToolCall(tool, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(tool, outcome).Inc()
	c.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler for the registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
