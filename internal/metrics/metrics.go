// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records server metrics into a Prometheus registry.
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	commands       *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	auditWriteFail prometheus.Counter
	activeSessions prometheus.Gauge
	githubCallTime *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_http_requests_total",
			Help: "HTTP requests by path and status code.",
		}, []string{"path", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_commands_total",
			Help: "MCP tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by endpoint.",
		}, []string{"endpoint"}),
		auditWriteFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_audit_write_failures_total",
			Help: "Audit entries that could not be written.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_active_sessions",
			Help: "Sessions not yet expired at the last cleanup pass.",
		}),
		githubCallTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_github_call_seconds",
			Help:    "GitHub API call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.commands,
		c.rateLimited,
		c.auditWriteFail,
		c.activeSessions,
		c.githubCallTime,
	)

	return c
}

// RecordHTTPRequest counts one finished HTTP request and observes its duration.
func (c *Collector) RecordHTTPRequest(path string, statusCode int, d time.Duration) {
	c.httpRequests.WithLabelValues(path, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.WithLabelValues(path).Observe(d.Seconds())
}

// RecordCommand counts one MCP tool invocation.
func (c *Collector) RecordCommand(tool, outcome string) {
	c.commands.WithLabelValues(tool, outcome).Inc()
}

// RecordRateLimited counts one rejected request.
func (c *Collector) RecordRateLimited(endpoint string) {
	c.rateLimited.WithLabelValues(endpoint).Inc()
}

// RecordAuditWriteFailure counts one lost audit entry.
func (c *Collector) RecordAuditWriteFailure() {
	c.auditWriteFail.Inc()
}

// SetActiveSessions publishes the live session count.
func (c *Collector) SetActiveSessions(n int64) {
	c.activeSessions.Set(float64(n))
}

// RecordGitHubCall records the latency of one GitHub API call.
func (c *Collector) RecordGitHubCall(operation string, d time.Duration) {
	c.githubCallTime.WithLabelValues(operation).Observe(d.Seconds())
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
