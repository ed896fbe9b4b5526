package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus mirror of the hot counters. The in-process Collector owns the
// JSON /metrics payload; these exist for scrape-based dashboards.
var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gw_connections_total",
		Help: "Total WebSocket connections accepted",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gw_connections_active",
		Help: "Currently active WebSocket connections",
	})

	ConnectionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gw_connections_rejected_total",
		Help: "Connections rejected at the handshake (cap or shutdown)",
	})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gw_messages_sent_total",
		Help: "Total frames written to clients",
	})

	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gw_messages_received_total",
		Help: "Total frames read from clients",
	})

	RateLimitedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gw_rate_limited_frames_total",
		Help: "Inbound frames dropped by the per-connection rate limiter",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gw_sessions_active",
		Help: "Live conversation sessions",
	})

	LLMRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_llm_requests_total",
		Help: "LLM adapter calls by provider and outcome",
	}, []string{"provider", "status"})

	ToolExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_tool_executions_total",
		Help: "Tool executor invocations by tool and outcome",
	}, []string{"tool", "status"})

	ToolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gw_tool_duration_seconds",
		Help:    "Tool execution latency",
		Buckets: []float64{.01, .05, .1, .2, .5, 1, 2, 5},
	}, []string{"tool"})

	CacheOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_cache_ops_total",
		Help: "Cache hits and misses by namespace",
	}, []string{"namespace", "result"})

	PriceUpdatesFanned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gw_price_updates_fanned_total",
		Help: "price_update frames fanned out to subscribers",
	})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_errors_total",
		Help: "Errors by taxonomy code",
	}, []string{"code"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		MessagesSent,
		MessagesReceived,
		RateLimitedFrames,
		ActiveSessions,
		LLMRequests,
		ToolExecutions,
		ToolDuration,
		CacheOps,
		PriceUpdatesFanned,
		ErrorsTotal,
	)
}

// PromHandler serves the Prometheus scrape endpoint.
func PromHandler() http.Handler {
	return promhttp.Handler()
}
