package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashboard_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Slack metrics
	SlackCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_slack_calls_total",
			Help: "Slack Web API calls by method and outcome",
		},
		[]string{"method", "outcome"}, // outcome: ok, rate_limited, error
	)

	RateLimitSleeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_slack_rate_limit_sleeps_total",
			Help: "Total backoff sleeps after a rate-limited response",
		},
	)

	ChannelLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_channel_loads_total",
			Help: "Channel history loads",
		},
		[]string{"channel"},
	)

	MessagesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_messages_loaded_total",
			Help: "Messages fetched by batch loads",
		},
		[]string{"channel"},
	)

	LiveEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_live_events_total",
			Help: "Live message events by result",
		},
		[]string{"result"}, // "public", "private" or "skipped"
	)

	BufferSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dashboard_buffer_messages",
			Help: "Messages currently buffered",
		},
		[]string{"tier"},
	)

	Published = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_published_messages_total",
			Help: "Messages handed to the downstream publisher",
		},
		[]string{"outcome"},
	)

	// Upstream proxy metrics
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_upstream_requests_total",
			Help: "Upstream proxy requests",
		},
		[]string{"upstream", "source"}, // source: "cache", "origin" or "error"
	)
)
