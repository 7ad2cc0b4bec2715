package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatd_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_messages_sent_total",
			Help: "Total messages persisted and fanned out",
		},
		[]string{"room_kind"}, // "direct", "group" or "random"
	)

	RoomsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_rooms_created_total",
			Help: "Total rooms created",
		},
		[]string{"room_kind"},
	)

	MatchesPaired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_matches_paired_total",
			Help: "Total random matches paired",
		},
	)

	MatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatd_match_queue_depth",
			Help: "Tickets currently waiting for a random match",
		},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatd_live_connections",
			Help: "Currently open websocket connections",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_events_dropped_total",
			Help: "Outbound events dropped on slow or closed connections",
		},
		[]string{"reason"},
	)

	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_search_queries_total",
			Help: "Total search queries",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatd_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatd_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
