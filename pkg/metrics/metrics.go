package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EnvelopesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_envelopes_ingested_total",
			Help: "Realtime envelopes accepted for ingestion",
		},
		[]string{"type"}, // single, broadcast, group
	)

	EnvelopesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_envelopes_dropped_total",
			Help: "Realtime envelopes dropped before ingestion",
		},
		[]string{"reason"}, // duplicate, not_targeted, decode_error
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_refresh_duration_seconds",
			Help:    "Backend list refresh duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"outcome"}, // ok, fallback
	)

	RealtimeConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_realtime_connected",
			Help: "Whether the realtime channel is currently connected (0/1)",
		},
	)

	PushSendCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_push_send_total",
			Help: "Push mirror deliveries attempted",
		},
		[]string{"status"}, // success, failed, skipped
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries exceeding the slow query threshold",
		},
	)
)

func IncrementEnvelopeIngested(envType string) {
	EnvelopesIngested.WithLabelValues(envType).Inc()
}

func IncrementEnvelopeDropped(reason string) {
	EnvelopesDropped.WithLabelValues(reason).Inc()
}

func RecordRefreshDuration(outcome string, duration time.Duration) {
	RefreshDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func SetRealtimeConnected(connected bool) {
	if connected {
		RealtimeConnected.Set(1)
	} else {
		RealtimeConnected.Set(0)
	}
}

func IncrementPushSend(status string) {
	PushSendCount.WithLabelValues(status).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
