package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes on the broadcast channel.
const (
	OutcomeDelivered   = "delivered"
	OutcomeHeartbeat   = "heartbeat"
	OutcomeDecodeError = "decode_error"
	OutcomeNoSession   = "no_session"
)

// Request outcomes on client connections.
const (
	OutcomeOK           = "ok"
	OutcomeError        = "error"
	OutcomeUnauthorized = "unauthorized"
	OutcomeRefused      = "refused"
)

var (
	// Broadcast channel metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resulthub_events_total",
			Help: "Total number of broadcast payloads received, by outcome",
		},
		[]string{"outcome"},
	)

	EnvelopesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resulthub_envelopes_sent_total",
			Help: "Total number of envelopes enqueued to connections",
		},
		[]string{"msg_type"},
	)

	DeliveryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resulthub_delivery_errors_total",
			Help: "Total number of envelopes dropped because a connection could not accept them",
		},
	)

	ActiveLanes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resulthub_dispatch_lanes",
			Help: "Current number of per-session delivery lanes",
		},
	)

	// Connection metrics
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resulthub_connections",
			Help: "Current number of registered client connections",
		},
	)

	ConnectionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resulthub_connections_rejected_total",
			Help: "Total number of connections rejected by the connection cap",
		},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resulthub_requests_total",
			Help: "Total number of client requests, by type and outcome",
		},
		[]string{"request_type", "outcome"},
	)

	// Enrichment metrics
	EnrichmentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resulthub_enrichment_lookups_total",
			Help: "Total number of related-record lookups, by result",
		},
		[]string{"result"},
	)

	EnrichmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resulthub_enrichment_duration_seconds",
			Help:    "Duration of related-record enrichment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Document store metrics
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resulthub_store_duration_seconds",
			Help:    "Duration of document store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ActivityErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resulthub_activity_errors_total",
			Help: "Total number of activity records that failed to persist",
		},
	)
)
