package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus registry and the courier meters.
type Metrics struct {
	Registry *prometheus.Registry

	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	BytesProcessed    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	ConnectionState *prometheus.GaugeVec
	Transitions     *prometheus.CounterVec
	WatchdogFires   prometheus.Counter

	RequestsQueued     prometheus.Gauge
	RequestsInFlight   prometheus.Gauge
	RequestOutcomes    *prometheus.CounterVec
	DuplicateMatches   prometheus.Counter
	UnmatchedResponses prometheus.Counter

	AcksSent     *prometheus.CounterVec
	AcksReceived *prometheus.CounterVec
	Malformed    *prometheus.CounterVec

	ReceiptsSent       *prometheus.CounterVec
	ReceiptsSuppressed prometheus.Counter
	ReceiptsConfirmed  prometheus.Counter
	ReceiptsUnacked    prometheus.Gauge
}

// NewMetrics creates a custom Prometheus registry with the courier metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_operation_duration_seconds",
			Help:    "Duration of operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		OperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_operation_total",
			Help: "Total number of operations.",
		}, []string{"operation", "status"}),
		BytesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_bytes_processed_total",
			Help: "Total stanza bytes written to or read from the transport.",
		}, []string{"direction"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_errors_total",
			Help: "Total number of errors.",
		}, []string{"operation", "type"}),

		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "courier_connection_state",
			Help: "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_connection_transitions_total",
			Help: "Connection state transitions.",
		}, []string{"from", "to"}),
		WatchdogFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_connect_watchdog_fires_total",
			Help: "Times the connect watchdog re-issued a connect.",
		}),

		RequestsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_requests_queued",
			Help: "Requests waiting for a connection.",
		}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_requests_inflight",
			Help: "Requests transmitted and awaiting a response.",
		}),
		RequestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_request_outcomes_total",
			Help: "Terminal request outcomes.",
		}, []string{"outcome"}),
		DuplicateMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_request_duplicate_matches_total",
			Help: "Responses that matched more than one pending request.",
		}),
		UnmatchedResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_request_unmatched_responses_total",
			Help: "Responses that matched no pending request.",
		}),

		AcksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_acks_sent_total",
			Help: "Acks sent, by who took responsibility.",
		}, []string{"by"}),
		AcksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_acks_received_total",
			Help: "Inbound acks, by what they confirmed.",
		}, []string{"kind"}),
		Malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_malformed_stanzas_total",
			Help: "Inbound stanzas dropped as unparsable.",
		}, []string{"kind"}),

		ReceiptsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_receipts_sent_total",
			Help: "Receipt transmissions, first sends and resends.",
		}, []string{"attempt"}),
		ReceiptsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_receipts_suppressed_total",
			Help: "Receipts skipped as duplicates of a pending receipt.",
		}),
		ReceiptsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_receipts_confirmed_total",
			Help: "Receipts acknowledged by the server.",
		}),
		ReceiptsUnacked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_receipts_unacked",
			Help: "Receipts sent and not yet acknowledged.",
		}),
	}

	reg.MustRegister(
		m.OperationDuration, m.OperationTotal, m.BytesProcessed, m.ErrorsTotal,
		m.ConnectionState, m.Transitions, m.WatchdogFires,
		m.RequestsQueued, m.RequestsInFlight, m.RequestOutcomes, m.DuplicateMatches, m.UnmatchedResponses,
		m.AcksSent, m.AcksReceived, m.Malformed,
		m.ReceiptsSent, m.ReceiptsSuppressed, m.ReceiptsConfirmed, m.ReceiptsUnacked,
	)
	return m
}
