package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pds_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pds_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pds_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ProvisioningAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pds_provisioning_attempts_total",
			Help: "Total number of account provisioning attempts by outcome",
		},
		[]string{"outcome"},
	)

	ProvisioningRollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pds_provisioning_rollbacks_total",
			Help: "Total number of compensating repository destroys",
		},
	)

	LedgerSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pds_ledger_submissions_total",
			Help: "Total number of identity ledger transaction submissions by result",
		},
		[]string{"result"},
	)

	LedgerSettleWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pds_ledger_settle_wait_seconds",
			Help:    "Time spent waiting for ledger transactions to settle",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 15, 30},
		},
	)

	SequencedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pds_sequenced_events_total",
			Help: "Total number of lifecycle events appended to the sequencer",
		},
		[]string{"type"},
	)

	FirehoseSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pds_firehose_subscribers",
			Help: "Number of connected firehose subscribers",
		},
	)

	AccessTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pds_access_tokens_issued_total",
			Help: "Total number of access tokens issued",
		},
	)

	RefreshTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pds_refresh_tokens_issued_total",
			Help: "Total number of refresh tokens issued",
		},
	)
)
