package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callstream_active_sessions",
		Help: "Number of calls currently streaming to a consumer (0 or 1 per controller)",
	})
	TapsEngaged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callstream_audio_taps_engaged",
		Help: "Number of calls with audio interception engaged",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callstream_transaction_queue_depth",
		Help: "Transactions waiting in the transaction manager queue",
	})
)

// Counters
var (
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callstream_sessions_started_total",
		Help: "Sessions that reached the streaming state",
	})
	SessionsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callstream_sessions_failed_total",
		Help: "Start-streaming pipelines that aborted",
	})
	TerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callstream_session_terminations_total",
		Help: "Session resets by termination reason",
	}, []string{"reason"})
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callstream_transactions_total",
		Help: "Completed transactions by kind and outcome",
	}, []string{"kind", "outcome"})
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callstream_consumer_notifications_total",
		Help: "Notifications sent to the streaming consumer by kind and outcome",
	}, []string{"kind", "outcome"})
	AdapterRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callstream_adapter_requests_total",
		Help: "Consumer-originated adapter requests by type and outcome",
	}, []string{"type", "outcome"})
	RegistryReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callstream_registry_reloads_total",
		Help: "Role registry reload attempts by outcome",
	}, []string{"outcome"})
)

// Histograms
var (
	TransactionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "callstream_transaction_duration_ms",
		Help:    "Transaction duration in milliseconds by kind",
		Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"kind"})
)
