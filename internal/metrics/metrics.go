package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks the number of accrual sessions currently running
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "miner_active_sessions",
		Help: "The number of accrual sessions currently running",
	})

	// TicksTotal tracks accrual ticks applied
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miner_accrual_ticks_total",
		Help: "The total number of accrual ticks applied",
	})

	// SyncsTotal tracks remote sync attempts by result
	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_syncs_total",
			Help: "The total number of remote sync attempts",
		},
		[]string{"result"}, // synced, skipped, failed
	)

	// ReconciliationsTotal tracks reconciliation passes by winner
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_reconciliations_total",
			Help: "The total number of reconciliation passes",
		},
		[]string{"winner"}, // local, remote, equal
	)

	// OfflineGapsCredited tracks offline gap compensations
	OfflineGapsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miner_offline_gaps_credited_total",
		Help: "The total number of offline gaps credited on resume",
	})

	// DepositsTotal tracks deposit operations by outcome
	DepositsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_deposits_total",
			Help: "The total number of deposit operations",
		},
		[]string{"status"}, // confirmed, failed, cancelled, rejected
	)

	// WithdrawalsTotal tracks withdrawal operations by outcome
	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_withdrawals_total",
			Help: "The total number of withdrawal operations",
		},
		[]string{"status"},
	)

	// EventsDropped tracks realtime events rejected by validation
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_realtime_events_dropped_total",
			Help: "The total number of realtime events dropped by validation",
		},
		[]string{"reason"},
	)

	// SubscriptionReconnects tracks realtime channel reconnect attempts
	SubscriptionReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miner_realtime_reconnects_total",
		Help: "The total number of realtime subscription reconnects",
	})

	// AccrualHalts tracks accounts halted by the earnings ceiling
	AccrualHalts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miner_accrual_halts_total",
		Help: "The total number of accounts halted by the earnings ceiling",
	})

	// DepositDuration tracks end-to-end deposit operation time
	DepositDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "miner_deposit_duration_seconds",
		Help:    "Time taken to complete a deposit operation in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
	})

	// DatabaseOperations tracks database operations
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_database_operations_total",
			Help: "The total number of database operations",
		},
		[]string{"operation", "status"}, // read/write, success/failed
	)
)

// RecordSync records a sync attempt with the given result
func RecordSync(result string) {
	SyncsTotal.WithLabelValues(result).Inc()
}

// RecordReconciliation records a reconciliation pass with the winning side
func RecordReconciliation(winner string) {
	ReconciliationsTotal.WithLabelValues(winner).Inc()
}

// RecordDeposit records a completed deposit operation
func RecordDeposit(status string) {
	DepositsTotal.WithLabelValues(status).Inc()
}

// RecordWithdrawal records a completed withdrawal operation
func RecordWithdrawal(status string) {
	WithdrawalsTotal.WithLabelValues(status).Inc()
}

// RecordEventDropped records a realtime event rejected by validation
func RecordEventDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string) {
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}
