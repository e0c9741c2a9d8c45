package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus metrics.
type Metrics struct {
	// Apply loop
	EventsApplied  *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec
	ApplySequence  prometheus.Gauge

	// Oracle guard rails
	OracleRejected *prometheus.CounterVec

	// Funding
	FundingEpochsSettled    *prometheus.CounterVec
	FundingPositionsSettled *prometheus.CounterVec
	FundingTotalPaid        *prometheus.CounterVec
	FundingTotalReceived    *prometheus.CounterVec
	FundingRoundingResidual *prometheus.GaugeVec

	// Liquidation
	LiquidationsTriggered *prometheus.CounterVec
	LiquidationFills      *prometheus.CounterVec
	BankruptciesResolved  *prometheus.CounterVec
	SocialLossTotal       *prometheus.GaugeVec
	InsuranceVaultBalance prometheus.Gauge

	// History sink
	HistoryRecordsWritten prometheus.Counter
	HistoryWriteErrors    prometheus.Counter

	// Outbound publisher
	OutboundEnvelopes prometheus.Counter
	OutboundDropped   prometheus.Counter

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers every metric on the default registry.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_events_applied_total",
			Help: "Snapshot events successfully applied by the risk loop",
		}, []string{"event_type"}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_events_rejected_total",
			Help: "Snapshot events rejected (parse, validation, ordering)",
		}, []string{"event_type", "reason"}),

		EventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "risk_event_apply_duration_seconds",
			Help:    "Time to apply a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		ApplySequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "risk_apply_sequence",
			Help: "Last applied input sequence",
		}),

		OracleRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_oracle_rejected_total",
			Help: "Oracle snapshots failing guard-rail validation",
		}, []string{"market_index", "reason"}),

		FundingEpochsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_funding_epochs_settled_total",
			Help: "Market-wide funding settlements run",
		}, []string{"market_index"}),

		FundingPositionsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_funding_positions_settled_total",
			Help: "Positions touched by funding settlement",
		}, []string{"market_index"}),

		FundingTotalPaid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_funding_paid_total",
			Help: "Quote paid by positions through funding, display units",
		}, []string{"market_index"}),

		FundingTotalReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_funding_received_total",
			Help: "Quote received by positions through funding, display units",
		}, []string{"market_index"}),

		FundingRoundingResidual: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "risk_funding_rounding_residual",
			Help: "Truncation residual posted to the fee pool per settlement",
		}, []string{"market_index"}),

		LiquidationsTriggered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_liquidations_triggered_total",
			Help: "Accounts flagged BeingLiquidated",
		}, []string{"market_index"}),

		LiquidationFills: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_liquidation_fills_total",
			Help: "Forced fills executed by the liquidation engine",
		}, []string{"market_index"}),

		BankruptciesResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_bankruptcies_resolved_total",
			Help: "Perp bankruptcies resolved through the waterfall",
		}, []string{"market_index"}),

		SocialLossTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "risk_social_loss_total",
			Help: "Cumulative socialized loss per market, quote units",
		}, []string{"market_index"}),

		InsuranceVaultBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "risk_insurance_vault_balance",
			Help: "Insurance vault balance, quote units",
		}),

		HistoryRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_history_records_written_total",
			Help: "Records persisted to the history store",
		}),

		HistoryWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_history_write_errors_total",
			Help: "Failed history store writes",
		}),

		OutboundEnvelopes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_outbound_envelopes_total",
			Help: "Record envelopes queued for outbound publishing",
		}),

		OutboundDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_outbound_dropped_total",
			Help: "Record envelopes dropped because the outbound queue was full",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint", "code"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "risk_query_duration_seconds",
			Help:    "Query API request latency",
			Buckets: latencyBuckets,
		}, []string{"endpoint"}),
	}
}
