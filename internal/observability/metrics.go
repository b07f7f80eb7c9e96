package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the exchange.
type Metrics struct {
	// --- Engine ---
	EngineCommandsApplied  *prometheus.CounterVec
	EngineCommandsRejected *prometheus.CounterVec
	EngineCommandDuration  *prometheus.HistogramVec
	EngineSequence         prometheus.Gauge
	EngineBlock            prometheus.Gauge

	// --- Channels & backpressure ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	ProjectionDrops prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Markets ---
	SpotPrice            *prometheus.GaugeVec
	OpenInterestNotional *prometheus.GaugeVec
	InsuranceFundBalance *prometheus.GaugeVec
	FundingSettled       *prometheus.CounterVec
	FundingRate          *prometheus.GaugeVec
	ReserveAdjustments   *prometheus.CounterVec
	LiquidationsTotal    *prometheus.CounterVec

	// --- Oracle ---
	OracleUpdates   *prometheus.CounterVec
	OracleStaleness *prometheus.GaugeVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDuration   prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Outbound publishing ---
	EventsPublished *prometheus.CounterVec
	NATSReconnects  prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registry. Call once per process.
func NewMetrics() *Metrics {
	applyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	ioBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}

	return &Metrics{
		EngineCommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_engine_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command"}),

		EngineCommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_engine_commands_rejected_total",
			Help: "Commands rejected by the engine",
		}, []string{"command"}),

		EngineCommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_engine_command_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: applyBuckets,
		}, []string{"command"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_engine_sequence",
			Help: "Next event sequence to assign",
		}),

		EngineBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_engine_block",
			Help: "Current logical block number",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_projection_drops_total",
			Help: "Outputs dropped on the projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Events dropped by the outbound publisher",
		}),

		SpotPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_spot_price",
			Help: "Current amm spot price per market",
		}, []string{"market"}),

		OpenInterestNotional: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_open_interest_notional",
			Help: "Open interest notional per market",
		}, []string{"market"}),

		InsuranceFundBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_insurance_fund_balance",
			Help: "Insurance fund budget per market",
		}, []string{"market"}),

		FundingSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_settled_total",
			Help: "Funding settlements per market",
		}, []string{"market"}),

		FundingRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_rate",
			Help: "Latest funding rate per market",
		}, []string{"market"}),

		ReserveAdjustments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_reserve_adjustments_total",
			Help: "Formulaic repeg and K adjustments per market",
		}, []string{"market"}),

		LiquidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liquidations_total",
			Help: "Liquidations per market and outcome",
		}, []string{"market", "outcome"}),

		OracleUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_oracle_updates_total",
			Help: "Oracle price updates per market",
		}, []string{"market"}),

		OracleStaleness: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_oracle_staleness_seconds",
			Help: "Seconds since the last oracle update",
		}, []string{"market"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_events_written_total",
			Help: "Event envelopes written to the log",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_journals_written_total",
			Help: "Balance journal entries written",
		}),

		PersistBatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_duration_seconds",
			Help:    "Time to write one output batch",
			Buckets: ioBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Persistence failures by operation",
		}, []string{"op"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_retries_total",
			Help: "Persistence write retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_persist_last_sequence",
			Help: "Last sequence durably written",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_events_published_total",
			Help: "Events published to NATS by type",
		}, []string{"event_type"}),

		NATSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_nats_reconnects_total",
			Help: "NATS reconnect events",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_http_requests_total",
			Help: "HTTP API requests by route and status",
		}, []string{"route", "code"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_http_request_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: ioBuckets,
		}, []string{"route"}),
	}
}
