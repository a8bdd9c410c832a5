package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the live loop's operational counters.
type Metrics struct {
	CyclesTotal     prometheus.Counter
	SignalsTotal    *prometheus.CounterVec
	TradesTotal     *prometheus.CounterVec
	BrokerRetries   prometheus.Counter
	RiskHalts       prometheus.Counter
	UnhedgedAlerts  prometheus.Counter
	ConsecutiveFail prometheus.Gauge
	Equity          prometheus.Gauge
	Leverage        prometheus.Gauge
}

// NewMetrics registers the metric set on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_cycles_total",
			Help: "Evaluation cycles executed.",
		}),
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals emitted, by action.",
		}, []string{"action"}),
		TradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Broker trades submitted, by outcome.",
		}, []string{"outcome"}),
		BrokerRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_broker_retries_total",
			Help: "Transient broker errors retried.",
		}),
		RiskHalts: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_risk_halts_total",
			Help: "Cycles halted by a risk limit.",
		}),
		UnhedgedAlerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_unhedged_alerts_total",
			Help: "Second-leg failures leaving an unhedged position.",
		}),
		ConsecutiveFail: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_consecutive_failures",
			Help: "Current consecutive broker failure count.",
		}),
		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_equity",
			Help: "Current account equity.",
		}),
		Leverage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_leverage",
			Help: "Current portfolio gross leverage.",
		}),
	}
}
