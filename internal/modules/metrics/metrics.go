package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics — счётчики торгового цикла. Все методы переживают nil-приёмник,
// чтобы бот работал и без собранного registry (dry-run, тесты).
type Metrics struct {
	ticks           *prometheus.CounterVec
	ordersCreated   *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	tradesFinished  *prometheus.CounterVec
	cumPnl          *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Main loop ticks per symbol.",
		}, []string{"symbol"}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_created_total",
			Help: "Orders created, by symbol and kind.",
		}, []string{"symbol", "kind"}),
		ordersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_cancelled_total",
			Help: "Orders cancelled, by symbol.",
		}, []string{"symbol"}),
		tradesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_finished_total",
			Help: "Completed trades, by symbol and outcome.",
		}, []string{"symbol", "outcome"}),
		cumPnl: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_cumulative_pnl",
			Help: "Cumulative realized pnl since start, by symbol.",
		}, []string{"symbol"}),
	}
	reg.MustRegister(m.ticks, m.ordersCreated, m.ordersCancelled, m.tradesFinished, m.cumPnl)
	return m
}

func (m *Metrics) IncTick(symbol string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(symbol).Inc()
}

func (m *Metrics) IncOrderCreated(symbol, kind string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(symbol, kind).Inc()
}

func (m *Metrics) IncOrderCancelled(symbol string) {
	if m == nil {
		return
	}
	m.ordersCancelled.WithLabelValues(symbol).Inc()
}

func (m *Metrics) TradeFinished(symbol string, rPnl float64) {
	if m == nil {
		return
	}
	outcome := "profit"
	if rPnl <= 0 {
		outcome = "loss"
	}
	m.tradesFinished.WithLabelValues(symbol, outcome).Inc()
}

func (m *Metrics) SetCumPnl(symbol string, v float64) {
	if m == nil {
		return
	}
	m.cumPnl.WithLabelValues(symbol).Set(v)
}

// Module регистрирует коллекторы в общем registry.
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(
			func() *prometheus.Registry { return prometheus.NewRegistry() },
			func(reg *prometheus.Registry) prometheus.Registerer { return reg },
			New,
		),
	)
}
