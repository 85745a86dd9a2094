// Package metrics exports engine events to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scalper-backend/internal/domain"
)

const namespace = "scalper"

// Recorder implements usecase.Metrics.
type Recorder struct {
	gatherer prometheus.Gatherer

	signals        *prometheus.CounterVec
	opened         *prometheus.CounterVec
	closed         *prometheus.CounterVec
	realizedPnL    prometheus.Gauge
	openPositions  prometheus.Gauge
	orderTriggers  *prometheus.CounterVec
	gridFills      *prometheus.CounterVec
	dcaExecutions  *prometheus.CounterVec
	loopErrors     *prometheus.CounterVec
	exchangeCalls  *prometheus.HistogramVec
	backtestTiming prometheus.Histogram
}

// New registers the collectors on a fresh registry along with the Go and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: gatherer,
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Entry signals generated",
		}, []string{"pair", "side"}),
		opened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_opened_total",
			Help:      "Positions opened",
		}, []string{"pair", "side"}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_closed_total",
			Help:      "Positions closed by reason",
		}, []string{"pair", "reason"}),
		realizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Cumulative realized P&L in quote currency",
		}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Currently open positions",
		}),
		orderTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_triggers_total",
			Help:      "Advanced order triggers by type and outcome",
		}, []string{"type", "outcome"}),
		gridFills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_fills_total",
			Help:      "Grid level fills",
		}, []string{"pair", "side"}),
		dcaExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dca_executions_total",
			Help:      "DCA purchases and sales",
		}, []string{"pair", "side"}),
		loopErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_errors_total",
			Help:      "Failed loop iterations",
		}, []string{"loop"}),
		exchangeCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_call_duration_seconds",
			Help:      "Exchange call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		backtestTiming: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backtest_duration_seconds",
			Help:      "Backtest execution time",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 20, 30, 50},
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) SignalGenerated(pair string, side domain.SignalType) {
	r.signals.WithLabelValues(pair, string(side)).Inc()
}

func (r *Recorder) PositionOpened(pair string, side domain.SignalType) {
	r.opened.WithLabelValues(pair, string(side)).Inc()
}

func (r *Recorder) PositionClosed(pair string, reason domain.CloseReason, pnl float64) {
	r.closed.WithLabelValues(pair, string(reason)).Inc()
	r.realizedPnL.Add(pnl)
}

func (r *Recorder) SetOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}

func (r *Recorder) OrderTriggered(orderType domain.OrderType, outcome string) {
	r.orderTriggers.WithLabelValues(string(orderType), outcome).Inc()
}

func (r *Recorder) GridFill(pair string, side domain.OrderSide) {
	r.gridFills.WithLabelValues(pair, string(side)).Inc()
}

func (r *Recorder) DCAExecuted(pair string, side domain.OrderSide) {
	r.dcaExecutions.WithLabelValues(pair, string(side)).Inc()
}

func (r *Recorder) LoopError(loop string) {
	r.loopErrors.WithLabelValues(loop).Inc()
}

func (r *Recorder) ObserveExchange(op string, d time.Duration) {
	r.exchangeCalls.WithLabelValues(op).Observe(d.Seconds())
}

func (r *Recorder) ObserveBacktest(d time.Duration) {
	r.backtestTiming.Observe(d.Seconds())
}
