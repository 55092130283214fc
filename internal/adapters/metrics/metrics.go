// Package metrics provides Prometheus instrumentation for the portfolio cycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const namespace = "kalshibot"

// Prometheus implements ports.Metrics.
type Prometheus struct {
	gatherer prometheus.Gatherer

	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	openPositions prometheus.Gauge
	exposure      prometheus.Gauge
	equity        prometheus.Gauge
	realized      prometheus.Gauge
	unrealized    prometheus.Gauge
	closedTrades  *prometheus.CounterVec
	exitsPlaced   prometheus.Counter
	reconcileSkip prometheus.Counter
	sourceErrors  *prometheus.CounterVec
	signals       *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Prometheus{
		gatherer: reg,
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Portfolio cycles completed",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one portfolio cycle",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions after the last cycle",
		}),
		exposure: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exposure_dollars",
			Help:      "Total exposure of open positions",
		}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity_dollars",
			Help:      "Base capital plus realized and unrealized PnL",
		}),
		realized: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl_dollars",
			Help:      "Session realized PnL",
		}),
		unrealized: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unrealized_pnl_dollars",
			Help:      "Unrealized PnL of open positions",
		}),
		closedTrades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closed_trades_total",
			Help:      "Closed trades by exit reason",
		}, []string{"reason"}),
		exitsPlaced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exits_placed_total",
			Help:      "Stop-loss and take-profit exit orders submitted",
		}),
		reconcileSkip: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_skipped_total",
			Help:      "Cycles where venue positions could not be fetched",
		}),
		sourceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Collaborator failures by source and kind",
		}, []string{"source", "kind"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Entry signals by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveCycle implements ports.Metrics.
func (p *Prometheus) ObserveCycle(r domain.CycleReport, took time.Duration) {
	p.cycles.Inc()
	p.cycleDuration.Observe(took.Seconds())
	p.openPositions.Set(float64(len(r.Marks)))
	p.exposure.Set(r.Exposure)
	p.equity.Set(r.Equity)
	p.realized.Set(r.Realized)
	p.unrealized.Set(r.Unrealized)
	for _, t := range r.Closed {
		p.closedTrades.WithLabelValues(string(t.Reason)).Inc()
	}
	p.exitsPlaced.Add(float64(r.ExitsPlaced))
	if r.ReconcileSkip {
		p.reconcileSkip.Inc()
	}
}

// SourceError implements ports.Metrics.
func (p *Prometheus) SourceError(source string, kind ports.ErrorKind) {
	p.sourceErrors.WithLabelValues(source, kind.String()).Inc()
}

// Signal implements ports.Metrics.
func (p *Prometheus) Signal(proposed, blocked int) {
	p.signals.WithLabelValues("proposed").Add(float64(proposed))
	p.signals.WithLabelValues("blocked").Add(float64(blocked))
}

// Handler returns the HTTP handler exposing the registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
