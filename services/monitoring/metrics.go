package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quant-backtest/services/engine"
	"quant-backtest/services/report"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the backtest collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	TradesTotal *prometheus.CounterVec
	LastMetric  *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_runs_total",
				Help: "Total number of instrument backtests run",
			},
			[]string{"mode", "status"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtest_run_duration_seconds",
				Help:    "Wall time of one instrument backtest",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"mode"},
		),
		TradesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_trades_total",
				Help: "Total number of simulated trades",
			},
			[]string{"mode"},
		),
		LastMetric: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "backtest_last_metric",
				Help: "Most recent report metric per instrument",
			},
			[]string{"instrument", "metric"},
		),
	}
}

// Observe records one finished instrument run. r may be nil when err is set.
func (m *Metrics) Observe(mode engine.Mode, instrument string, elapsed time.Duration, r *engine.Report, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.RunsTotal.WithLabelValues(string(mode), status).Inc()
	m.RunDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	if r == nil {
		return
	}
	m.TradesTotal.WithLabelValues(string(mode)).Add(float64(len(r.Trades)))
	for name, v := range report.MetricsMap(r.Metrics) {
		m.LastMetric.WithLabelValues(instrument, name).Set(v)
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
