package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SignalSource produces a time-ordered signal sequence for one instrument.
// Strategy implementations live outside the engine.
type SignalSource interface {
	GenerateSignals(bars []Bar, instrument string) ([]Signal, error)
}

// Enricher attaches indicator columns to bars that lack them.
type Enricher interface {
	Enrich(bars []Bar) ([]Bar, error)
	Ready(bars []Bar) bool
}

// EventBacktester runs enrichment, signal generation and the event simulator.
type EventBacktester struct {
	cfg      RunConfig
	source   SignalSource
	enricher Enricher
	log      *zap.Logger
}

// NewEventBacktester wires a run. enricher may be nil when bars arrive enriched.
func NewEventBacktester(cfg RunConfig, source SignalSource, enricher Enricher, logger *zap.Logger) *EventBacktester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBacktester{cfg: cfg, source: source, enricher: enricher, log: logger}
}

func (b *EventBacktester) Run(bars []Bar, instrument string) (*Report, error) {
	start := time.Now()
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return BuildReport(b.cfg, nil, nil), nil
	}
	bars, err := enrich(b.enricher, bars)
	if err != nil {
		return nil, err
	}

	var signals []Signal
	if b.source != nil {
		signals, err = b.source.GenerateSignals(bars, instrument)
		if err != nil {
			return nil, fmt.Errorf("generate signals for %s: %w", instrument, err)
		}
	}

	report, err := b.RunSignals(bars, signals)
	if err != nil {
		return nil, err
	}
	b.log.Info("event backtest completed",
		zap.String("instrument", instrument),
		zap.Int("bars", len(bars)),
		zap.Int("signals", len(signals)),
		zap.Int("trades", len(report.Trades)),
		zap.Float64("sharpe", report.Metrics.Sharpe),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

// RunSignals simulates an already generated signal sequence.
func (b *EventBacktester) RunSignals(bars []Bar, signals []Signal) (*Report, error) {
	trades, events, err := NewSimulator(b.cfg, b.log).Simulate(bars, signals)
	if err != nil {
		return nil, err
	}
	return BuildReport(b.cfg, trades, events), nil
}

// VectorBacktester evaluates labelled bars through the vectorized path.
type VectorBacktester struct {
	cfg      RunConfig
	enricher Enricher
	log      *zap.Logger
}

func NewVectorBacktester(cfg RunConfig, enricher Enricher, logger *zap.Logger) *VectorBacktester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorBacktester{cfg: cfg, enricher: enricher, log: logger}
}

func (b *VectorBacktester) Run(bars []Bar) (*Report, error) {
	start := time.Now()
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return BuildReport(b.cfg, nil, nil), nil
	}
	bars, err := enrich(b.enricher, bars)
	if err != nil {
		return nil, err
	}
	trades, err := NewVectorizedEvaluator(b.cfg, b.log).Evaluate(bars)
	if err != nil {
		return nil, err
	}
	report := BuildReport(b.cfg, trades, nil)
	b.log.Info("vector backtest completed",
		zap.Int("bars", len(bars)),
		zap.Int("trades", len(report.Trades)),
		zap.Float64("sharpe", report.Metrics.Sharpe),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

func enrich(e Enricher, bars []Bar) ([]Bar, error) {
	if e == nil || e.Ready(bars) {
		return bars, nil
	}
	out, err := e.Enrich(bars)
	if err != nil {
		return nil, fmt.Errorf("enrich bars: %w", err)
	}
	return out, nil
}

// BuildReport derives the equity curve, metrics and per-strategy breakdown
// from a ledger.
func BuildReport(cfg RunConfig, trades []TradeResult, events *EventLog) *Report {
	if trades == nil {
		trades = []TradeResult{}
	}
	curve := BuildEquityCurve(trades, cfg.InitialEquity)
	report := &Report{
		Trades:      trades,
		EquityCurve: curve,
		Metrics:     ComputeMetrics(trades, curve, cfg.InitialEquity),
		ByStrategy:  map[string]BacktestMetrics{},
	}
	if events != nil {
		report.Events = events.Events
	}

	grouped := map[string][]TradeResult{}
	for _, t := range trades {
		grouped[t.Strategy] = append(grouped[t.Strategy], t)
	}
	for name, ts := range grouped {
		report.ByStrategy[name] = ComputeMetrics(ts, BuildEquityCurve(ts, cfg.InitialEquity), cfg.InitialEquity)
	}
	return report
}
