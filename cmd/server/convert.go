package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	pb "quant-backtest/proto"
	"quant-backtest/services/engine"
	"quant-backtest/services/runner"
)

func decimalString(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func parseDecimal(field, v string) (float64, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d.InexactFloat64(), nil
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toBars(in []*pb.Bar) ([]engine.Bar, error) {
	out := make([]engine.Bar, len(in))
	for i, b := range in {
		if b == nil {
			return nil, fmt.Errorf("bar %d: missing", i)
		}
		bar := engine.Bar{Timestamp: fromMillis(b.Timestamp), Indicators: b.Indicators}
		for _, f := range []struct {
			name string
			raw  string
			dst  *float64
		}{
			{"open", b.Open, &bar.Open},
			{"high", b.High, &bar.High},
			{"low", b.Low, &bar.Low},
			{"close", b.Close, &bar.Close},
			{"volume", b.Volume, &bar.Volume},
		} {
			if f.raw == "" && f.name == "volume" {
				continue
			}
			v, err := parseDecimal(f.name, f.raw)
			if err != nil {
				return nil, fmt.Errorf("bar %d: %w", i, err)
			}
			*f.dst = v
		}
		out[i] = bar
	}
	return out, nil
}

func toSide(s pb.TradeSide) engine.Side {
	switch s {
	case pb.TradeSide_BUY:
		return engine.SideBuy
	case pb.TradeSide_SELL:
		return engine.SideSell
	}
	return 0
}

func fromSide(s engine.Side) pb.TradeSide {
	switch s {
	case engine.SideBuy:
		return pb.TradeSide_BUY
	case engine.SideSell:
		return pb.TradeSide_SELL
	}
	return pb.TradeSide_UNSPECIFIED
}

// toSignals groups request signals by instrument.
func toSignals(in []*pb.Signal) (map[string][]engine.Signal, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string][]engine.Signal)
	for i, s := range in {
		if s == nil {
			return nil, fmt.Errorf("signal %d: missing", i)
		}
		sig := engine.Signal{
			Timestamp:  fromMillis(s.Timestamp),
			Instrument: s.Instrument,
			Strategy:   s.Strategy,
			Side:       toSide(s.Side),
		}
		for _, f := range []struct {
			name string
			raw  string
			dst  *float64
		}{
			{"entry", s.Entry, &sig.Entry},
			{"stop", s.Stop, &sig.Stop},
			{"target", s.Target, &sig.Target},
			{"score", s.Score, &sig.Score},
		} {
			if f.raw == "" && f.name == "score" {
				continue
			}
			v, err := parseDecimal(f.name, f.raw)
			if err != nil {
				return nil, fmt.Errorf("signal %d: %w", i, err)
			}
			*f.dst = v
		}
		out[s.Instrument] = append(out[s.Instrument], sig)
	}
	return out, nil
}

func applyRunConfig(cfg engine.RunConfig, in *pb.RunConfig) (engine.RunConfig, error) {
	if in == nil {
		return cfg, nil
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"initial_equity", in.InitialEquity, &cfg.InitialEquity},
		{"slippage_bps", in.SlippageBps, &cfg.SlippageBps},
		{"commission_per_trade", in.CommissionPerTrade, &cfg.CommissionPerTrade},
	} {
		if f.raw == "" {
			continue
		}
		v, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return cfg, err
		}
		*f.dst = v
	}
	if in.Horizon > 0 {
		cfg.Horizon = int(in.Horizon)
	}
	return cfg, nil
}

func fromMetrics(m engine.BacktestMetrics) *pb.Metrics {
	return &pb.Metrics{
		Cagr:        decimalString(m.CAGR),
		Sharpe:      decimalString(m.Sharpe),
		Mar:         decimalString(m.MAR),
		MaxDrawdown: decimalString(m.MaxDrawdown),
		WinRate:     decimalString(m.WinRate),
		Payoff:      decimalString(m.Payoff),
		Expectancy:  decimalString(m.Expectancy),
		Exposure:    decimalString(m.Exposure),
		Cvar_95:     decimalString(m.CVaR95),
	}
}

func fromResult(res runner.Result) *pb.SymbolResult {
	out := &pb.SymbolResult{Symbol: res.Instrument}
	r := res.Report
	if r == nil {
		return out
	}
	out.Trades = make([]*pb.ExecutedTrade, len(r.Trades))
	for i, t := range r.Trades {
		out.Trades[i] = &pb.ExecutedTrade{
			EntryTime:   t.EntryTime.UnixMilli(),
			ExitTime:    t.ExitTime.UnixMilli(),
			Side:        fromSide(t.Side),
			EntryPrice:  decimalString(t.EntryPrice),
			ExitPrice:   decimalString(t.ExitPrice),
			StopPrice:   decimalString(t.StopPrice),
			TargetPrice: decimalString(t.TargetPrice),
			Pnl:         decimalString(t.PnL),
			RMultiple:   decimalString(t.RMultiple),
			BarsHeld:    int32(t.BarsHeld),
			ExitReason:  t.ExitReason.String(),
			Strategy:    t.Strategy,
		}
	}
	out.EquityCurve = make([]*pb.EquityPoint, len(r.EquityCurve))
	for i, p := range r.EquityCurve {
		out.EquityCurve[i] = &pb.EquityPoint{Timestamp: p.Timestamp.UnixMilli(), Equity: decimalString(p.Equity)}
	}
	out.Metrics = fromMetrics(r.Metrics)
	out.ByStrategy = make(map[string]*pb.Metrics, len(r.ByStrategy))
	for name, m := range r.ByStrategy {
		out.ByStrategy[name] = fromMetrics(m)
	}
	return out
}

func fromManifest(m engine.RunManifest) *pb.RunManifest {
	return &pb.RunManifest{
		JobId:         m.JobID,
		Mode:          string(m.Mode),
		Instruments:   m.Instruments,
		ConfigHash:    m.ConfigHash,
		EngineVersion: m.EngineVersion,
		CreatedAt:     m.CreatedAt.UnixMilli(),
	}
}
