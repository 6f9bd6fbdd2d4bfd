package engine

import (
	"math"
	"testing"
	"time"
)

func ledger(pnls ...float64) []TradeResult {
	out := make([]TradeResult, len(pnls))
	for i, p := range pnls {
		out[i] = TradeResult{
			EntryTime: t0.Add(time.Duration(i) * 24 * time.Hour),
			ExitTime:  t0.Add(time.Duration(i)*24*time.Hour + 30*time.Minute),
			PnL:       p,
			RMultiple: p / 2,
			BarsHeld:  30,
		}
	}
	return out
}

func TestZeroTradeMetrics(t *testing.T) {
	if m := ComputeMetrics(nil, nil, 100_000); m != (BacktestMetrics{}) {
		t.Fatalf("expected all zero metrics, got %+v", m)
	}
}

func TestCVaRWorstTail(t *testing.T) {
	r := []float64{-3, -2, -1, 0, 1, 2, 3, 4, 5, 6}
	if got := cvar(r); got != -3 {
		t.Fatalf("cvar = %v, want -3", got)
	}
	trades := make([]TradeResult, len(r))
	for i, v := range r {
		trades[i] = TradeResult{EntryTime: minute(i), ExitTime: minute(i + 1), RMultiple: v, PnL: v, BarsHeld: 1}
	}
	m := ComputeMetrics(trades, BuildEquityCurve(trades, 1000), 1000)
	if m.CVaR95 != -3 {
		t.Fatalf("metrics cvar = %v", m.CVaR95)
	}
}

func TestCVaRLargeSample(t *testing.T) {
	r := make([]float64, 50) // cutoff round(2.5) = 2
	for i := range r {
		r[i] = float64(i)
	}
	if got := cvar(r); got != 0.5 {
		t.Fatalf("cvar = %v, want 0.5", got)
	}
}

func TestEquityCurveConsistency(t *testing.T) {
	trades := ledger(10, -5, 7.5, -2.5, 3)
	curve := BuildEquityCurve(trades, 1000)
	if len(curve) != len(trades) {
		t.Fatalf("curve length %d, ledger %d", len(curve), len(trades))
	}
	sum := 0.0
	for i, p := range curve {
		sum += trades[i].PnL
		if !approx(p.Equity, 1000+sum) || !p.Timestamp.Equal(trades[i].ExitTime) {
			t.Fatalf("point %d = %+v, want equity %v", i, p, 1000+sum)
		}
	}
}

func TestComputeMetricsKnownLedger(t *testing.T) {
	trades := ledger(100, -50, 100, -50)
	curve := BuildEquityCurve(trades, 1000)
	m := ComputeMetrics(trades, curve, 1000)

	if m.WinRate != 0.5 {
		t.Errorf("win rate = %v", m.WinRate)
	}
	if !approx(m.Payoff, 2) {
		t.Errorf("payoff = %v", m.Payoff)
	}
	if !approx(m.Expectancy, 25) {
		t.Errorf("expectancy = %v", m.Expectancy)
	}
	// peak 1100, trough 1050
	if !approx(m.MaxDrawdown, -50.0/1100) {
		t.Errorf("max drawdown = %v", m.MaxDrawdown)
	}
	// returns: 0.1, -0.05, 0.1, -0.05 -> mean 0.025, pop std 0.075
	wantSharpe := 0.025 / (0.075 + 1e-9) * 2
	if !approx(m.Sharpe, wantSharpe) {
		t.Errorf("sharpe = %v, want %v", m.Sharpe, wantSharpe)
	}
	if !approx(m.MAR, m.CAGR/(50.0/1100)) {
		t.Errorf("mar = %v", m.MAR)
	}
	// span is 3 days 30 minutes, exposure = 120 / 4350
	if !approx(m.Exposure, 120.0/4350) {
		t.Errorf("exposure = %v", m.Exposure)
	}
	wantCAGR := math.Pow(1.1, 365.25/3) - 1
	if math.Abs(m.CAGR-wantCAGR)/wantCAGR > 1e-9 {
		t.Errorf("cagr = %v, want %v", m.CAGR, wantCAGR)
	}
}

func TestPayoffWithoutLosses(t *testing.T) {
	m := ComputeMetrics(ledger(10, 20), nil, 1000)
	if m.Payoff != 15 {
		t.Fatalf("payoff = %v, want mean win", m.Payoff)
	}
	if m.MAR != 0 {
		t.Fatalf("mar = %v, want 0 without drawdown", m.MAR)
	}
}

func TestPayoffWithoutWins(t *testing.T) {
	m := ComputeMetrics(ledger(-10, 0), nil, 1000)
	if m.Payoff != 0 || m.WinRate != 0 {
		t.Fatalf("payoff=%v win rate=%v", m.Payoff, m.WinRate)
	}
}

func TestWipeoutCAGR(t *testing.T) {
	trades := ledger(-1500)
	m := ComputeMetrics(trades, BuildEquityCurve(trades, 1000), 1000)
	if m.CAGR != -1 {
		t.Fatalf("cagr = %v, want -1", m.CAGR)
	}
}

func TestMetricsAlwaysFinite(t *testing.T) {
	// single trade inside one minute: years floor, huge exponent
	trades := []TradeResult{{EntryTime: t0, ExitTime: t0, PnL: 500, RMultiple: 1, BarsHeld: 1}}
	m := ComputeMetrics(trades, BuildEquityCurve(trades, 1000), 1000)
	for name, v := range map[string]float64{
		"cagr": m.CAGR, "sharpe": m.Sharpe, "mar": m.MAR, "max_drawdown": m.MaxDrawdown,
		"payoff": m.Payoff, "exposure": m.Exposure, "cvar_95": m.CVaR95,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("%s not finite: %v", name, v)
		}
	}
	if m.Exposure != 1 {
		t.Errorf("exposure = %v, want clamp to 1", m.Exposure)
	}
}
