package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"quant-backtest/services/engine"
)

var t0 = time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)

func ledger() []engine.TradeResult {
	return []engine.TradeResult{
		{EntryTime: t0, ExitTime: t0.Add(3 * time.Minute), EntryPrice: 100, ExitPrice: 104, Side: engine.SideBuy,
			StopPrice: 98, TargetPrice: 104, PnL: 4, RMultiple: 2, BarsHeld: 3, ExitReason: engine.ExitTarget, Strategy: "ORB_15"},
		{EntryTime: t0.Add(time.Hour), ExitTime: t0.Add(2 * time.Hour), EntryPrice: 100, ExitPrice: 101, Side: engine.SideSell,
			StopPrice: 101, TargetPrice: 97, PnL: -1, RMultiple: -1, BarsHeld: 60, ExitReason: engine.ExitStop, Strategy: "VRB"},
	}
}

func TestTradesCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTradesCSV(&buf, ledger()); err != nil {
		t.Fatal(err)
	}
	header := strings.SplitN(buf.String(), "\n", 2)[0]
	if header != "entry_time,exit_time,entry_price,exit_price,side,stop_price,target_price,pnl,r_multiple,bars_held,exit_reason,strategy" {
		t.Fatalf("header = %q", header)
	}
	got, err := ReadTradesCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}
	want := ledger()
	if len(got) != 2 || !got[0].EntryTime.Equal(want[0].EntryTime) || got[1].Side != engine.SideSell || got[1].ExitReason != engine.ExitStop {
		t.Fatalf("got %+v", got)
	}
}

func TestEquityCSV(t *testing.T) {
	var buf bytes.Buffer
	curve := engine.BuildEquityCurve(ledger(), 1000)
	if err := WriteEquityCSV(&buf, curve); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || lines[0] != "timestamp,equity" || lines[2] != "2024-06-03T15:30:00Z,1003" {
		t.Fatalf("csv = %q", lines)
	}
}

func TestMetricsMap(t *testing.T) {
	m := MetricsMap(engine.BacktestMetrics{Sharpe: 1.5, CVaR95: -2})
	if len(m) != 9 || m["sharpe"] != 1.5 || m["cvar_95"] != -2 {
		t.Fatalf("map = %v", m)
	}
	names := MetricNames()
	if len(names) != 9 || names[0] != "cagr" || names[8] != "cvar_95" {
		t.Fatalf("names = %v", names)
	}
}

func TestSummary(t *testing.T) {
	r := engine.BuildReport(engine.DefaultRunConfig(), ledger(), nil)
	s := NewSummary("SPY", r, 100_000)
	if s.Trades != 2 || s.Wins != 1 || s.FinalEquity != 100_003 {
		t.Fatalf("summary = %+v", s)
	}
	if s.ExitReasons["target"] != 1 || s.ExitReasons["stop"] != 1 {
		t.Fatalf("exit reasons = %v", s.ExitReasons)
	}
	if len(s.Strategies) != 2 || s.Strategies[0] != "ORB_15" {
		t.Fatalf("strategies = %v", s.Strategies)
	}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, s); err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatal(err)
	}
	if back["instrument"] != "SPY" {
		t.Fatalf("json = %s", buf.String())
	}
}
