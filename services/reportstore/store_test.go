package reportstore

import (
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"quant-backtest/services/engine"
)

func TestMetricsValuer(t *testing.T) {
	v, err := Metrics{"sharpe": 1.25}.Value()
	if err != nil {
		t.Fatal(err)
	}
	var back Metrics
	if err := back.Scan(v); err != nil {
		t.Fatal(err)
	}
	if back["sharpe"] != 1.25 {
		t.Fatalf("scan = %v", back)
	}
	if err := back.Scan(`{"mar":2}`); err != nil || back["mar"] != 2 {
		t.Fatalf("string scan = %v %v", back, err)
	}
	if err := back.Scan(42); err == nil {
		t.Fatal("expected error for int source")
	}
}

func TestNewRunRecord(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	trades := []engine.TradeResult{
		{EntryTime: t0, ExitTime: t0.Add(time.Minute), PnL: 5, Strategy: "VRB", ExitReason: engine.ExitTarget, Side: engine.SideBuy},
	}
	cfg := engine.DefaultRunConfig()
	m := engine.NewRunManifest(cfg, engine.ModeEvent, []string{"SPY"})
	rec := NewRunRecord(m, "SPY", engine.BuildReport(cfg, trades, nil))

	if rec.ID != m.JobID+":SPY" || rec.Mode != "event" || rec.ConfigHash != cfg.Hash() {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Trades != 1 || rec.FinalEquity != cfg.InitialEquity+5 || len(rec.Strategies) != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if _, ok := rec.Metrics["win_rate"]; !ok {
		t.Fatalf("metrics = %v", rec.Metrics)
	}
}

func TestNamedUpsertBinds(t *testing.T) {
	query, args, err := sqlx.Named(upsertRun, RunRecord{ID: "a", Metrics: Metrics{}})
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 11 || strings.Contains(query, ":id") {
		t.Fatalf("query=%s args=%d", query, len(args))
	}
	if got := sqlx.Rebind(sqlx.DOLLAR, query); !strings.Contains(got, "$11") {
		t.Fatalf("rebind = %s", got)
	}
}

func TestListQuery(t *testing.T) {
	q, args := listQuery("", 10)
	if strings.Contains(q, "WHERE") || len(args) != 1 {
		t.Fatalf("q=%s args=%v", q, args)
	}
	q, args = listQuery("SPY", 5)
	if !strings.Contains(q, "instrument = ?") || len(args) != 2 || args[0] != "SPY" {
		t.Fatalf("q=%s args=%v", q, args)
	}
}
