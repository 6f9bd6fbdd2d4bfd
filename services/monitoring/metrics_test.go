package monitoring

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"quant-backtest/services/engine"
)

func TestObserve(t *testing.T) {
	m := New()
	r := &engine.Report{
		Trades:  make([]engine.TradeResult, 3),
		Metrics: engine.BacktestMetrics{Sharpe: 1.7, WinRate: 0.5},
	}
	m.Observe(engine.ModeEvent, "SPY", 20*time.Millisecond, r, nil)
	m.Observe(engine.ModeEvent, "QQQ", time.Millisecond, nil, errors.New("boom"))

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("event", StatusOK)); got != 1 {
		t.Fatalf("ok runs = %v", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("event", StatusError)); got != 1 {
		t.Fatalf("error runs = %v", got)
	}
	if got := testutil.ToFloat64(m.TradesTotal.WithLabelValues("event")); got != 3 {
		t.Fatalf("trades = %v", got)
	}
	if got := testutil.ToFloat64(m.LastMetric.WithLabelValues("SPY", "sharpe")); got != 1.7 {
		t.Fatalf("sharpe gauge = %v", got)
	}
	if n := testutil.CollectAndCount(m.LastMetric); n != 9 {
		t.Fatalf("gauge series = %d", n)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Observe(engine.ModeVector, "SPY", time.Second, &engine.Report{}, nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `backtest_runs_total{mode="vector",status="ok"} 1`) {
		t.Fatalf("exposition:\n%s", rec.Body.String())
	}
}
