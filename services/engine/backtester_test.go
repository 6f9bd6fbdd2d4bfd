package engine

import (
	"errors"
	"testing"
)

type fixedSource struct{ signals []Signal }

func (f fixedSource) GenerateSignals(_ []Bar, instrument string) ([]Signal, error) {
	out := make([]Signal, len(f.signals))
	for i, s := range f.signals {
		s.Instrument = instrument
		out[i] = s
	}
	return out, nil
}

type failingSource struct{}

func (failingSource) GenerateSignals([]Bar, string) ([]Signal, error) {
	return nil, errors.New("boom")
}

type markEnricher struct{ calls int }

func (m *markEnricher) Ready(bars []Bar) bool {
	_, ok := bars[0].Indicator("mark")
	return ok
}

func (m *markEnricher) Enrich(bars []Bar) ([]Bar, error) {
	m.calls++
	out := make([]Bar, len(bars))
	for i, b := range bars {
		b.Indicators = map[string]float64{"mark": 1}
		out[i] = b
	}
	return out, nil
}

func TestEventBacktesterReport(t *testing.T) {
	src := fixedSource{signals: []Signal{
		{Timestamp: minute(0), Strategy: "A", Side: SideBuy, Entry: 100, Stop: 95, Target: 100.5},
		{Timestamp: minute(2), Strategy: "B", Side: SideSell, Entry: 100, Stop: 100.5, Target: 95},
	}}
	enr := &markEnricher{}
	bt := NewEventBacktester(zeroCostConfig(), src, enr, nil)

	report, err := bt.Run(flatBars(5, 100), "QQQ")
	if err != nil {
		t.Fatal(err)
	}
	if enr.calls != 1 {
		t.Fatalf("enricher called %d times", enr.calls)
	}
	if len(report.Trades) != 2 || len(report.EquityCurve) != 2 {
		t.Fatalf("trades=%d curve=%d", len(report.Trades), len(report.EquityCurve))
	}
	if _, ok := report.ByStrategy["A"]; !ok {
		t.Fatal("missing per-strategy metrics for A")
	}
	if len(report.ByStrategy) != 2 {
		t.Fatalf("by strategy = %v", report.ByStrategy)
	}
	if len(report.Events) != 4 || report.Events[0].Instrument != "QQQ" {
		t.Fatalf("unexpected events %+v", report.Events)
	}
}

func TestEventBacktesterEmpty(t *testing.T) {
	report, err := NewEventBacktester(DefaultRunConfig(), fixedSource{}, nil, nil).Run(nil, "X")
	if err != nil {
		t.Fatal(err)
	}
	if report.Trades == nil || len(report.Trades) != 0 || report.Metrics != (BacktestMetrics{}) {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestEventBacktesterSourceError(t *testing.T) {
	_, err := NewEventBacktester(DefaultRunConfig(), failingSource{}, nil, nil).Run(flatBars(2, 1), "X")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestVectorBacktesterRun(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Horizon = 1
	bars := []Bar{labelledBar(0, 100, 1, 0.01), labelledBar(1, 101, -1, 0.01)}
	report, err := NewVectorBacktester(cfg, nil, nil).Run(bars)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Trades) != 2 || report.Events != nil {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, ok := report.ByStrategy[VectorStrategy]; !ok {
		t.Fatal("missing vector strategy breakdown")
	}
}
