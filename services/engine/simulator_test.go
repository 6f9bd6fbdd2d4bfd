package engine

import (
	"errors"
	"math"
	"testing"
)

func flatBars(n int, price float64) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = Bar{Timestamp: minute(i), Open: price, High: price + 1, Low: price - 1, Close: price}
	}
	return bars
}

func zeroCostConfig() RunConfig {
	cfg := DefaultRunConfig()
	cfg.SlippageBps = 0
	return cfg
}

func TestSimulateTargetScenario(t *testing.T) {
	bars := []Bar{
		{Timestamp: minute(0), Open: 100, High: 100.5, Low: 99.5, Close: 100},
		{Timestamp: minute(1), Open: 100, High: 101, Low: 99, Close: 100.5},
		{Timestamp: minute(2), Open: 100.5, High: 105, Low: 99, Close: 104.5},
		{Timestamp: minute(3), Open: 104.5, High: 105, Low: 104, Close: 104},
		{Timestamp: minute(4), Open: 104, High: 104.5, Low: 103, Close: 103.5},
	}
	signals := []Signal{{Timestamp: minute(0), Instrument: "SPY", Strategy: "TEST", Side: SideBuy, Entry: 100, Stop: 98, Target: 104}}

	trades, events, err := NewSimulator(zeroCostConfig(), nil).Simulate(bars, signals)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	tr := trades[0]
	if tr.ExitReason != ExitTarget || !approx(tr.PnL, 4) || !approx(tr.RMultiple, 2) {
		t.Fatalf("unexpected trade %+v", tr)
	}
	if !tr.ExitTime.Equal(minute(2)) || tr.BarsHeld != 2 {
		t.Fatalf("exit at %v held %d", tr.ExitTime, tr.BarsHeld)
	}
	if events.Count(EventPositionOpened) != 1 || events.Count(EventTakeProfitHit) != 1 {
		t.Fatalf("unexpected events %+v", events.Events)
	}
	if events.Events[1].Instrument != "SPY" {
		t.Fatalf("exit event missing instrument: %+v", events.Events[1])
	}
}

func TestSimulateSameBarEntryAndExit(t *testing.T) {
	bars := []Bar{
		{Timestamp: minute(0), Open: 100, High: 100.5, Low: 97, Close: 98},
		{Timestamp: minute(1), Open: 98, High: 99, Low: 97.5, Close: 98},
	}
	signals := []Signal{{Timestamp: minute(0), Side: SideBuy, Entry: 100, Stop: 98, Target: 104}}
	trades, _, err := NewSimulator(zeroCostConfig(), nil).Simulate(bars, signals)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || trades[0].ExitReason != ExitStop || !trades[0].ExitTime.Equal(minute(0)) {
		t.Fatalf("expected stop on entry bar, got %+v", trades)
	}
	if trades[0].BarsHeld != 1 {
		t.Fatalf("bars held = %d, want floor of 1", trades[0].BarsHeld)
	}
}

func TestSimulateDiscardsExtraDueSignals(t *testing.T) {
	bars := flatBars(5, 100)
	signals := []Signal{
		{Timestamp: minute(0), Strategy: "A", Side: SideBuy, Entry: 100, Stop: 90, Target: 110},
		{Timestamp: minute(0), Strategy: "B", Side: SideSell, Entry: 100, Stop: 110, Target: 90},
		{Timestamp: minute(2), Strategy: "C", Side: SideSell, Entry: 100, Stop: 110, Target: 90},
	}
	trades, events, err := NewSimulator(zeroCostConfig(), nil).Simulate(bars, signals)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || trades[0].Strategy != "A" || trades[0].ExitReason != ExitExpiry {
		t.Fatalf("unexpected ledger %+v", trades)
	}
	if got := events.Count(EventSignalDiscarded); got != 2 {
		t.Fatalf("discarded = %d, want 2", got)
	}
}

func TestSimulateNoOverlappingTrades(t *testing.T) {
	bars := make([]Bar, 60)
	for i := range bars {
		p := 100 + 3*math.Sin(float64(i)/4)
		bars[i] = Bar{Timestamp: minute(i), Open: p, High: p + 0.8, Low: p - 0.8, Close: p}
	}
	var signals []Signal
	for i := 0; i < 60; i += 3 {
		side := SideBuy
		stop, target := bars[i].Close-1.5, bars[i].Close+1.5
		if i%2 == 1 {
			side = SideSell
			stop, target = target, stop
		}
		signals = append(signals, Signal{Timestamp: minute(i), Side: side, Entry: bars[i].Close, Stop: stop, Target: target})
	}

	trades, _, err := NewSimulator(DefaultRunConfig(), nil).Simulate(bars, signals)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) < 2 {
		t.Fatalf("scenario too quiet: %d trades", len(trades))
	}
	for i := 1; i < len(trades); i++ {
		if !trades[i].EntryTime.After(trades[i-1].ExitTime) {
			t.Fatalf("trade %d enters at %v before previous exit %v", i, trades[i].EntryTime, trades[i-1].ExitTime)
		}
	}
}

func TestSimulateUnsortedBars(t *testing.T) {
	bars := flatBars(4, 100)
	bars[0], bars[3] = bars[3], bars[0]
	signals := []Signal{{Timestamp: minute(0), Side: SideBuy, Entry: 100, Stop: 90, Target: 110}}
	trades, _, err := NewSimulator(zeroCostConfig(), nil).Simulate(bars, signals)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || !trades[0].ExitTime.Equal(minute(3)) {
		t.Fatalf("expected expiry on last chronological bar, got %+v", trades)
	}
	if !bars[0].Timestamp.Equal(minute(3)) {
		t.Fatal("input bars reordered")
	}
}

func TestSimulateEmptyInputs(t *testing.T) {
	sim := NewSimulator(DefaultRunConfig(), nil)
	trades, _, err := sim.Simulate(nil, []Signal{{Timestamp: minute(0), Side: SideBuy, Entry: 1, Stop: 0.5, Target: 2}})
	if err != nil || trades == nil || len(trades) != 0 {
		t.Fatalf("empty bars: trades=%v err=%v", trades, err)
	}
	trades, _, err = sim.Simulate(flatBars(3, 10), nil)
	if err != nil || len(trades) != 0 {
		t.Fatalf("empty signals: trades=%v err=%v", trades, err)
	}
}

func TestSimulateRejectsMissingFields(t *testing.T) {
	bars := flatBars(3, 100)
	bars[1].High = math.NaN()
	_, _, err := NewSimulator(DefaultRunConfig(), nil).Simulate(bars, nil)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cerr.Field != "high" || cerr.Index != 1 {
		t.Fatalf("unexpected error %+v", cerr)
	}

	_, _, err = NewSimulator(DefaultRunConfig(), nil).Simulate(flatBars(3, 100), []Signal{{Timestamp: minute(0), Entry: 100, Stop: 99, Target: 101}})
	if !errors.As(err, &cerr) || cerr.Field != "signal.side" {
		t.Fatalf("expected side error, got %v", err)
	}
}

func TestSimulateRejectsBadConfig(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.InitialEquity = 0
	_, _, err := NewSimulator(cfg, nil).Simulate(flatBars(2, 1), nil)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) || cerr.Field != "initial_equity" {
		t.Fatalf("expected initial_equity error, got %v", err)
	}
}
