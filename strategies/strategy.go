//! Signal generators
//!
//! Each strategy reads the feature columns produced by services/features and
//! emits engine signals. Strategies never see positions or fills.

package strategies

import (
	"math"
	"sort"
	"time"

	"quant-backtest/services/engine"
	"quant-backtest/services/features"
)

const (
	maxScore    = 3.0
	minDistance = 1e-4
)

// Strategy is one named signal generator.
type Strategy interface {
	engine.SignalSource
	Name() string
}

// base carries the fields shared by every strategy.
type base struct {
	name         string
	riskFraction float64
}

func (b base) Name() string { return b.name }

func (b base) signal(bar engine.Bar, instrument string, side engine.Side, entry, stop, target, score float64, meta map[string]float64) engine.Signal {
	return engine.Signal{
		Timestamp:    bar.Timestamp,
		Instrument:   instrument,
		Strategy:     b.name,
		Side:         side,
		Entry:        entry,
		Stop:         stop,
		Target:       target,
		Score:        clip(score, 0, maxScore),
		RiskFraction: b.riskFraction,
		Metadata:     meta,
	}
}

// Set runs several strategies and merges their signals in timestamp order.
type Set struct {
	strategies []Strategy
}

// All returns the default strategy set: TPB_VWAP, ORB_15 and VRB.
func All() *Set {
	return NewSet(NewTPBVWAP(), NewORB15(), NewVRB())
}

func NewSet(strategies ...Strategy) *Set {
	return &Set{strategies: strategies}
}

func (s *Set) Names() []string {
	names := make([]string, len(s.strategies))
	for i, st := range s.strategies {
		names[i] = st.Name()
	}
	return names
}

// GenerateSignals concatenates signals per strategy and sorts them stably by
// timestamp, so equal timestamps keep strategy order.
func (s *Set) GenerateSignals(bars []engine.Bar, instrument string) ([]engine.Signal, error) {
	var out []engine.Signal
	for _, st := range s.strategies {
		sigs, err := st.GenerateSignals(bars, instrument)
		if err != nil {
			return nil, err
		}
		out = append(out, sigs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ByName looks up a strategy of the default set, or one of the opt-in
// strategies such as EMA_ATR.
func ByName(name string) (Strategy, bool) {
	for _, st := range append(All().strategies, NewEMAATR()) {
		if st.Name() == name {
			return st, true
		}
	}
	return nil, false
}

func clip(v, lo, hi float64) float64 { return math.Min(math.Max(v, lo), hi) }

// value reads a feature column, falling back to def when absent or NaN.
func value(b engine.Bar, col string, def float64) float64 {
	if v, ok := b.Indicator(col); ok {
		return v
	}
	return def
}

// enabled reads a 1/0 flag column; absent flags pass.
func enabled(b engine.Bar, col string) bool {
	return value(b, col, 1) != 0
}

func sortedBars(bars []engine.Bar) []engine.Bar {
	out := make([]engine.Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// sessionKey groups bars by the session_id column, or by UTC day.
func sessionKey(b engine.Bar) int64 {
	if v, ok := b.Indicator(features.ColSessionID); ok {
		return int64(v)
	}
	return b.Timestamp.UTC().Truncate(24 * time.Hour).Unix()
}
