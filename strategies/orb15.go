package strategies

import (
	"math"

	"quant-backtest/services/engine"
	"quant-backtest/services/features"
)

// ORB15 trades breakouts of the session's opening range.
type ORB15 struct {
	base
	Minutes     float64
	BufferTicks float64
}

func NewORB15() *ORB15 {
	return &ORB15{
		base:        base{name: "ORB_15", riskFraction: 0.0025},
		Minutes:     15,
		BufferTicks: 0.5,
	}
}

func (s *ORB15) GenerateSignals(bars []engine.Bar, instrument string) ([]engine.Signal, error) {
	bars = sortedBars(bars)
	var out []engine.Signal

	// Group in first-seen order; bars are sorted, so sessions are contiguous.
	var order []int64
	groups := map[int64][]engine.Bar{}
	for _, b := range bars {
		k := sessionKey(b)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], b)
	}

	for _, k := range order {
		out = append(out, s.session(groups[k], instrument)...)
	}
	return out, nil
}

func (s *ORB15) session(bars []engine.Bar, instrument string) []engine.Signal {
	orHigh, orLow := math.Inf(-1), math.Inf(1)
	opening := 0
	for _, b := range bars {
		mins, ok := b.Indicator(features.ColMinutesFromOpen)
		if !ok {
			mins = b.Timestamp.Sub(bars[0].Timestamp).Minutes()
		}
		if mins >= s.Minutes {
			continue
		}
		opening++
		orHigh = math.Max(orHigh, b.High)
		orLow = math.Min(orLow, b.Low)
	}
	if opening == 0 {
		return nil
	}
	orRange := math.Max(orHigh-orLow, minDistance)

	spread := value(bars[0], features.ColSpread, math.Max(bars[0].High-bars[0].Low, 0))
	buffer := math.Max(s.BufferTicks*spread, minDistance)

	var out []engine.Signal
	for i := opening; i < len(bars); i++ {
		bar := bars[i]
		atr, ok := bar.Indicator(features.ColATR14)
		if !ok {
			continue
		}
		price := bar.Close
		dist := math.Max(minDistance, math.Min(orRange/2, atr))

		var side engine.Side
		var stop, target float64
		switch {
		case price > orHigh+buffer:
			side, stop, target = engine.SideBuy, price-dist, price+orRange
		case price < orLow-buffer:
			side, stop, target = engine.SideSell, price+dist, price-orRange
		default:
			continue
		}

		out = append(out, s.signal(bar, instrument, side, price, stop, target, orRange/(atr+1e-6), map[string]float64{
			"or_high":      orHigh,
			"or_low":       orLow,
			"or_range":     orRange,
			"volume_trend": volumeTrend(bars, i),
		}))
	}
	return out
}

// volumeTrend is the mean volume change over the last three bars.
func volumeTrend(bars []engine.Bar, i int) float64 {
	from := max(i-2, 0)
	if i == from {
		return 0
	}
	return (bars[i].Volume - bars[from].Volume) / float64(i-from)
}
