package strategies

import (
	"math"

	"quant-backtest/services/engine"
	"quant-backtest/services/features"
)

// EMAATR follows the fast/slow EMA trend on closes that extend past the fast
// EMA with a body inside a band of price. Stops sit SLMult ATRs away and the
// target is TPMult times the stop distance. It is not in the default set;
// select it by name.
type EMAATR struct {
	base
	FastPeriod int
	SlowPeriod int
	ATRPeriod  int
	BodyPctMin float64 // inclusive, |close-open|/close
	BodyPctMax float64
	SLMult     float64
	TPMult     float64

	calc features.Calculator
}

func NewEMAATR() *EMAATR {
	return &EMAATR{
		base:       base{name: "EMA_ATR", riskFraction: 0.002},
		FastPeriod: 26,
		SlowPeriod: 100,
		ATRPeriod:  14,
		BodyPctMin: 0.002,
		BodyPctMax: 0.008,
		SLMult:     2.5,
		TPMult:     1.8,
	}
}

func (s *EMAATR) GenerateSignals(bars []engine.Bar, instrument string) ([]engine.Signal, error) {
	bars = sortedBars(bars)
	n := len(bars)
	if n < 2 {
		return nil, nil
	}
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	for i, b := range bars {
		high[i], low[i], closes[i] = b.High, b.Low, b.Close
	}
	fast := s.calc.EMA(closes, s.FastPeriod)
	slow := s.calc.EMA(closes, s.SlowPeriod)
	atr := s.calc.ATR(high, low, closes, s.ATRPeriod)

	var out []engine.Signal
	// The slow EMA needs SlowPeriod bars before it means anything.
	for i := max(s.SlowPeriod-1, 1); i < n; i++ {
		bar := bars[i]
		a := value(bar, features.ColATR14, atr[i])
		if a <= 0 || math.IsNaN(a) || bar.Close == 0 || math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			continue
		}
		body := (bar.Close - bar.Open) / bar.Close

		var side engine.Side
		var dir float64
		switch {
		case fast[i] > slow[i] && bar.Close > fast[i] && body >= s.BodyPctMin && body <= s.BodyPctMax:
			side, dir = engine.SideBuy, 1
		case fast[i] < slow[i] && bar.Close < fast[i] && -body >= s.BodyPctMin && -body <= s.BodyPctMax:
			side, dir = engine.SideSell, -1
		default:
			continue
		}
		risk := s.SLMult * a
		stop := bar.Close - dir*risk
		target := bar.Close + dir*risk*s.TPMult
		out = append(out, s.signal(bar, instrument, side, bar.Close, stop, target, math.Abs(fast[i]-slow[i])/a, map[string]float64{
			"ema_fast": fast[i],
			"ema_slow": slow[i],
			"atr":      a,
			"body_pct": body,
		}))
	}
	return out, nil
}
