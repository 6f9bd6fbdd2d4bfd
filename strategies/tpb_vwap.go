package strategies

import (
	"math"

	"quant-backtest/services/engine"
	"quant-backtest/services/features"
)

// TPBVWAP trades pullbacks toward sma20 or session VWAP in the direction of
// the ema200 trend, triggered by RSI(7) leaving an extreme.
type TPBVWAP struct {
	base
	PullbackTolerance float64
	StopATRMultiplier float64
	TakeProfitR       float64
	Oversold          float64
	Overbought        float64
}

func NewTPBVWAP() *TPBVWAP {
	return &TPBVWAP{
		base:              base{name: "TPB_VWAP", riskFraction: 0.002},
		PullbackTolerance: 0.005,
		StopATRMultiplier: 0.8,
		TakeProfitR:       2.0,
		Oversold:          35,
		Overbought:        65,
	}
}

func (s *TPBVWAP) GenerateSignals(bars []engine.Bar, instrument string) ([]engine.Signal, error) {
	bars = sortedBars(bars)
	var out []engine.Signal
	for i := 1; i < len(bars); i++ {
		bar, prev := bars[i], bars[i-1]
		if !enabled(bar, features.ColTrendOK) || !enabled(bar, features.ColVolatilityOK) || !enabled(bar, features.ColSpreadOK) {
			continue
		}
		ema, ok1 := bar.Indicator(features.ColEMA200)
		sma, ok2 := bar.Indicator(features.ColSMA20)
		vwap, ok3 := bar.Indicator(features.ColVWAP)
		atr, ok4 := bar.Indicator(features.ColATR14)
		price := bar.Close
		if !(ok1 && ok2 && ok3 && ok4) || math.IsNaN(price) {
			continue
		}

		distSMA := math.Abs(price-sma) / price
		distVWAP := math.Abs(price-vwap) / price
		minDist := math.Min(distSMA, distVWAP)
		if minDist > s.PullbackTolerance {
			continue
		}

		rsi := value(bar, features.ColRSI7, 50)
		prevRSI := value(prev, features.ColRSI7, 50)
		slope := value(bar, features.ColEMA200Slope, 0)

		var side engine.Side
		switch {
		case price >= ema && slope >= 0 && prevRSI <= s.Oversold && rsi > s.Oversold:
			side = engine.SideBuy
		case price <= ema && slope <= 0 && prevRSI >= s.Overbought && rsi < s.Overbought:
			side = engine.SideSell
		default:
			continue
		}

		dist := math.Max(minDistance, math.Min(atr*s.StopATRMultiplier, math.Abs(price-sma)))
		stop, target := price-dist, price+dist*s.TakeProfitR
		if side == engine.SideSell {
			stop, target = price+dist, price-dist*s.TakeProfitR
		}

		out = append(out, s.signal(bar, instrument, side, price, stop, target, 1-minDist/s.PullbackTolerance, map[string]float64{
			"dist_sma":  distSMA,
			"dist_vwap": distVWAP,
			"rsi_fast":  rsi,
			"atr14":     atr,
		}))
	}
	return out, nil
}
