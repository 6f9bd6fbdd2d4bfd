package strategies

import (
	"math"

	"quant-backtest/services/engine"
	"quant-backtest/services/features"
)

// VRB fades closes that re-enter the VWAP band of k residual sigmas,
// targeting VWAP.
type VRB struct {
	base
	BandK         float64
	StopSigmaMult float64
}

func NewVRB() *VRB {
	return &VRB{
		base:          base{name: "VRB", riskFraction: 0.0015},
		BandK:         2.0,
		StopSigmaMult: 1.2,
	}
}

func (s *VRB) GenerateSignals(bars []engine.Bar, instrument string) ([]engine.Signal, error) {
	bars = sortedBars(bars)
	var out []engine.Signal
	for i := 1; i < len(bars); i++ {
		bar, prev := bars[i], bars[i-1]
		sigma, ok1 := bar.Indicator(features.ColSigma)
		vwap, ok2 := bar.Indicator(features.ColVWAP)
		price := bar.Close
		if !ok1 || !ok2 || sigma <= 0 || math.IsNaN(price) {
			continue
		}
		upper := vwap + s.BandK*sigma
		lower := vwap - s.BandK*sigma

		var side engine.Side
		var stop float64
		switch {
		case prev.Close > upper && price <= upper:
			side, stop = engine.SideSell, price+s.StopSigmaMult*sigma
		case prev.Close < lower && price >= lower:
			// Below entry. Older versions placed the long stop at
			// entry+k*sigma, above the fill, which stopped out on entry.
			side, stop = engine.SideBuy, price-s.StopSigmaMult*sigma
		default:
			continue
		}

		distance := math.Abs(price - vwap)
		out = append(out, s.signal(bar, instrument, side, price, stop, vwap, distance/(sigma+1e-6), map[string]float64{
			"sigma":    sigma,
			"distance": distance,
			"vwap":     vwap,
		}))
	}
	return out, nil
}
