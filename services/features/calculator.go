package features

// Series math over float columns. NaN marks a missing observation; rolling
// windows count only present values against their minimum period.

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

type Calculator struct{}

// EMA is the recursive exponential mean seeded with the first value.
func (c *Calculator) EMA(values []float64, span int) []float64 {
	return c.ewm(values, 2.0/(float64(span)+1.0))
}

// RMA is Wilder's smoothing, an EMA with alpha 1/length.
func (c *Calculator) RMA(values []float64, length int) []float64 {
	return c.ewm(values, 1.0/float64(length))
}

func (c *Calculator) ewm(values []float64, alpha float64) []float64 {
	result := make([]float64, len(values))
	prev := math.NaN()
	for i, v := range values {
		switch {
		case math.IsNaN(v):
			result[i] = prev
			continue
		case math.IsNaN(prev):
			prev = v
		default:
			prev = alpha*v + (1-alpha)*prev
		}
		result[i] = prev
	}
	return result
}

// SMA is the rolling mean with a one-value minimum period.
func (c *Calculator) SMA(values []float64, period int) []float64 {
	return c.RollingMean(values, period, 1)
}

func (c *Calculator) RollingMean(values []float64, window, minPeriods int) []float64 {
	return c.rolling(values, window, minPeriods, func(w []float64) float64 {
		return stat.Mean(w, nil)
	})
}

// RollingStd is the population standard deviation over the window.
func (c *Calculator) RollingStd(values []float64, window, minPeriods int) []float64 {
	return c.rolling(values, window, minPeriods, func(w []float64) float64 {
		_, std := stat.PopMeanStdDev(w, nil)
		return std
	})
}

func (c *Calculator) RollingMedian(values []float64, window, minPeriods int) []float64 {
	return c.rolling(values, window, minPeriods, median)
}

// RollingSlope fits an OLS line over each window of at least two values and
// returns its slope, zero when undefined.
func (c *Calculator) RollingSlope(values []float64, window int) []float64 {
	out := c.rolling(values, window, 2, func(w []float64) float64 {
		x := make([]float64, len(w))
		for i := range x {
			x[i] = float64(i)
		}
		_, beta := stat.LinearRegression(x, w, nil, false)
		return beta
	})
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
		}
	}
	return out
}

func (c *Calculator) rolling(values []float64, window, minPeriods int, fn func([]float64) float64) []float64 {
	result := make([]float64, len(values))
	buf := make([]float64, 0, window)
	for i := range values {
		buf = buf[:0]
		for j := max(0, i-window+1); j <= i; j++ {
			if !math.IsNaN(values[j]) {
				buf = append(buf, values[j])
			}
		}
		if len(buf) < minPeriods || len(buf) == 0 {
			result[i] = math.NaN()
			continue
		}
		result[i] = fn(buf)
	}
	return result
}

// RSI uses Wilder smoothing of gains and losses. Undefined values (no losses
// in the window yet) read as 50.
func (c *Calculator) RSI(values []float64, period int) []float64 {
	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}
	avgGain := c.RMA(gains, period)
	avgLoss := c.RMA(losses, period)

	result := make([]float64, len(values))
	for i := range values {
		if avgLoss[i] == 0 || math.IsNaN(avgLoss[i]) || math.IsNaN(avgGain[i]) {
			result[i] = 50
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		result[i] = math.Min(math.Max(100-(100/(1+rs)), 0), 100)
	}
	return result
}

// TrueRange uses high-low on the first bar, where no previous close exists.
func (c *Calculator) TrueRange(high, low, close []float64) []float64 {
	result := make([]float64, len(close))
	for i := range close {
		tr := high[i] - low[i]
		if i > 0 {
			tr = math.Max(tr, math.Abs(high[i]-close[i-1]))
			tr = math.Max(tr, math.Abs(low[i]-close[i-1]))
		}
		result[i] = tr
	}
	return result
}

func (c *Calculator) ATR(high, low, close []float64, period int) []float64 {
	return c.RMA(c.TrueRange(high, low, close), period)
}

// ZScore is the rolling z-score, NaN where the window has no dispersion.
func (c *Calculator) ZScore(values []float64, window int) []float64 {
	mean := c.RollingMean(values, window, 1)
	std := c.RollingStd(values, window, 1)
	out := make([]float64, len(values))
	for i, v := range values {
		if std[i] == 0 || math.IsNaN(std[i]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = (v - mean[i]) / std[i]
	}
	return out
}

// Shift moves values forward by lag positions (backward when negative),
// filling with NaN.
func (c *Calculator) Shift(values []float64, lag int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		j := i - lag
		if j < 0 || j >= len(values) {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[j]
	}
	return out
}

func median(w []float64) float64 {
	s := append([]float64(nil), w...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
