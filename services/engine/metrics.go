package engine

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	sharpeEpsilon = 1e-9
	minYears      = 1e-6
	cvarTail      = 0.05
)

// BuildEquityCurve returns one point per trade: initial equity plus the
// running pnl sum, stamped with the trade's exit time.
func BuildEquityCurve(trades []TradeResult, initialEquity float64) []EquityPoint {
	curve := make([]EquityPoint, 0, len(trades))
	equity := initialEquity
	for _, t := range trades {
		equity += t.PnL
		curve = append(curve, EquityPoint{Timestamp: t.ExitTime, Equity: equity})
	}
	return curve
}

// ComputeMetrics derives the summary statistics of a ledger. An empty ledger
// yields all zeros; non-finite results are reported as zero.
func ComputeMetrics(trades []TradeResult, curve []EquityPoint, initialEquity float64) BacktestMetrics {
	n := len(trades)
	if n == 0 {
		return BacktestMetrics{}
	}

	pnl := make([]float64, n)
	r := make([]float64, n)
	returns := make([]float64, n)
	var wins, losses []float64
	var timeInMarket float64
	for i, t := range trades {
		pnl[i] = t.PnL
		r[i] = t.RMultiple
		returns[i] = t.PnL / initialEquity
		if t.PnL > 0 {
			wins = append(wins, t.PnL)
		} else {
			losses = append(losses, t.PnL)
		}
		timeInMarket += float64(t.BarsHeld)
	}

	start := trades[0].EntryTime
	end := trades[n-1].ExitTime
	elapsed := end.Sub(start)

	finalEquity := initialEquity + floats.Sum(pnl)
	if len(curve) > 0 {
		finalEquity = curve[len(curve)-1].Equity
	}
	// whole days, floored
	days := math.Floor(elapsed.Hours() / 24)
	years := math.Max(days/365.25, minYears)
	cagr := -1.0
	if finalEquity > 0 {
		cagr = math.Pow(finalEquity/initialEquity, 1/years) - 1
	}

	// Scaled by trade count rather than a calendar factor.
	mean, std := stat.PopMeanStdDev(returns, nil)
	sharpe := mean / (std + sharpeEpsilon) * math.Sqrt(float64(n))

	maxDD := maxDrawdown(curve)
	mar := 0.0
	if maxDD < 0 {
		mar = cagr / math.Abs(maxDD)
	}

	winRate := float64(len(wins)) / float64(n)

	payoff := 0.0
	switch {
	case len(wins) > 0 && len(losses) > 0:
		payoff = stat.Mean(wins, nil) / math.Abs(stat.Mean(losses, nil))
	case len(wins) > 0:
		payoff = stat.Mean(wins, nil)
	}

	totalMinutes := math.Max(elapsed.Minutes(), timeInMarket)
	exposure := 0.0
	if totalMinutes != 0 {
		exposure = timeInMarket / totalMinutes
	}

	return BacktestMetrics{
		CAGR:        finite(cagr),
		Sharpe:      finite(sharpe),
		MAR:         finite(mar),
		MaxDrawdown: finite(maxDD),
		WinRate:     finite(winRate),
		Payoff:      finite(payoff),
		Expectancy:  finite(stat.Mean(pnl, nil)),
		Exposure:    finite(exposure),
		CVaR95:      finite(cvar(r)),
	}
}

func maxDrawdown(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := math.Inf(-1)
	worst := math.Inf(1)
	for _, p := range curve {
		peak = math.Max(peak, p.Equity)
		dd := (p.Equity - peak) / peak
		if dd < worst || math.IsNaN(dd) {
			worst = dd
		}
	}
	return worst
}

// cvar is the mean of the worst 5% of values (at least one).
func cvar(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	cutoff := int(math.RoundToEven(float64(len(sorted)) * cvarTail))
	if cutoff < 1 {
		cutoff = 1
	}
	return stat.Mean(sorted[:cutoff], nil)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
