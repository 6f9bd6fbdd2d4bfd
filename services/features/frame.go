package features

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"quant-backtest/services/engine"
)

// Column names written into engine.Bar.Indicators.
const (
	ColEMA200          = "ema200"
	ColSMA20           = engine.FeatureSMA20
	ColEMA200Slope     = "ema200_slope"
	ColRSI7            = "rsi7"
	ColRSI14           = "rsi14"
	ColATR14           = "atr14"
	ColSessionID       = "session_id"
	ColVWAP            = "vwap"
	ColVWAPResidual    = "vwap_residual"
	ColSigma           = "sigma"
	ColZResidual       = "z_residual"
	ColSpread          = "spread"
	ColSpreadMedian    = "spread_median"
	ColReturns         = "returns"
	ColLogReturns      = "log_returns"
	ColMinutesFromOpen = "minutes_from_open"
	ColTrendOK         = "trend_ok"
	ColVolatilityOK    = "volatility_ok"
	ColSpreadOK        = "spread_ok"
	ColFutureReturn    = engine.FeatureFutureReturn
	ColLabel           = engine.FeatureLabel

	// Optional top-of-book inputs. When every bar carries both, spread is ask-bid.
	ColBid = "bid"
	ColAsk = "ask"
)

const (
	slopeWindow      = 5
	sigmaMinPeriods  = 5
	volatilityWindow = 60
	volatilityFactor = 0.7
	spreadFactor     = 1.5
	trendMinDistance = 5e-4
	closeEpsilon     = 1e-12
	secondsPerDay    = 86400
)

// Pipeline computes the indicator frame, lagged features and labels. It
// satisfies engine.Enricher.
type Pipeline struct {
	cfg  Config
	calc Calculator
	log  *zap.Logger
}

func NewPipeline(cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, log: logger}
}

// Ready reports whether bars already carry the columns the engine and
// strategies read.
func (p *Pipeline) Ready(bars []engine.Bar) bool {
	if len(bars) == 0 {
		return true
	}
	for _, b := range bars {
		if b.Indicators == nil {
			return false
		}
		for _, col := range []string{ColSMA20, ColVWAP, ColATR14, ColLabel, ColFutureReturn} {
			if _, ok := b.Indicators[col]; !ok {
				return false
			}
		}
	}
	return true
}

// Enrich returns sorted copies of bars with every feature column populated.
// Existing indicator values are kept unless a computed column overwrites them.
func (p *Pipeline) Enrich(bars []engine.Bar) ([]engine.Bar, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateOHLCV(bars); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return []engine.Bar{}, nil
	}
	start := time.Now()

	out := make([]engine.Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	cols := p.indicatorFrame(out)
	p.addLagged(cols)
	p.addRolling(cols)
	p.addLabels(out, cols)

	for i := range out {
		ind := make(map[string]float64, len(out[i].Indicators)+len(cols))
		for k, v := range out[i].Indicators {
			ind[k] = v
		}
		for name, col := range cols {
			ind[name] = col[i]
		}
		out[i].Indicators = ind
	}

	p.log.Debug("features computed",
		zap.Int("bars", len(out)),
		zap.Int("columns", len(cols)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// Columns lists feature names produced by Enrich in a stable order.
func (p *Pipeline) Columns() []string {
	cols := []string{
		ColEMA200, ColSMA20, ColEMA200Slope, ColRSI7, ColRSI14, ColATR14, ColSessionID,
		ColVWAP, ColVWAPResidual, ColSigma, ColZResidual, ColSpread, ColSpreadMedian,
		ColReturns, ColLogReturns, ColMinutesFromOpen, ColTrendOK, ColVolatilityOK, ColSpreadOK,
	}
	for _, lag := range p.cfg.Lags {
		cols = append(cols, lagName("return", lag), lagName(ColZResidual, lag), lagName(ColSigma, lag))
	}
	for _, w := range p.cfg.RollingWindows {
		cols = append(cols, "roll_mean_return_"+strconv.Itoa(w), "roll_std_return_"+strconv.Itoa(w))
	}
	return append(cols, ColFutureReturn, ColLabel)
}

func lagName(base string, lag int) string { return fmt.Sprintf("%s_lag_%d", base, lag) }

func (p *Pipeline) indicatorFrame(bars []engine.Bar) map[string][]float64 {
	n := len(bars)
	ic := p.cfg.Indicator
	c := &p.calc

	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, b := range bars {
		high[i], low[i], closes[i], volume[i] = b.High, b.Low, b.Close, b.Volume
	}

	cols := map[string][]float64{}
	ema := c.EMA(closes, ic.EMALen)
	cols[ColEMA200] = ema
	cols[ColSMA20] = c.SMA(closes, ic.SMALen)
	cols[ColEMA200Slope] = c.RollingSlope(ema, slopeWindow)
	cols[ColRSI7] = c.RSI(closes, ic.RSIFast)
	cols[ColRSI14] = c.RSI(closes, ic.RSISlow)
	atr := c.ATR(high, low, closes, ic.ATRLen)
	cols[ColATR14] = atr

	session, minutes := sessions(bars)
	cols[ColSessionID] = session
	cols[ColMinutesFromOpen] = minutes

	vwap := sessionVWAP(session, closes, volume)
	residual := make([]float64, n)
	for i := range residual {
		residual[i] = closes[i] - vwap[i]
	}
	cols[ColVWAP] = vwap
	cols[ColVWAPResidual] = residual
	cols[ColSigma] = c.RollingStd(residual, ic.SigmaWindow, sigmaMinPeriods)
	cols[ColZResidual] = c.ZScore(residual, ic.ResidualWindow)

	spread := spreads(bars)
	spreadMed := c.RollingMedian(spread, ic.SpreadWindow, 1)
	cols[ColSpread] = spread
	cols[ColSpreadMedian] = spreadMed

	returns := make([]float64, n)
	logReturns := make([]float64, n)
	for i := 1; i < n; i++ {
		if closes[i-1] != 0 {
			returns[i] = closes[i]/closes[i-1] - 1
		}
		if lr := math.Log1p(returns[i]); !math.IsInf(lr, 0) && !math.IsNaN(lr) {
			logReturns[i] = lr
		}
	}
	cols[ColReturns] = returns
	cols[ColLogReturns] = logReturns

	atrMed := c.RollingMedian(atr, volatilityWindow, 1)
	trendOK := make([]float64, n)
	volOK := make([]float64, n)
	spreadOK := make([]float64, n)
	for i := range closes {
		trendOK[i] = flag(math.Abs(closes[i]-ema[i])/math.Max(closes[i], closeEpsilon) >= trendMinDistance)
		volOK[i] = flag(atr[i] >= atrMed[i]*volatilityFactor)
		spreadOK[i] = flag(spread[i] <= spreadMed[i]*spreadFactor)
	}
	cols[ColTrendOK] = trendOK
	cols[ColVolatilityOK] = volOK
	cols[ColSpreadOK] = spreadOK
	return cols
}

func (p *Pipeline) addLagged(cols map[string][]float64) {
	for _, lag := range p.cfg.Lags {
		cols[lagName("return", lag)] = p.calc.Shift(cols[ColReturns], lag)
		cols[lagName(ColZResidual, lag)] = p.calc.Shift(cols[ColZResidual], lag)
		cols[lagName(ColSigma, lag)] = p.calc.Shift(cols[ColSigma], lag)
	}
}

func (p *Pipeline) addRolling(cols map[string][]float64) {
	for _, w := range p.cfg.RollingWindows {
		cols["roll_mean_return_"+strconv.Itoa(w)] = p.calc.RollingMean(cols[ColReturns], w, 1)
		cols["roll_std_return_"+strconv.Itoa(w)] = p.calc.RollingStd(cols[ColReturns], w, 1)
	}
}

// addLabels writes the forward return over the horizon and its thresholded
// label. Bars within the horizon of the end get a NaN return and label 0.
func (p *Pipeline) addLabels(bars []engine.Bar, cols map[string][]float64) {
	h := p.cfg.Label.Horizon
	fr := make([]float64, len(bars))
	label := make([]float64, len(bars))
	for i, b := range bars {
		fr[i] = math.NaN()
		if i+h < len(bars) && b.Close != 0 {
			fr[i] = (bars[i+h].Close - b.Close) / b.Close
		}
		switch {
		case fr[i] >= p.cfg.Label.LongThreshold:
			label[i] = 1
		case fr[i] <= p.cfg.Label.ShortThreshold:
			label[i] = -1
		}
	}
	cols[ColFutureReturn] = fr
	cols[ColLabel] = label
}

// sessions groups bars by UTC day. It returns the unix day number and the
// minutes elapsed since the session's first bar.
func sessions(bars []engine.Bar) (ids, minutes []float64) {
	ids = make([]float64, len(bars))
	minutes = make([]float64, len(bars))
	first := map[int64]time.Time{}
	for i, b := range bars {
		day := int64(math.Floor(float64(b.Timestamp.Unix()) / secondsPerDay))
		ids[i] = float64(day)
		open, ok := first[day]
		if !ok {
			open = b.Timestamp
			first[day] = open
		}
		minutes[i] = b.Timestamp.Sub(open).Minutes()
	}
	return ids, minutes
}

func sessionVWAP(session, closes, volume []float64) []float64 {
	out := make([]float64, len(closes))
	cumPV := map[float64]float64{}
	cumVol := map[float64]float64{}
	for i := range closes {
		s := session[i]
		cumPV[s] += closes[i] * volume[i]
		cumVol[s] += volume[i]
		if cumVol[s] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = cumPV[s] / cumVol[s]
	}
	return out
}

func spreads(bars []engine.Bar) []float64 {
	quoted := true
	for _, b := range bars {
		_, hasBid := b.Indicator(ColBid)
		_, hasAsk := b.Indicator(ColAsk)
		if !hasBid || !hasAsk {
			quoted = false
			break
		}
	}
	out := make([]float64, len(bars))
	for i, b := range bars {
		if quoted {
			bid, _ := b.Indicator(ColBid)
			ask, _ := b.Indicator(ColAsk)
			out[i] = math.Max(ask-bid, 0)
			continue
		}
		out[i] = math.Max(b.High-b.Low, 0)
	}
	return out
}

func flag(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func validateOHLCV(bars []engine.Bar) error {
	for i, b := range bars {
		if b.Timestamp.IsZero() {
			return &engine.ConfigurationError{Field: "timestamp", Index: i, Msg: "missing"}
		}
		for _, f := range []struct {
			name string
			v    float64
		}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}, {"volume", b.Volume}} {
			if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
				return &engine.ConfigurationError{Field: f.name, Index: i, Msg: "missing or non-finite"}
			}
		}
	}
	return nil
}
