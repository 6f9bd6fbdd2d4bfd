package engine

// Label-driven fast path: one trade per labelled bar, fixed horizon

import (
	"math"

	"go.uber.org/zap"
)

// Column names read from Bar.Indicators.
const (
	FeatureLabel        = "label"
	FeatureFutureReturn = "future_return"
	FeatureSMA20        = "sma20"
)

const VectorStrategy = "VECTOR_LABEL"

type VectorizedEvaluator struct {
	cfg RunConfig
	log *zap.Logger
}

func NewVectorizedEvaluator(cfg RunConfig, logger *zap.Logger) *VectorizedEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorizedEvaluator{cfg: cfg, log: logger}
}

// Evaluate converts labelled bars directly into trades. Bars without both a
// label and a forward return are dropped before indexing, so the horizon is
// counted over the remaining bars.
func (v *VectorizedEvaluator) Evaluate(bars []Bar) ([]TradeResult, error) {
	if err := v.cfg.Validate(); err != nil {
		return nil, err
	}
	if v.cfg.Horizon <= 0 {
		return nil, configErr("horizon", "must be positive")
	}
	if err := validateBars(bars, false); err != nil {
		return nil, err
	}

	labelled := make([]Bar, 0, len(bars))
	for _, b := range sortedBars(bars) {
		_, hasLabel := b.Indicator(FeatureLabel)
		_, hasRet := b.Indicator(FeatureFutureReturn)
		if hasLabel && hasRet {
			labelled = append(labelled, b)
		}
	}
	if dropped := len(bars) - len(labelled); dropped > 0 {
		v.log.Debug("bars without label dropped", zap.Int("dropped", dropped))
	}

	trades := []TradeResult{}
	last := len(labelled) - 1
	for i, b := range labelled {
		label, _ := b.Indicator(FeatureLabel)
		if label == 0 {
			continue
		}
		side := SideBuy
		if label < 0 {
			side = SideSell
		}
		futureReturn, _ := b.Indicator(FeatureFutureReturn)

		entry := b.Close
		// future_return already carries price direction; side decides pnl sign.
		exit := b.Close * (1 + futureReturn)
		exitIdx := i + v.cfg.Horizon
		if exitIdx > last {
			exitIdx = last
		}

		pnl := exit - entry
		if side == SideSell {
			pnl = entry - exit
		}
		ref, ok := b.Indicator(FeatureSMA20)
		if !ok {
			ref = b.Close
		}
		risk := math.Max(math.Abs(b.Close-ref), riskFloor)
		stop := b.Close - risk
		if side == SideSell {
			stop = b.Close + risk
		}

		trades = append(trades, TradeResult{
			EntryTime:   b.Timestamp,
			ExitTime:    labelled[exitIdx].Timestamp,
			EntryPrice:  entry,
			ExitPrice:   exit,
			Side:        side,
			StopPrice:   stop,
			TargetPrice: exit,
			PnL:         pnl,
			RMultiple:   pnl / risk,
			BarsHeld:    v.cfg.Horizon,
			ExitReason:  ExitVector,
			Strategy:    VectorStrategy,
		})
	}
	return trades, nil
}
