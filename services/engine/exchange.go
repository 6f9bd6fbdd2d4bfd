package engine

// Slippage and commission models

// SlippageModel degrades fill prices against the trader.
type SlippageModel interface {
	Entry(side Side, price float64) float64
	Exit(side Side, price float64) float64
}

// BpsSlippage applies a fixed fraction of price, expressed in basis points.
type BpsSlippage struct{ Bps float64 }

func (s BpsSlippage) frac() float64 { return s.Bps / 10_000.0 }

func (s BpsSlippage) Entry(side Side, price float64) float64 {
	if side == SideBuy {
		return price * (1 + s.frac())
	}
	return price * (1 - s.frac())
}

func (s BpsSlippage) Exit(side Side, price float64) float64 {
	if side == SideBuy {
		return price * (1 - s.frac())
	}
	return price * (1 + s.frac())
}

// FeeModel returns the cost charged on a closed trade.
type FeeModel interface {
	Compute(side Side, entry, exit float64) float64
}

// FixedCommission charges the same amount per round trip.
type FixedCommission struct{ PerTrade float64 }

func (c FixedCommission) Compute(Side, float64, float64) float64 { return c.PerTrade }
