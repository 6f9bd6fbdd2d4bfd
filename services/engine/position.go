package engine

import (
	"math"
	"time"
)

// riskFloor keeps the R-multiple denominator away from zero.
const riskFloor = 1e-6

type PositionState int

const (
	StateFlat PositionState = iota
	StateOpen
)

func (s PositionState) String() string {
	if s == StateOpen {
		return "open"
	}
	return "flat"
}

// OpenPosition exists only while the machine is in StateOpen.
type OpenPosition struct {
	Signal     Signal
	EntryPrice float64 // slippage adjusted
	EntryTime  time.Time
}

// PositionMachine tracks zero or one open position and resolves its exit
// bar by bar.
type PositionMachine struct {
	slippage SlippageModel
	fees     FeeModel
	open     *OpenPosition
}

func NewPositionMachine(slippage SlippageModel, fees FeeModel) *PositionMachine {
	return &PositionMachine{slippage: slippage, fees: fees}
}

func (m *PositionMachine) State() PositionState {
	if m.open != nil {
		return StateOpen
	}
	return StateFlat
}

func (m *PositionMachine) Position() (OpenPosition, bool) {
	if m.open == nil {
		return OpenPosition{}, false
	}
	return *m.open, true
}

// Enter opens a position from sig at time ts. It is a no-op returning false
// when a position is already open.
func (m *PositionMachine) Enter(sig Signal, ts time.Time) bool {
	if m.open != nil {
		return false
	}
	m.open = &OpenPosition{
		Signal:     sig,
		EntryPrice: m.slippage.Entry(sig.Side, sig.Entry),
		EntryTime:  ts,
	}
	return true
}

// Evaluate checks the open position against bar. Stop is checked before
// target; on the last bar an untouched position expires at the close.
// The returned bool reports whether a trade was closed.
func (m *PositionMachine) Evaluate(bar Bar, last bool) (TradeResult, bool) {
	if m.open == nil {
		return TradeResult{}, false
	}
	sig := m.open.Signal

	var reason ExitReason
	var level float64
	switch ResolveFirstTouch(sig.Side, bar, sig.Target, sig.Stop) {
	case TouchStop:
		reason, level = ExitStop, sig.Stop
	case TouchTarget:
		reason, level = ExitTarget, sig.Target
	default:
		if !last {
			return TradeResult{}, false
		}
		reason, level = ExitExpiry, bar.Close
	}

	tr := m.close(bar.Timestamp, m.slippage.Exit(sig.Side, level), reason)
	return tr, true
}

func (m *PositionMachine) close(ts time.Time, exitPrice float64, reason ExitReason) TradeResult {
	pos := m.open
	m.open = nil
	sig := pos.Signal

	pnl := exitPrice - pos.EntryPrice
	if sig.Side == SideSell {
		pnl = pos.EntryPrice - exitPrice
	}
	pnl -= m.fees.Compute(sig.Side, pos.EntryPrice, exitPrice)

	risk := math.Max(math.Abs(pos.EntryPrice-sig.Stop), riskFloor)

	return TradeResult{
		EntryTime:   pos.EntryTime,
		ExitTime:    ts,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Side:        sig.Side,
		StopPrice:   sig.Stop,
		TargetPrice: sig.Target,
		PnL:         pnl,
		RMultiple:   pnl / risk,
		BarsHeld:    barsHeld(pos.EntryTime, ts),
		ExitReason:  reason,
		Strategy:    sig.Strategy,
	}
}

// barsHeld counts elapsed minutes, rounded half to even, with a floor of one.
func barsHeld(entry, exit time.Time) int {
	minutes := 0.0
	if exit.After(entry) {
		minutes = exit.Sub(entry).Minutes()
	}
	n := int(math.RoundToEven(minutes))
	if n < 1 {
		return 1
	}
	return n
}
