package engine

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Side is the direction of a signal or trade.
type Side int

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseSide accepts BUY/SELL as well as long/short.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY", "LONG":
		return SideBuy, nil
	case "SELL", "SHORT":
		return SideSell, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}

func (s Side) MarshalText() ([]byte, error) {
	if s != SideBuy && s != SideSell {
		return nil, fmt.Errorf("invalid side %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ExitReason tags how a trade was closed.
type ExitReason int

const (
	ExitStop ExitReason = iota + 1
	ExitTarget
	ExitExpiry
	ExitVector
)

func (r ExitReason) String() string {
	switch r {
	case ExitStop:
		return "stop"
	case ExitTarget:
		return "target"
	case ExitExpiry:
		return "expiry"
	case ExitVector:
		return "vector"
	default:
		return "unknown"
	}
}

func ParseExitReason(v string) (ExitReason, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "stop":
		return ExitStop, nil
	case "target":
		return ExitTarget, nil
	case "expiry":
		return ExitExpiry, nil
	case "vector":
		return ExitVector, nil
	}
	return 0, fmt.Errorf("unknown exit reason %q", v)
}

func (r ExitReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *ExitReason) UnmarshalText(b []byte) error {
	v, err := ParseExitReason(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Bar is one OHLCV observation. Indicators holds precomputed columns
// (sma20, label, future_return, ...) that are read opaquely.
type Bar struct {
	Timestamp  time.Time          `json:"timestamp"`
	Open       float64            `json:"open"`
	High       float64            `json:"high"`
	Low        float64            `json:"low"`
	Close      float64            `json:"close"`
	Volume     float64            `json:"volume"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Indicator returns a named column value when present and not NaN.
func (b Bar) Indicator(name string) (float64, bool) {
	if b.Indicators == nil {
		return 0, false
	}
	v, ok := b.Indicators[name]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Signal is a candidate trade instruction emitted by a strategy.
type Signal struct {
	Timestamp    time.Time          `json:"timestamp"`
	Instrument   string             `json:"instrument"`
	Strategy     string             `json:"strategy"`
	Side         Side               `json:"side"`
	Entry        float64            `json:"entry"`
	Stop         float64            `json:"stop"`
	Target       float64            `json:"target"`
	Score        float64            `json:"score"`
	RiskFraction float64            `json:"risk_fraction"`
	Metadata     map[string]float64 `json:"metadata,omitempty"`
}

// TradeResult is one closed trade in the ledger.
type TradeResult struct {
	EntryTime   time.Time  `json:"entry_time"`
	ExitTime    time.Time  `json:"exit_time"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	Side        Side       `json:"side"`
	StopPrice   float64    `json:"stop_price"`
	TargetPrice float64    `json:"target_price"`
	PnL         float64    `json:"pnl"`
	RMultiple   float64    `json:"r_multiple"`
	BarsHeld    int        `json:"bars_held"`
	ExitReason  ExitReason `json:"exit_reason"`
	Strategy    string     `json:"strategy"`
}

type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// BacktestMetrics are the summary statistics of a ledger. Every field is finite.
type BacktestMetrics struct {
	CAGR        float64 `json:"cagr" structs:"cagr"`
	Sharpe      float64 `json:"sharpe" structs:"sharpe"`
	MAR         float64 `json:"mar" structs:"mar"`
	MaxDrawdown float64 `json:"max_drawdown" structs:"max_drawdown"`
	WinRate     float64 `json:"win_rate" structs:"win_rate"`
	Payoff      float64 `json:"payoff" structs:"payoff"`
	Expectancy  float64 `json:"expectancy" structs:"expectancy"`
	Exposure    float64 `json:"exposure" structs:"exposure"`
	CVaR95      float64 `json:"cvar_95" structs:"cvar_95"`
}

// Report bundles the output of one backtest run.
type Report struct {
	Trades      []TradeResult              `json:"trades"`
	EquityCurve []EquityPoint              `json:"equity_curve"`
	Metrics     BacktestMetrics            `json:"metrics"`
	ByStrategy  map[string]BacktestMetrics `json:"by_strategy"`
	Events      []Event                    `json:"events,omitempty"`
}
