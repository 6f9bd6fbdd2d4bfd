// Package proto defines the backtest service messages and its gRPC binding.
// Prices and statistics travel as decimal strings, timestamps as unix
// milliseconds.
package proto

type BacktestRequest struct {
	Instruments []string   `json:"instruments"`
	Mode        string     `json:"mode"`
	StartTime   int64      `json:"start_time,omitempty"`
	EndTime     int64      `json:"end_time,omitempty"`
	Strategies  []string   `json:"strategies,omitempty"`
	Config      *RunConfig `json:"config,omitempty"`
	// Bars supplies data inline, keyed by instrument. Without it bars are
	// loaded from the configured store.
	Bars map[string][]*Bar `json:"bars,omitempty"`
	// Signals replaces strategy generation for the instruments they name.
	Signals []*Signal `json:"signals,omitempty"`
}

// RunConfig fields left empty keep the server defaults.
type RunConfig struct {
	InitialEquity      string `json:"initial_equity,omitempty"`
	SlippageBps        string `json:"slippage_bps,omitempty"`
	CommissionPerTrade string `json:"commission_per_trade,omitempty"`
	Horizon            int32  `json:"horizon,omitempty"`
}

type Bar struct {
	Timestamp  int64              `json:"timestamp"`
	Open       string             `json:"open"`
	High       string             `json:"high"`
	Low        string             `json:"low"`
	Close      string             `json:"close"`
	Volume     string             `json:"volume"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

type TradeSide int32

const (
	TradeSide_UNSPECIFIED TradeSide = 0
	TradeSide_BUY         TradeSide = 1
	TradeSide_SELL        TradeSide = 2
)

type Signal struct {
	Timestamp  int64     `json:"timestamp"`
	Instrument string    `json:"instrument"`
	Strategy   string    `json:"strategy"`
	Side       TradeSide `json:"side"`
	Entry      string    `json:"entry"`
	Stop       string    `json:"stop"`
	Target     string    `json:"target"`
	Score      string    `json:"score,omitempty"`
}

type ExecutedTrade struct {
	EntryTime   int64     `json:"entry_time"`
	ExitTime    int64     `json:"exit_time"`
	Side        TradeSide `json:"side"`
	EntryPrice  string    `json:"entry_price"`
	ExitPrice   string    `json:"exit_price"`
	StopPrice   string    `json:"stop_price"`
	TargetPrice string    `json:"target_price"`
	Pnl         string    `json:"pnl"`
	RMultiple   string    `json:"r_multiple"`
	BarsHeld    int32     `json:"bars_held"`
	ExitReason  string    `json:"exit_reason"`
	Strategy    string    `json:"strategy"`
}

type EquityPoint struct {
	Timestamp int64  `json:"timestamp"`
	Equity    string `json:"equity"`
}

type Metrics struct {
	Cagr        string `json:"cagr"`
	Sharpe      string `json:"sharpe"`
	Mar         string `json:"mar"`
	MaxDrawdown string `json:"max_drawdown"`
	WinRate     string `json:"win_rate"`
	Payoff      string `json:"payoff"`
	Expectancy  string `json:"expectancy"`
	Exposure    string `json:"exposure"`
	Cvar_95     string `json:"cvar_95"`
}

type SymbolResult struct {
	Symbol      string              `json:"symbol"`
	Trades      []*ExecutedTrade    `json:"trades"`
	EquityCurve []*EquityPoint      `json:"equity_curve"`
	Metrics     *Metrics            `json:"metrics"`
	ByStrategy  map[string]*Metrics `json:"by_strategy,omitempty"`
}

type RunManifest struct {
	JobId         string   `json:"job_id"`
	Mode          string   `json:"mode"`
	Instruments   []string `json:"instruments"`
	ConfigHash    string   `json:"config_hash"`
	EngineVersion string   `json:"engine_version"`
	CreatedAt     int64    `json:"created_at"`
}

type BacktestResponse struct {
	JobId         string          `json:"job_id"`
	ExecutionTime int64           `json:"execution_time_ms"`
	SymbolResults []*SymbolResult `json:"symbol_results"`
	Manifest      *RunManifest    `json:"manifest"`
}
