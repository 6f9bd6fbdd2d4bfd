// Package report renders backtest reports as CSV and JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/structs"
	"github.com/gocarina/gocsv"

	"quant-backtest/services/engine"
)

const timeLayout = time.RFC3339

// TradeRow is the CSV shape of a ledger entry.
type TradeRow struct {
	EntryTime   string  `csv:"entry_time"`
	ExitTime    string  `csv:"exit_time"`
	EntryPrice  float64 `csv:"entry_price"`
	ExitPrice   float64 `csv:"exit_price"`
	Side        string  `csv:"side"`
	StopPrice   float64 `csv:"stop_price"`
	TargetPrice float64 `csv:"target_price"`
	PnL         float64 `csv:"pnl"`
	RMultiple   float64 `csv:"r_multiple"`
	BarsHeld    int     `csv:"bars_held"`
	ExitReason  string  `csv:"exit_reason"`
	Strategy    string  `csv:"strategy"`
}

type EquityRow struct {
	Timestamp string  `csv:"timestamp"`
	Equity    float64 `csv:"equity"`
}

func tradeRows(trades []engine.TradeResult) []*TradeRow {
	rows := make([]*TradeRow, len(trades))
	for i, t := range trades {
		rows[i] = &TradeRow{
			EntryTime:   t.EntryTime.UTC().Format(timeLayout),
			ExitTime:    t.ExitTime.UTC().Format(timeLayout),
			EntryPrice:  t.EntryPrice,
			ExitPrice:   t.ExitPrice,
			Side:        t.Side.String(),
			StopPrice:   t.StopPrice,
			TargetPrice: t.TargetPrice,
			PnL:         t.PnL,
			RMultiple:   t.RMultiple,
			BarsHeld:    t.BarsHeld,
			ExitReason:  t.ExitReason.String(),
			Strategy:    t.Strategy,
		}
	}
	return rows
}

func WriteTradesCSV(w io.Writer, trades []engine.TradeResult) error {
	rows := tradeRows(trades)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write trades csv: %w", err)
	}
	return nil
}

// ReadTradesCSV parses a ledger written by WriteTradesCSV.
func ReadTradesCSV(r io.Reader) ([]engine.TradeResult, error) {
	var rows []*TradeRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("read trades csv: %w", err)
	}
	trades := make([]engine.TradeResult, 0, len(rows))
	for i, row := range rows {
		entry, err := time.Parse(timeLayout, row.EntryTime)
		if err != nil {
			return nil, fmt.Errorf("row %d entry_time: %w", i+1, err)
		}
		exit, err := time.Parse(timeLayout, row.ExitTime)
		if err != nil {
			return nil, fmt.Errorf("row %d exit_time: %w", i+1, err)
		}
		side, err := engine.ParseSide(row.Side)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		reason, err := engine.ParseExitReason(row.ExitReason)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		trades = append(trades, engine.TradeResult{
			EntryTime:   entry.UTC(),
			ExitTime:    exit.UTC(),
			EntryPrice:  row.EntryPrice,
			ExitPrice:   row.ExitPrice,
			Side:        side,
			StopPrice:   row.StopPrice,
			TargetPrice: row.TargetPrice,
			PnL:         row.PnL,
			RMultiple:   row.RMultiple,
			BarsHeld:    row.BarsHeld,
			ExitReason:  reason,
			Strategy:    row.Strategy,
		})
	}
	return trades, nil
}

func WriteEquityCSV(w io.Writer, curve []engine.EquityPoint) error {
	rows := make([]*EquityRow, len(curve))
	for i, p := range curve {
		rows[i] = &EquityRow{Timestamp: p.Timestamp.UTC().Format(timeLayout), Equity: p.Equity}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write equity csv: %w", err)
	}
	return nil
}

// WriteFile creates path and hands it to write.
func WriteFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MetricsMap flattens metrics into name -> value using the structs tags.
func MetricsMap(m engine.BacktestMetrics) map[string]float64 {
	out := make(map[string]float64, 9)
	for k, v := range structs.Map(m) {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// MetricNames lists the metric keys in a stable order.
func MetricNames() []string {
	names := structs.Names(engine.BacktestMetrics{})
	for i, f := range structs.Fields(engine.BacktestMetrics{}) {
		if tag := f.Tag("structs"); tag != "" {
			names[i] = tag
		}
	}
	return names
}

// Summary is the JSON document printed by the CLI and stored per run.
type Summary struct {
	Instrument  string                        `json:"instrument"`
	Trades      int                           `json:"trades"`
	Wins        int                           `json:"wins"`
	FinalEquity float64                       `json:"final_equity"`
	Metrics     map[string]float64            `json:"metrics"`
	ByStrategy  map[string]map[string]float64 `json:"by_strategy,omitempty"`
	ExitReasons map[string]int                `json:"exit_reasons"`
	Strategies  []string                      `json:"strategies,omitempty"`
}

func NewSummary(instrument string, r *engine.Report, initialEquity float64) Summary {
	s := Summary{
		Instrument:  instrument,
		Trades:      len(r.Trades),
		FinalEquity: initialEquity,
		Metrics:     MetricsMap(r.Metrics),
		ExitReasons: map[string]int{},
	}
	if n := len(r.EquityCurve); n > 0 {
		s.FinalEquity = r.EquityCurve[n-1].Equity
	}
	for _, t := range r.Trades {
		if t.PnL > 0 {
			s.Wins++
		}
		s.ExitReasons[t.ExitReason.String()]++
	}
	if len(r.ByStrategy) > 0 {
		s.ByStrategy = make(map[string]map[string]float64, len(r.ByStrategy))
		for name, m := range r.ByStrategy {
			s.ByStrategy[name] = MetricsMap(m)
			s.Strategies = append(s.Strategies, name)
		}
		sort.Strings(s.Strategies)
	}
	return s
}

func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
