// Package arrowpipeline encodes bars and trade ledgers as Arrow IPC streams.
package arrowpipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"quant-backtest/services/engine"
)

// Config holds Arrow pipeline configuration
type Config struct {
	// BatchSize caps rows per record when streaming.
	BatchSize int `yaml:"batch_size"`
}

// Pipeline converts engine values to and from Arrow records.
type Pipeline struct {
	config     Config
	memoryPool memory.Allocator
	logger     *zap.Logger
}

func NewPipeline(config Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64 * 1024
	}
	return &Pipeline{
		config:     config,
		memoryPool: memory.NewGoAllocator(),
		logger:     logger,
	}
}

var tsType = &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}

var tradeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "entry_time", Type: tsType},
	{Name: "exit_time", Type: tsType},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "side", Type: arrow.BinaryTypes.String},
	{Name: "stop_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "target_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "pnl", Type: arrow.PrimitiveTypes.Float64},
	{Name: "r_multiple", Type: arrow.PrimitiveTypes.Float64},
	{Name: "bars_held", Type: arrow.PrimitiveTypes.Int64},
	{Name: "exit_reason", Type: arrow.BinaryTypes.String},
	{Name: "strategy", Type: arrow.BinaryTypes.String},
}, nil)

// TradeSchema is the column layout of encoded ledgers.
func TradeSchema() *arrow.Schema { return tradeSchema }

func (p *Pipeline) tradeRecord(trades []engine.TradeResult) arrow.Record {
	b := array.NewRecordBuilder(p.memoryPool, tradeSchema)
	defer b.Release()
	for _, t := range trades {
		b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(t.EntryTime.UnixMilli()))
		b.Field(1).(*array.TimestampBuilder).Append(arrow.Timestamp(t.ExitTime.UnixMilli()))
		b.Field(2).(*array.Float64Builder).Append(t.EntryPrice)
		b.Field(3).(*array.Float64Builder).Append(t.ExitPrice)
		b.Field(4).(*array.StringBuilder).Append(t.Side.String())
		b.Field(5).(*array.Float64Builder).Append(t.StopPrice)
		b.Field(6).(*array.Float64Builder).Append(t.TargetPrice)
		b.Field(7).(*array.Float64Builder).Append(t.PnL)
		b.Field(8).(*array.Float64Builder).Append(t.RMultiple)
		b.Field(9).(*array.Int64Builder).Append(int64(t.BarsHeld))
		b.Field(10).(*array.StringBuilder).Append(t.ExitReason.String())
		b.Field(11).(*array.StringBuilder).Append(t.Strategy)
	}
	return b.NewRecord()
}

// EncodeTrades serializes a ledger as one IPC stream. An empty ledger
// produces a stream with the schema and no records.
func (p *Pipeline) EncodeTrades(trades []engine.TradeResult) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(tradeSchema), ipc.WithAllocator(p.memoryPool))
	for start := 0; start < len(trades); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(trades))
		rec := p.tradeRecord(trades[start:end])
		err := w.Write(rec)
		rec.Release()
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to write Arrow record: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeTrades reads a ledger written by EncodeTrades.
func (p *Pipeline) DecodeTrades(data []byte) ([]engine.TradeResult, error) {
	rdr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()
	if got := rdr.Schema(); got.NumFields() != tradeSchema.NumFields() || got.Field(0).Name != "entry_time" {
		return nil, fmt.Errorf("unexpected trade schema: %s", got)
	}

	trades := []engine.TradeResult{}
	for rdr.Next() {
		rec := rdr.Record()
		entry := rec.Column(0).(*array.Timestamp)
		exit := rec.Column(1).(*array.Timestamp)
		entryPx := rec.Column(2).(*array.Float64)
		exitPx := rec.Column(3).(*array.Float64)
		side := rec.Column(4).(*array.String)
		stop := rec.Column(5).(*array.Float64)
		target := rec.Column(6).(*array.Float64)
		pnl := rec.Column(7).(*array.Float64)
		r := rec.Column(8).(*array.Float64)
		held := rec.Column(9).(*array.Int64)
		reason := rec.Column(10).(*array.String)
		strategy := rec.Column(11).(*array.String)

		for i := 0; i < int(rec.NumRows()); i++ {
			s, err := engine.ParseSide(side.Value(i))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			er, err := engine.ParseExitReason(reason.Value(i))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			trades = append(trades, engine.TradeResult{
				EntryTime:   fromMillis(entry.Value(i)),
				ExitTime:    fromMillis(exit.Value(i)),
				EntryPrice:  entryPx.Value(i),
				ExitPrice:   exitPx.Value(i),
				Side:        s,
				StopPrice:   stop.Value(i),
				TargetPrice: target.Value(i),
				PnL:         pnl.Value(i),
				RMultiple:   r.Value(i),
				BarsHeld:    int(held.Value(i)),
				ExitReason:  er,
				Strategy:    strings.Clone(strategy.Value(i)),
			})
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return trades, nil
}

// EncodeBars writes OHLCV columns followed by one nullable float column per
// indicator name (sorted). NaN indicator values are written as nulls.
func (p *Pipeline) EncodeBars(symbol string, bars []engine.Bar) ([]byte, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars to convert")
	}
	names := indicatorNames(bars)
	fields := []arrow.Field{
		{Name: "symbol", Type: arrow.BinaryTypes.String},
		{Name: "timestamp", Type: tsType},
		{Name: "open", Type: arrow.PrimitiveTypes.Float64},
		{Name: "high", Type: arrow.PrimitiveTypes.Float64},
		{Name: "low", Type: arrow.PrimitiveTypes.Float64},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	}
	for _, n := range names {
		fields = append(fields, arrow.Field{Name: n, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(p.memoryPool, schema)
	defer b.Release()
	for _, bar := range bars {
		b.Field(0).(*array.StringBuilder).Append(symbol)
		b.Field(1).(*array.TimestampBuilder).Append(arrow.Timestamp(bar.Timestamp.UnixMilli()))
		b.Field(2).(*array.Float64Builder).Append(bar.Open)
		b.Field(3).(*array.Float64Builder).Append(bar.High)
		b.Field(4).(*array.Float64Builder).Append(bar.Low)
		b.Field(5).(*array.Float64Builder).Append(bar.Close)
		b.Field(6).(*array.Float64Builder).Append(bar.Volume)
		for j, n := range names {
			fb := b.Field(7 + j).(*array.Float64Builder)
			if v, ok := bar.Indicators[n]; ok && !math.IsNaN(v) {
				fb.Append(v)
			} else {
				fb.AppendNull()
			}
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(p.memoryPool))
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close arrow writer: %w", err)
	}
	p.logger.Debug("encoded bars", zap.String("symbol", symbol), zap.Int("rows", len(bars)), zap.Int("indicators", len(names)))
	return buf.Bytes(), nil
}

// DecodeBars reads a stream written by EncodeBars. Null indicators decode as NaN.
func (p *Pipeline) DecodeBars(data []byte) (string, []engine.Bar, error) {
	rdr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return "", nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()

	var symbol string
	var bars []engine.Bar
	for rdr.Next() {
		rec := rdr.Record()
		if rec.NumCols() < 7 {
			return "", nil, fmt.Errorf("bar record has %d columns", rec.NumCols())
		}
		sym := rec.Column(0).(*array.String)
		ts := rec.Column(1).(*array.Timestamp)
		ohlcv := make([]*array.Float64, 5)
		for j := range ohlcv {
			ohlcv[j] = rec.Column(2 + j).(*array.Float64)
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			symbol = strings.Clone(sym.Value(i))
			bar := engine.Bar{
				Timestamp: fromMillis(ts.Value(i)),
				Open:      ohlcv[0].Value(i),
				High:      ohlcv[1].Value(i),
				Low:       ohlcv[2].Value(i),
				Close:     ohlcv[3].Value(i),
				Volume:    ohlcv[4].Value(i),
			}
			if rec.NumCols() > 7 {
				bar.Indicators = make(map[string]float64, rec.NumCols()-7)
				for c := 7; c < int(rec.NumCols()); c++ {
					col := rec.Column(c).(*array.Float64)
					v := math.NaN()
					if col.IsValid(i) {
						v = col.Value(i)
					}
					bar.Indicators[strings.Clone(rec.ColumnName(c))] = v
				}
			}
			bars = append(bars, bar)
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return "", nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return symbol, bars, nil
}

// StreamTrades writes each ledger received on in as a record of one IPC
// stream until in is closed or ctx is done.
func (p *Pipeline) StreamTrades(ctx context.Context, in <-chan []engine.TradeResult, w io.Writer) error {
	iw := ipc.NewWriter(w, ipc.WithSchema(tradeSchema), ipc.WithAllocator(p.memoryPool))
	batches := 0
	for {
		select {
		case <-ctx.Done():
			iw.Close()
			return ctx.Err()
		case trades, ok := <-in:
			if !ok {
				p.logger.Debug("trade stream closed", zap.Int("batches", batches))
				return iw.Close()
			}
			if len(trades) == 0 {
				continue
			}
			rec := p.tradeRecord(trades)
			err := iw.Write(rec)
			rec.Release()
			if err != nil {
				iw.Close()
				return fmt.Errorf("failed to write Arrow data: %w", err)
			}
			batches++
		}
	}
}

// WriteTradesFile encodes trades to path.
func (p *Pipeline) WriteTradesFile(path string, trades []engine.TradeResult) error {
	data, err := p.EncodeTrades(trades)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	p.logger.Info("trade ledger written", zap.String("path", path), zap.Int("trades", len(trades)))
	return nil
}

// WriteBarsFile encodes an enriched frame to path.
func (p *Pipeline) WriteBarsFile(path, symbol string, bars []engine.Bar) error {
	data, err := p.EncodeBars(symbol, bars)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	p.logger.Info("feature frame written", zap.String("path", path), zap.Int("bars", len(bars)))
	return nil
}

func indicatorNames(bars []engine.Bar) []string {
	seen := map[string]struct{}{}
	for _, b := range bars {
		for k := range b.Indicators {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func fromMillis(ts arrow.Timestamp) time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}
