// Command ingest loads OHLCV CSV files into ClickHouse.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	ch "quant-backtest/services/clickhouse"
	"quant-backtest/services/config"
	"quant-backtest/services/marketdata"
)

type options struct {
	input     string
	symbol    string
	useHTTP   bool
	batchSize int
	derive    []int
	validate  bool
	force     bool
}

func main() {
	input := flag.String("input", "", "CSV file with OHLCV rows")
	symbol := flag.String("symbol", "", "symbol the rows belong to")
	configPath := flag.String("config", "", "YAML config path")
	useHTTP := flag.Bool("http", false, "bulk insert over the HTTP interface with an ingest ledger")
	batchSize := flag.Int("batch-size", 10000, "rows per HTTP batch")
	derive := flag.String("derive", "5,15", "comma separated minute intervals to derive (HTTP mode)")
	validate := flag.Bool("validate", true, "run validation suite before inserting")
	force := flag.Bool("force", false, "ingest even when the ledger already has the file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	intervals, err := parseIntervals(*derive)
	if err != nil {
		logger.Fatal("invalid --derive", zap.Error(err))
	}
	opts := options{
		input:     *input,
		symbol:    *symbol,
		useHTTP:   *useHTTP,
		batchSize: *batchSize,
		derive:    intervals,
		validate:  *validate,
		force:     *force,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := ingest(ctx, cfg.ClickHouse, opts, logger); err != nil {
		logger.Fatal("ingest failed", zap.Error(err))
	}
}

func ingest(ctx context.Context, cfg ch.Config, opts options, logger *zap.Logger) error {
	if opts.input == "" || opts.symbol == "" {
		return fmt.Errorf("--input and --symbol are required")
	}
	loader := marketdata.NewLoader(marketdata.LoaderConfig{}, logger)
	bars, stats, err := loader.LoadCSV(opts.input)
	if err != nil {
		return err
	}
	logger.Info("file parsed",
		zap.String("input", opts.input),
		zap.Int("rows", stats.Rows),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("cadence", stats.Cadence),
	)
	if opts.validate {
		if err := NewValidationSuite(stats.Cadence, logger).RunAllValidations(bars); err != nil {
			return err
		}
	}

	start := time.Now()
	if !opts.useHTTP {
		store, err := ch.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		return store.InsertBars(ctx, opts.symbol, bars)
	}

	client := ch.NewBatchClient(cfg, opts.batchSize, logger)
	if err := client.EnsureLedger(ctx); err != nil {
		return err
	}
	if !opts.force {
		entry, err := client.CheckLedger(ctx, opts.symbol, stats.Checksum)
		if err != nil {
			return err
		}
		if entry != nil {
			logger.Info("file already ingested, skipping",
				zap.String("symbol", opts.symbol),
				zap.String("sha256", stats.Checksum),
				zap.Int("rows", entry.RowCount),
			)
			return nil
		}
	}

	version := uint64(start.UnixMilli())
	for _, b := range bars {
		if err := client.Add(ctx, ch.NewBarRow(opts.symbol, cfg.Interval, b, version)); err != nil {
			return err
		}
	}
	if err := client.Close(ctx); err != nil {
		return err
	}
	if err := client.RecordLedger(ctx, ch.IngestLedger{
		Symbol:   opts.symbol,
		FileSHA:  stats.Checksum,
		RowCount: len(bars),
		Source:   filepath.Base(opts.input),
	}); err != nil {
		return err
	}
	for _, m := range opts.derive {
		if err := client.DeriveInterval(ctx, opts.symbol, m); err != nil {
			return fmt.Errorf("derive %dm: %w", m, err)
		}
	}
	logger.Info("ingest complete",
		zap.String("symbol", opts.symbol),
		zap.Int("rows", len(bars)),
		zap.Ints("derived", opts.derive),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func parseIntervals(v string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("interval %q must be a positive number of minutes", part)
		}
		out = append(out, n)
	}
	return out, nil
}
