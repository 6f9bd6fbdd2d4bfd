//! backtest - command line front end
//!
//!   backtest features --input bars.csv --output features.arrow
//!   backtest backtest --input bars.csv --instrument SPY --mode event|vector [--strategies VRB,EMA_ATR]
//!   backtest train    --input bars.csv [--config backtest.yaml]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"quant-backtest/services/arrowpipeline"
	"quant-backtest/services/config"
	"quant-backtest/services/engine"
	"quant-backtest/services/features"
	"quant-backtest/services/marketdata"
	"quant-backtest/services/ml"
	"quant-backtest/services/report"
	"quant-backtest/services/runner"
)

const usage = "usage: backtest <features|backtest|train> [flags]"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "features":
		return cmdFeatures(args[1:], stdout)
	case "backtest":
		return cmdBacktest(ctx, args[1:], stdout)
	case "train":
		return cmdTrain(args[1:], stdout)
	}
	return fmt.Errorf("unknown command %q\n%s", args[0], usage)
}

type common struct {
	input      string
	configPath string
	debug      bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.input, "input", "", "CSV source with OHLCV data")
	fs.StringVar(&c.configPath, "config", "", "optional YAML config path")
	fs.BoolVar(&c.debug, "debug", false, "development logging")
}

// setup loads config, builds the logger and reads the input bars.
func (c *common) setup() (*config.Config, *zap.Logger, []engine.Bar, error) {
	if c.input == "" {
		return nil, nil, nil, errors.New("--input is required")
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := zap.NewProduction()
	if c.debug {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	loader := marketdata.NewLoader(marketdata.LoaderConfig{GapPolicy: marketdata.GapFlag}, logger)
	bars, stats, err := loader.LoadCSV(c.input)
	if err != nil {
		return nil, nil, nil, err
	}
	gaps := loader.FlagGaps(bars, stats.Cadence)
	logger.Info("bars loaded",
		zap.String("input", c.input),
		zap.Int("rows", stats.Rows),
		zap.Int("skipped", stats.Skipped),
		zap.Int("duplicates", stats.Duplicates),
		zap.Duration("cadence", stats.Cadence),
		zap.Int("gaps", gaps),
		zap.String("sha256", stats.Checksum),
	)
	return cfg, logger, bars, nil
}

func cmdFeatures(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("features", flag.ContinueOnError)
	var c common
	c.register(fs)
	output := fs.String("output", "", "destination Arrow IPC file")
	instrument := fs.String("instrument", "", "instrument recorded in the file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		return errors.New("--output is required")
	}
	cfg, logger, bars, err := c.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	enriched, err := features.NewPipeline(cfg.Features, logger).Enrich(bars)
	if err != nil {
		return err
	}
	if err := arrowpipeline.NewPipeline(cfg.Arrow, logger).WriteBarsFile(*output, *instrument, enriched); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Features saved to %s\n", *output)
	return nil
}

func cmdBacktest(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	var c common
	c.register(fs)
	instrument := fs.String("instrument", "", "instrument symbol")
	mode := fs.String("mode", string(engine.ModeEvent), "event or vector")
	tradesCSV := fs.String("trades-csv", "", "write the trade ledger as CSV")
	equityCSV := fs.String("equity-csv", "", "write the equity curve as CSV")
	arrowOut := fs.String("arrow-out", "", "write the trade ledger as Arrow IPC")
	strats := fs.String("strategies", "", "comma separated strategy names (default TPB_VWAP,ORB_15,VRB)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instrument == "" {
		return errors.New("--instrument is required")
	}
	m, err := engine.ParseMode(*mode)
	if err != nil {
		return err
	}
	cfg, logger, bars, err := c.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	source := runner.NewMemorySource()
	source.Put(*instrument, bars)
	r := runner.New(source, features.NewPipeline(cfg.Features, logger), runner.Config{MaxWorkers: 1}, logger)
	job := runner.Job{Instruments: []string{*instrument}, Mode: m, Config: cfg.RunConfig()}
	for _, name := range strings.Split(*strats, ",") {
		if name = strings.TrimSpace(name); name != "" {
			job.Strategies = append(job.Strategies, name)
		}
	}
	out, err := r.Run(ctx, job)
	if err != nil {
		return err
	}
	rep := out.Results[0].Report

	if *tradesCSV != "" {
		if err := report.WriteFile(*tradesCSV, func(w io.Writer) error { return report.WriteTradesCSV(w, rep.Trades) }); err != nil {
			return err
		}
	}
	if *equityCSV != "" {
		if err := report.WriteFile(*equityCSV, func(w io.Writer) error { return report.WriteEquityCSV(w, rep.EquityCurve) }); err != nil {
			return err
		}
	}
	if *arrowOut != "" {
		if err := arrowpipeline.NewPipeline(cfg.Arrow, logger).WriteTradesFile(*arrowOut, rep.Trades); err != nil {
			return err
		}
	}
	return report.WriteJSON(stdout, report.NewSummary(*instrument, rep, cfg.Engine.InitialEquity))
}

func cmdTrain(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, logger, bars, err := c.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	pipeline := features.NewPipeline(cfg.Features, logger)
	res, err := ml.NewExperiment(cfg.ML, pipeline, ml.DefaultRegistry(), cfg.RunConfig(), logger).Train(bars)
	if err != nil {
		return err
	}
	return report.WriteJSON(stdout, res)
}
