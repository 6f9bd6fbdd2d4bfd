package runner

// Parallel multi-instrument orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quant-backtest/services/engine"
	"quant-backtest/services/features"
	"quant-backtest/services/monitoring"
	"quant-backtest/strategies"
)

var ErrUnknownSymbol = errors.New("unknown symbol")

const defaultMaxWorkers = 4

// Job describes one multi-instrument backtest. An empty ID gets a fresh uuid.
type Job struct {
	ID          string           `json:"job_id,omitempty"`
	Instruments []string         `json:"instruments"`
	Mode        engine.Mode      `json:"mode"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Config      engine.RunConfig `json:"config"`
	// Strategies restricts the event path to the named generators. Empty means all.
	Strategies []string `json:"strategies,omitempty"`
	// Signals, when present for an instrument, replace strategy generation
	// for it.
	Signals map[string][]engine.Signal `json:"signals,omitempty"`
}

// Outcome holds results in the order of Job.Instruments.
type Outcome struct {
	Manifest engine.RunManifest `json:"manifest"`
	Results  []Result           `json:"results"`
}

type Config struct {
	MaxWorkers int
}

type Runner struct {
	cfg      Config
	source   BarSource
	pipeline *features.Pipeline
	cache    *features.Cache
	sinks    []Sink
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

type Option func(*Runner)

func WithSinks(sinks ...Sink) Option {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithCache(c *features.Cache) Option {
	return func(r *Runner) { r.cache = c }
}

func New(source BarSource, pipeline *features.Pipeline, cfg Config, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if pipeline == nil {
		pipeline = features.NewPipeline(features.DefaultConfig(), logger)
	}
	r := &Runner{
		cfg:      cfg,
		source:   source,
		pipeline: pipeline,
		cache:    features.NewCache(),
		log:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes job across its instruments with at most MaxWorkers in flight.
// Cancellation stops instruments that have not started; a started
// instrument always runs to completion. The first error aborts the job.
func (r *Runner) Run(ctx context.Context, job Job) (*Outcome, error) {
	if len(job.Instruments) == 0 {
		return nil, &engine.ConfigurationError{Field: "instruments", Index: -1, Msg: "at least one instrument required"}
	}
	mode, err := engine.ParseMode(string(job.Mode))
	if err != nil {
		return nil, &engine.ConfigurationError{Field: "mode", Index: -1, Msg: err.Error()}
	}
	if err := job.Config.Validate(); err != nil {
		return nil, err
	}
	source, err := signalSource(job.Strategies)
	if err != nil {
		return nil, err
	}

	manifest := engine.NewRunManifest(job.Config, mode, job.Instruments)
	if job.ID != "" {
		manifest.JobID = job.ID
	}
	log := r.log.With(zap.String("job_id", manifest.JobID), zap.String("mode", string(mode)))
	log.Info("job started", zap.Strings("instruments", job.Instruments), zap.Int("max_workers", r.cfg.MaxWorkers))

	results := make([]Result, len(job.Instruments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxWorkers)
	for i, symbol := range job.Instruments {
		i, symbol := i, symbol
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			report, err := r.runInstrument(gctx, job, mode, source, symbol, log)
			elapsed := time.Since(start)
			if r.metrics != nil {
				r.metrics.Observe(mode, symbol, elapsed, report, err)
			}
			if err != nil {
				return fmt.Errorf("instrument %s: %w", symbol, err)
			}
			results[i] = Result{Instrument: symbol, Report: report, Elapsed: elapsed}
			for _, sink := range r.sinks {
				if err := sink.SaveReport(gctx, manifest, symbol, report); err != nil {
					return fmt.Errorf("instrument %s: %w", symbol, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("job failed", zap.Error(err))
		return nil, err
	}

	log.Info("job completed", zap.Int("instruments", len(results)))
	return &Outcome{Manifest: manifest, Results: results}, nil
}

func (r *Runner) runInstrument(ctx context.Context, job Job, mode engine.Mode, source engine.SignalSource, symbol string, log *zap.Logger) (*engine.Report, error) {
	bars, err := r.source.LoadBars(ctx, symbol, job.From, job.To)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	pipeline := r.pipelineFor(job.Config)
	if len(bars) > 0 && !pipeline.Ready(bars) {
		key := r.cache.Key(symbol, job.From, job.To, pipeline.Config())
		if bars, err = r.cache.Enrich(key, pipeline, bars); err != nil {
			return nil, fmt.Errorf("compute features: %w", err)
		}
	}

	instLog := log.With(zap.String("instrument", symbol))
	if mode == engine.ModeVector {
		return engine.NewVectorBacktester(job.Config, nil, instLog).Run(bars)
	}
	if signals, ok := job.Signals[symbol]; ok {
		source = staticSource(signals)
	}
	return engine.NewEventBacktester(job.Config, source, nil, instLog).Run(bars, symbol)
}

// pipelineFor returns a pipeline whose label horizon is the run's horizon.
// Bars that arrive already labelled are trusted to use the same horizon.
func (r *Runner) pipelineFor(cfg engine.RunConfig) *features.Pipeline {
	pc := r.pipeline.Config()
	if cfg.Horizon <= 0 || pc.Label.Horizon == cfg.Horizon {
		return r.pipeline
	}
	pc.Label.Horizon = cfg.Horizon
	return features.NewPipeline(pc, r.log)
}

func signalSource(names []string) (engine.SignalSource, error) {
	if len(names) == 0 {
		return strategies.All(), nil
	}
	selected := make([]strategies.Strategy, 0, len(names))
	for _, name := range names {
		s, ok := strategies.ByName(name)
		if !ok {
			return nil, &engine.ConfigurationError{Field: "strategies", Index: -1, Msg: fmt.Sprintf("unknown strategy %q", name)}
		}
		selected = append(selected, s)
	}
	return strategies.NewSet(selected...), nil
}

// staticSource replays a fixed signal list.
type staticSource []engine.Signal

func (s staticSource) GenerateSignals([]engine.Bar, string) ([]engine.Signal, error) {
	return s, nil
}
