package ml

// Walk-forward model training with a vectorized backtest per test fold

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"quant-backtest/services/engine"
	"quant-backtest/services/features"
)

type Config struct {
	Target           string            `yaml:"target_column" json:"target_column"`
	RegressionTarget string            `yaml:"regression_target" json:"regression_target"`
	FeatureColumns   []string          `yaml:"feature_columns" json:"feature_columns,omitempty"`
	Backends         []string          `yaml:"backends" json:"backends"`
	WalkForward      WalkForwardConfig `yaml:"walk_forward" json:"walk_forward"`
}

func DefaultConfig() Config {
	return Config{
		Target:           features.ColLabel,
		RegressionTarget: features.ColFutureReturn,
		Backends:         []string{LinearName},
		WalkForward:      DefaultWalkForwardConfig(),
	}
}

type FoldResult struct {
	Fold       int                    `json:"fold"`
	TestStart  time.Time              `json:"test_start"`
	TrainRows  int                    `json:"train_rows"`
	TestRows   int                    `json:"test_rows"`
	Accuracy   float64                `json:"accuracy"`
	MSE        float64                `json:"mse"`
	RMSE       float64                `json:"rmse"`
	Backtest   engine.BacktestMetrics `json:"backtest"`
	TestTrades int                    `json:"test_trades"`
}

type Summary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

type Result struct {
	Backend  string       `json:"backend"`
	Features []string     `json:"features"`
	Folds    []FoldResult `json:"folds"`
	Accuracy Summary      `json:"accuracy"`
	MSE      Summary      `json:"mse"`
}

// Experiment fits a regression of the forward return per fold and turns the
// predictions into labels with the pipeline's label thresholds.
type Experiment struct {
	cfg      Config
	pipeline *features.Pipeline
	registry *Registry
	run      engine.RunConfig
	log      *zap.Logger
}

func NewExperiment(cfg Config, pipeline *features.Pipeline, registry *Registry, run engine.RunConfig, logger *zap.Logger) *Experiment {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pipeline == nil {
		pipeline = features.NewPipeline(features.DefaultConfig(), logger)
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	// Fold backtests hold for the horizon the labels were computed over.
	run.Horizon = pipeline.Config().Label.Horizon
	return &Experiment{cfg: cfg, pipeline: pipeline, registry: registry, run: run, log: logger}
}

func (e *Experiment) Train(bars []engine.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("train: %w", &engine.ConfigurationError{Field: "bars", Index: -1, Msg: "no bars"})
	}
	if !e.pipeline.Ready(bars) {
		enriched, err := e.pipeline.Enrich(bars)
		if err != nil {
			return nil, fmt.Errorf("train: %w", err)
		}
		bars = enriched
	}

	// Rows past the label horizon have no target.
	rows := make([]engine.Bar, 0, len(bars))
	for _, b := range bars {
		_, okCls := b.Indicator(e.cfg.Target)
		_, okReg := b.Indicator(e.cfg.RegressionTarget)
		if okCls && okReg {
			rows = append(rows, b)
		}
	}
	cols := e.featureColumns()
	times := make([]time.Time, len(rows))
	for i, b := range rows {
		times[i] = b.Timestamp
	}
	splits, err := WalkForwardSplits(times, e.cfg.WalkForward)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	res := &Result{Features: cols, Folds: make([]FoldResult, 0, len(splits))}
	label := e.pipeline.Config().Label
	prefs := e.cfg.Backends
	if len(prefs) == 0 {
		prefs = []string{LinearName}
	}
	for _, sp := range splits {
		backend, err := e.registry.Select(prefs...)
		if err != nil {
			return nil, err
		}
		res.Backend = backend.Name()

		Xtr, ytr, _ := e.matrix(rows, sp.Train, cols)
		if err := backend.Fit(Xtr, ytr); err != nil {
			return nil, fmt.Errorf("fold %d: %w", sp.Fold, err)
		}
		Xte, yte, cls := e.matrix(rows, sp.Test, cols)
		preds, err := backend.Predict(Xte)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", sp.Fold, err)
		}

		fold := FoldResult{Fold: sp.Fold, TestStart: sp.TestStart, TrainRows: len(sp.Train), TestRows: len(sp.Test)}
		testBars := make([]engine.Bar, len(sp.Test))
		var hits, sq float64
		for k, idx := range sp.Test {
			predicted := classify(preds[k], label)
			if predicted == cls[k] {
				hits++
			}
			d := preds[k] - yte[k]
			sq += d * d

			b := rows[idx]
			ind := make(map[string]float64, len(b.Indicators))
			for name, v := range b.Indicators {
				ind[name] = v
			}
			ind[features.ColLabel] = predicted
			b.Indicators = ind
			testBars[k] = b
		}
		n := float64(len(sp.Test))
		fold.Accuracy = hits / n
		fold.MSE = sq / n
		fold.RMSE = math.Sqrt(fold.MSE)

		report, err := engine.NewVectorBacktester(e.run, nil, e.log).Run(testBars)
		if err != nil {
			return nil, fmt.Errorf("fold %d backtest: %w", sp.Fold, err)
		}
		fold.Backtest = report.Metrics
		fold.TestTrades = len(report.Trades)
		res.Folds = append(res.Folds, fold)

		e.log.Info("fold trained",
			zap.Int("fold", sp.Fold),
			zap.String("backend", backend.Name()),
			zap.Float64("accuracy", fold.Accuracy),
			zap.Float64("mse", fold.MSE),
			zap.Float64("sharpe", fold.Backtest.Sharpe),
		)
	}

	acc := make([]float64, len(res.Folds))
	mse := make([]float64, len(res.Folds))
	for i, f := range res.Folds {
		acc[i], mse[i] = f.Accuracy, f.MSE
	}
	res.Accuracy = summarize(acc)
	res.MSE = summarize(mse)
	return res, nil
}

// featureColumns defaults to every pipeline column except the targets.
func (e *Experiment) featureColumns() []string {
	if len(e.cfg.FeatureColumns) > 0 {
		return e.cfg.FeatureColumns
	}
	var cols []string
	for _, c := range e.pipeline.Columns() {
		if c != e.cfg.Target && c != e.cfg.RegressionTarget {
			cols = append(cols, c)
		}
	}
	return cols
}

// matrix builds the design matrix for idx. Missing values become 0.
func (e *Experiment) matrix(rows []engine.Bar, idx []int, cols []string) (*mat.Dense, []float64, []float64) {
	X := mat.NewDense(len(idx), len(cols), nil)
	y := make([]float64, len(idx))
	cls := make([]float64, len(idx))
	for r, i := range idx {
		b := rows[i]
		for c, name := range cols {
			v, _ := b.Indicator(name)
			if math.IsInf(v, 0) {
				v = 0
			}
			X.Set(r, c, v)
		}
		y[r], _ = b.Indicator(e.cfg.RegressionTarget)
		cls[r], _ = b.Indicator(e.cfg.Target)
	}
	return X, y, cls
}

func classify(pred float64, cfg features.LabelConfig) float64 {
	switch {
	case pred >= cfg.LongThreshold:
		return 1
	case pred <= cfg.ShortThreshold:
		return -1
	}
	return 0
}

func summarize(v []float64) Summary {
	if len(v) == 0 {
		return Summary{}
	}
	m, s := stat.PopMeanStdDev(v, nil)
	return Summary{Mean: m, Std: s}
}
