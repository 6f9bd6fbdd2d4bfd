package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "quant-backtest/proto"
	"quant-backtest/services/config"
	"quant-backtest/services/engine"
	"quant-backtest/services/features"
	"quant-backtest/services/monitoring"
	"quant-backtest/services/runner"
)

var errNoStore = errors.New("no bar store configured and no bars in request")

// BacktestService serves backtests over gRPC and REST.
type BacktestService struct {
	pb.UnimplementedBacktestServiceServer
	cfg      *config.Config
	store    runner.BarSource // nil without ClickHouse
	sinks    []runner.Sink
	results  *runner.MemoryStore
	pipeline *features.Pipeline
	cache    *features.Cache
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

func NewBacktestService(cfg *config.Config, store runner.BarSource, metrics *monitoring.Metrics, logger *zap.Logger, sinks ...runner.Sink) *BacktestService {
	if metrics == nil {
		metrics = monitoring.New()
	}
	return &BacktestService{
		cfg:      cfg,
		store:    store,
		sinks:    sinks,
		results:  runner.NewMemoryStore(),
		pipeline: features.NewPipeline(cfg.Features, logger),
		cache:    features.NewCache(),
		metrics:  metrics,
		logger:   logger,
	}
}

// ExecuteBacktest implements the gRPC ExecuteBacktest method.
func (s *BacktestService) ExecuteBacktest(ctx context.Context, req *pb.BacktestRequest) (*pb.BacktestResponse, error) {
	resp, apiErr := s.execute(ctx, req)
	if apiErr != nil {
		return nil, status.Error(grpcCode(apiErr), apiErr.Error())
	}
	return resp, nil
}

func (s *BacktestService) execute(ctx context.Context, req *pb.BacktestRequest) (*pb.BacktestResponse, *pb.APIError) {
	startTime := time.Now()
	job, source, opts, apiErr := s.buildJob(req)
	if apiErr != nil {
		return nil, apiErr
	}

	s.logger.Info("Starting backtest execution",
		zap.Strings("instruments", job.Instruments),
		zap.String("mode", string(job.Mode)),
		zap.Int("inline_instruments", len(req.Bars)),
	)
	opts = append(opts, runner.WithMetrics(s.metrics), runner.WithSinks(append([]runner.Sink{s.results}, s.sinks...)...))
	r := runner.New(source, s.pipeline, runner.Config{MaxWorkers: s.cfg.Engine.MaxWorkers}, s.logger, opts...)
	out, err := r.Run(ctx, job)
	if err != nil {
		s.logger.Error("Backtest execution failed", zap.Error(err))
		return nil, classify(err)
	}

	resp := &pb.BacktestResponse{
		JobId:         out.Manifest.JobID,
		ExecutionTime: time.Since(startTime).Milliseconds(),
		SymbolResults: make([]*pb.SymbolResult, len(out.Results)),
		Manifest:      fromManifest(out.Manifest),
	}
	for i, res := range out.Results {
		resp.SymbolResults[i] = fromResult(res)
	}
	s.logger.Info("Backtest completed",
		zap.String("job_id", resp.JobId),
		zap.Int64("execution_time_ms", resp.ExecutionTime),
		zap.Int("symbol_count", len(resp.SymbolResults)),
	)
	return resp, nil
}

func (s *BacktestService) buildJob(req *pb.BacktestRequest) (runner.Job, runner.BarSource, []runner.Option, *pb.APIError) {
	if req == nil || len(req.Instruments) == 0 {
		return runner.Job{}, nil, nil, pb.NewInvalidParams("instruments: at least one required")
	}
	mode := engine.ModeEvent
	if req.Mode != "" {
		m, err := engine.ParseMode(req.Mode)
		if err != nil {
			return runner.Job{}, nil, nil, pb.NewInvalidParams(err.Error())
		}
		mode = m
	}
	runCfg, err := applyRunConfig(s.cfg.RunConfig(), req.Config)
	if err != nil {
		return runner.Job{}, nil, nil, pb.NewInvalidParams(err.Error())
	}
	signals, err := toSignals(req.Signals)
	if err != nil {
		return runner.Job{}, nil, nil, pb.NewInvalidParams(err.Error())
	}
	job := runner.Job{
		Instruments: req.Instruments,
		Mode:        mode,
		From:        fromMillis(req.StartTime),
		To:          fromMillis(req.EndTime),
		Config:      runCfg,
		Strategies:  req.Strategies,
		Signals:     signals,
	}

	if len(req.Bars) == 0 {
		if s.store == nil {
			return runner.Job{}, nil, nil, pb.NewDataNotFound(errNoStore.Error())
		}
		// Stored bars are stable per range, so enriched frames are shared.
		return job, s.store, []runner.Option{runner.WithCache(s.cache)}, nil
	}
	mem := runner.NewMemorySource()
	for symbol, raw := range req.Bars {
		bars, err := toBars(raw)
		if err != nil {
			return runner.Job{}, nil, nil, pb.NewInvalidParams(fmt.Sprintf("%s: %v", symbol, err))
		}
		mem.Put(symbol, bars)
	}
	return job, mem, nil, nil
}

func classify(err error) *pb.APIError {
	var cfgErr *engine.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return pb.NewInvalidParams(err.Error())
	case errors.Is(err, runner.ErrUnknownSymbol):
		return pb.NewDataNotFound(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return pb.NewTimeout(err.Error())
	}
	return pb.NewExecutionFailed(err.Error())
}

func grpcCode(e *pb.APIError) codes.Code {
	switch e.Code {
	case pb.CodeInvalidParams:
		return codes.InvalidArgument
	case pb.CodeDataNotFound:
		return codes.NotFound
	case pb.CodeTimeout:
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

func httpStatus(e *pb.APIError) int {
	switch e.Code {
	case pb.CodeInvalidParams:
		return http.StatusBadRequest
	case pb.CodeDataNotFound:
		return http.StatusNotFound
	case pb.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// jobResult renders a finished job in instrument order.
func (s *BacktestService) jobResult(id string) (*pb.BacktestResponse, bool) {
	manifest, results, ok := s.results.Job(id)
	if !ok {
		return nil, false
	}
	order := make(map[string]int, len(manifest.Instruments))
	for i, inst := range manifest.Instruments {
		order[inst] = i
	}
	sort.SliceStable(results, func(i, j int) bool { return order[results[i].Instrument] < order[results[j].Instrument] })

	resp := &pb.BacktestResponse{
		JobId:         id,
		SymbolResults: make([]*pb.SymbolResult, len(results)),
		Manifest:      fromManifest(manifest),
	}
	for i, res := range results {
		resp.SymbolResults[i] = fromResult(res)
	}
	return resp, true
}
