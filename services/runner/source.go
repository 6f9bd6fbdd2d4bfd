package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quant-backtest/services/engine"
)

// BarSource supplies bars for one symbol in [from, to]. A zero bound is open.
type BarSource interface {
	LoadBars(ctx context.Context, symbol string, from, to time.Time) ([]engine.Bar, error)
}

// Sink receives each finished instrument report.
type Sink interface {
	SaveReport(ctx context.Context, m engine.RunManifest, instrument string, r *engine.Report) error
}

// MemorySource serves bars registered with Put. Used by the CLI and the
// server when bars arrive in the request.
type MemorySource struct {
	mu   sync.RWMutex
	bars map[string][]engine.Bar
}

func NewMemorySource() *MemorySource {
	return &MemorySource{bars: make(map[string][]engine.Bar)}
}

func (s *MemorySource) Put(symbol string, bars []engine.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[symbol] = bars
}

func (s *MemorySource) LoadBars(ctx context.Context, symbol string, from, to time.Time) ([]engine.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all, ok := s.bars[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	out := make([]engine.Bar, 0, len(all))
	for _, b := range all {
		if !from.IsZero() && b.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && b.Timestamp.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// Result is one instrument's report inside a job.
type Result struct {
	Instrument string         `json:"instrument"`
	Report     *engine.Report `json:"report"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// MemoryStore keeps job results in process. It is a Sink.
type MemoryStore struct {
	mu        sync.RWMutex
	manifests map[string]engine.RunManifest
	results   map[string][]Result
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		manifests: make(map[string]engine.RunManifest),
		results:   make(map[string][]Result),
	}
}

func (s *MemoryStore) SaveReport(_ context.Context, m engine.RunManifest, instrument string, r *engine.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[m.JobID] = m
	s.results[m.JobID] = append(s.results[m.JobID], Result{Instrument: instrument, Report: r})
	return nil
}

// Job returns the manifest and the results saved so far, in arrival order.
func (s *MemoryStore) Job(id string) (engine.RunManifest, []Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[id]
	if !ok {
		return engine.RunManifest{}, nil, false
	}
	return m, append([]Result(nil), s.results[id]...), true
}
