package marketdata

// Historical loader with checksum and gap detection

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"quant-backtest/services/engine"
)

type GapPolicy int

const (
	GapSkip GapPolicy = iota
	GapFlag
)

type LoaderConfig struct {
	GapPolicy GapPolicy
}

type Loader struct {
	cfg LoaderConfig
	log *zap.Logger
}

func NewLoader(cfg LoaderConfig, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cfg: cfg, log: logger}
}

// Checksum is the SHA-256 of the raw dataset bytes.
func (l *Loader) Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DetectGaps returns the timestamps of bars followed by a spacing larger
// than step.
func DetectGaps(bars []engine.Bar, step time.Duration) []time.Time {
	var gaps []time.Time
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Sub(bars[i-1].Timestamp) > step {
			gaps = append(gaps, bars[i-1].Timestamp)
		}
	}
	return gaps
}

// FlagGaps marks bars preceding a gap with a gap_after=1 indicator when the
// policy asks for it. Bars are modified in place.
func (l *Loader) FlagGaps(bars []engine.Bar, step time.Duration) int {
	gaps := DetectGaps(bars, step)
	if len(gaps) > 0 {
		l.log.Warn("gaps in bar data", zap.Int("gaps", len(gaps)), zap.Duration("step", step), zap.Time("first", gaps[0]))
	}
	if l.cfg.GapPolicy != GapFlag || len(gaps) == 0 {
		return len(gaps)
	}
	at := make(map[int64]bool, len(gaps))
	for _, g := range gaps {
		at[g.UnixNano()] = true
	}
	for i := range bars {
		if !at[bars[i].Timestamp.UnixNano()] {
			continue
		}
		ind := make(map[string]float64, len(bars[i].Indicators)+1)
		for k, v := range bars[i].Indicators {
			ind[k] = v
		}
		ind["gap_after"] = 1
		bars[i].Indicators = ind
	}
	return len(gaps)
}
