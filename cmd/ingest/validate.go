package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"quant-backtest/services/engine"
	"quant-backtest/services/marketdata"
)

// ValidationSuite runs acceptance checks on bars before they are ingested.
type ValidationSuite struct {
	cadence time.Duration
	log     *zap.Logger
}

func NewValidationSuite(cadence time.Duration, logger *zap.Logger) *ValidationSuite {
	return &ValidationSuite{cadence: cadence, log: logger}
}

// RunAllValidations executes every check and returns the first failure.
func (v *ValidationSuite) RunAllValidations(bars []engine.Bar) error {
	if err := v.TestBoundaries(bars); err != nil {
		return fmt.Errorf("boundary test failed: %w", err)
	}
	if err := v.TestInvariants(bars); err != nil {
		return fmt.Errorf("invariant test failed: %w", err)
	}
	v.TestCounts(bars)
	v.log.Info("all validations passed", zap.Int("bars", len(bars)))
	return nil
}

// TestBoundaries verifies timestamps align to the cadence.
func (v *ValidationSuite) TestBoundaries(bars []engine.Bar) error {
	if v.cadence <= 0 {
		return nil
	}
	for i, b := range bars {
		if !b.Timestamp.Truncate(v.cadence).Equal(b.Timestamp) {
			return fmt.Errorf("bar %d at %s not aligned to %s", i, b.Timestamp.Format(time.RFC3339), v.cadence)
		}
	}
	return nil
}

// TestInvariants verifies low <= open,close <= high and non-negative volume.
func (v *ValidationSuite) TestInvariants(bars []engine.Bar) error {
	for i, b := range bars {
		if b.Low > b.High || b.Low > min(b.Open, b.Close) || b.High < max(b.Open, b.Close) {
			return fmt.Errorf("bar %d at %s: range [%v, %v] excludes open %v / close %v",
				i, b.Timestamp.Format(time.RFC3339), b.Low, b.High, b.Open, b.Close)
		}
		if b.Volume < 0 {
			return fmt.Errorf("bar %d: negative volume %v", i, b.Volume)
		}
	}
	return nil
}

// TestCounts reports missing bars. Gaps are logged, not fatal: sessions
// legitimately leave them.
func (v *ValidationSuite) TestCounts(bars []engine.Bar) int {
	if v.cadence <= 0 {
		return 0
	}
	gaps := marketdata.DetectGaps(bars, v.cadence)
	if len(gaps) > 0 {
		v.log.Warn("gaps detected", zap.Int("gaps", len(gaps)), zap.Time("first", gaps[0]))
	}
	return len(gaps)
}
