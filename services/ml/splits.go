package ml

import (
	"errors"
	"fmt"
	"time"
)

var ErrInsufficientSplits = errors.New("insufficient walk-forward splits")

type WalkForwardConfig struct {
	TrainMonths int `yaml:"train_months" json:"train_months"`
	TestMonths  int `yaml:"test_months" json:"test_months"`
	MinSplits   int `yaml:"min_splits" json:"min_splits"`
}

func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{TrainMonths: 6, TestMonths: 1, MinSplits: 12}
}

func (c WalkForwardConfig) Validate() error {
	if c.TrainMonths <= 0 || c.TestMonths <= 0 {
		return fmt.Errorf("walk forward: train and test months must be positive, got %d/%d", c.TrainMonths, c.TestMonths)
	}
	if c.MinSplits < 0 {
		return fmt.Errorf("walk forward: min splits must not be negative, got %d", c.MinSplits)
	}
	return nil
}

// Split holds row indices of one fold. Train covers [TrainStart, TestStart),
// test covers [TestStart, TestEnd).
type Split struct {
	Fold       int
	Train      []int
	Test       []int
	TrainStart time.Time
	TestStart  time.Time
	TestEnd    time.Time
}

// WalkForwardSplits rolls a train window followed by a test window forward
// one test window at a time, starting at the earliest timestamp. It stops at
// the first fold with an empty train or test side.
func WalkForwardSplits(times []time.Time, cfg WalkForwardConfig) ([]Split, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var splits []Split
	if len(times) > 0 {
		start := times[0]
		for _, ts := range times[1:] {
			if ts.Before(start) {
				start = ts
			}
		}
		for {
			trainEnd := start.AddDate(0, cfg.TrainMonths, 0)
			testEnd := trainEnd.AddDate(0, cfg.TestMonths, 0)
			var train, test []int
			for i, ts := range times {
				switch {
				case !ts.Before(start) && ts.Before(trainEnd):
					train = append(train, i)
				case !ts.Before(trainEnd) && ts.Before(testEnd):
					test = append(test, i)
				}
			}
			if len(train) == 0 || len(test) == 0 {
				break
			}
			splits = append(splits, Split{
				Fold:       len(splits),
				Train:      train,
				Test:       test,
				TrainStart: start,
				TestStart:  trainEnd,
				TestEnd:    testEnd,
			})
			start = start.AddDate(0, cfg.TestMonths, 0)
		}
	}
	if len(splits) < cfg.MinSplits {
		return splits, fmt.Errorf("%w: %d < required %d", ErrInsufficientSplits, len(splits), cfg.MinSplits)
	}
	return splits, nil
}
