package engine

// Run configuration and reproducibility manifest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const EngineVersion = "1.2.0"

// Mode selects the evaluation path.
type Mode string

const (
	ModeEvent  Mode = "event"
	ModeVector Mode = "vector"
)

func ParseMode(v string) (Mode, error) {
	switch Mode(v) {
	case ModeEvent, ModeVector:
		return Mode(v), nil
	}
	return "", fmt.Errorf("unknown mode %q (want event or vector)", v)
}

type RunConfig struct {
	InitialEquity      float64 `json:"initial_equity" yaml:"initial_equity"`
	SlippageBps        float64 `json:"slippage_bps" yaml:"slippage_bps"`
	CommissionPerTrade float64 `json:"commission_per_trade" yaml:"commission_per_trade"`
	// Horizon is the fixed holding period in bars of the vectorized path.
	Horizon int `json:"horizon" yaml:"horizon"`
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		InitialEquity:      100_000,
		SlippageBps:        5,
		CommissionPerTrade: 0,
		Horizon:            12,
	}
}

func (c RunConfig) Validate() error {
	if !(c.InitialEquity > 0) || math.IsInf(c.InitialEquity, 0) {
		return configErr("initial_equity", "must be a positive finite number")
	}
	if c.SlippageBps < 0 || math.IsNaN(c.SlippageBps) || math.IsInf(c.SlippageBps, 0) {
		return configErr("slippage_bps", "must be a non-negative finite number")
	}
	if c.CommissionPerTrade < 0 || math.IsNaN(c.CommissionPerTrade) || math.IsInf(c.CommissionPerTrade, 0) {
		return configErr("commission_per_trade", "must be a non-negative finite number")
	}
	return nil
}

// Slippage returns slippage as a fraction of price.
func (c RunConfig) Slippage() float64 { return c.SlippageBps / 10_000.0 }

// Hash is the sha256 of the JSON encoding, used to tie reports to their inputs.
func (c RunConfig) Hash() string {
	b, _ := json.Marshal(c)
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

// RunManifest identifies a run for later reproduction.
type RunManifest struct {
	JobID         string    `json:"job_id"`
	Mode          Mode      `json:"mode"`
	Instruments   []string  `json:"instruments"`
	ConfigHash    string    `json:"config_hash"`
	Config        RunConfig `json:"config"`
	EngineVersion string    `json:"engine_version"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewRunManifest(cfg RunConfig, mode Mode, instruments []string) RunManifest {
	return RunManifest{
		JobID:         uuid.NewString(),
		Mode:          mode,
		Instruments:   append([]string(nil), instruments...),
		ConfigHash:    cfg.Hash(),
		Config:        cfg,
		EngineVersion: EngineVersion,
		CreatedAt:     time.Now().UTC(),
	}
}
