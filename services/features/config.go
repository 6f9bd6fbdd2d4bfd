package features

import "fmt"

// IndicatorConfig holds indicator lengths.
type IndicatorConfig struct {
	EMALen         int `yaml:"ema_len" json:"ema_len"`
	SMALen         int `yaml:"sma_len" json:"sma_len"`
	ATRLen         int `yaml:"atr_len" json:"atr_len"`
	RSIFast        int `yaml:"rsi_fast" json:"rsi_fast"`
	RSISlow        int `yaml:"rsi_slow" json:"rsi_slow"`
	SigmaWindow    int `yaml:"sigma_window" json:"sigma_window"`
	SpreadWindow   int `yaml:"spread_window" json:"spread_window"`
	ResidualWindow int `yaml:"residual_window" json:"residual_window"`
}

// LabelConfig sets the forward horizon in bars and the return thresholds
// for long and short labels.
type LabelConfig struct {
	Horizon        int     `yaml:"horizon" json:"horizon"`
	LongThreshold  float64 `yaml:"long_threshold" json:"long_threshold"`
	ShortThreshold float64 `yaml:"short_threshold" json:"short_threshold"`
}

type Config struct {
	Indicator      IndicatorConfig `yaml:"indicator" json:"indicator"`
	Lags           []int           `yaml:"lags" json:"lags"`
	RollingWindows []int           `yaml:"rolling_windows" json:"rolling_windows"`
	Label          LabelConfig     `yaml:"label" json:"label"`
}

func DefaultConfig() Config {
	return Config{
		Indicator: IndicatorConfig{
			EMALen:         200,
			SMALen:         20,
			ATRLen:         14,
			RSIFast:        7,
			RSISlow:        14,
			SigmaWindow:    60,
			SpreadWindow:   15,
			ResidualWindow: 60,
		},
		Lags:           []int{1, 5, 15},
		RollingWindows: []int{5, 15, 30},
		Label: LabelConfig{
			Horizon:        12,
			LongThreshold:  0.003,
			ShortThreshold: -0.003,
		},
	}
}

func (c Config) Validate() error {
	ic := c.Indicator
	for name, v := range map[string]int{
		"ema_len": ic.EMALen, "sma_len": ic.SMALen, "atr_len": ic.ATRLen,
		"rsi_fast": ic.RSIFast, "rsi_slow": ic.RSISlow, "sigma_window": ic.SigmaWindow,
		"spread_window": ic.SpreadWindow, "residual_window": ic.ResidualWindow,
	} {
		if v <= 0 {
			return fmt.Errorf("features: %s must be positive, got %d", name, v)
		}
	}
	for _, w := range c.RollingWindows {
		if w <= 0 {
			return fmt.Errorf("features: rolling window must be positive, got %d", w)
		}
	}
	if c.Label.Horizon <= 0 {
		return fmt.Errorf("features: label horizon must be positive, got %d", c.Label.Horizon)
	}
	if c.Label.ShortThreshold > c.Label.LongThreshold {
		return fmt.Errorf("features: short threshold %v above long threshold %v", c.Label.ShortThreshold, c.Label.LongThreshold)
	}
	return nil
}
