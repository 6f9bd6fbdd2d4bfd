package engine

import (
	"fmt"
	"math"
	"strings"
)

// ConfigurationError reports unusable run inputs. It is returned before any
// bar is simulated.
type ConfigurationError struct {
	Field string
	Index int // offending bar or signal, -1 for run-level fields
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Index >= 0 {
		subject := "bar"
		if strings.HasPrefix(e.Field, "signal.") {
			subject = "signal"
		}
		return fmt.Sprintf("configuration error: %s %d: %s: %s", subject, e.Index, e.Field, e.Msg)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Msg)
}

func configErr(field, msg string) error {
	return &ConfigurationError{Field: field, Index: -1, Msg: msg}
}

// validateBars checks the fields read on every bar. The vectorized path only
// needs close, the state machine also needs the high/low range.
func validateBars(bars []Bar, needRange bool) error {
	for i, b := range bars {
		if b.Timestamp.IsZero() {
			return &ConfigurationError{Field: "timestamp", Index: i, Msg: "missing"}
		}
		if !isFinite(b.Close) {
			return &ConfigurationError{Field: "close", Index: i, Msg: "missing or non-finite"}
		}
		if !needRange {
			continue
		}
		if !isFinite(b.High) {
			return &ConfigurationError{Field: "high", Index: i, Msg: "missing or non-finite"}
		}
		if !isFinite(b.Low) {
			return &ConfigurationError{Field: "low", Index: i, Msg: "missing or non-finite"}
		}
	}
	return nil
}

func validateSignals(signals []Signal) error {
	for i, s := range signals {
		if s.Timestamp.IsZero() {
			return &ConfigurationError{Field: "signal.timestamp", Index: i, Msg: "missing"}
		}
		if s.Side != SideBuy && s.Side != SideSell {
			return &ConfigurationError{Field: "signal.side", Index: i, Msg: "must be BUY or SELL"}
		}
		for _, f := range []struct {
			name string
			v    float64
		}{{"signal.entry", s.Entry}, {"signal.stop", s.Stop}, {"signal.target", s.Target}} {
			if !isFinite(f.v) {
				return &ConfigurationError{Field: f.name, Index: i, Msg: "missing or non-finite"}
			}
		}
	}
	return nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
