package engine

// Event-driven simulator: one position at a time, bar by bar

import (
	"sort"

	"go.uber.org/zap"
)

type Simulator struct {
	cfg RunConfig
	log *zap.Logger
}

func NewSimulator(cfg RunConfig, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{cfg: cfg, log: logger}
}

// Simulate turns signals into a chronological trade ledger. Bars are sorted
// defensively; inputs are not modified.
func (s *Simulator) Simulate(bars []Bar, signals []Signal) ([]TradeResult, *EventLog, error) {
	events := &EventLog{}
	if err := s.cfg.Validate(); err != nil {
		return nil, events, err
	}
	if err := validateBars(bars, true); err != nil {
		return nil, events, err
	}
	if err := validateSignals(signals); err != nil {
		return nil, events, err
	}
	trades := []TradeResult{}
	if len(bars) == 0 || len(signals) == 0 {
		return trades, events, nil
	}

	ordered := sortedBars(bars)
	queue := NewSignalQueue(signals)
	pm := NewPositionMachine(
		BpsSlippage{Bps: s.cfg.SlippageBps},
		FixedCommission{PerTrade: s.cfg.CommissionPerTrade},
	)

	lastIdx := len(ordered) - 1
	for i, bar := range ordered {
		due := queue.PullDue(bar.Timestamp)

		if len(due) > 0 {
			rest := due
			if pm.Enter(due[0], bar.Timestamp) {
				pos, _ := pm.Position()
				events.Append(Event{
					Ts:         bar.Timestamp,
					Type:       EventPositionOpened,
					Instrument: pos.Signal.Instrument,
					Strategy:   pos.Signal.Strategy,
					Price:      pos.EntryPrice,
				})
				s.log.Debug("position opened",
					zap.Time("ts", bar.Timestamp),
					zap.String("strategy", pos.Signal.Strategy),
					zap.Stringer("side", pos.Signal.Side),
					zap.Float64("entry", pos.EntryPrice),
				)
				rest = due[1:]
			}
			for _, sig := range rest {
				events.Append(Event{
					Ts:         bar.Timestamp,
					Type:       EventSignalDiscarded,
					Instrument: sig.Instrument,
					Strategy:   sig.Strategy,
					Price:      sig.Entry,
				})
			}
			if len(rest) > 0 {
				s.log.Debug("signals discarded", zap.Time("ts", bar.Timestamp), zap.Int("count", len(rest)))
			}
		}

		pos, open := pm.Position()
		if !open {
			continue
		}
		tr, closed := pm.Evaluate(bar, i == lastIdx)
		if !closed {
			continue
		}
		events.Append(Event{
			Ts:         tr.ExitTime,
			Type:       exitEvent(tr.ExitReason),
			Instrument: pos.Signal.Instrument,
			Strategy:   tr.Strategy,
			Price:      tr.ExitPrice,
		})
		s.log.Debug("position closed",
			zap.Time("ts", tr.ExitTime),
			zap.Stringer("reason", tr.ExitReason),
			zap.Float64("exit", tr.ExitPrice),
			zap.Float64("pnl", tr.PnL),
		)
		trades = append(trades, tr)
	}

	return trades, events, nil
}

func sortedBars(bars []Bar) []Bar {
	out := make([]Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
