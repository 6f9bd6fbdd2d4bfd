package engine

import (
	"sort"
	"time"
)

// SignalQueue hands out signals in timestamp order. The cursor only moves
// forward, so a signal is returned at most once.
type SignalQueue struct {
	signals []Signal
	cursor  int
}

// NewSignalQueue copies signals and sorts them by timestamp, keeping the
// original order for equal timestamps.
func NewSignalQueue(signals []Signal) *SignalQueue {
	sorted := make([]Signal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &SignalQueue{signals: sorted}
}

// PullDue consumes and returns every remaining signal with timestamp <= t.
func (q *SignalQueue) PullDue(t time.Time) []Signal {
	start := q.cursor
	for q.cursor < len(q.signals) && !q.signals[q.cursor].Timestamp.After(t) {
		q.cursor++
	}
	if q.cursor == start {
		return nil
	}
	return q.signals[start:q.cursor:q.cursor]
}

// Remaining is the number of signals not yet pulled.
func (q *SignalQueue) Remaining() int { return len(q.signals) - q.cursor }

func (q *SignalQueue) Len() int { return len(q.signals) }
