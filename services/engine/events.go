package engine

import "time"

type EventType int

const (
	EventPositionOpened EventType = iota
	EventStopHit
	EventTakeProfitHit
	EventExpiry
	EventSignalDiscarded
)

func (t EventType) String() string {
	switch t {
	case EventPositionOpened:
		return "position_opened"
	case EventStopHit:
		return "stop_hit"
	case EventTakeProfitHit:
		return "take_profit_hit"
	case EventExpiry:
		return "expiry"
	case EventSignalDiscarded:
		return "signal_discarded"
	default:
		return "unknown"
	}
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

type Event struct {
	Ts         time.Time `json:"ts"`
	Type       EventType `json:"type"`
	Instrument string    `json:"instrument,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Price      float64   `json:"price"`
}

type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) { l.Events = append(l.Events, e) }

// Count returns how many events of type t were logged.
func (l *EventLog) Count(t EventType) int {
	n := 0
	for _, e := range l.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func exitEvent(r ExitReason) EventType {
	switch r {
	case ExitStop:
		return EventStopHit
	case ExitTarget:
		return EventTakeProfitHit
	default:
		return EventExpiry
	}
}
