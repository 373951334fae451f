package models

import "time"

// EventState is a stage of the per-event processing state machine.
type EventState string

const (
	StateReceived   EventState = "received"
	StateNormalized EventState = "normalized"
	StateWindowed   EventState = "windowed"
	StateFeatured   EventState = "featured"
	StateScored     EventState = "scored"
	StateAlerted    EventState = "alerted"
	StateRejected   EventState = "rejected"
	StateDeferred   EventState = "deferred"
	StateDuplicate  EventState = "duplicate"
	StateDropped    EventState = "dropped"
	StateCanceled   EventState = "canceled"
)

// Terminal reports whether no further stage runs for the event.
func (s EventState) Terminal() bool {
	switch s {
	case StateScored, StateAlerted, StateRejected, StateDuplicate, StateDropped, StateCanceled:
		return true
	}
	return false
}

type Disposition struct {
	EventID   string     `json:"event_id"`
	EntityKey EntityKey  `json:"entity_key,omitempty"`
	State     EventState `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	Code      string     `json:"code,omitempty"`
	AlertID   string     `json:"alert_id,omitempty"`
	Attempt   int        `json:"attempt"`
	At        time.Time  `json:"at"`
}

// EventResult is everything one pass of an event through the pipeline produced.
type EventResult struct {
	Event       *TradeEvent
	Disposition Disposition
	Aggregates  []WindowAggregate
	Score       *AnomalyScore
	Alert       *Alert
}
