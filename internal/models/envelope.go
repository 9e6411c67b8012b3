package models

import "time"

// EventEnvelope is the only shape that crosses the transport boundary
// (spec.md §3 EventEnvelope, §4.10 Broadcast layer). Domain events inside
// the process are the unwrapped Data object; internal/broadcast is the
// sole place that constructs one of these.
type EventEnvelope struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEventEnvelope wraps a domain event for transport.
func NewEventEnvelope(event string, data any, now time.Time) EventEnvelope {
	return EventEnvelope{Event: event, Data: data, Timestamp: now}
}
