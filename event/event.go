// Package event carries out-of-band operational events emitted by the
// core, such as rate-limit violations.
package event

import (
	"sync"
	"time"
)

// Event is an operational event. Implementations are plain data.
type Event interface {
	// Kind returns a stable name for the event type.
	Kind() string
}

// RateExceeded is posted when an app's inbound traffic is rejected by
// admission control.
type RateExceeded struct {
	AppID      string    `msgpack:"app_id"`
	Limit      int       `msgpack:"limit"`
	OccurredAt time.Time `msgpack:"occurred_at"`
}

// Kind implements Event.
func (RateExceeded) Kind() string { return "rate_exceeded" }

// Poster delivers events to an alerting backend. Posting must never
// block message processing for long; implementations are expected to be
// fire-and-forget.
type Poster interface {
	Post(ev Event)
}

// Collector is an in-memory Poster that records events. It is the
// default when no alerting backend is wired, and the tool tests assert
// against.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Post records the event.
func (c *Collector) Post(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
