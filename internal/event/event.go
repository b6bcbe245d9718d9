// Package event carries change notifications from the write path to
// observers such as the websocket feed and the metrics collector.
package event

import (
	"sync"
	"time"

	"github.com/enso-notes/enso/internal/thought"
)

// Kind names what happened.
type Kind string

const (
	Created Kind = "created"
	Updated Kind = "updated"
	Deleted Kind = "deleted"
	Purged  Kind = "purged"
	// Synced closes a sync request or batch apply.
	Synced Kind = "synced"
)

// Event describes one committed change. Thought is nil for Purged and Synced.
type Event struct {
	Kind      Kind
	ThoughtID string
	Thought   *thought.Thought
	At        time.Time

	// Set for Synced.
	ClientID string
	Applied  int
	Stale    int
	Rejected int
	Returned int
	Duration time.Duration
}

// Sink receives events after the transaction that produced them commits.
// Publish must not block for long.
type Sink interface {
	Publish(Event)
}

// Sinks fans out to several sinks in order.
type Sinks []Sink

// Publish implements Sink.
func (s Sinks) Publish(e Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(e)
		}
	}
}

// Nop discards events.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(Event) {}

// Recorder keeps every event; used in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Sink.
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds lists the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	out := make([]Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}
