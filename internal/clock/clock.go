// Package clock provides the wall-clock source used to stamp thoughts and
// sync cursors.
//
// The engine never calls time.Now directly. Every component that needs the
// current time receives a Clock, which lets tests pin "server time" to an
// exact instant and step it forward deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Real is the system clock. All values are UTC.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a manually driven clock for tests.
//
// Thread-safety: all methods are safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

// Now returns the frozen time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d and returns the new time.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// Set pins the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// Sequence is a clock shared by simulated devices: every reading is exactly
// one step after the previous one, so no two writers ever stamp the same
// instant. Safe for concurrent use.
type Sequence struct {
	mu   sync.Mutex
	last time.Time
	step time.Duration
}

// NewSequence returns a Sequence whose first reading is start+step. A step
// below one microsecond is raised to it, the storage resolution.
func NewSequence(start time.Time, step time.Duration) *Sequence {
	if step < time.Microsecond {
		step = time.Microsecond
	}
	return &Sequence{last: start.UTC(), step: step}
}

// Now advances the sequence and returns the new time.
func (s *Sequence) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = s.last.Add(s.step)
	return s.last
}
