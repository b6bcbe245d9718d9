package sync

import (
	"context"
	"time"

	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/thought"
)

// Syncer merges snapshots into a store.
//
// Sync applies a client batch and returns the thoughts changed since the
// client's cursor. Apply only merges; the inbox importer, JSONL import and
// sync clients use it to load snapshots into a local store.
type Syncer interface {
	Sync(ctx context.Context, req Request) (*Response, error)
	Apply(ctx context.Context, changes []thought.Snapshot) (*Result, error)
}

// Request is a sync request from one device.
type Request struct {
	ClientID string             `json:"client_id" validate:"required,max=256"`
	Since    *time.Time         `json:"since,omitempty"`
	// SinceID resumes a page after the row (Since, SinceID).
	SinceID  string             `json:"since_id,omitempty" validate:"max=256"`
	Changes  []thought.Snapshot `json:"changes"`
}

// Response is the answer to a sync request.
type Response struct {
	Cursor   time.Time         `json:"cursor"`
	Changes  []thought.Thought `json:"changes"`
	HasMore  bool              `json:"has_more"`
	Applied  int               `json:"applied"`
	Stale    int               `json:"stale"`
	Rejected []Rejection       `json:"rejected,omitempty"`
}

// Result summarizes a merged batch.
type Result struct {
	// Applied counts changes that won and were written.
	Applied int
	// Stale counts changes that lost to newer stored state.
	Stale int
	// Rejected lists changes that were rolled back.
	Rejected []Rejection
	// Changed holds the stored state of every applied change, in apply order.
	Changed []thought.Thought
}

// Rejection reports a change that could not be merged.
type Rejection struct {
	ID    string    `json:"id"`
	Kind  errs.Kind `json:"type"`
	Error string    `json:"error"`
}
