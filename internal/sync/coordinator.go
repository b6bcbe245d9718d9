package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/clock"
	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/event"
	"github.com/enso-notes/enso/internal/reconcile"
	"github.com/enso-notes/enso/internal/store"
	"github.com/enso-notes/enso/internal/thought"
)

// DefaultPageSize bounds a sync response when no page size is configured.
const DefaultPageSize = 100

// Coordinator implements Syncer on top of a store.DB.
type Coordinator struct {
	db       *store.DB
	clock    clock.Clock
	pageSize int
	logger   *zap.Logger
	sink     event.Sink
}

var _ Syncer = (*Coordinator)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for cursors and missing timestamps.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithPageSize sets the maximum number of thoughts per response.
func WithPageSize(n int) Option {
	return func(co *Coordinator) { co.pageSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithSink sets where change events go after commit.
func WithSink(s event.Sink) Option {
	return func(co *Coordinator) { co.sink = s }
}

// NewCoordinator creates a Coordinator. The schema must already exist.
func NewCoordinator(db *store.DB, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:       db,
		clock:    clock.Real{},
		pageSize: DefaultPageSize,
		logger:   zap.NewNop(),
		sink:     event.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pageSize < 1 {
		c.pageSize = DefaultPageSize
	}
	return c
}

// PageSize returns the configured page size.
func (c *Coordinator) PageSize() int {
	return c.pageSize
}

// Sync implements Syncer.Sync.
func (c *Coordinator) Sync(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.ClientID) == "" {
		return nil, errs.Validation("client_id is required")
	}
	started := time.Now()

	since, afterID := Epoch, ""
	if req.Since != nil && !req.Since.IsZero() {
		since, afterID = *req.Since, strings.TrimSpace(req.SinceID)
	}

	var resp *Response
	var events []event.Event
	err := c.db.WithTx(ctx, func(tx *store.Tx) error {
		now := thought.NormalizeTime(c.clock.Now())

		res, evs, err := c.apply(ctx, tx, req.Changes, now)
		if err != nil {
			return err
		}
		changes, hasMore, err := PageAfter(ctx, tx, since, afterID, c.pageSize)
		if err != nil {
			return err
		}

		events = evs
		resp = &Response{
			Cursor:   now,
			Changes:  changes,
			HasMore:  hasMore,
			Applied:  res.Applied,
			Stale:    res.Stale,
			Rejected: res.Rejected,
		}
		return nil
	})
	if err != nil {
		c.logger.Error("sync failed", zap.String("client_id", req.ClientID), zap.Error(err))
		return nil, err
	}

	elapsed := time.Since(started)
	c.publish(events, event.Event{
		Kind:     event.Synced,
		ClientID: req.ClientID,
		Applied:  resp.Applied,
		Stale:    resp.Stale,
		Rejected: len(resp.Rejected),
		Returned: len(resp.Changes),
		Duration: elapsed,
		At:       resp.Cursor,
	})
	c.logger.Info("sync complete",
		zap.String("client_id", req.ClientID),
		zap.Int("received", len(req.Changes)),
		zap.Int("applied", resp.Applied),
		zap.Int("stale", resp.Stale),
		zap.Int("rejected", len(resp.Rejected)),
		zap.Int("returned", len(resp.Changes)),
		zap.Bool("has_more", resp.HasMore),
		zap.Duration("duration", elapsed),
	)
	return resp, nil
}

// Apply implements Syncer.Apply.
func (c *Coordinator) Apply(ctx context.Context, changes []thought.Snapshot) (*Result, error) {
	started := time.Now()

	var res *Result
	var events []event.Event
	var now time.Time
	err := c.db.WithTx(ctx, func(tx *store.Tx) error {
		now = thought.NormalizeTime(c.clock.Now())
		r, evs, err := c.apply(ctx, tx, changes, now)
		if err != nil {
			return err
		}
		res, events = r, evs
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.publish(events, event.Event{
		Kind:     event.Synced,
		Applied:  res.Applied,
		Stale:    res.Stale,
		Rejected: len(res.Rejected),
		Duration: time.Since(started),
		At:       now,
	})
	c.logger.Debug("batch applied",
		zap.Int("received", len(changes)),
		zap.Int("applied", res.Applied),
		zap.Int("stale", res.Stale),
		zap.Int("rejected", len(res.Rejected)),
	)
	return res, nil
}

type outcome int

const (
	outcomeStale outcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeDeleted
)

var outcomeKinds = map[outcome]event.Kind{
	outcomeCreated: event.Created,
	outcomeUpdated: event.Updated,
	outcomeDeleted: event.Deleted,
}

// apply merges changes inside tx. Rejections are collected; any other error
// is returned and aborts the transaction.
func (c *Coordinator) apply(ctx context.Context, tx *store.Tx, changes []thought.Snapshot, now time.Time) (*Result, []event.Event, error) {
	res := &Result{Changed: []thought.Thought{}}
	var events []event.Event

	snaps := make([]thought.Snapshot, len(changes))
	failed := make([]error, len(changes))
	var pending []int
	for i, snap := range changes {
		if err := snap.Normalize(); err != nil {
			failed[i] = err
			continue
		}
		if snap.ID == "" {
			snap.ID = thought.NewID(now)
		}
		snaps[i] = snap
		pending = append(pending, i)
	}

	// Changes whose link targets arrive later in the batch are retried
	// until a pass makes no progress.
	for len(pending) > 0 {
		var retry []int
		progressed := false
		for _, i := range pending {
			stored, out, err := c.applyOne(ctx, tx, snaps[i], now)
			if err != nil {
				if !errs.IsRejection(err) {
					return nil, nil, fmt.Errorf("failed to apply %s: %w", snaps[i].ID, err)
				}
				failed[i] = err
				if errs.KindOf(err) == errs.KindTargetNotFound {
					retry = append(retry, i)
				}
				continue
			}
			failed[i] = nil
			progressed = true

			if out == outcomeStale {
				res.Stale++
				c.logger.Debug("stale change ignored", zap.String("id", snaps[i].ID))
				continue
			}
			res.Applied++
			res.Changed = append(res.Changed, stored)
			events = append(events, event.Event{
				Kind:      outcomeKinds[out],
				ThoughtID: stored.ID,
				Thought:   &stored,
				At:        now,
			})
		}
		if !progressed {
			break
		}
		pending = retry
	}

	for i, err := range failed {
		if err == nil {
			continue
		}
		id := snaps[i].ID
		if id == "" {
			id = strings.TrimSpace(changes[i].ID)
		}
		res.Rejected = append(res.Rejected, Rejection{ID: id, Kind: errs.KindOf(err), Error: err.Error()})
		c.logger.Warn("change rejected", zap.String("id", id), zap.Error(err))
	}
	return res, events, nil
}

// applyOne merges a single normalized snapshot inside its own savepoint.
func (c *Coordinator) applyOne(ctx context.Context, tx *store.Tx, snap thought.Snapshot, now time.Time) (thought.Thought, outcome, error) {
	var stored thought.Thought
	out := outcomeStale

	err := tx.Savepoint(ctx, func() error {
		existing, err := tx.FindThought(ctx, snap.ID)
		if err != nil {
			return err
		}
		resolved, changed := Resolve(existing, snap, now)
		if !changed {
			return nil
		}
		if err := resolved.Validate(); err != nil {
			return err
		}

		if err := tx.PutThought(ctx, resolved); err != nil {
			return err
		}
		if _, err := reconcile.Tags(ctx, tx, resolved.ID, resolved.Tags); err != nil {
			return err
		}
		if _, err := reconcile.Links(ctx, tx, resolved.ID, resolved.Links, resolved.UpdatedAt); err != nil {
			return err
		}

		switch {
		case resolved.IsDeleted() && (existing == nil || !existing.IsDeleted()):
			if _, err := reconcile.RetractIncoming(ctx, tx, resolved.ID); err != nil {
				return err
			}
			out = outcomeDeleted
		case existing == nil:
			out = outcomeCreated
		default:
			out = outcomeUpdated
		}

		stored, err = tx.GetThought(ctx, resolved.ID)
		return err
	})
	if err != nil {
		return thought.Thought{}, outcomeStale, err
	}
	return stored, out, nil
}

func (c *Coordinator) publish(events []event.Event, summary event.Event) {
	for _, e := range events {
		c.sink.Publish(e)
	}
	c.sink.Publish(summary)
}
