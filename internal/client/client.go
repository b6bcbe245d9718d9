// Package client syncs a local replica store with an enso server.
//
// The replica is an ordinary store.DB. Local edits go through notes.Service
// against it; Sync pushes everything edited since the last push and then
// pulls server changes page by page until the server reports no more.
//
// Replica state keys:
//
//	client_id       stable device id sent with every request
//	cursor          server cursor of the last completed pull
//	push_watermark  local time of the last completed push
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/clock"
	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/store"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/thought"
)

const (
	keyClientID      = "client_id"
	keyCursor        = "cursor"
	keyPushWatermark = "push_watermark"
)

const (
	// DefaultPushBatch bounds the changes sent in one request.
	DefaultPushBatch = 200
	// maxPages stops a pull that never reports has_more=false.
	maxPages     = 10000
	stateTimeFmt = time.RFC3339Nano
)

// Report summarizes one Sync run.
type Report struct {
	ClientID string `json:"client_id"`
	// Pushed counts local changes sent; the server merged Applied of them and
	// ignored Stale.
	Pushed  int `json:"pushed"`
	Applied int `json:"applied"`
	Stale   int `json:"stale"`
	// Rejected lists pushed changes the server refused.
	Rejected []thoughtsync.Rejection `json:"rejected"`
	// Pulled counts server rows received; Merged of them changed the replica.
	Pulled int       `json:"pulled"`
	Merged int       `json:"merged"`
	Pages  int       `json:"pages"`
	Cursor time.Time `json:"cursor"`
}

// Status describes the replica's sync position.
type Status struct {
	ClientID  string     `json:"client_id"`
	Cursor    *time.Time `json:"cursor"`
	Watermark *time.Time `json:"push_watermark"`
	Pending   int        `json:"pending"`
}

// Client syncs one replica against one server.
type Client struct {
	remote    Transport
	replica   *store.DB
	local     thoughtsync.Syncer
	clientID  string
	pushBatch int
	clock     clock.Clock
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the local clock used for the push watermark. It must be
// the clock local edits are stamped with.
func WithClock(cl clock.Clock) Option {
	return func(c *Client) { c.clock = cl }
}

// WithClientID fixes the device id instead of the one stored in the replica.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithPushBatch sets how many changes go in one request.
func WithPushBatch(n int) Option {
	return func(c *Client) { c.pushBatch = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client that talks to remote and merges pulled changes into
// replica through local.
func New(remote Transport, replica *store.DB, local thoughtsync.Syncer, opts ...Option) (*Client, error) {
	if remote == nil || replica == nil || local == nil {
		return nil, fmt.Errorf("transport, replica and local syncer are required")
	}
	c := &Client{
		remote:    remote,
		replica:   replica,
		local:     local,
		pushBatch: DefaultPushBatch,
		clock:     clock.Real{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pushBatch < 1 {
		c.pushBatch = DefaultPushBatch
	}
	return c, nil
}

// ClientID returns the device id, creating and storing one on first use.
func (c *Client) ClientID(ctx context.Context) (string, error) {
	if c.clientID != "" {
		return c.clientID, nil
	}
	id, ok, err := c.replica.GetState(ctx, keyClientID)
	if err != nil {
		return "", err
	}
	if !ok || id == "" {
		id = uuid.NewString()
		if err := c.replica.SetState(ctx, keyClientID, id); err != nil {
			return "", err
		}
	}
	c.clientID = id
	return id, nil
}

// Reset forgets the pull cursor so the next Sync fetches every thought again.
func (c *Client) Reset(ctx context.Context) error {
	return c.replica.SetState(ctx, keyCursor, "")
}

// Status reports the stored cursor, push watermark and the number of local
// changes waiting to be pushed.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	id, err := c.ClientID(ctx)
	if err != nil {
		return nil, err
	}
	cursor, err := c.loadTime(ctx, keyCursor)
	if err != nil {
		return nil, err
	}
	mark, err := c.loadTime(ctx, keyPushWatermark)
	if err != nil {
		return nil, err
	}
	pending, err := c.pending(ctx, mark)
	if err != nil {
		return nil, err
	}
	return &Status{ClientID: id, Cursor: cursor, Watermark: mark, Pending: len(pending)}, nil
}

// Sync pushes pending local changes and pulls every server change since the
// stored cursor. State is saved only after each phase completes, so a failed
// run is safe to repeat.
func (c *Client) Sync(ctx context.Context) (*Report, error) {
	id, err := c.ClientID(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{ClientID: id, Rejected: []thoughtsync.Rejection{}}

	cursor, err := c.loadTime(ctx, keyCursor)
	if err != nil {
		return nil, err
	}
	mark, err := c.loadTime(ctx, keyPushWatermark)
	if err != nil {
		return nil, err
	}
	// Edits stamped after this point are left for the next run.
	pushedAt := c.clock.Now().Add(-time.Microsecond)
	pending, err := c.pending(ctx, mark)
	if err != nil {
		return nil, err
	}

	// Push in batches. Only the last response starts the pull; earlier ones
	// carry a page that the later batches may already have changed.
	var resp *thoughtsync.Response
	for start := 0; start == 0 || start < len(pending); start += c.pushBatch {
		end := min(start+c.pushBatch, len(pending))
		batch := snapshots(pending[start:end])
		resp, err = c.remote.Sync(ctx, thoughtsync.Request{ClientID: id, Since: cursor, Changes: batch})
		if err != nil {
			return nil, err
		}
		report.Pushed += len(batch)
		report.Applied += resp.Applied
		report.Stale += resp.Stale
		report.Rejected = append(report.Rejected, resp.Rejected...)
		if len(pending) == 0 {
			break
		}
	}
	if err := c.replica.SetState(ctx, keyPushWatermark, pushedAt.Format(stateTimeFmt)); err != nil {
		return nil, err
	}

	var deferred []thought.Snapshot
	for {
		report.Pages++
		report.Pulled += len(resp.Changes)
		merged, retry, err := c.merge(ctx, resp.Changes)
		if err != nil {
			return nil, err
		}
		report.Merged += merged
		deferred = append(deferred, retry...)

		if !resp.HasMore || len(resp.Changes) == 0 {
			report.Cursor = resp.Cursor
			break
		}
		if report.Pages >= maxPages {
			return nil, fmt.Errorf("pull did not finish after %d pages", maxPages)
		}
		// Resume after the last row, not its timestamp, so rows sharing it
		// on the next page are not skipped.
		last := resp.Changes[len(resp.Changes)-1]
		since := last.UpdatedAt
		resp, err = c.remote.Sync(ctx, thoughtsync.Request{ClientID: id, Since: &since, SinceID: last.ID, Changes: []thought.Snapshot{}})
		if err != nil {
			return nil, err
		}
	}

	// Rows that linked to a thought on a later page merge now that every
	// page is in.
	if len(deferred) > 0 {
		res, err := c.local.Apply(ctx, deferred)
		if err != nil {
			return nil, err
		}
		report.Merged += res.Applied
		for _, rej := range res.Rejected {
			c.logger.Warn("pulled change rejected by replica", zap.String("id", rej.ID), zap.String("error", rej.Error))
		}
	}

	if err := c.replica.SetState(ctx, keyCursor, report.Cursor.Format(stateTimeFmt)); err != nil {
		return nil, err
	}
	c.logger.Info("sync complete",
		zap.String("client_id", id),
		zap.Int("pushed", report.Pushed),
		zap.Int("applied", report.Applied),
		zap.Int("rejected", len(report.Rejected)),
		zap.Int("pulled", report.Pulled),
		zap.Int("pages", report.Pages),
	)
	return report, nil
}

// merge applies a pulled page to the replica. Changes rejected because a
// link target has not arrived yet are returned for a later retry.
func (c *Client) merge(ctx context.Context, rows []thought.Thought) (int, []thought.Snapshot, error) {
	if len(rows) == 0 {
		return 0, nil, nil
	}
	res, err := c.local.Apply(ctx, snapshots(rows))
	if err != nil {
		return 0, nil, err
	}
	var retry []thought.Snapshot
	byID := make(map[string]thought.Thought, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	for _, rej := range res.Rejected {
		if rej.Kind == errs.KindTargetNotFound {
			retry = append(retry, byID[rej.ID].Snapshot())
			continue
		}
		c.logger.Warn("pulled change rejected by replica", zap.String("id", rej.ID), zap.String("error", rej.Error))
	}
	return res.Applied, retry, nil
}

func (c *Client) pending(ctx context.Context, mark *time.Time) ([]thought.Thought, error) {
	since := time.Time{}
	if mark != nil {
		since = *mark
	}
	return c.replica.ChangedSince(ctx, since, 0)
}

func (c *Client) loadTime(ctx context.Context, key string) (*time.Time, error) {
	v, ok, err := c.replica.GetState(ctx, key)
	if err != nil || !ok || v == "" {
		return nil, err
	}
	t, err := time.Parse(stateTimeFmt, v)
	if err != nil {
		return nil, fmt.Errorf("corrupt %s in replica state: %w", key, err)
	}
	return &t, nil
}

func snapshots(rows []thought.Thought) []thought.Snapshot {
	out := make([]thought.Snapshot, len(rows))
	for i, r := range rows {
		out[i] = r.Snapshot()
	}
	return out
}
