package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enso-notes/enso/internal/api"
	"github.com/enso-notes/enso/internal/clock"
	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/notes"
	"github.com/enso-notes/enso/internal/store"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/thought"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T, name string) *store.DB {
	t.Helper()
	db, err := store.OpenAndInit(context.Background(), filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newServer starts an API server with a page size of 2 so pulls span pages.
func newServer(t *testing.T, fc *clock.Fake) (*httptest.Server, *store.DB) {
	t.Helper()
	db := openStore(t, "server.db")
	router := api.NewRouter(api.Deps{
		DB:     db,
		Notes:  notes.New(db, fc, nil, nil),
		Syncer: thoughtsync.NewCoordinator(db, thoughtsync.WithClock(fc), thoughtsync.WithPageSize(2)),
	})
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return srv, db
}

func httpTransport(t *testing.T, url string) *HTTPTransport {
	t.Helper()
	tr, err := NewHTTPTransport(url, nil)
	require.NoError(t, err)
	return tr
}

type device struct {
	db     *store.DB
	notes  *notes.Service
	client *Client
}

func newDevice(t *testing.T, url, name string, fc *clock.Fake) *device {
	t.Helper()
	db := openStore(t, name+".db")
	c, err := New(httpTransport(t, url), db, thoughtsync.NewCoordinator(db, thoughtsync.WithClock(fc)), WithClock(fc))
	require.NoError(t, err)
	return &device{db: db, notes: notes.New(db, fc, nil, nil), client: c}
}

func (d *device) create(t *testing.T, id, content string, links ...string) {
	t.Helper()
	_, err := d.notes.Create(context.Background(), thought.Snapshot{ID: id, Title: id, Content: content, Links: links})
	require.NoError(t, err)
}

func TestSyncBetweenDevices(t *testing.T) {
	fc := clock.NewFake(base)
	srv, serverDB := newServer(t, fc)
	ctx := context.Background()

	a := newDevice(t, srv.URL, "a", fc)
	b := newDevice(t, srv.URL, "b", fc)

	a.create(t, "th_1", "first")
	fc.Advance(time.Second)
	a.create(t, "th_2", "second")
	fc.Advance(time.Second)
	a.create(t, "th_3", "third", "th_1")
	fc.Advance(time.Second)

	rep, err := a.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Pushed)
	assert.Equal(t, 3, rep.Applied)
	assert.Empty(t, rep.Rejected)
	assert.Equal(t, 2, rep.Pages)
	assert.Equal(t, 0, rep.Merged)
	assert.True(t, rep.Cursor.Equal(fc.Now()))

	n, err := serverDB.CountThoughts(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	status, err := a.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Pending)
	require.NotNil(t, status.Cursor)
	assert.NotEmpty(t, status.ClientID)

	rep, err = b.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Pushed)
	assert.Equal(t, 3, rep.Merged)

	got, err := b.db.GetThought(ctx, "th_3")
	require.NoError(t, err)
	assert.Equal(t, "third", got.Content)
	assert.Equal(t, []string{"th_1"}, got.Links)

	// Nothing new on the server: the next pull is empty.
	fc.Advance(time.Second)
	rep, err = b.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Pulled)
	assert.Equal(t, 1, rep.Pages)
}

func TestSyncConflictLastWriteWins(t *testing.T) {
	fc := clock.NewFake(base)
	srv, _ := newServer(t, fc)
	ctx := context.Background()

	a := newDevice(t, srv.URL, "a", fc)
	b := newDevice(t, srv.URL, "b", fc)

	a.create(t, "th_1", "original")
	fc.Advance(time.Second)
	_, err := a.client.Sync(ctx)
	require.NoError(t, err)
	_, err = b.client.Sync(ctx)
	require.NoError(t, err)

	fromA, fromB := "edited on a", "edited on b"
	fc.Advance(time.Second)
	_, err = a.notes.Update(ctx, "th_1", notes.Patch{Content: &fromA})
	require.NoError(t, err)
	fc.Advance(time.Second)
	_, err = b.notes.Update(ctx, "th_1", notes.Patch{Content: &fromB})
	require.NoError(t, err)
	fc.Advance(time.Second)

	rep, err := b.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)

	// a's older edit loses on the server and a picks up b's version.
	rep, err = a.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Applied)
	assert.Equal(t, 1, rep.Stale)
	assert.Equal(t, 1, rep.Merged)

	for _, d := range []*device{a, b} {
		got, err := d.db.GetThought(ctx, "th_1")
		require.NoError(t, err)
		assert.Equal(t, fromB, got.Content)
	}
}

func TestSyncDefersLinksToLaterPages(t *testing.T) {
	fc := clock.NewFake(base)
	srv, _ := newServer(t, fc)
	ctx := context.Background()

	a := newDevice(t, srv.URL, "a", fc)
	a.create(t, "th_c", "target")
	fc.Advance(time.Second)
	a.create(t, "th_b", "links to c", "th_c")
	fc.Advance(time.Second)
	a.create(t, "th_a", "plain")
	fc.Advance(time.Second)
	edited := "target, edited"
	_, err := a.notes.Update(ctx, "th_c", notes.Patch{Content: &edited})
	require.NoError(t, err)
	fc.Advance(time.Second)
	_, err = a.client.Sync(ctx)
	require.NoError(t, err)

	// Pages arrive as [th_b, th_a] then [th_c]: th_b waits for th_c.
	b := newDevice(t, srv.URL, "b", fc)
	rep, err := b.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Pages)
	assert.Equal(t, 3, rep.Merged)

	got, err := b.db.GetThought(ctx, "th_b")
	require.NoError(t, err)
	assert.Equal(t, []string{"th_c"}, got.Links)
}

func TestSyncPropagatesDeletes(t *testing.T) {
	fc := clock.NewFake(base)
	srv, _ := newServer(t, fc)
	ctx := context.Background()

	a := newDevice(t, srv.URL, "a", fc)
	b := newDevice(t, srv.URL, "b", fc)

	a.create(t, "th_1", "keep")
	a.create(t, "th_2", "drop", "th_1")
	fc.Advance(time.Second)
	_, err := a.client.Sync(ctx)
	require.NoError(t, err)
	_, err = b.client.Sync(ctx)
	require.NoError(t, err)

	fc.Advance(time.Second)
	require.NoError(t, a.notes.Delete(ctx, "th_1"))
	fc.Advance(time.Second)
	_, err = a.client.Sync(ctx)
	require.NoError(t, err)
	_, err = b.client.Sync(ctx)
	require.NoError(t, err)

	got, err := b.db.GetThought(ctx, "th_1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())
}

func TestClientIDIsStable(t *testing.T) {
	db := openStore(t, "replica.db")
	coord := thoughtsync.NewCoordinator(db)

	tr := httpTransport(t, "http://example.invalid")
	c1, err := New(tr, db, coord)
	require.NoError(t, err)
	id, err := c1.ClientID(context.Background())
	require.NoError(t, err)
	assert.Len(t, id, 36)

	c2, err := New(tr, db, coord)
	require.NoError(t, err)
	again, err := c2.ClientID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, again)

	c3, err := New(tr, db, coord, WithClientID("fixed"))
	require.NoError(t, err)
	fixed, err := c3.ClientID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed", fixed)
}

func TestNewValidates(t *testing.T) {
	_, err := NewHTTPTransport("  ", nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = New(httpTransport(t, "http://x"), nil, nil)
	assert.Error(t, err)
}

func TestSyncServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   errs.Kind
	}{
		{"validation", http.StatusBadRequest, `{"error":true,"type":"VALIDATION","message":"client_id is required"}`, errs.KindValidation},
		{"internal", http.StatusInternalServerError, `{"error":true,"type":"INTERNAL","message":"An internal error occurred"}`, errs.KindUnavailable},
		{"not json", http.StatusBadGateway, `bad gateway`, errs.KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			db := openStore(t, "replica.db")
			c, err := New(httpTransport(t, srv.URL), db, thoughtsync.NewCoordinator(db))
			require.NoError(t, err)

			_, err = c.Sync(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))

			// A failed run leaves no cursor behind.
			st, err := c.Status(context.Background())
			require.NoError(t, err)
			assert.Nil(t, st.Cursor)
		})
	}
}

func TestSyncUnreachable(t *testing.T) {
	db := openStore(t, "replica.db")
	tr, err := NewHTTPTransport("http://127.0.0.1:1", &http.Client{Timeout: time.Second})
	require.NoError(t, err)
	c, err := New(tr, db, thoughtsync.NewCoordinator(db))
	require.NoError(t, err)

	_, err = c.Sync(context.Background())
	assert.Equal(t, errs.KindUnavailable, errs.KindOf(err))
}

func TestSyncPagesRowsSharingTimestamp(t *testing.T) {
	fc := clock.NewFake(base)
	ctx := context.Background()
	server := openStore(t, "server.db")
	coord := thoughtsync.NewCoordinator(server, thoughtsync.WithClock(fc), thoughtsync.WithPageSize(2))

	at := base.Add(-time.Hour)
	res, err := coord.Apply(ctx, []thought.Snapshot{
		{ID: "th_1", Content: "one", UpdatedAt: &at},
		{ID: "th_2", Content: "two", UpdatedAt: &at},
		{ID: "th_3", Content: "three", UpdatedAt: &at},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Applied)

	db := openStore(t, "replica.db")
	c, err := New(coord, db, thoughtsync.NewCoordinator(db, thoughtsync.WithClock(fc)), WithClock(fc))
	require.NoError(t, err)

	rep, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Pages)
	assert.Equal(t, 3, rep.Pulled)
	assert.Equal(t, 3, rep.Merged)

	n, err := db.CountThoughts(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "every row sharing the page boundary timestamp reaches the replica")
}

func TestSyncInProcessAndReset(t *testing.T) {
	fc := clock.NewFake(base)
	ctx := context.Background()
	server := openStore(t, "server.db")
	coord := thoughtsync.NewCoordinator(server, thoughtsync.WithClock(fc))

	db := openStore(t, "replica.db")
	n := notes.New(db, fc, nil, nil)
	_, err := n.Create(ctx, thought.Snapshot{ID: "th_1", Content: "local"})
	require.NoError(t, err)
	fc.Advance(time.Second)

	c, err := New(coord, db, thoughtsync.NewCoordinator(db, thoughtsync.WithClock(fc)), WithClock(fc))
	require.NoError(t, err)
	rep, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)

	fc.Advance(time.Second)
	rep, err = c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Pushed)
	assert.Equal(t, 0, rep.Pulled)

	require.NoError(t, c.Reset(ctx))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.Cursor)

	rep, err = c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pulled)
	assert.Equal(t, 0, rep.Merged)
}
