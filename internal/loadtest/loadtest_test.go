package loadtest

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enso-notes/enso/internal/api"
	"github.com/enso-notes/enso/internal/client"
	"github.com/enso-notes/enso/internal/notes"
	"github.com/enso-notes/enso/internal/store"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/thought"
)

func openServer(t *testing.T) (*store.DB, *thoughtsync.Coordinator) {
	t.Helper()
	db, err := store.OpenAndInit(context.Background(), filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, thoughtsync.NewCoordinator(db, thoughtsync.WithPageSize(7))
}

func TestRunInProcessConverges(t *testing.T) {
	db, coord := openServer(t)

	cfg := DefaultConfig()
	cfg.Devices = 6
	cfg.Rounds = 4
	cfg.Workdir = t.TempDir()

	report, err := Run(context.Background(), coord, db, cfg)
	require.NoError(t, err)

	assert.True(t, report.Converged, "divergent: %v", report.Divergent)
	assert.Empty(t, report.Divergent)
	assert.Equal(t, 0, report.Rejected)
	assert.Equal(t, 0, report.Latency.Errors)
	assert.GreaterOrEqual(t, report.Latency.TotalRequests, cfg.Devices*cfg.Rounds)
	assert.Positive(t, report.Writes)
	assert.GreaterOrEqual(t, report.Thoughts, cfg.SharedThoughts)

	n, err := db.CountThoughts(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, report.Thoughts, n)

	var buf bytes.Buffer
	report.Print(&buf)
	assert.Contains(t, buf.String(), "Converged:     true")
}

func TestRunOverHTTP(t *testing.T) {
	db, coord := openServer(t)
	srv := httptest.NewServer(api.NewRouter(api.Deps{DB: db, Notes: notes.New(db, nil, nil, nil), Syncer: coord}).Setup())
	defer srv.Close()

	tr, err := client.NewHTTPTransport(srv.URL, nil)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Devices = 3
	cfg.Rounds = 2
	report, err := Run(context.Background(), tr, nil, cfg)
	require.NoError(t, err)
	assert.True(t, report.Converged, "divergent: %v", report.Divergent)
}

func TestRunRejectsBadConfig(t *testing.T) {
	db, coord := openServer(t)
	_, err := Run(context.Background(), coord, db, Config{Devices: 0, Rounds: 1})
	assert.Error(t, err)
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := computeLatencyStats(ds)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.Equal(t, 51*time.Millisecond, s.P50)
	assert.Equal(t, 96*time.Millisecond, s.P95)
	assert.Equal(t, 100*time.Millisecond, s.P99)
	assert.Equal(t, 100, s.TotalRequests)
	assert.Equal(t, 50500*time.Microsecond, s.Mean)

	assert.Equal(t, &LatencyStats{}, computeLatencyStats(nil))
}

func TestDiff(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := thought.Thought{ID: "th_a", Title: "A", Content: "a", Tags: []string{}, Links: []string{}, CreatedAt: at, UpdatedAt: at}
	b := a
	b.ID = "th_b"
	changed := a
	changed.Content = "changed"

	want := map[string]thought.Thought{"th_a": a, "th_b": b}
	assert.Empty(t, diff("replica", want, map[string]thought.Thought{"th_a": a, "th_b": b}))
	assert.Equal(t, []string{
		"replica: extra th_c",
		"replica: missing th_b",
		"replica: th_a differs",
	}, diff("replica", want, map[string]thought.Thought{"th_a": changed, "th_c": a}))
}
