package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enso-notes/enso/internal/clock"
	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/store"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/thought"
)

const seed = `{"id":"th_a","title":"A","content":"alpha","tags":["X"],"links":["th_b"],"created_at":"2024-01-01T10:00:00Z","updated_at":"2024-01-01T10:00:00Z"}

{"id":"th_b","title":"B","content":"beta","created_at":"2024-01-01T09:00:00Z","updated_at":"2024-01-01T09:00:00Z"}
{"id":"th_c","title":"C","content":"gone","created_at":"2024-01-01T08:00:00Z","updated_at":"2024-01-01T11:00:00Z","deleted_at":"2024-01-01T11:00:00Z"}
`

func newStore(t *testing.T) (*store.DB, *thoughtsync.Coordinator) {
	t.Helper()
	db, err := store.OpenAndInit(context.Background(), filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return db, thoughtsync.NewCoordinator(db, thoughtsync.WithClock(clock.NewFake(now)))
}

func TestImportThenExport(t *testing.T) {
	db, coord := newStore(t)
	ctx := context.Background()

	// th_a links to th_b, which comes later in the same batch.
	res, err := Import(ctx, coord, strings.NewReader(seed), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Lines)
	assert.Equal(t, 3, res.Applied)
	assert.Empty(t, res.Rejected)

	var buf bytes.Buffer
	n, err := Export(ctx, db, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "export", buf.Bytes())

	// Re-importing the export changes nothing.
	again, err := Import(ctx, coord, &buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Applied)
	assert.Equal(t, 3, again.Stale)
}

func TestImportSmallBatchResolvesForwardLink(t *testing.T) {
	db, coord := newStore(t)
	ctx := context.Background()

	// th_a links th_b, which only arrives in the next batch.
	res, err := Import(ctx, coord, strings.NewReader(seed), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Lines)
	assert.Equal(t, 3, res.Applied)
	assert.Empty(t, res.Rejected)

	a, err := db.GetThought(ctx, "th_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"th_b"}, a.Links)
}

func TestImportUnresolvedLinkRejected(t *testing.T) {
	_, coord := newStore(t)

	input := `{"id":"th_a","content":"a","links":["th_gone"],"updated_at":"2024-01-01T10:00:00Z"}
{"id":"th_b","content":"b","updated_at":"2024-01-01T09:00:00Z"}
`
	res, err := Import(context.Background(), coord, strings.NewReader(input), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "th_a", res.Rejected[0].ID)
	assert.Equal(t, errs.KindTargetNotFound, res.Rejected[0].Kind)
}

func TestImportInvalidLine(t *testing.T) {
	_, coord := newStore(t)

	input := `{"id":"th_a","content":"ok","updated_at":"2024-01-01T10:00:00Z"}
{"id":
`
	res, err := Import(context.Background(), coord, strings.NewReader(input), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Equal(t, 1, res.Lines)
	assert.Equal(t, 0, res.Applied)
}

func TestImportFileMissing(t *testing.T) {
	_, coord := newStore(t)
	_, err := ImportFile(context.Background(), coord, "/nonexistent/path.jsonl", 0)
	assert.Error(t, err)
}

func TestExportDir(t *testing.T) {
	db, coord := newStore(t)
	ctx := context.Background()
	_, err := Import(ctx, coord, strings.NewReader(seed), 0)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	n, err := ExportDir(ctx, db, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"th_a.json", "th_b.json", "th_c.json"}, names)

	snap, err := thought.ReadFile(filepath.Join(dir, "th_c.json"))
	require.NoError(t, err)
	require.NotNil(t, snap.DeletedAt)
	assert.Equal(t, "gone", snap.Content)
}
