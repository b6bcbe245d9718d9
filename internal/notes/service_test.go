package notes

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enso-notes/enso/internal/clock"
	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/event"
	"github.com/enso-notes/enso/internal/store"
	"github.com/enso-notes/enso/internal/thought"
)

var base = time.Date(2025, 9, 27, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	db    *store.DB
	clock *clock.Fake
	rec   *event.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenAndInit(context.Background(), filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{db: db, clock: clock.NewFake(base), rec: &event.Recorder{}}
	f.svc = New(db, f.clock, f.rec, nil)
	return f
}

func (f *fixture) create(t *testing.T, title, content string, tags ...string) thought.Thought {
	t.Helper()
	th, err := f.svc.Create(context.Background(), thought.Snapshot{Title: title, Content: content, Tags: tags})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return th
}

func ptr[T any](v T) *T { return &v }

func TestCRUDScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.create(t, "First", "Brain dump", "Work", "Focus")
	assert.Equal(t, []string{"focus", "work"}, first.Tags)

	second := f.create(t, "Second", "Another note")

	linked, err := f.svc.Link(ctx, first.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, linked.Links)
	assert.True(t, linked.UpdatedAt.After(first.UpdatedAt))

	unlinked, err := f.svc.Unlink(ctx, first.ID, second.ID)
	require.NoError(t, err)
	assert.Empty(t, unlinked.Links)

	require.NoError(t, f.svc.Delete(ctx, first.ID))

	live, err := f.svc.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, second.ID, live[0].ID)

	tomb, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err, "tombstones stay fetchable")
	require.NotNil(t, tomb.DeletedAt)
	assert.Equal(t, tomb.UpdatedAt, *tomb.DeletedAt)

	assert.Equal(t,
		[]event.Kind{event.Created, event.Created, event.Updated, event.Updated, event.Deleted},
		f.rec.Kinds())
}

func TestCreate_Defaults(t *testing.T) {
	f := newFixture(t)

	th, err := f.svc.Create(context.Background(), thought.Snapshot{Title: "  ", Content: "body", Links: []string{}})
	require.NoError(t, err)

	assert.Equal(t, thought.DefaultTitle, th.Title)
	assert.Equal(t, base, th.CreatedAt)
	assert.Equal(t, base, th.UpdatedAt)
	assert.Nil(t, th.DeletedAt)
}

func TestCreate_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	existing := f.create(t, "x", "y")

	_, err := f.svc.Create(ctx, thought.Snapshot{Title: "t", Content: " "})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = f.svc.Create(ctx, thought.Snapshot{ID: existing.ID, Title: "t", Content: "c"})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = f.svc.Create(ctx, thought.Snapshot{Title: "t", Content: "c", Links: []string{"th_missing"}})
	assert.Equal(t, errs.KindTargetNotFound, errs.KindOf(err))

	n, err := f.db.CountThoughts(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed creates must not leave rows")
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", "a")
	b := f.create(t, "B", "b")

	got, err := f.svc.Update(ctx, a.ID, Patch{
		Title: ptr(" Updated "),
		Tags:  ptr([]string{"New", "new"}),
		Links: ptr([]string{b.ID, a.ID}),
	})
	require.NoError(t, err)

	assert.Equal(t, "Updated", got.Title)
	assert.Equal(t, "a", got.Content)
	assert.Equal(t, []string{"new"}, got.Tags)
	assert.Equal(t, []string{b.ID}, got.Links)
	assert.Equal(t, a.CreatedAt, got.CreatedAt)
	assert.Equal(t, f.clock.Now(), got.UpdatedAt)
}

func TestUpdate_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", "a")

	tests := []struct {
		name  string
		id    string
		patch Patch
		kind  errs.Kind
	}{
		{"empty patch", a.ID, Patch{UpdatedAt: ptr(base)}, errs.KindValidation},
		{"blank title", a.ID, Patch{Title: ptr("  ")}, errs.KindValidation},
		{"blank content", a.ID, Patch{Content: ptr("")}, errs.KindValidation},
		{"unknown thought", "th_missing", Patch{Title: ptr("x")}, errs.KindNotFound},
		{"unknown link target", a.ID, Patch{Links: ptr([]string{"th_missing"})}, errs.KindTargetNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Update(ctx, tt.id, tt.patch)
			assert.Equal(t, tt.kind, errs.KindOf(err))
		})
	}
}

func TestUpdate_UpdatedAtAlwaysAdvances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", "a")

	got, err := f.svc.Update(ctx, a.ID, Patch{Title: ptr("older stamp"), UpdatedAt: ptr(base.Add(-time.Hour))})
	require.NoError(t, err)
	assert.Equal(t, a.UpdatedAt.Add(time.Microsecond), got.UpdatedAt)

	explicit := base.Add(time.Hour)
	got, err = f.svc.Update(ctx, a.ID, Patch{Title: ptr("explicit"), UpdatedAt: &explicit})
	require.NoError(t, err)
	assert.Equal(t, explicit, got.UpdatedAt)
}

func TestDelete_RetractsIncomingOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", "a")
	target := f.create(t, "T", "t")
	_, err := f.svc.Link(ctx, a.ID, target.ID)
	require.NoError(t, err)
	_, err = f.svc.Link(ctx, target.ID, a.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, target.ID))

	gotA, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, gotA.Links)

	gotT, err := f.svc.Get(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, gotT.Links)
}

func TestDelete_NoOps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", "a")

	assert.NoError(t, f.svc.Delete(ctx, "th_missing"))
	require.NoError(t, f.svc.Delete(ctx, a.ID))
	first, _ := f.svc.Get(ctx, a.ID)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.Delete(ctx, a.ID))
	second, _ := f.svc.Get(ctx, a.ID)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "second delete must not restamp")
}

func TestPurge_RemovesBothDirections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", "a")
	target := f.create(t, "T", "t", "tag")
	_, err := f.svc.Link(ctx, a.ID, target.ID)
	require.NoError(t, err)
	_, err = f.svc.Link(ctx, target.ID, a.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Purge(ctx, target.ID))

	_, err = f.svc.Get(ctx, target.ID)
	assert.True(t, IsNotFound(err))
	n, err := f.db.CountLinks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, f.svc.Purge(ctx, target.ID), "purging twice is a no-op")
	assert.Equal(t, event.Purged, f.rec.Kinds()[len(f.rec.Kinds())-1])
}

func TestLink_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", "a")

	_, err := f.svc.Link(ctx, a.ID, a.ID)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = f.svc.Link(ctx, "th_missing", a.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, err = f.svc.Link(ctx, a.ID, "th_missing")
	assert.Equal(t, errs.KindTargetNotFound, errs.KindOf(err))

	_, err = f.svc.Unlink(ctx, "th_missing", a.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestLink_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", "a")
	b := f.create(t, "B", "b")

	first, err := f.svc.Link(ctx, a.ID, b.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	again, err := f.svc.Link(ctx, a.ID, b.ID)
	require.NoError(t, err)

	assert.Equal(t, first.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, []string{b.ID}, again.Links)
}

func TestList_Search(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "Groceries", "oat milk", "home")
	launch := f.create(t, "Plan", "Launch checklist", "work")

	got, err := f.svc.List(ctx, ListOptions{Search: "LAUNCH"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, launch.ID, got[0].ID)

	got, err = f.svc.List(ctx, ListOptions{Search: "home"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Groceries", got[0].Title)
}
