package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/store"
	"github.com/enso-notes/enso/internal/thought"
)

// Epoch is the cursor used when a client has never synced.
var Epoch = time.Unix(0, 0).UTC()

// Page returns up to limit thoughts changed strictly after since, oldest
// first, and whether more remain.
func Page(ctx context.Context, r store.Reader, since time.Time, limit int) ([]thought.Thought, bool, error) {
	return PageAfter(ctx, r, since, "", limit)
}

// PageAfter pages from just after the row (since, afterID). Passing the last
// row's updated_at and id of one page as the start of the next never skips
// rows that share a timestamp across the page boundary.
func PageAfter(ctx context.Context, r store.Reader, since time.Time, afterID string, limit int) ([]thought.Thought, bool, error) {
	if limit < 1 {
		return nil, false, errs.Validation("page limit must be at least 1 (got %d)", limit)
	}

	rows, err := r.ChangedAfter(ctx, thought.NormalizeTime(since), afterID, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("failed to page changes: %w", err)
	}
	if len(rows) > limit {
		return rows[:limit], true, nil
	}
	return rows, false, nil
}
