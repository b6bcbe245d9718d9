package sync

import (
	"slices"
	"time"

	"github.com/enso-notes/enso/internal/thought"
)

// Resolve decides which state wins when incoming meets existing (nil if the
// thought is unknown) and reports whether the result differs from existing.
//
// A missing incoming updated_at means now. For a new thought a missing id
// comes from thought.NewID and a missing created_at equals updated_at.
// Self links are dropped. Resolve does not touch storage.
func Resolve(existing *thought.Thought, incoming thought.Snapshot, now time.Time) (thought.Thought, bool) {
	updated := thought.NormalizeTime(now)
	if incoming.UpdatedAt != nil && !incoming.UpdatedAt.IsZero() {
		updated = thought.NormalizeTime(*incoming.UpdatedAt)
	}

	if existing == nil {
		created := updated
		if incoming.CreatedAt != nil && !incoming.CreatedAt.IsZero() {
			created = thought.NormalizeTime(*incoming.CreatedAt)
		}
		if created.After(updated) {
			created = updated
		}
		id := incoming.ID
		if id == "" {
			id = thought.NewID(now)
		}
		return thought.Thought{
			ID:        id,
			Title:     incoming.Title,
			Content:   incoming.Content,
			Tags:      nonNil(incoming.Tags),
			Links:     thought.SanitizeLinks(incoming.Links, id),
			CreatedAt: created,
			UpdatedAt: updated,
			DeletedAt: normalizedPtr(incoming.DeletedAt),
		}, true
	}

	if !updated.After(thought.NormalizeTime(existing.UpdatedAt)) {
		return existing.Clone(), false
	}

	return thought.Thought{
		ID:        existing.ID,
		Title:     incoming.Title,
		Content:   incoming.Content,
		Tags:      nonNil(incoming.Tags),
		Links:     thought.SanitizeLinks(incoming.Links, existing.ID),
		CreatedAt: existing.CreatedAt,
		UpdatedAt: updated,
		DeletedAt: normalizedPtr(incoming.DeletedAt),
	}, true
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return slices.Clone(ss)
}

func normalizedPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	n := thought.NormalizeTime(*t)
	return &n
}
