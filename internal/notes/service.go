// Package notes implements direct create, read, update and delete of
// thoughts. Writes bypass the last-write-wins check but go through the same
// reconcilers as sync, and every mutation advances updated_at.
package notes

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/clock"
	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/event"
	"github.com/enso-notes/enso/internal/reconcile"
	"github.com/enso-notes/enso/internal/store"
	"github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/thought"
)

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title     *string    `json:"title,omitempty"`
	Content   *string    `json:"content,omitempty"`
	Tags      *[]string  `json:"tags,omitempty"`
	Links     *[]string  `json:"links,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Empty reports whether the patch changes no field.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Tags == nil && p.Links == nil
}

// ListOptions filters List.
type ListOptions struct {
	Search         string
	IncludeDeleted bool
	Limit          int
}

// Service is the direct CRUD surface.
type Service struct {
	db     *store.DB
	clock  clock.Clock
	sink   event.Sink
	logger *zap.Logger
}

// New creates a Service. A nil clock, sink or logger gets a default.
func New(db *store.DB, c clock.Clock, sink event.Sink, logger *zap.Logger) *Service {
	if c == nil {
		c = clock.Real{}
	}
	if sink == nil {
		sink = event.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, clock: c, sink: sink, logger: logger}
}

// Create stores a new thought. The id is generated when absent; a taken id
// is a validation error. created_at defaults to now and updated_at to
// created_at. Link targets must exist.
func (s *Service) Create(ctx context.Context, draft thought.Snapshot) (thought.Thought, error) {
	if err := draft.Normalize(); err != nil {
		return thought.Thought{}, err
	}
	now := thought.NormalizeTime(s.clock.Now())
	if draft.CreatedAt == nil {
		draft.CreatedAt = &now
	}
	if draft.UpdatedAt == nil {
		draft.UpdatedAt = draft.CreatedAt
	}
	draft.DeletedAt = nil

	var created thought.Thought
	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		if draft.ID != "" {
			existing, err := tx.FindThought(ctx, draft.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return errs.Validation("thought %s already exists", draft.ID)
			}
		}
		resolved, _ := sync.Resolve(nil, draft, now)
		var err error
		created, err = s.write(ctx, tx, resolved)
		return err
	})
	if err != nil {
		return thought.Thought{}, err
	}

	s.publish(event.Created, created)
	return created, nil
}

// Get returns a thought by id, tombstones included.
func (s *Service) Get(ctx context.Context, id string) (thought.Thought, error) {
	return s.db.GetThought(ctx, id)
}

// List returns thoughts newest first. Tombstones are excluded unless
// requested.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]thought.Thought, error) {
	return s.db.ListThoughts(ctx, store.ListFilter{
		Search:         opts.Search,
		IncludeDeleted: opts.IncludeDeleted,
		Limit:          opts.Limit,
	})
}

// Update applies a patch. At least one of title, content, tags or links is
// required; title and content may not be blank.
func (s *Service) Update(ctx context.Context, id string, p Patch) (thought.Thought, error) {
	if p.Empty() {
		return thought.Thought{}, errs.Validation("update requires at least one field")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return thought.Thought{}, errs.Validation("title must not be empty")
	}
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return thought.Thought{}, errs.Validation("content must not be empty")
	}

	var updated thought.Thought
	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.GetThought(ctx, id)
		if err != nil {
			return err
		}

		next := existing.Clone()
		if p.Title != nil {
			next.Title = strings.TrimSpace(*p.Title)
		}
		if p.Content != nil {
			next.Content = *p.Content
		}
		if p.Tags != nil {
			next.Tags = thought.NormalizeTags(*p.Tags)
		}
		if p.Links != nil {
			next.Links = thought.SanitizeLinks(*p.Links, id)
		}
		stamp := s.clock.Now()
		if p.UpdatedAt != nil {
			stamp = *p.UpdatedAt
		}
		next.UpdatedAt = advance(existing.UpdatedAt, stamp)

		updated, err = s.write(ctx, tx, next)
		return err
	})
	if err != nil {
		return thought.Thought{}, err
	}

	s.publish(event.Updated, updated)
	return updated, nil
}

// Delete soft-deletes a thought: deleted_at and updated_at become now and
// every edge pointing at it is removed. Deleting an unknown or already
// deleted thought does nothing.
func (s *Service) Delete(ctx context.Context, id string) error {
	var deleted *thought.Thought
	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.FindThought(ctx, id)
		if err != nil || existing == nil || existing.IsDeleted() {
			return err
		}

		next := existing.Clone()
		next.UpdatedAt = advance(existing.UpdatedAt, s.clock.Now())
		stamp := next.UpdatedAt
		next.DeletedAt = &stamp
		if err := tx.PutThought(ctx, next); err != nil {
			return err
		}
		sources, err := reconcile.RetractIncoming(ctx, tx, id)
		if err != nil {
			return err
		}
		s.logger.Debug("thought deleted", zap.String("id", id), zap.Strings("retracted_from", sources))
		deleted = &next
		return nil
	})
	if err != nil {
		return err
	}
	if deleted != nil {
		s.publish(event.Deleted, *deleted)
	}
	return nil
}

// Purge removes a thought with its tags and every edge touching it.
// Purging an unknown id does nothing.
func (s *Service) Purge(ctx context.Context, id string) error {
	var removed bool
	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		removed, err = tx.DeleteThought(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if removed {
		s.sink.Publish(event.Event{Kind: event.Purged, ThoughtID: id, At: s.clock.Now()})
		s.logger.Info("thought purged", zap.String("id", id))
	}
	return nil
}

// Link adds the edge source->target. Linking a thought to itself is a
// validation error; an unknown source is NotFound and an unknown target is
// TargetNotFound. Linking an existing edge again is a no-op.
func (s *Service) Link(ctx context.Context, source, target string) (thought.Thought, error) {
	if source == target {
		return thought.Thought{}, errs.Validation("cannot link a thought to itself")
	}
	return s.relink(ctx, source, func(links []string) []string {
		if slices.Contains(links, target) {
			return links
		}
		return append(links, target)
	})
}

// Unlink removes the edge source->target if present.
func (s *Service) Unlink(ctx context.Context, source, target string) (thought.Thought, error) {
	return s.relink(ctx, source, func(links []string) []string {
		return slices.DeleteFunc(links, func(l string) bool { return l == target })
	})
}

func (s *Service) relink(ctx context.Context, source string, edit func([]string) []string) (thought.Thought, error) {
	var result thought.Thought
	var changed bool
	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.GetThought(ctx, source)
		if err != nil {
			return err
		}
		desired := edit(slices.Clone(existing.Links))
		if sameLinks(existing.Links, desired) {
			result = existing
			return nil
		}

		next := existing.Clone()
		next.Links = thought.SanitizeLinks(desired, source)
		next.UpdatedAt = advance(existing.UpdatedAt, s.clock.Now())
		result, err = s.write(ctx, tx, next)
		changed = err == nil
		return err
	})
	if err != nil {
		return thought.Thought{}, err
	}
	if changed {
		s.publish(event.Updated, result)
	}
	return result, nil
}

// write persists t with its tags and links and returns the stored state.
func (s *Service) write(ctx context.Context, tx *store.Tx, t thought.Thought) (thought.Thought, error) {
	if err := t.Validate(); err != nil {
		return thought.Thought{}, err
	}
	if err := tx.PutThought(ctx, t); err != nil {
		return thought.Thought{}, err
	}
	if _, err := reconcile.Tags(ctx, tx, t.ID, t.Tags); err != nil {
		return thought.Thought{}, err
	}
	if _, err := reconcile.Links(ctx, tx, t.ID, t.Links, t.UpdatedAt); err != nil {
		return thought.Thought{}, err
	}
	return tx.GetThought(ctx, t.ID)
}

func (s *Service) publish(kind event.Kind, t thought.Thought) {
	s.sink.Publish(event.Event{Kind: kind, ThoughtID: t.ID, Thought: &t, At: t.UpdatedAt})
}

// advance returns stamp, or the smallest representable instant after prev
// when stamp would not move updated_at forward.
func advance(prev, stamp time.Time) time.Time {
	stamp = thought.NormalizeTime(stamp)
	if stamp.After(prev) {
		return stamp
	}
	return thought.NormalizeTime(prev).Add(time.Microsecond)
}

func sameLinks(a, b []string) bool {
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// IsNotFound reports whether err means the thought does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
