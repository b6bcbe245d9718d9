// Package reconcile computes and applies the minimal set of tag and link
// operations that turn a thought's stored collections into desired ones.
package reconcile

import (
	"context"
	"slices"
	"time"

	"github.com/enso-notes/enso/internal/errs"
)

// Store is the slice of the storage layer the reconcilers write through.
// *store.Tx satisfies it.
type Store interface {
	TagsFor(ctx context.Context, id string) ([]string, error)
	InsertTags(ctx context.Context, id string, tags []string) error
	DeleteTags(ctx context.Context, id string, tags []string) error

	LinksFrom(ctx context.Context, source string) ([]string, error)
	MissingThoughts(ctx context.Context, ids []string) ([]string, error)
	InsertLinks(ctx context.Context, source string, targets []string, at time.Time) error
	DeleteLinks(ctx context.Context, source string, targets []string) error
	DeleteLinksTo(ctx context.Context, target string) ([]string, error)
}

// TagOps is the result of diffing two tag sets.
type TagOps struct {
	Add    []string
	Remove []string
}

// Empty reports whether there is nothing to apply.
func (o TagOps) Empty() bool {
	return len(o.Add) == 0 && len(o.Remove) == 0
}

// DiffTags returns the tags to remove (stored but not desired) and to add
// (desired but not stored). desired is expected to be normalized already;
// duplicates in it collapse. Both slices are sorted.
func DiffTags(stored, desired []string) TagOps {
	add, remove := diff(stored, desired)
	return TagOps{Add: add, Remove: remove}
}

// Tags makes the stored tag set of id equal desired.
func Tags(ctx context.Context, s Store, id string, desired []string) (TagOps, error) {
	stored, err := s.TagsFor(ctx, id)
	if err != nil {
		return TagOps{}, err
	}
	ops := DiffTags(stored, desired)
	if err := s.DeleteTags(ctx, id, ops.Remove); err != nil {
		return TagOps{}, err
	}
	if err := s.InsertTags(ctx, id, ops.Add); err != nil {
		return TagOps{}, err
	}
	return ops, nil
}

// LinkOps is the result of diffing two edge sets of one source.
type LinkOps struct {
	Source string
	Add    []string
	Remove []string
}

// Empty reports whether there is nothing to apply.
func (o LinkOps) Empty() bool {
	return len(o.Add) == 0 && len(o.Remove) == 0
}

// DiffLinks diffs the stored outgoing edges of source against desired
// targets. source itself is dropped from desired, so a self link never turns
// into an operation.
func DiffLinks(source string, stored, desired []string) LinkOps {
	filtered := make([]string, 0, len(desired))
	for _, target := range desired {
		if target != source && target != "" {
			filtered = append(filtered, target)
		}
	}
	add, remove := diff(stored, filtered)
	return LinkOps{Source: source, Add: add, Remove: remove}
}

// Links makes the outgoing edges of source equal desired. Every target to
// add must exist (tombstones count); otherwise nothing is written and a
// TargetNotFound error names the missing ids.
func Links(ctx context.Context, s Store, source string, desired []string, at time.Time) (LinkOps, error) {
	stored, err := s.LinksFrom(ctx, source)
	if err != nil {
		return LinkOps{}, err
	}
	ops := DiffLinks(source, stored, desired)
	if ops.Empty() {
		return ops, nil
	}

	if len(ops.Add) > 0 {
		missing, err := s.MissingThoughts(ctx, ops.Add)
		if err != nil {
			return LinkOps{}, err
		}
		if len(missing) > 0 {
			return LinkOps{}, errs.TargetNotFound(source, missing)
		}
	}

	if err := s.DeleteLinks(ctx, source, ops.Remove); err != nil {
		return LinkOps{}, err
	}
	if err := s.InsertLinks(ctx, source, ops.Add, at); err != nil {
		return LinkOps{}, err
	}
	return ops, nil
}

// RetractIncoming removes every edge that points at id and returns the
// sources that lost one. Edges leaving id are kept.
func RetractIncoming(ctx context.Context, s Store, id string) ([]string, error) {
	return s.DeleteLinksTo(ctx, id)
}

func diff(stored, desired []string) (add, remove []string) {
	have := make(map[string]struct{}, len(stored))
	for _, v := range stored {
		have[v] = struct{}{}
	}
	want := make(map[string]struct{}, len(desired))
	for _, v := range desired {
		if _, dup := want[v]; dup {
			continue
		}
		want[v] = struct{}{}
		if _, ok := have[v]; !ok {
			add = append(add, v)
		}
	}
	for v := range have {
		if _, ok := want[v]; !ok {
			remove = append(remove, v)
		}
	}
	slices.Sort(add)
	slices.Sort(remove)
	return add, remove
}
