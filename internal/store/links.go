package store

import (
	"context"
	"fmt"
	"time"
)

// LinksFrom returns the outgoing link targets of a thought, sorted.
func (s queries) LinksFrom(ctx context.Context, source string) ([]string, error) {
	return s.column(ctx, `SELECT target_id FROM thought_links WHERE source_id = ? ORDER BY target_id`, source)
}

// LinksTo returns the sources of edges pointing at target, sorted.
func (s queries) LinksTo(ctx context.Context, target string) ([]string, error) {
	return s.column(ctx, `SELECT source_id FROM thought_links WHERE target_id = ? ORDER BY source_id`, target)
}

// InsertLinks adds edges source->target. Existing edges are left alone. The
// caller is responsible for excluding source itself; the table rejects self
// loops.
func (s queries) InsertLinks(ctx context.Context, source string, targets []string, at time.Time) error {
	for _, target := range targets {
		if _, err := s.q.ExecContext(ctx, `
		INSERT INTO thought_links (source_id, target_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(source_id, target_id) DO NOTHING`, source, target, toMicros(at)); err != nil {
			return fmt.Errorf("failed to link %s -> %s: %w", source, target, err)
		}
	}
	return nil
}

// DeleteLinks removes edges source->target.
func (s queries) DeleteLinks(ctx context.Context, source string, targets []string) error {
	for _, target := range targets {
		if _, err := s.q.ExecContext(ctx,
			`DELETE FROM thought_links WHERE source_id = ? AND target_id = ?`, source, target); err != nil {
			return fmt.Errorf("failed to unlink %s -> %s: %w", source, target, err)
		}
	}
	return nil
}

// DeleteLinksTo removes every edge whose target is id and returns the
// sources that lost an edge.
func (s queries) DeleteLinksTo(ctx context.Context, target string) ([]string, error) {
	sources, err := s.LinksTo(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return sources, nil
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM thought_links WHERE target_id = ?`, target); err != nil {
		return nil, fmt.Errorf("failed to retract links to %s: %w", target, err)
	}
	return sources, nil
}

// CountLinks counts all stored edges.
func (s queries) CountLinks(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM thought_links`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return n, nil
}
