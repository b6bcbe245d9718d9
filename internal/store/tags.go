package store

import (
	"context"
	"fmt"
)

// TagsFor returns the stored tags of a thought, sorted.
func (s queries) TagsFor(ctx context.Context, id string) ([]string, error) {
	return s.column(ctx, `SELECT tag FROM thought_tags WHERE thought_id = ? ORDER BY tag`, id)
}

// InsertTags adds tags to a thought, ignoring ones already present.
func (s queries) InsertTags(ctx context.Context, id string, tags []string) error {
	for _, tag := range tags {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO thought_tags (thought_id, tag) VALUES (?, ?) ON CONFLICT DO NOTHING`, id, tag); err != nil {
			return fmt.Errorf("failed to add tag %q to %s: %w", tag, id, err)
		}
	}
	return nil
}

// DeleteTags removes tags from a thought.
func (s queries) DeleteTags(ctx context.Context, id string, tags []string) error {
	for _, tag := range tags {
		if _, err := s.q.ExecContext(ctx,
			`DELETE FROM thought_tags WHERE thought_id = ? AND tag = ?`, id, tag); err != nil {
			return fmt.Errorf("failed to remove tag %q from %s: %w", tag, id, err)
		}
	}
	return nil
}

// TagCounts returns how many live thoughts carry each tag.
func (s queries) TagCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.q.QueryContext(ctx, `
	SELECT g.tag, COUNT(*)
	FROM thought_tags g JOIN thoughts t ON t.id = g.thought_id
	WHERE t.deleted_at IS NULL
	GROUP BY g.tag`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tags: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var tag string
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, fmt.Errorf("failed to scan tag count: %w", err)
		}
		out[tag] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tag counts: %w", err)
	}
	return out, nil
}

func (s queries) column(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
