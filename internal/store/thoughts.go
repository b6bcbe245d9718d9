package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/thought"
)

// idChunk bounds the number of bound parameters in IN (...) lists.
const idChunk = 500

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds the statements shared by DB and Tx.
type queries struct {
	q querier
}

// Reader is the read side of the store.
type Reader interface {
	GetThought(ctx context.Context, id string) (thought.Thought, error)
	ListThoughts(ctx context.Context, filter ListFilter) ([]thought.Thought, error)
	ChangedSince(ctx context.Context, since time.Time, limit int) ([]thought.Thought, error)
	ChangedAfter(ctx context.Context, since time.Time, afterID string, limit int) ([]thought.Thought, error)
}

var (
	_ Reader = (*DB)(nil)
	_ Reader = (*Tx)(nil)
)

const thoughtColumns = `id, title, content, created_at, updated_at, deleted_at`

// GetThought loads a thought, tombstones included, with its tags and links.
// A missing id yields an errs.KindNotFound error.
func (s queries) GetThought(ctx context.Context, id string) (thought.Thought, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+thoughtColumns+` FROM thoughts WHERE id = ?`, id)
	t, err := scanThought(row)
	if errors.Is(err, sql.ErrNoRows) {
		return thought.Thought{}, errs.NotFound(id)
	}
	if err != nil {
		return thought.Thought{}, fmt.Errorf("failed to get thought %s: %w", id, err)
	}
	if t.Tags, err = s.TagsFor(ctx, id); err != nil {
		return thought.Thought{}, err
	}
	if t.Links, err = s.LinksFrom(ctx, id); err != nil {
		return thought.Thought{}, err
	}
	return t, nil
}

// FindThought is GetThought returning nil instead of a not-found error.
func (s queries) FindThought(ctx context.Context, id string) (*thought.Thought, error) {
	t, err := s.GetThought(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// PutThought inserts or updates the thought row. Tags and links are not
// touched; the reconcile package maintains them. created_at is only written
// on insert.
func (s queries) PutThought(ctx context.Context, t thought.Thought) error {
	const query = `
	INSERT INTO thoughts (id, title, content, created_at, updated_at, deleted_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		updated_at = excluded.updated_at,
		deleted_at = excluded.deleted_at
	`
	_, err := s.q.ExecContext(ctx, query,
		t.ID,
		t.Title,
		t.Content,
		toMicros(t.CreatedAt),
		toMicros(t.UpdatedAt),
		nullMicros(t.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put thought %s: %w", t.ID, err)
	}
	return nil
}

// DeleteThought hard-deletes a thought. Tags and edges in both directions go
// with it through the foreign-key cascade. Reports whether a row existed.
func (s queries) DeleteThought(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM thoughts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete thought %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// MissingThoughts returns the ids that have no row, in input order.
// Tombstones count as present.
func (s queries) MissingThoughts(ctx context.Context, ids []string) ([]string, error) {
	found := make(map[string]struct{}, len(ids))
	for _, chunk := range chunks(ids) {
		rows, err := s.q.QueryContext(ctx,
			`SELECT id FROM thoughts WHERE id IN (`+placeholders(len(chunk))+`)`, anys(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to check thoughts: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan id: %w", err)
			}
			found[id] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating ids: %w", err)
		}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ListFilter configures ListThoughts.
type ListFilter struct {
	// Search matches title, content or any tag, case-insensitively.
	Search string
	// IncludeDeleted also returns tombstones.
	IncludeDeleted bool
	// Limit caps the result (0 = no limit).
	Limit int
}

// ListThoughts returns thoughts ordered by updated_at descending.
func (s queries) ListThoughts(ctx context.Context, filter ListFilter) ([]thought.Thought, error) {
	var conditions []string
	var args []any

	if !filter.IncludeDeleted {
		conditions = append(conditions, "t.deleted_at IS NULL")
	}
	if needle := strings.ToLower(strings.TrimSpace(filter.Search)); needle != "" {
		pattern := "%" + escapeLike(needle) + "%"
		conditions = append(conditions, `(
			lower(t.title) LIKE ? ESCAPE '\' OR
			lower(t.content) LIKE ? ESCAPE '\' OR
			EXISTS (SELECT 1 FROM thought_tags g WHERE g.thought_id = t.id AND g.tag LIKE ? ESCAPE '\')
		)`)
		args = append(args, pattern, pattern, pattern)
	}

	query := `SELECT t.id, t.title, t.content, t.created_at, t.updated_at, t.deleted_at FROM thoughts t`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY t.updated_at DESC, t.id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.selectThoughts(ctx, query, args...)
}

// ChangedSince returns thoughts, tombstones included, with updated_at
// strictly after since, ordered by updated_at then id. A limit of 0 returns
// every match.
func (s queries) ChangedSince(ctx context.Context, since time.Time, limit int) ([]thought.Thought, error) {
	return s.ChangedAfter(ctx, since, "", limit)
}

// ChangedAfter is ChangedSince resuming after the row (since, afterID) in
// (updated_at, id) order. An empty afterID resumes after every row stamped
// since.
func (s queries) ChangedAfter(ctx context.Context, since time.Time, afterID string, limit int) ([]thought.Thought, error) {
	query := `SELECT ` + thoughtColumns + ` FROM thoughts WHERE updated_at > ?`
	args := []any{toMicros(since)}
	if afterID != "" {
		query += ` OR (updated_at = ? AND id > ?)`
		args = append(args, toMicros(since), afterID)
	}
	query += ` ORDER BY updated_at ASC, id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.selectThoughts(ctx, query, args...)
}

// CountThoughts counts rows, optionally including tombstones.
func (s queries) CountThoughts(ctx context.Context, includeDeleted bool) (int, error) {
	query := `SELECT COUNT(*) FROM thoughts`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	var n int
	if err := s.q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count thoughts: %w", err)
	}
	return n, nil
}

// selectThoughts runs a row query and attaches tags and links once the
// cursor is closed, since the pool has a single connection.
func (s queries) selectThoughts(ctx context.Context, query string, args ...any) ([]thought.Thought, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query thoughts: %w", err)
	}

	out := []thought.Thought{}
	for rows.Next() {
		t, err := scanThought(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan thought: %w", err)
		}
		out = append(out, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating thoughts: %w", err)
	}

	if err := s.attach(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s queries) attach(ctx context.Context, ts []thought.Thought) error {
	if len(ts) == 0 {
		return nil
	}
	ids := make([]string, len(ts))
	for i := range ts {
		ids[i] = ts[i].ID
	}

	tags, err := s.multi(ctx, `SELECT thought_id, tag FROM thought_tags WHERE thought_id IN (%s) ORDER BY tag`, ids)
	if err != nil {
		return fmt.Errorf("failed to load tags: %w", err)
	}
	links, err := s.multi(ctx, `SELECT source_id, target_id FROM thought_links WHERE source_id IN (%s) ORDER BY target_id`, ids)
	if err != nil {
		return fmt.Errorf("failed to load links: %w", err)
	}

	for i := range ts {
		ts[i].Tags = nonNil(tags[ts[i].ID])
		ts[i].Links = nonNil(links[ts[i].ID])
	}
	return nil
}

// multi runs a two-column (key, value) query over ids in chunks and groups
// values by key.
func (s queries) multi(ctx context.Context, format string, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	for _, chunk := range chunks(ids) {
		rows, err := s.q.QueryContext(ctx, fmt.Sprintf(format, placeholders(len(chunk))), anys(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var key, value string
			if err := rows.Scan(&key, &value); err != nil {
				rows.Close()
				return nil, err
			}
			out[key] = append(out[key], value)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanThought(row scanner) (thought.Thought, error) {
	var t thought.Thought
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64
	if err := row.Scan(&t.ID, &t.Title, &t.Content, &createdAt, &updatedAt, &deletedAt); err != nil {
		return thought.Thought{}, err
	}
	t.CreatedAt = fromMicros(createdAt)
	t.UpdatedAt = fromMicros(updatedAt)
	t.DeletedAt = fromNullMicros(deletedAt)
	t.Tags = []string{}
	t.Links = []string{}
	return t, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func anys(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func chunks(ids []string) [][]string {
	var out [][]string
	for len(ids) > idChunk {
		out = append(out, ids[:idChunk])
		ids = ids[idChunk:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
