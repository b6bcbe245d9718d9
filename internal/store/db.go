// Package store persists thoughts, their tags and their outgoing links in an
// embedded SQLite database.
//
// Layout:
//   - thoughts: one row per note, tombstones included (deleted_at NOT NULL)
//   - thought_tags: tag index, (thought_id, tag) unique
//   - thought_links: directed edges, (source_id, target_id) unique, no self loops
//   - replica_state: small key/value table used by sync clients
//
// All timestamps are stored as INTEGER unix microseconds. Both link columns
// reference thoughts with ON DELETE CASCADE, so purging a row removes its
// tags and every edge touching it. Soft deletes never rely on the cascade;
// the reconcile package retracts incoming edges explicitly.
//
// The pool holds a single connection and transactions begin IMMEDIATE, so
// writers serialize. Code running inside WithTx must only use the *Tx it was
// given.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS thoughts (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER,
	CHECK (updated_at >= created_at)
);

CREATE TABLE IF NOT EXISTS thought_tags (
	thought_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (thought_id, tag),
	FOREIGN KEY (thought_id) REFERENCES thoughts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS thought_links (
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (source_id, target_id),
	CHECK (source_id <> target_id),
	FOREIGN KEY (source_id) REFERENCES thoughts(id) ON DELETE CASCADE,
	FOREIGN KEY (target_id) REFERENCES thoughts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS replica_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_thoughts_updated ON thoughts(updated_at, id);
CREATE INDEX IF NOT EXISTS idx_thoughts_deleted ON thoughts(deleted_at);
CREATE INDEX IF NOT EXISTS idx_thought_tags_tag ON thought_tags(tag);
CREATE INDEX IF NOT EXISTS idx_thought_links_target ON thought_links(target_id);
`

// DB wraps the SQLite connection pool.
type DB struct {
	queries
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the database at path. WAL journaling,
// foreign keys and a busy timeout are enabled on every connection.
//
// The caller must call Close.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	return &DB{queries: queries{q: conn}, conn: conn, path: path}, nil
}

func dsn(path string) string {
	v := url.Values{}
	v.Add("_pragma", "busy_timeout(5000)")
	v.Add("_pragma", "foreign_keys(1)")
	v.Add("_pragma", "journal_mode(wal)")
	v.Set("_txlock", "immediate")
	return "file:" + path + "?" + v.Encode()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying *sql.DB.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	// Best effort; a failed checkpoint leaves the WAL for the next open.
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates tables and indexes. Safe to call repeatedly.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext is InitSchema with a context.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// OpenAndInit opens the database and creates the schema.
func OpenAndInit(ctx context.Context, path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Tx is a write transaction. It exposes the same query methods as DB.
type Tx struct {
	queries
	tx *sql.Tx
	sp int
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{queries: queries{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Savepoint runs fn inside a nested savepoint. If fn fails, only the work
// done since the savepoint is undone and fn's error is returned; the outer
// transaction stays usable.
func (tx *Tx) Savepoint(ctx context.Context, fn func() error) error {
	tx.sp++
	name := fmt.Sprintf("sp_%d", tx.sp)

	if _, err := tx.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return fmt.Errorf("failed to roll back savepoint after %v: %w", err, rbErr)
		}
		if _, relErr := tx.tx.ExecContext(ctx, "RELEASE "+name); relErr != nil {
			return fmt.Errorf("failed to release savepoint: %w", relErr)
		}
		return err
	}
	if _, err := tx.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}
