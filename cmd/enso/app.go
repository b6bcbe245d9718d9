package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/enso-notes/enso/internal/clock"
	"github.com/enso-notes/enso/internal/event"
	"github.com/enso-notes/enso/internal/notes"
	"github.com/enso-notes/enso/internal/store"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
)

// app bundles the local database and the services built on it.
type app struct {
	db    *store.DB
	notes *notes.Service
	sync  *thoughtsync.Coordinator
}

// openApp opens the configured database, creating the schema if needed.
// sink may be nil.
func openApp(ctx context.Context, sink event.Sink) (*app, error) {
	db, err := store.OpenAndInit(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Database.Path, err)
	}
	if sink == nil {
		sink = event.Nop{}
	}
	clk := clock.Real{}
	return &app{
		db:    db,
		notes: notes.New(db, clk, sink, logger.Logger),
		sync: thoughtsync.NewCoordinator(db,
			thoughtsync.WithClock(clk),
			thoughtsync.WithPageSize(cfg.Sync.PageSize),
			thoughtsync.WithLogger(logger.Logger),
			thoughtsync.WithSink(sink),
		),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
