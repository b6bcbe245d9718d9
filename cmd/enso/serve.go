package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/ai"
	"github.com/enso-notes/enso/internal/api"
	"github.com/enso-notes/enso/internal/config"
	"github.com/enso-notes/enso/internal/event"
	"github.com/enso-notes/enso/internal/feed"
	"github.com/enso-notes/enso/internal/inbox"
	"github.com/enso-notes/enso/internal/metrics"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:         "serve",
	GroupID:     "sync",
	Short:       "Run the HTTP API and sync server",
	Annotations: map[string]string{daemonAnnotation: "true"},
	Long: `Serve the thought API, the sync endpoint, the websocket change feed
and Prometheus metrics from the local database.

Routes:
  GET  /health                 store health
  GET  /metrics                Prometheus metrics
  GET  /ws                     websocket change feed
  /thoughts                    CRUD, links and purge
  POST /sync/thoughts          push changes and pull a page
  /api/ai/...                  suggestions, search and summaries

When inbox.dir is set, snapshot files dropped there are imported while the
server runs. Editing log.level in the config file takes effect without a
restart.

Examples:
  enso serve
  enso serve --addr 0.0.0.0:8000 --origin https://notes.example.com`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().StringSlice("origin", nil, "Allowed CORS and websocket origins (default: local dev servers)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr, _ := cmd.Flags().GetString("addr")
	origins, _ := cmd.Flags().GetStringSlice("origin")
	if addr == "" {
		addr = cfg.Server.Addr
	}
	if len(origins) == 0 {
		origins = api.DefaultAllowedOrigins
	}
	log := logger.Logger

	hub := feed.NewHub(origins, log.Named("feed"))
	hub.Start()
	defer hub.Stop()

	collector := metrics.New(true)
	sinks := event.Sinks{collector, hub}

	a, err := openApp(ctx, sinks)
	if err != nil {
		return err
	}
	defer a.Close()

	router := api.NewRouter(api.Deps{
		DB:             a.db,
		Notes:          a.notes,
		Syncer:         a.sync,
		AI:             ai.NewService(cfg.AI, log.Named("ai")),
		Feed:           hub,
		Metrics:        collector,
		Logger:         log.Named("http"),
		AllowedOrigins: origins,
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	loader.Watch(func(next config.Config) {
		if next.Log.Level == cfg.Log.Level {
			return
		}
		if err := logger.SetLevel(next.Log.Level); err != nil {
			log.Warn("ignoring log level from config", zap.Error(err))
			return
		}
		log.Info("log level changed", zap.String("level", next.Log.Level))
		cfg.Log.Level = next.Log.Level
	}, func(err error) {
		log.Warn("config reload failed", zap.Error(err))
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stays nil, and never ready, without an inbox.
	var inboxDone chan error
	if cfg.Inbox.Dir != "" {
		w, err := newInboxWatcher(cfg.Inbox.Dir, a.sync)
		if err != nil {
			return err
		}
		inboxDone = make(chan error, 1)
		go func() { inboxDone <- w.Run(ctx) }()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", addr), zap.String("db", cfg.Database.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	fmt.Fprintf(os.Stderr, "enso listening on http://%s\n", addr)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case err := <-inboxDone:
		inboxDone = nil
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("inbox watcher failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	err = srv.Shutdown(shutdownCtx)

	// The watcher must be done with the database before it is closed.
	cancel()
	if inboxDone != nil {
		<-inboxDone
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newInboxWatcher(dir string, syncer thoughtsync.Syncer) (*inbox.Watcher, error) {
	return inbox.New(dir, syncer, inbox.Config{
		Debounce: cfg.Inbox.Debounce,
		Logger:   logger.Logger.Named("inbox"),
	})
}
