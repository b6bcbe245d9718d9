package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/enso-notes/enso/internal/api"
	"github.com/enso-notes/enso/internal/client"
	"github.com/enso-notes/enso/internal/clock"
	"github.com/enso-notes/enso/internal/loadtest"
	"github.com/enso-notes/enso/internal/store"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Simulate many devices editing and syncing concurrently",
	Long: `Run a multi-device sync workload and check that every replica converges.

Each simulated device keeps its own database, writes thoughts (creating,
editing shared ones, deleting its own) and syncs after every round. At the
end every device resyncs from scratch and all replicas are compared.

Without --url the run uses a throwaway server database behind an in-process
HTTP server. With --url it targets a running 'enso serve'; only point it at
a server whose data you can afford to litter.

Examples:
  # 10 devices, 5 rounds against a throwaway server
  enso loadtest

  # Heavier run
  enso loadtest --devices 50 --rounds 10 --writes 20

  # Against a running server, JSON report
  enso loadtest --url http://127.0.0.1:8000 --json
`,
	Args: cobra.NoArgs,
	RunE: runLoadtest,
}

func init() {
	d := loadtest.DefaultConfig()
	loadtestCmd.Flags().Int("devices", d.Devices, "Number of simulated devices")
	loadtestCmd.Flags().Int("rounds", d.Rounds, "Write-then-sync rounds per device")
	loadtestCmd.Flags().Int("writes", d.WritesPerRound, "Writes per device per round")
	loadtestCmd.Flags().Int("shared", d.SharedThoughts, "Thoughts every device edits")
	loadtestCmd.Flags().Float64("delete-ratio", d.DeleteRatio, "Chance a write is a delete (0.0-1.0)")
	loadtestCmd.Flags().Float64("edit-ratio", d.EditRatio, "Chance a write edits a shared thought (0.0-1.0)")
	loadtestCmd.Flags().Int64("seed", d.Seed, "Random seed")
	loadtestCmd.Flags().String("url", "", "Target server (default: in-process throwaway server)")
	rootCmd.AddCommand(loadtestCmd)
}

func runLoadtest(cmd *cobra.Command, args []string) error {
	lc := loadtest.DefaultConfig()
	lc.Devices, _ = cmd.Flags().GetInt("devices")
	lc.Rounds, _ = cmd.Flags().GetInt("rounds")
	lc.WritesPerRound, _ = cmd.Flags().GetInt("writes")
	lc.SharedThoughts, _ = cmd.Flags().GetInt("shared")
	lc.DeleteRatio, _ = cmd.Flags().GetFloat64("delete-ratio")
	lc.EditRatio, _ = cmd.Flags().GetFloat64("edit-ratio")
	lc.Seed, _ = cmd.Flags().GetInt64("seed")
	lc.Logger = logger.Logger.Named("loadtest")
	url, _ := cmd.Flags().GetString("url")

	if lc.DeleteRatio < 0 || lc.DeleteRatio > 1 || lc.EditRatio < 0 || lc.EditRatio > 1 {
		return fmt.Errorf("--delete-ratio and --edit-ratio must be between 0.0 and 1.0")
	}

	var server store.Reader
	if url == "" {
		dir, err := os.MkdirTemp("", "enso-loadtest-server-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		db, err := store.OpenAndInit(cmd.Context(), filepath.Join(dir, "server.db"))
		if err != nil {
			return err
		}
		defer db.Close()

		coord := thoughtsync.NewCoordinator(db,
			thoughtsync.WithClock(clock.Real{}),
			thoughtsync.WithPageSize(cfg.Sync.PageSize),
			thoughtsync.WithLogger(logger.Logger.Named("server")),
		)
		ts := httptest.NewServer(api.NewRouter(api.Deps{DB: db, Syncer: coord, Logger: logger.Logger.Named("http")}).Setup())
		defer ts.Close()
		url = ts.URL
		server = db
	}

	tr, err := client.NewHTTPTransport(url, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Running load test: %d devices, %d rounds, %d writes per round against %s\n",
		lc.Devices, lc.Rounds, lc.WritesPerRound, url)

	report, err := loadtest.Run(cmd.Context(), tr, server, lc)
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		report.Print(cmd.OutOrStdout())
	}
	if !report.Converged {
		return fmt.Errorf("replicas diverged (%d differences)", len(report.Divergent))
	}
	return nil
}
