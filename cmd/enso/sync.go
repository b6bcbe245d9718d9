package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/enso-notes/enso/internal/client"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync the local database with a server",
	Long: `Push local changes to the server and pull everything changed there
since the last sync.

The server URL comes from --server or sync.server. Conflicts are resolved by
last write wins on updated_at, so the device clocks should be roughly right.

Examples:
  enso sync
  enso sync --server http://notes.lan:8000
  enso sync --status
  enso sync --full        # pull everything again`,
	RunE: runSync,
}

var feedCmd = &cobra.Command{
	Use:     "feed",
	GroupID: "sync",
	Short:   "Print thoughts changed since a point in time",
	Long: `Print local thoughts, deleted ones included, changed after --since.

--since accepts RFC 3339 timestamps, Go durations ("90m") and natural
language ("yesterday", "2 hours ago", "last monday").`,
	RunE: runFeed,
}

func init() {
	syncCmd.Flags().String("server", "", "Server base URL (overrides sync.server)")
	syncCmd.Flags().Duration("timeout", 30*time.Second, "HTTP timeout per request")
	syncCmd.Flags().Bool("status", false, "Show the sync position without syncing")
	syncCmd.Flags().Bool("full", false, "Forget the cursor and pull every thought")

	feedCmd.Flags().String("since", "24 hours ago", "Start of the window")
	feedCmd.Flags().IntP("limit", "n", 100, "Maximum number of thoughts")

	rootCmd.AddCommand(syncCmd, feedCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	statusOnly, _ := cmd.Flags().GetBool("status")
	full, _ := cmd.Flags().GetBool("full")
	if server == "" {
		server = cfg.Sync.Server
	}

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	tr, err := client.NewHTTPTransport(server, &http.Client{Timeout: timeout})
	if err != nil {
		return err
	}
	c, err := client.New(tr, a.db, a.sync, client.WithLogger(logger.Logger))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusOnly {
		st, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(out, st)
		}
		now := time.Now()
		fmt.Fprintf(out, "Server:    %s\n", tr.URL())
		fmt.Fprintf(out, "Client id: %s\n", st.ClientID)
		if st.Cursor != nil {
			fmt.Fprintf(out, "Last pull: %s (%s)\n", st.Cursor.Local().Format(timeLayout), formatAge(now, *st.Cursor))
		} else {
			fmt.Fprintf(out, "Last pull: %s\n", ui.RenderMuted("never"))
		}
		fmt.Fprintf(out, "Pending:   %d\n", st.Pending)
		return nil
	}

	if full {
		if err := c.Reset(cmd.Context()); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s Syncing with %s...\n", ui.RenderAccent("↻"), tr.URL())
	start := time.Now()
	rep, err := c.Sync(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(out, rep)
	}
	fmt.Fprintf(out, "%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "   Pushed: %d (applied %d, stale %d)\n", rep.Pushed, rep.Applied, rep.Stale)
	fmt.Fprintf(out, "   Pulled: %d in %d page(s), %d merged\n", rep.Pulled, rep.Pages, rep.Merged)
	printRejections(out, rep.Rejected)
	return nil
}

func printRejections(w io.Writer, rejected []thoughtsync.Rejection) {
	if len(rejected) == 0 {
		return
	}
	fmt.Fprintf(w, "%s %d change(s) rejected:\n", ui.RenderWarn("⚠"), len(rejected))
	for _, r := range rejected {
		fmt.Fprintf(w, "   %s %s\n", ui.RenderID(r.ID), r.Error)
	}
}

func runFeed(cmd *cobra.Command, args []string) error {
	sinceText, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}
	since, err := parseSince(sinceText, time.Now())
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, more, err := thoughtsync.Page(cmd.Context(), a.db, since, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"since": since, "changes": rows, "has_more": more})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", ui.RenderHeader("Changes since "+since.Local().Format(timeLayout)))
	printThoughtList(out, rows, ui.Width())
	if more {
		fmt.Fprintf(out, "%s\n", ui.RenderMuted(fmt.Sprintf("more than %d; narrow --since or raise --limit", limit)))
	}
	return nil
}
