package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enso-notes/enso/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:         "watch [dir]",
	GroupID:     "advanced",
	Short:       "Import snapshot files dropped into a directory",
	Annotations: map[string]string{daemonAnnotation: "true"},
	Long: `Watch a directory and merge every *.json snapshot written into it.

Files already present are imported first. A file is picked up once it has
been quiet for inbox.debounce. The directory defaults to inbox.dir.

Examples:
  enso watch ~/Dropbox/enso-inbox
  enso watch --once ./snapshots`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Bool("once", false, "Import the current files and exit")
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before a file is imported (overrides inbox.debounce)")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	once, _ := cmd.Flags().GetBool("once")
	if cmd.Flags().Changed("debounce") {
		cfg.Inbox.Debounce, _ = cmd.Flags().GetDuration("debounce")
	}
	dir := cfg.Inbox.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return fmt.Errorf("no directory given and inbox.dir is not set")
	}

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := newInboxWatcher(dir, a.sync)
	if err != nil {
		return err
	}

	if once {
		res, err := w.ImportAll(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %d applied, %d stale\n", ui.RenderPass("✓"), res.Applied, res.Stale)
		printRejections(out, res.Rejected)
		return nil
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "watching %s (Ctrl-C to stop)\n", dir)
	return w.Run(cmd.Context())
}
