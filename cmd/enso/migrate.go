package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/enso-notes/enso/internal/migrate"
	"github.com/enso-notes/enso/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "advanced",
	Short:   "Export every thought as JSON lines",
	Long: `Write every thought, deleted ones included, in the sync wire format.

By default one JSON object per line goes to stdout. --out writes a file and
--dir writes one <id>.json snapshot per thought, the format 'enso watch'
imports.

Examples:
  enso export > backup.jsonl
  enso export --out backup.jsonl
  enso export --dir ./snapshots`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:     "import <file|->",
	GroupID: "advanced",
	Short:   "Merge thoughts from a JSON lines file",
	Long: `Merge snapshots from a JSON lines file into the local database.

Records go through the same last-write-wins merge as sync, so importing an
export twice changes nothing. A record linking to a thought that only
appears in a later batch is rejected; raise --batch to keep them together.

Examples:
  enso import backup.jsonl
  cat backup.jsonl | enso import -`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	exportCmd.Flags().StringP("out", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().String("dir", "", "Write one snapshot file per thought into this directory")
	exportCmd.MarkFlagsMutuallyExclusive("out", "dir")

	importCmd.Flags().Int("batch", migrate.DefaultBatchSize, "Snapshots merged per transaction")

	rootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	dir, _ := cmd.Flags().GetString("dir")

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var n int
	switch {
	case dir != "":
		n, err = migrate.ExportDir(cmd.Context(), a.db, dir)
	case out != "":
		n, err = exportFile(cmd, a, out)
	default:
		n, err = migrate.Export(cmd.Context(), a.db, cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}
	if out != "" || dir != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s exported %d thoughts\n", ui.RenderPass("✓"), n)
	}
	return nil
}

func exportFile(cmd *cobra.Command, a *app, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := migrate.Export(cmd.Context(), a.db, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func runImport(cmd *cobra.Command, args []string) error {
	batch, _ := cmd.Flags().GetInt("batch")

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var res *migrate.ImportResult
	if args[0] == "-" {
		res, err = migrate.Import(cmd.Context(), a.sync, cmd.InOrStdin(), batch)
	} else {
		res, err = migrate.ImportFile(cmd.Context(), a.sync, args[0], batch)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s read %d lines: %d applied, %d stale, %d rejected\n",
		ui.RenderPass("✓"), res.Lines, res.Applied, res.Stale, len(res.Rejected))
	printRejections(w, res.Rejected)
	return nil
}
