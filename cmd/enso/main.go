// Command enso is the thought store server and its command-line client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/enso-notes/enso/internal/config"
	"github.com/enso-notes/enso/internal/logging"
	"github.com/enso-notes/enso/internal/ui"
)

// daemonAnnotation marks long-running commands that log at the configured
// level; everything else only logs warnings unless --verbose is set.
const daemonAnnotation = "daemon"

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool

	loader *config.Loader
	cfg    config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "enso",
	Short: "enso - a thought store with offline multi-device sync",
	Long: `enso stores short notes ("thoughts") with tags and links between them.

Run 'enso serve' to start the HTTP API and sync endpoint. The other commands
work directly on the local database, or sync it with a server.

Configuration is read from enso.toml (or enso.yaml) in the working directory
or ~/.config/enso, then ENSO_* environment variables, then flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Setup(cmd.OutOrStdout())

		loader = config.NewLoader(cfgFile)
		if err := loader.BindFlag("database.path", cmd.Flags().Lookup("db")); err != nil {
			return err
		}
		if err := loader.BindFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
			return err
		}
		var err error
		if cfg, err = loader.Load(); err != nil {
			return err
		}
		if logger, err = logging.New(cfg.Log); err != nil {
			return err
		}
		if cmd.Annotations[daemonAnnotation] == "" && !verbose && logger.Level.Level() < zapcore.WarnLevel {
			logger.Level.SetLevel(zapcore.WarnLevel)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "thoughts", Title: "Thoughts:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./enso.toml or ~/.config/enso/enso.toml)")
	rootCmd.PersistentFlags().String("db", "", "Database path (overrides database.path)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at the configured level")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
