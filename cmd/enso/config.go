package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enso-notes/enso/internal/config"
	"github.com/enso-notes/enso/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Long: `Write the built-in defaults to a config file. The format follows the
extension: .yaml or .yml for YAML, anything else TOML.

Examples:
  enso config init
  enso config init ~/.config/enso/enso.yaml --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := "enso.toml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.Default().WriteFile(path, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file,
ENSO_* environment variables and flags. ai.api_key is masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := cfg.Redacted()
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), shown)
		}
		if file := loader.ConfigFile(); file != "" {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("# "+file))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("# no config file, defaults and environment only"))
		}
		return shown.EncodeYAML(cmd.OutOrStdout())
	},
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
