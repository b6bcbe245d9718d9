package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/notes"
	"github.com/enso-notes/enso/internal/thought"
	"github.com/enso-notes/enso/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add [content...]",
	GroupID: "thoughts",
	Short:   "Add a thought",
	Long: `Add a thought to the local database.

The content is the remaining arguments joined by spaces, or standard input
when the only argument is "-". Without arguments on a terminal an
interactive form asks for title, content and tags.

Examples:
  enso add "call the plumber" --tag home
  enso add --title "Launch plan" --link th_abc123 -- "ship on friday"
  pbpaste | enso add -`,
	RunE: runAdd,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "thoughts",
	Short:   "List thoughts, newest first",
	RunE:    runList,
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "thoughts",
	Short:   "Show one thought, deleted ones included",
	Args:    cobra.ExactArgs(1),
	RunE:    runShow,
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "thoughts",
	Short:   "Change a thought's title, content, tags or links",
	Long: `Change a thought. Only the given flags are changed; --tag and --link
replace the whole set (pass --tag "" to clear tags).`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	GroupID: "thoughts",
	Short:   "Delete thoughts (kept as tombstones so the delete syncs)",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runRm,
}

var purgeCmd = &cobra.Command{
	Use:     "purge <id>...",
	GroupID: "thoughts",
	Short:   "Remove thoughts permanently",
	Long: `Remove thoughts and every edge touching them. Unlike rm, a purge is not
synced: other devices keep their copy.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPurge,
}

var linkCmd = &cobra.Command{
	Use:     "link <source> <target>",
	GroupID: "thoughts",
	Short:   "Link one thought to another",
	Args:    cobra.ExactArgs(2),
	RunE:    runLink,
}

var unlinkCmd = &cobra.Command{
	Use:     "unlink <source> <target>",
	GroupID: "thoughts",
	Short:   "Remove a link",
	Args:    cobra.ExactArgs(2),
	RunE:    runUnlink,
}

func init() {
	addCmd.Flags().String("title", "", "Title (default: "+thought.DefaultTitle+")")
	addCmd.Flags().StringSlice("tag", nil, "Tag (repeatable or comma separated)")
	addCmd.Flags().StringSlice("link", nil, "Id of a thought to link to (repeatable)")

	listCmd.Flags().StringP("search", "s", "", "Only thoughts whose title, content or tags contain this text")
	listCmd.Flags().BoolP("all", "a", false, "Include deleted thoughts")
	listCmd.Flags().IntP("limit", "n", 50, "Maximum number of thoughts (0 for all)")

	editCmd.Flags().String("title", "", "New title")
	editCmd.Flags().String("content", "", "New content")
	editCmd.Flags().StringSlice("tag", nil, "Replace tags")
	editCmd.Flags().StringSlice("link", nil, "Replace links")

	purgeCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")

	rootCmd.AddCommand(addCmd, listCmd, showCmd, editCmd, rmCmd, purgeCmd, linkCmd, unlinkCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	title, _ := cmd.Flags().GetString("title")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	links, _ := cmd.Flags().GetStringSlice("link")

	var content string
	switch {
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		content = string(data)
	case len(args) > 0:
		content = strings.Join(args, " ")
	case ui.IsInteractive():
		var err error
		if title, content, tags, err = promptThought(title, tags); err != nil {
			return err
		}
	default:
		return errs.Validation("content is required")
	}

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.notes.Create(cmd.Context(), thought.Snapshot{
		Title:   title,
		Content: content,
		Tags:    tags,
		Links:   links,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s\n", ui.RenderPass("✓"), ui.RenderID(t.ID))
	return nil
}

// promptThought asks for a thought with a form, starting from the values
// given as flags.
func promptThought(title string, tags []string) (string, string, []string, error) {
	var content string
	tagText := strings.Join(tags, ", ")
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Placeholder(thought.DefaultTitle).
				Value(&title),
			huh.NewText().
				Title("Thought").
				Value(&content).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("content must not be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Tags").
				Description("Comma separated").
				Value(&tagText),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", "", nil, errors.New("cancelled")
		}
		return "", "", nil, err
	}
	return title, content, strings.Split(tagText, ","), nil
}

func runList(cmd *cobra.Command, args []string) error {
	search, _ := cmd.Flags().GetString("search")
	all, _ := cmd.Flags().GetBool("all")
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return errs.Validation("--limit must not be negative")
	}

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ts, err := a.notes.List(cmd.Context(), notes.ListOptions{Search: search, IncludeDeleted: all, Limit: limit})
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), ts)
	}
	printThoughtList(cmd.OutOrStdout(), ts, ui.Width())
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.notes.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	printThought(cmd.OutOrStdout(), t)
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	var p notes.Patch
	if cmd.Flags().Changed("title") {
		v, _ := cmd.Flags().GetString("title")
		p.Title = &v
	}
	if cmd.Flags().Changed("content") {
		v, _ := cmd.Flags().GetString("content")
		p.Content = &v
	}
	if cmd.Flags().Changed("tag") {
		v, _ := cmd.Flags().GetStringSlice("tag")
		p.Tags = &v
	}
	if cmd.Flags().Changed("link") {
		v, _ := cmd.Flags().GetStringSlice("link")
		p.Links = &v
	}

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.notes.Update(cmd.Context(), args[0], p)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Updated %s\n", ui.RenderPass("✓"), ui.RenderID(t.ID))
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range args {
		if err := a.notes.Delete(cmd.Context(), id); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", ui.RenderPass("✓"), ui.RenderID(id))
		}
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"deleted": args})
	}
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		if !ui.IsInteractive() {
			return errs.Validation("purge is permanent; pass --force to confirm")
		}
		confirmed := false
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("Permanently remove %d thought(s)?", len(args))).
			Description("Purged thoughts are not synced to other devices.").
			Value(&confirmed)
		if err := prompt.Run(); err != nil || !confirmed {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing purged.")
			return nil
		}
	}

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range args {
		if err := a.notes.Purge(cmd.Context(), id); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Purged %s\n", ui.RenderPass("✓"), ui.RenderID(id))
		}
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"purged": args})
	}
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	return relink(cmd, args, "Linked", (*notes.Service).Link)
}

func runUnlink(cmd *cobra.Command, args []string) error {
	return relink(cmd, args, "Unlinked", (*notes.Service).Unlink)
}

func relink(cmd *cobra.Command, args []string, verb string, op func(*notes.Service, context.Context, string, string) (thought.Thought, error)) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := op(a.notes, cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s → %s\n", ui.RenderPass("✓"), verb, ui.RenderID(args[0]), ui.RenderID(args[1]))
	return nil
}
