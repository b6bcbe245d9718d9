package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/enso-notes/enso/internal/thought"
	"github.com/enso-notes/enso/internal/ui"
)

const timeLayout = "2006-01-02 15:04"

// printThought writes the full view of one thought.
func printThought(w io.Writer, t thought.Thought) {
	fmt.Fprintf(w, "%s %s\n", ui.RenderID(t.ID), ui.RenderTitle(t.Title))
	if t.IsDeleted() {
		fmt.Fprintf(w, "%s deleted %s\n", ui.RenderWarn("⚠"), t.DeletedAt.Local().Format(timeLayout))
	}
	if tags := ui.RenderTags(t.Tags); tags != "" {
		fmt.Fprintf(w, "%s\n", tags)
	}
	fmt.Fprintf(w, "\n%s\n\n", strings.TrimRight(t.Content, "\n"))
	if len(t.Links) > 0 {
		fmt.Fprintf(w, "%s %s\n", ui.RenderMuted("links:"), strings.Join(t.Links, ", "))
	}
	fmt.Fprintf(w, "%s %s  %s %s\n",
		ui.RenderMuted("created:"), t.CreatedAt.Local().Format(timeLayout),
		ui.RenderMuted("updated:"), t.UpdatedAt.Local().Format(timeLayout))
}

// printThoughtList writes one line per thought, fitted to width.
func printThoughtList(w io.Writer, ts []thought.Thought, width int) {
	if len(ts) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No thoughts."))
		return
	}
	for _, t := range ts {
		fmt.Fprintln(w, listLine(t, width))
	}
}

func listLine(t thought.Thought, width int) string {
	title := t.Title
	if t.Title == thought.DefaultTitle {
		if first := ui.FirstLine(t.Content); first != "" {
			title = first
		}
	}
	stamp := t.UpdatedAt.Local().Format(timeLayout)
	tags := strings.Join(prefixed(t.Tags), " ")

	// id, two spaces, stamp, two spaces, title, then tags if they fit.
	room := width - len(t.ID) - len(stamp) - 4
	if tags != "" && room-len(tags)-2 >= 20 {
		room -= len(tags) + 2
	} else {
		tags = ""
	}
	line := fmt.Sprintf("%s  %s  %s", ui.RenderID(t.ID), ui.RenderMuted(stamp), ui.Truncate(title, max(room, 10)))
	if tags != "" {
		line += "  " + ui.RenderTags(t.Tags)
	}
	if t.IsDeleted() {
		line += " " + ui.RenderWarn("(deleted)")
	}
	return line
}

func prefixed(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = "#" + t
	}
	return out
}

func formatAge(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
