package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/thought"
)

// resetFlags puts every flag back to its default; the command tree is
// package state shared by all runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

type cli struct {
	t   *testing.T
	dir string
	db  string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	return &cli{t: t, dir: dir, db: filepath.Join(dir, "enso.db")}
}

func (c *cli) runIn(stdin string, args ...string) (string, error) {
	c.t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(c.dir, "missing.toml"), "--db", c.db}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) run(args ...string) string {
	c.t.Helper()
	out, err := c.runIn("", args...)
	require.NoError(c.t, err, "enso %s", strings.Join(args, " "))
	return out
}

func (c *cli) thought(args ...string) thought.Thought {
	c.t.Helper()
	var th thought.Thought
	require.NoError(c.t, json.Unmarshal([]byte(c.run(append(args, "--json")...)), &th))
	return th
}

func TestAddListShow(t *testing.T) {
	c := newCLI(t)

	added := c.thought("add", "--title", "Groceries", "--tag", "Home", "buy", "milk")
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "buy milk", added.Content)
	assert.Equal(t, []string{"home"}, added.Tags)

	out := c.run("list")
	assert.Contains(t, out, added.ID)
	assert.Contains(t, out, "Groceries")

	out = c.run("show", added.ID)
	assert.Contains(t, out, "buy milk")
	assert.Contains(t, out, "#home")
}

func TestAddFromStdin(t *testing.T) {
	c := newCLI(t)

	out, err := c.runIn("first line\nsecond line\n", "add", "-", "--json")
	require.NoError(t, err)
	var th thought.Thought
	require.NoError(t, json.Unmarshal([]byte(out), &th))
	assert.Contains(t, th.Content, "second line")
}

func TestEditLinkAndRemove(t *testing.T) {
	c := newCLI(t)
	a := c.thought("add", "alpha")
	b := c.thought("add", "beta")

	edited := c.thought("edit", a.ID, "--tag", "b,a", "--title", "Alpha")
	assert.Equal(t, "Alpha", edited.Title)
	assert.Equal(t, []string{"a", "b"}, edited.Tags)

	linked := c.thought("link", a.ID, b.ID)
	assert.Equal(t, []string{b.ID}, linked.Links)

	c.run("rm", b.ID)

	var live []thought.Thought
	require.NoError(t, json.Unmarshal([]byte(c.run("list", "--json")), &live))
	require.Len(t, live, 1)
	assert.Equal(t, a.ID, live[0].ID)
	assert.Empty(t, live[0].Links, "deleting the target drops incoming links")

	var all []thought.Thought
	require.NoError(t, json.Unmarshal([]byte(c.run("list", "--all", "--json")), &all))
	assert.Len(t, all, 2)

	c.run("purge", "--force", b.ID)
	_, err := c.runIn("", "show", b.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestShowMissing(t *testing.T) {
	c := newCLI(t)
	_, err := c.runIn("", "show", "th_nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestExportImport(t *testing.T) {
	src := newCLI(t)
	a := src.thought("add", "--tag", "x", "alpha")
	b := src.thought("add", "--link", a.ID, "beta")

	backup := filepath.Join(src.dir, "backup.jsonl")
	src.run("export", "--out", backup)

	stdout := src.run("export")
	assert.Len(t, strings.Split(strings.TrimSpace(stdout), "\n"), 2)

	dst := newCLI(t)
	out := dst.run("import", backup)
	assert.Contains(t, out, "2 applied")

	got := dst.thought("show", b.ID)
	assert.Equal(t, []string{a.ID}, got.Links)
	assert.Equal(t, b.UpdatedAt.UTC(), got.UpdatedAt.UTC())

	out, err := dst.runIn(stdout, "import", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "0 applied, 2 stale")
}

func TestExportDir(t *testing.T) {
	c := newCLI(t)
	a := c.thought("add", "alpha")

	dir := filepath.Join(c.dir, "snapshots")
	c.run("export", "--dir", dir)

	_, err := os.Stat(filepath.Join(dir, a.ID+".json"))
	assert.NoError(t, err)
}

func TestConfigInitAndShow(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(c.dir, "conf", "enso.yaml")

	c.run("config", "init", path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "page_size: 100")

	_, err = c.runIn("", "config", "init", path)
	assert.Error(t, err)
	c.run("config", "init", path, "--force")

	out := c.run("config", "show")
	assert.Contains(t, out, c.db)
}

func TestWatchOnce(t *testing.T) {
	c := newCLI(t)
	inbox := filepath.Join(c.dir, "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "th_drop.json"),
		[]byte(`{"title":"Dropped","content":"from a file","updated_at":"2024-06-01T07:00:00Z"}`), 0o644))

	out := c.run("watch", "--once", inbox)
	assert.Contains(t, out, "1 applied")

	got := c.thought("show", "th_drop")
	assert.Equal(t, "Dropped", got.Title)
}

func TestLoadtestInProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}
	c := newCLI(t)
	out := c.run("loadtest", "--devices", "3", "--rounds", "2", "--writes", "3", "--shared", "2")
	assert.Contains(t, out, "Converged:     true")
}
