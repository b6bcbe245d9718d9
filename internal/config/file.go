package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

// document renders c as nested maps with durations spelled the way a human
// would type them ("8s"), which both encoders then sort by key.
func (c Config) document() map[string]map[string]any {
	return map[string]map[string]any{
		"database": {"path": c.Database.Path},
		"server": {
			"addr":          c.Server.Addr,
			"read_timeout":  c.Server.ReadTimeout.String(),
			"write_timeout": c.Server.WriteTimeout.String(),
		},
		"sync": {
			"page_size": c.Sync.PageSize,
			"server":    c.Sync.Server,
		},
		"log": {
			"level":  c.Log.Level,
			"format": c.Log.Format,
			"file":   c.Log.File,
		},
		"ai": {
			"enabled":   c.AI.Enabled,
			"mode":      c.AI.Mode,
			"model_url": c.AI.ModelURL,
			"timeout":   c.AI.Timeout.String(),
			"model":     c.AI.Model,
			"api_key":   c.AI.APIKey,
		},
		"inbox": {
			"dir":      c.Inbox.Dir,
			"debounce": c.Inbox.Debounce.String(),
		},
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.AI.APIKey != "" {
		c.AI.APIKey = redacted
	}
	return c
}

// EncodeTOML writes c in TOML form.
func (c Config) EncodeTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c.document())
}

// EncodeYAML writes c in YAML form.
func (c Config) EncodeYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.document()); err != nil {
		return err
	}
	return enc.Close()
}

// WriteFile writes c to path, choosing the format from the extension
// (.yaml/.yml, anything else is TOML). An existing file is left untouched
// unless force is set.
func (c Config) WriteFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	var buf bytes.Buffer
	var err error
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = c.EncodeYAML(&buf)
	default:
		err = c.EncodeTOML(&buf)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	// 0600: the file may carry ai.api_key.
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
