// Package config loads enso settings from defaults, an optional config file,
// ENSO_* environment variables and command line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/enso-notes/enso/internal/errs"
)

// EnvPrefix is prepended to every environment override (ENSO_SERVER_ADDR).
const EnvPrefix = "ENSO"

// AI modes.
const (
	ModeStub      = "stub"
	ModeLocal     = "local"
	ModeRemote    = "remote"
	ModeAnthropic = "anthropic"
	ModeAuto      = "auto"
)

// Config is the effective configuration. It is built once at startup and
// passed to the components that need it.
type Config struct {
	Database Database `mapstructure:"database" toml:"database" yaml:"database"`
	Server   Server   `mapstructure:"server" toml:"server" yaml:"server"`
	Sync     Sync     `mapstructure:"sync" toml:"sync" yaml:"sync"`
	Log      Log      `mapstructure:"log" toml:"log" yaml:"log"`
	AI       AI       `mapstructure:"ai" toml:"ai" yaml:"ai"`
	Inbox    Inbox    `mapstructure:"inbox" toml:"inbox" yaml:"inbox"`
}

type Database struct {
	Path string `mapstructure:"path" toml:"path" yaml:"path"`
}

type Server struct {
	Addr         string        `mapstructure:"addr" toml:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" toml:"write_timeout" yaml:"write_timeout"`
}

type Sync struct {
	PageSize int `mapstructure:"page_size" toml:"page_size" yaml:"page_size"`
	// Server is the base URL `enso sync` talks to.
	Server string `mapstructure:"server" toml:"server" yaml:"server"`
}

type Log struct {
	Level  string `mapstructure:"level" toml:"level" yaml:"level"`
	Format string `mapstructure:"format" toml:"format" yaml:"format"` // json or console
	File   string `mapstructure:"file" toml:"file" yaml:"file"`
}

type AI struct {
	Enabled  bool          `mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
	Mode     string        `mapstructure:"mode" toml:"mode" yaml:"mode"`
	ModelURL string        `mapstructure:"model_url" toml:"model_url" yaml:"model_url"`
	Timeout  time.Duration `mapstructure:"timeout" toml:"timeout" yaml:"timeout"`
	Model    string        `mapstructure:"model" toml:"model" yaml:"model"`
	APIKey   string        `mapstructure:"api_key" toml:"api_key" yaml:"api_key"`
}

type Inbox struct {
	Dir      string        `mapstructure:"dir" toml:"dir" yaml:"dir"`
	Debounce time.Duration `mapstructure:"debounce" toml:"debounce" yaml:"debounce"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: Database{Path: "enso.db"},
		Server: Server{
			Addr:         "127.0.0.1:8000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Sync: Sync{PageSize: 100, Server: "http://127.0.0.1:8000"},
		Log:  Log{Level: "info", Format: "json"},
		AI: AI{
			Enabled:  true,
			Mode:     ModeStub,
			ModelURL: "http://127.0.0.1:11434",
			Timeout:  8 * time.Second,
			Model:    "claude-3-5-haiku-latest",
		},
		Inbox: Inbox{Debounce: 500 * time.Millisecond},
	}
}

// Loader wraps a viper instance configured for enso.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader with defaults and environment bindings in place.
// file may be empty, in which case enso.{toml,yaml,yml} is searched in the
// working directory and $HOME/.config/enso.
func NewLoader(file string) *Loader {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("enso")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "enso"))
		}
	}
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("sync.page_size", d.Sync.PageSize)
	v.SetDefault("sync.server", d.Sync.Server)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("ai.enabled", d.AI.Enabled)
	v.SetDefault("ai.mode", d.AI.Mode)
	v.SetDefault("ai.model_url", d.AI.ModelURL)
	v.SetDefault("ai.timeout", d.AI.Timeout)
	v.SetDefault("ai.model", d.AI.Model)
	v.SetDefault("ai.api_key", d.AI.APIKey)
	v.SetDefault("inbox.dir", d.Inbox.Dir)
	v.SetDefault("inbox.debounce", d.Inbox.Debounce)
}

// BindFlag makes flag override key when the flag is set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Viper exposes the underlying instance.
func (l *Loader) Viper() *viper.Viper { return l.v }

// ConfigFile reports the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string { return l.v.ConfigFileUsed() }

// Load reads the config file (a missing file is not an error), decodes and
// validates the result.
func (l *Loader) Load() (Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.AI.Mode = strings.ToLower(strings.TrimSpace(cfg.AI.Mode))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Watch calls onChange with the reloaded config whenever the config file is
// written. Reloads that fail validation are reported through onError and the
// previous configuration stays in effect.
func (l *Loader) Watch(onChange func(Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errs.Validation("database.path is required")
	}
	if c.Sync.PageSize < 1 {
		return errs.Validation("sync.page_size must be at least 1, got %d", c.Sync.PageSize)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return errs.Validation("log.format must be json or console, got %q", c.Log.Format)
	}
	switch c.AI.Mode {
	case ModeStub, ModeLocal, ModeRemote, ModeAnthropic, ModeAuto:
	default:
		return errs.Validation("ai.mode must be one of stub, local, remote, anthropic, auto; got %q", c.AI.Mode)
	}
	if c.AI.Timeout <= 0 {
		return errs.Validation("ai.timeout must be positive")
	}
	if c.Inbox.Debounce < 0 {
		return errs.Validation("inbox.debounce must not be negative")
	}
	return nil
}
