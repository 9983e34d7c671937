package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/jswat/internal/jdi"
	"github.com/dshills/jswat/internal/logging"
	"github.com/dshills/jswat/internal/persist"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "JSWAT"

// Config is the complete debugger configuration. Environment variable
// names derive from the field names (JSWAT_SESSION_START_TIMEOUT). Leaf
// fields must not carry envconfig tags: envconfig falls back to the bare
// tag as a variable name, and PATH would then leak in.
type Config struct {
	Log         LogConfig        `toml:"log"`
	Session     SessionConfig    `toml:"session"`
	Breakpoints BreakpointConfig `toml:"breakpoints"`
	Persist     PersistConfig    `toml:"persist"`
	Metrics     MetricsConfig    `toml:"metrics"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// SessionConfig configures sessions and the session manager.
type SessionConfig struct {
	// StartTimeout bounds how long a launch waits for the debuggee's first
	// event. Zero waits forever.
	StartTimeout Duration `toml:"start_timeout" split_words:"true"`
	NamePrefix   string   `toml:"name_prefix" split_words:"true"`
	IDPrefix     string   `toml:"id_prefix" split_words:"true"`
}

// BreakpointConfig configures new breakpoints.
type BreakpointConfig struct {
	SuspendPolicy   string `toml:"suspend_policy" split_words:"true"`
	DefaultUncaught bool   `toml:"default_uncaught" split_words:"true"`
}

// PersistConfig locates the session store.
type PersistConfig struct {
	Path string `toml:"path"`
	// Format is "toml", "yaml", or empty to go by the file extension.
	Format string `toml:"format"`
	Watch  bool   `toml:"watch"`
}

// MetricsConfig toggles the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Session: SessionConfig{
			StartTimeout: Duration{30 * time.Second},
			NamePrefix:   "Session",
			IDPrefix:     "SID_",
		},
		Breakpoints: BreakpointConfig{
			SuspendPolicy:   "all",
			DefaultUncaught: true,
		},
		Persist: PersistConfig{
			Path: DefaultStorePath(),
		},
	}
}

// DefaultStorePath returns the session store under the user config
// directory, or a relative path when there is none.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".jswat", "sessions.toml")
	}
	return filepath.Join(dir, "jswat", "sessions.toml")
}

// UserConfigPath returns the user configuration file, or "" when the
// platform has no user config directory.
func UserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "jswat", "config.toml")
}

// Load starts from Default, applies each TOML file in order, then the
// environment, and validates the result.
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := cfg.merge(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge decodes path over cfg. Keys absent from the file keep their
// current values.
func (c *Config) merge(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, c); err != nil {
		pe := &ParseError{Path: path, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return pe
	}
	return nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	invalid := func(path, msg string, value any) {
		result = multierror.Append(result, &ValidationError{Path: path, Message: msg, Value: value})
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		invalid("log.level", "unknown level", c.Log.Level)
	}
	if c.Session.StartTimeout.Duration < 0 {
		invalid("session.start_timeout", "must not be negative", c.Session.StartTimeout)
	}
	if c.Session.NamePrefix == "" {
		invalid("session.name_prefix", "must not be empty", c.Session.NamePrefix)
	}
	if c.Session.IDPrefix == "" {
		invalid("session.id_prefix", "must not be empty", c.Session.IDPrefix)
	}
	if _, err := jdi.ParseSuspendPolicy(c.Breakpoints.SuspendPolicy); err != nil {
		invalid("breakpoints.suspend_policy", "must be all, thread or none", c.Breakpoints.SuspendPolicy)
	}
	if _, err := persist.ParseFormat(c.Persist.Format); err != nil {
		invalid("persist.format", "must be toml or yaml", c.Persist.Format)
	}
	return result.ErrorOrNil()
}

// SuspendPolicy returns the default policy for new breakpoints.
func (c *Config) SuspendPolicy() jdi.SuspendPolicy {
	p, _ := jdi.ParseSuspendPolicy(c.Breakpoints.SuspendPolicy)
	return p
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Development = c.Log.Development
	return cfg
}

// Store opens the configured session store.
func (c *Config) Store() (*persist.FileStore, error) {
	format, err := persist.ParseFormat(c.Persist.Format)
	if err != nil {
		return nil, err
	}
	return persist.NewStore(c.Persist.Path, format)
}
