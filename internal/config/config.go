// Package config loads the opine configuration from YAML and the
// environment.
package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/combine"
	"github.com/Kelaxon/opinedb-public/internal/engine"
	"github.com/Kelaxon/opinedb-public/internal/eval"
	"github.com/Kelaxon/opinedb-public/internal/interpret"
	"github.com/Kelaxon/opinedb-public/internal/membership"
)

// EnvPrefix prefixes environment overrides, e.g. OPINE_LOGGING_LEVEL.
const EnvPrefix = "OPINE"

// Config is the root configuration.
type Config struct {
	Data    catalog.Files `mapstructure:"data" yaml:"data"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Engine  engine.Config `mapstructure:"engine" yaml:"engine"`
	Eval    eval.Config   `mapstructure:"eval" yaml:"eval"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// StoreConfig locates the SQLite catalog database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Store:  StoreConfig{Path: "opine.db"},
		Engine: engine.DefaultConfig(),
		Eval:   eval.DefaultConfig(),
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
	cfg.Engine.Models = "models/opine.json"
	return cfg
}

// envKeys are the settings overridable from the environment.
var envKeys = []string{
	"store.path",
	"engine.workers",
	"engine.models",
	"engine.index.backend",
	"logging.format",
	"logging.level",
	"eval.queries",
}

// Load reads the configuration at path on top of the defaults. With an
// empty path, opine.yaml is looked up in the working directory and the
// defaults are used when it does not exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("opine")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	e := c.Engine
	if e.Workers < 0 {
		return &ConfigError{Field: "engine.workers", Message: "must not be negative"}
	}
	switch e.Index.Backend {
	case interpret.BackendAuto, interpret.BackendExact, interpret.BackendHNSW:
	default:
		return &ConfigError{Field: "engine.index.backend", Message: "unknown backend " + string(e.Index.Backend)}
	}
	if e.Interpret.Cooccur.TopReviews <= 0 {
		return &ConfigError{Field: "engine.interpret.cooccur.top_reviews", Message: "must be positive"}
	}
	if e.Membership.MaxMarkers <= 0 {
		return &ConfigError{Field: "engine.membership.max_markers", Message: "must be positive"}
	}
	if e.Membership.FallbackScore <= 0 || e.Membership.FallbackScore >= 1 {
		return &ConfigError{Field: "engine.membership.fallback_score", Message: "must be in (0, 1)"}
	}
	if _, err := e.Membership.Objective.Resolve(false); err != nil {
		return &ConfigError{Field: "engine.membership.objective", Message: err.Error()}
	}
	if e.Training.Samples <= 0 {
		return &ConfigError{Field: "engine.training.samples", Message: "must be positive"}
	}
	if e.Training.TestSplit < 0 || e.Training.TestSplit >= 1 {
		return &ConfigError{Field: "engine.training.test_split", Message: "must be in [0, 1)"}
	}
	if e.Combine.BooleanFactor <= 0 || e.Combine.BooleanFactor > 1 {
		return &ConfigError{Field: "engine.combine.boolean_factor", Message: "must be in (0, 1]"}
	}

	if c.Eval.N < 0 {
		return &ConfigError{Field: "eval.n", Message: "must not be negative"}
	}
	if c.Eval.K <= 0 {
		return &ConfigError{Field: "eval.k", Message: "must be positive"}
	}
	for _, s := range c.Eval.Settings {
		if _, err := membership.ParseMode(string(s.Mode)); err != nil {
			return &ConfigError{Field: "eval.settings", Message: err.Error()}
		}
		if _, err := combine.ParsePolicy(string(s.Policy)); err != nil {
			return &ConfigError{Field: "eval.settings", Message: err.Error()}
		}
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return &ConfigError{Field: "logging.level", Message: err.Error()}
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return &ConfigError{Field: "logging.format", Message: "must be text or json"}
	}
	return nil
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
