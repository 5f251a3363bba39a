package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file. ${VAR} and ${VAR:-fallback} are expanded from
// the environment first. Unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(strings.NewReader(expandEnv(string(data), os.LookupEnv)))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// expandEnv substitutes ${VAR}, $VAR and ${VAR:-fallback}. Unset variables
// without a fallback expand to "".
func expandEnv(s string, lookup func(string) (string, bool)) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if v, ok := lookup(name); ok && (v != "" || !hasFallback) {
			return v
		}
		return fallback
	})
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Resolve builds the effective configuration: the file at path (or nothing when
// path is empty), then ROMARKET_* environment overrides, then defaults. The
// result is validated.
func Resolve(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// envOverrides are the settings a deployment most often changes without
// editing the file. They win over file values.
var envOverrides = []struct {
	name  string
	apply func(c *Config, v string) error
}{
	{"ROMARKET_PORT", func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Server.Port = port
		return nil
	}},
	{"ROMARKET_HISTORY_DRIVER", func(c *Config, v string) error {
		c.History.Driver = strings.ToLower(v)
		return nil
	}},
	{"ROMARKET_SQLITE_PATH", func(c *Config, v string) error {
		c.History.SQLite.Path = v
		return nil
	}},
	{"ROMARKET_LOG_LEVEL", func(c *Config, v string) error {
		c.Log.Level = strings.ToLower(v)
		return nil
	}},
	{"ROMARKET_POLLER_ENABLED", func(c *Config, v string) error {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Poller.Enabled = enabled
		return nil
	}},
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

// Default returns a configuration with every default applied, for running without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
