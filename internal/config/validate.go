package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !strings.HasPrefix(c.GNJOY.BaseURL, "http://") && !strings.HasPrefix(c.GNJOY.BaseURL, "https://") {
		return fmt.Errorf("gnjoy.base_url must be an http(s) URL, got %q", c.GNJOY.BaseURL)
	}
	if c.GNJOY.Burst < 1 {
		return errors.New("gnjoy.burst must be >= 1")
	}

	if c.Cache.SearchTTL < 0 || c.Cache.TopTTL < 0 || c.Cache.HistoryTTL < 0 {
		return errors.New("cache ttls must be positive")
	}

	if c.Refresh.PageSize < 1 {
		return errors.New("refresh.page_size must be >= 1")
	}

	if c.Stream.SendConcurrency < 1 {
		return errors.New("stream.send_concurrency must be >= 1")
	}
	if c.Stream.PingInterval >= c.Stream.PongTimeout {
		return fmt.Errorf("stream.ping_interval (%s) must be less than stream.pong_timeout (%s)",
			c.Stream.PingInterval, c.Stream.PongTimeout)
	}

	switch c.History.Driver {
	case DriverSQLite:
		if c.History.SQLite.Path == "" {
			return errors.New("history.sqlite.path is required")
		}
	case DriverPostgres:
		if err := c.History.Postgres.validate("history.postgres"); err != nil {
			return err
		}
	case DriverNone:
	default:
		return fmt.Errorf("history.driver must be one of sqlite, postgres, none, got %q", c.History.Driver)
	}

	if c.Poller.Enabled && c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be positive")
	}
	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
