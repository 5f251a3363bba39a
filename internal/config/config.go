package config

import "time"

// Config is the root configuration for a romarket instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	GNJOY    GNJOYConfig    `yaml:"gnjoy"`
	Cache    CacheConfig    `yaml:"cache"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Stream   StreamConfig   `yaml:"stream"`
	History  HistoryConfig  `yaml:"history"`
	Poller   PollerConfig   `yaml:"poller"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GNJOYConfig holds upstream market site settings.
type GNJOYConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // < 0 disables throttling
	Burst             int           `yaml:"burst"`
	UserAgent         string        `yaml:"user_agent"`
}

// CacheConfig holds TTLs for each ephemeral cache.
type CacheConfig struct {
	SearchTTL  time.Duration `yaml:"search_ttl"`
	TopTTL     time.Duration `yaml:"top_ttl"`
	HistoryTTL time.Duration `yaml:"history_ttl"`
}

// RefreshConfig holds orchestrator settings.
type RefreshConfig struct {
	PageSize       int  `yaml:"page_size"`
	DedupeInflight bool `yaml:"dedupe_inflight"`
}

// StreamConfig holds websocket settings.
type StreamConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	SendConcurrency int           `yaml:"send_concurrency"`
}

// History store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// HistoryConfig selects and configures the history store.
type HistoryConfig struct {
	Driver   string       `yaml:"driver"`
	SQLite   SQLiteConfig `yaml:"sqlite"`
	Postgres DBConfig     `yaml:"postgres"`
}

// SQLiteConfig holds the embedded database file location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// PollerConfig holds periodic refresh settings.
type PollerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Items         []string      `yaml:"items"` // watch list refreshed every interval
	Concurrency   int           `yaml:"concurrency"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
