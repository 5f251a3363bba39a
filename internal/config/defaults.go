package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID        = "romarket"
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 8000
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultGNJOYBaseURL      = "https://ro.gnjoy.com/itemDeal"
	DefaultGNJOYTimeout      = 30 * time.Second
	DefaultRequestsPerSecond = 1.0
	DefaultBurst             = 1
	DefaultSearchTTL         = 60 * time.Second
	DefaultTopTTL            = 5 * time.Minute
	DefaultHistoryTTL        = 5 * time.Minute
	DefaultPageSize          = 20
	DefaultStreamWrite       = 5 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultSendConcurrency   = 32
	DefaultHistoryDriver     = DriverSQLite
	DefaultSQLitePath        = "data/market.db"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultPollInterval      = 5 * time.Minute
	DefaultSweepInterval     = time.Minute
	DefaultPollConcurrency   = 2
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// GNJOY defaults
	if c.GNJOY.BaseURL == "" {
		c.GNJOY.BaseURL = DefaultGNJOYBaseURL
	}
	if c.GNJOY.Timeout == 0 {
		c.GNJOY.Timeout = DefaultGNJOYTimeout
	}
	if c.GNJOY.RequestsPerSecond == 0 {
		c.GNJOY.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.GNJOY.Burst == 0 {
		c.GNJOY.Burst = DefaultBurst
	}

	// Cache defaults
	if c.Cache.SearchTTL == 0 {
		c.Cache.SearchTTL = DefaultSearchTTL
	}
	if c.Cache.TopTTL == 0 {
		c.Cache.TopTTL = DefaultTopTTL
	}
	if c.Cache.HistoryTTL == 0 {
		c.Cache.HistoryTTL = DefaultHistoryTTL
	}

	if c.Refresh.PageSize == 0 {
		c.Refresh.PageSize = DefaultPageSize
	}

	// Stream defaults
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultStreamWrite
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PongTimeout == 0 {
		c.Stream.PongTimeout = DefaultPongTimeout
	}
	if c.Stream.SendConcurrency == 0 {
		c.Stream.SendConcurrency = DefaultSendConcurrency
	}

	// History defaults
	if c.History.Driver == "" {
		c.History.Driver = DefaultHistoryDriver
	}
	if c.History.SQLite.Path == "" {
		c.History.SQLite.Path = DefaultSQLitePath
	}
	if c.History.Driver == DriverPostgres {
		applyDBDefaults(&c.History.Postgres)
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.SweepInterval == 0 {
		c.Poller.SweepInterval = DefaultSweepInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
