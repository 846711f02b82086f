package storage

import "time"

// PostgresConfig tunes the pgx connection pool behind the Postgres
// repository.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	QueryTimeout        time.Duration
	ApplicationName     string
}

// Option mutates the Postgres repository configuration.
type Option func(*PostgresConfig)

// WithMaxConnections caps the pool size.
func WithMaxConnections(max int32) Option {
	return func(cfg *PostgresConfig) {
		if max > 0 {
			cfg.MaxConnections = max
		}
	}
}

// WithMinConnections keeps a floor of warm connections in the pool.
func WithMinConnections(min int32) Option {
	return func(cfg *PostgresConfig) {
		if min >= 0 {
			cfg.MinConnections = min
		}
	}
}

// WithConnLifetime bounds how long a pooled connection may be reused.
func WithConnLifetime(lifetime, idle time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if lifetime > 0 {
			cfg.MaxConnLifetime = lifetime
		}
		if idle > 0 {
			cfg.MaxConnIdleTime = idle
		}
	}
}

// WithHealthCheckInterval sets how often idle pool connections are probed.
func WithHealthCheckInterval(interval time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if interval > 0 {
			cfg.HealthCheckInterval = interval
		}
	}
}

// WithConnectTimeout bounds dialing a new connection.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.ConnectTimeout = timeout
		}
	}
}

// WithQueryTimeout bounds individual repository queries.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.QueryTimeout = timeout
		}
	}
}

// WithApplicationName labels pool connections in pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(cfg *PostgresConfig) {
		if name != "" {
			cfg.ApplicationName = name
		}
	}
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:          dsn,
		QueryTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
