package config

import (
	"fmt"
	"time"
)

const (
	// DefaultAPIListen is the default API listen address.
	DefaultAPIListen = ":8080"

	// DefaultSQLitePath is the default SQLite database path.
	DefaultSQLitePath = "simtriage.db"

	// DefaultIndexingInterval is the default results scan interval.
	DefaultIndexingInterval = "60s"

	// DefaultIndexingConcurrency is the default number of batch
	// directories indexed in parallel.
	DefaultIndexingConcurrency = 4

	// DatabaseDriverSQLite selects the embedded SQLite driver.
	DatabaseDriverSQLite = "sqlite"

	// DatabaseDriverPostgres selects the PostgreSQL driver.
	DatabaseDriverPostgres = "postgres"
)

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server   APIServerConfig    `yaml:"server" mapstructure:"server"`
	Auth     APIAuthConfig      `yaml:"auth" mapstructure:"auth"`
	Database APIDatabaseConfig  `yaml:"database" mapstructure:"database"`
	Storage  APIStorageConfig   `yaml:"storage,omitempty" mapstructure:"storage"`
	Indexing *APIIndexingConfig `yaml:"indexing,omitempty" mapstructure:"indexing"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Public        RateLimitTier `yaml:"public,omitempty" mapstructure:"public"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty" mapstructure:"authenticated"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings. When auth is enabled,
// requests must carry a bearer token matching one of the configured
// token hashes; anonymous_read additionally allows unauthenticated GETs.
type APIAuthConfig struct {
	Enabled       bool             `yaml:"enabled" mapstructure:"enabled"`
	AnonymousRead bool             `yaml:"anonymous_read" mapstructure:"anonymous_read"`
	Tokens        []APITokenConfig `yaml:"tokens,omitempty" mapstructure:"tokens"`
}

// APITokenConfig defines an accepted bearer token. Hash is a bcrypt hash
// of the token value so plaintext tokens never appear in config files.
type APITokenConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	Hash string `yaml:"hash" mapstructure:"hash"`
}

// APIDatabaseConfig contains database connection settings.
type APIDatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// APIStorageConfig contains storage backend settings for serving result
// files.
type APIStorageConfig struct {
	Local *APILocalStorageConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// APILocalStorageConfig serves triage result files directly from the
// local filesystem. Each discovery path maps a URL prefix name to an
// absolute directory containing a runs/ sub-directory and an index.json.
type APILocalStorageConfig struct {
	Enabled        bool              `yaml:"enabled" mapstructure:"enabled"`
	DiscoveryPaths map[string]string `yaml:"discovery_paths,omitempty" mapstructure:"discovery_paths"`
}

// APIIndexingConfig configures the background indexing service that scans
// the storage backend and maintains a queryable verdict index.
type APIIndexingConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Interval    string `yaml:"interval,omitempty" mapstructure:"interval"`
	Concurrency int    `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// IntervalDuration returns the parsed scan interval. Validate must have
// accepted the configuration first.
func (c *APIIndexingConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}

	return d
}

// applyDefaults sets default values for unspecified API options.
func (c *APIConfig) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultAPIListen
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DatabaseDriverSQLite
	}

	if c.Database.Driver == DatabaseDriverSQLite && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Driver == DatabaseDriverPostgres {
		if c.Database.Postgres.Port == 0 {
			c.Database.Postgres.Port = 5432
		}

		if c.Database.Postgres.SSLMode == "" {
			c.Database.Postgres.SSLMode = "disable"
		}
	}

	if c.Indexing != nil {
		if c.Indexing.Interval == "" {
			c.Indexing.Interval = DefaultIndexingInterval
		}

		if c.Indexing.Concurrency <= 0 {
			c.Indexing.Concurrency = DefaultIndexingConcurrency
		}
	}
}

// Validate checks the API configuration for errors.
func (c *APIConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.Indexing != nil && c.Indexing.Enabled {
		if _, err := time.ParseDuration(c.Indexing.Interval); err != nil {
			return fmt.Errorf("parsing api.indexing.interval %q: %w", c.Indexing.Interval, err)
		}
	}

	if c.Auth.Enabled && len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("api.auth.enabled requires at least one token")
	}

	for i, token := range c.Auth.Tokens {
		if token.Hash == "" {
			return fmt.Errorf("api.auth.tokens[%d]: hash is required", i)
		}
	}

	return nil
}

// Validate checks the database configuration for errors.
func (c *APIDatabaseConfig) Validate() error {
	switch c.Driver {
	case DatabaseDriverSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("api.database.sqlite.path is required")
		}
	case DatabaseDriverPostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("api.database.postgres.host is required")
		}

		if c.Postgres.Database == "" {
			return fmt.Errorf("api.database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unknown api.database.driver %q (use \"sqlite\" or \"postgres\")", c.Driver)
	}

	return nil
}
