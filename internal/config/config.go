// Package config loads loadengine settings from the environment.
//
// Every field is bound to an environment variable through struct tags:
// env names the variable, envAlt an older spelling, default the value used
// when unset. Command-line flags in cmd/loadengine override the result.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	Load     LoadConfig
	Server   ServerConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// DatabaseConfig selects and locates the store.
type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `env:"LOADENGINE_DB_DRIVER" default:"sqlite"`

	// Path is the SQLite database file; ":memory:" keeps it in memory.
	Path string `env:"LOADENGINE_DB_PATH" default:"loadengine.db"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`
}

// LoadConfig controls load runs.
type LoadConfig struct {
	// BatchDir holds one <entity>.csv per entity.
	BatchDir string `env:"LOADENGINE_BATCH_DIR" default:"batch"`

	// ValidateFK enables the foreign key audit on full runs.
	ValidateFK bool `env:"LOADENGINE_VALIDATE_FK" default:"false"`

	// SummaryPath, when set, receives the JSON run summary.
	SummaryPath string `env:"LOADENGINE_SUMMARY_PATH"`

	// SchemaFile, when set, replaces the built-in credit schema with a YAML one.
	SchemaFile string `env:"LOADENGINE_SCHEMA_FILE"`

	// InsertBatchSize is the number of rows per multi-row INSERT.
	InsertBatchSize int `env:"LOADENGINE_INSERT_BATCH_SIZE" default:"500"`

	// RunTimeout bounds a single run started over HTTP.
	RunTimeout time.Duration `env:"LOADENGINE_RUN_TIMEOUT" default:"10m"`

	// RunWait is how long an HTTP run waits for the one in progress to
	// finish before failing with a conflict. Zero rejects immediately.
	RunWait time.Duration `env:"LOADENGINE_RUN_WAIT" default:"0s"`

	// MaxUploadSize caps a CSV body posted to the load endpoint, in bytes.
	MaxUploadSize int64 `env:"LOADENGINE_MAX_UPLOAD_SIZE" default:"104857600"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig holds HTTP access settings.
type SecurityConfig struct {
	// RequireAPIKey rejects requests without a valid X-API-Key header.
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys.
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies lists proxy CIDRs whose X-Real-IP headers are honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`

	// File, when set, also appends log lines to this path.
	File string `env:"LOG_FILE"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
