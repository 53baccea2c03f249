package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies defaults and
// validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), os.Getenv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Defaults returns the configuration with every default applied and no
// environment lookups.
func Defaults() *Config {
	cfg := &Config{}
	_ = loadStruct(reflect.ValueOf(cfg).Elem(), func(string) string { return "" })
	return cfg
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadStruct populates struct fields from getenv, recursing into nested structs.
func loadStruct(v reflect.Value, getenv func(string) string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, getenv); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := getenv(envName)
		if value == "" {
			if alt := field.Tag.Get("envAlt"); alt != "" {
				value = getenv(alt)
			}
		}

		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField parses value into field according to the field's kind.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(strings.TrimSpace(value))

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)

	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var out []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks the configuration and reports every failure at once.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "LOADENGINE_DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("LOADENGINE_DB_DRIVER (%q) must be one of: sqlite, postgres", c.Database.Driver))
	}

	if c.Load.InsertBatchSize <= 0 {
		errs = append(errs, "LOADENGINE_INSERT_BATCH_SIZE must be positive")
	}
	if c.Load.RunTimeout <= 0 {
		errs = append(errs, "LOADENGINE_RUN_TIMEOUT must be positive")
	}
	if c.Load.RunWait < 0 {
		errs = append(errs, "LOADENGINE_RUN_WAIT must be non-negative")
	}
	if c.Load.MaxUploadSize <= 0 {
		errs = append(errs, "LOADENGINE_MAX_UPLOAD_SIZE must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns the configuration for logging with secrets masked.
func (c *Config) String() string {
	url := ""
	if c.Database.URL != "" {
		url = "[MASKED]"
	}
	return fmt.Sprintf(
		"Config{Database: {Driver: %q, Path: %q, URL: %q}, "+
			"Load: {BatchDir: %q, ValidateFK: %v, SchemaFile: %q, InsertBatchSize: %d, RunWait: %s}, "+
			"Server: {Addr: %q}, Security: {RequireAPIKey: %v, APIKeys: %d}, "+
			"Logging: {Level: %q, Format: %q, File: %q}}",
		c.Database.Driver, c.Database.Path, url,
		c.Load.BatchDir, c.Load.ValidateFK, c.Load.SchemaFile, c.Load.InsertBatchSize, c.Load.RunWait,
		c.Server.Addr(), c.Security.RequireAPIKey, len(c.Security.APIKeys),
		c.Logging.Level, c.Logging.Format, c.Logging.File,
	)
}
