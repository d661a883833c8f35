package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is loaded when present and no explicit file is given.
const DefaultEnvFile = ".env"

// Load reads a .env file (envFile, or DefaultEnvFile when it exists), then
// the process environment, applies defaults and validates the result.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}
	return LoadFrom(os.Getenv)
}

func loadEnvFile(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", DefaultEnvFile, err)
	}
	return nil
}

// LoadFrom builds a Config from getenv without touching the process environment.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem(), getenv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value, getenv func(string) string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
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
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = getenv(alt)
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

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate checks every setting and reports all failures together. API
// settings are checked separately by ValidateAPI.
func (c *Config) Validate() error {
	var errs []string
	oneOf := func(name, value string, allowed ...string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		errs = append(errs, fmt.Sprintf("%s (%q) must be one of: %s", name, value, strings.Join(allowed, ", ")))
	}

	oneOf("SRCODE_STRICTNESS", c.Coding.Strictness, "lenient", "strict")
	oneOf("SRCODE_EVENT_GROUPING", c.Coding.Grouping, "coalesce", "contiguous")
	if c.Pipeline.Concurrency <= 0 {
		errs = append(errs, "SRCODE_CONCURRENCY must be positive")
	}
	oneOf("SRCODE_OUTPUT_FORMAT", c.Pipeline.OutputFormat, "csv", "xlsx", "both")
	oneOf("SRCODE_BLOB_DRIVER", c.Blob.Driver, "fs", "s3", "memory")
	if strings.EqualFold(c.Blob.Driver, "s3") && c.Blob.S3Bucket == "" {
		errs = append(errs, "SRCODE_BLOB_S3_BUCKET is required when SRCODE_BLOB_DRIVER=s3")
	}
	oneOf("SRCODE_LEDGER_DRIVER", c.Ledger.Driver, "none", "memory", "sqlite", "postgres")
	if strings.EqualFold(c.Ledger.Driver, "postgres") && c.Ledger.DSN == "" {
		errs = append(errs, "SRCODE_LEDGER_DSN is required when SRCODE_LEDGER_DRIVER=postgres")
	}
	oneOf("SRCODE_LOG_LEVEL", c.Logging.Level, "debug", "info", "warn", "error")
	oneOf("SRCODE_LOG_FORMAT", c.Logging.Format, "json", "console")

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateAPI checks the settings needed to talk to the export API.
func (c *Config) ValidateAPI() error {
	var errs []string
	if c.API.URL == "" {
		errs = append(errs, "SRCODE_API_URL is required")
	}
	if c.API.User == "" {
		errs = append(errs, "SRCODE_API_USER is required")
	}
	if c.API.Password == "" {
		errs = append(errs, "SRCODE_API_PASSWORD is required")
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, "SRCODE_API_TIMEOUT must be positive")
	}
	if c.API.RetryCount < 0 {
		errs = append(errs, "SRCODE_API_RETRY_COUNT must be non-negative")
	}
	if c.API.PollInterval <= 0 || c.API.PollTimeout <= 0 {
		errs = append(errs, "SRCODE_API_POLL_INTERVAL and SRCODE_API_POLL_TIMEOUT must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("api config invalid:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a representation safe for logs; the API password is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "API: {URL: %q, User: %q, Password: [MASKED], Domain: %q}, ", c.API.URL, c.API.User, c.API.Domain)
	fmt.Fprintf(&b, "Coding: {IncludeQuantityInKey: %v, Strictness: %q, Grouping: %q}, ",
		c.Coding.IncludeQuantityInKey, c.Coding.Strictness, c.Coding.Grouping)
	fmt.Fprintf(&b, "Pipeline: {Concurrency: %d, OutputFormat: %q}, ", c.Pipeline.Concurrency, c.Pipeline.OutputFormat)
	fmt.Fprintf(&b, "Blob: {Driver: %q}, Ledger: {Driver: %q}, ", c.Blob.Driver, c.Ledger.Driver)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
