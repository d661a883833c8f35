// Package config loads srcode settings from the environment (optionally
// seeded from a .env file) and validates them up front.
package config

import "time"

// Config holds all settings. Every field can be set via environment variables.
type Config struct {
	API      APIConfig
	Coding   CodingConfig
	Pipeline PipelineConfig
	Blob     BlobConfig
	Ledger   LedgerConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

// APIConfig holds the export API connection settings. The OS_* names are
// accepted for compatibility with existing extractor config files.
type APIConfig struct {
	URL      string `env:"SRCODE_API_URL" envAlt:"OS_URL"`
	User     string `env:"SRCODE_API_USER" envAlt:"OS_USER"`
	Password string `env:"SRCODE_API_PASSWORD" envAlt:"OS_PASSWORD"`
	Domain   string `env:"SRCODE_API_DOMAIN" envAlt:"OS_DOMAIN" default:"openspecimen"`

	Timeout    time.Duration `env:"SRCODE_API_TIMEOUT" default:"30s"`
	RetryCount int           `env:"SRCODE_API_RETRY_COUNT" default:"3"`

	// PollInterval and PollTimeout bound waiting for an export job
	PollInterval time.Duration `env:"SRCODE_API_POLL_INTERVAL" default:"2s"`
	PollTimeout  time.Duration `env:"SRCODE_API_POLL_TIMEOUT" default:"10m"`
}

// CodingConfig holds the code generation options.
type CodingConfig struct {
	IncludeQuantityInKey bool   `env:"SRCODE_INCLUDE_QUANTITY_IN_KEY" default:"true"`
	Strictness           string `env:"SRCODE_STRICTNESS" default:"lenient"`
	Grouping             string `env:"SRCODE_EVENT_GROUPING" default:"coalesce"`
}

// PipelineConfig holds batch run settings.
type PipelineConfig struct {
	// Concurrency bounds sources coded (and protocols exported) in parallel
	Concurrency  int    `env:"SRCODE_CONCURRENCY" default:"4"`
	OutputFormat string `env:"SRCODE_OUTPUT_FORMAT" default:"csv"`
	SourceColumn string `env:"SRCODE_SOURCE_COLUMN"`
}

// BlobConfig selects where archives and coded tables are stored.
type BlobConfig struct {
	Driver      string `env:"SRCODE_BLOB_DRIVER" default:"fs"`
	FSRoot      string `env:"SRCODE_BLOB_FS_ROOT" default:"./srdata"`
	S3Bucket    string `env:"SRCODE_BLOB_S3_BUCKET"`
	S3Region    string `env:"SRCODE_BLOB_S3_REGION" default:"us-east-1"`
	S3Endpoint  string `env:"SRCODE_BLOB_S3_ENDPOINT"`
	S3PathStyle bool   `env:"SRCODE_BLOB_S3_PATH_STYLE" default:"false"`
}

// LedgerConfig selects the run ledger.
type LedgerConfig struct {
	Driver string `env:"SRCODE_LEDGER_DRIVER" default:"none"`
	DSN    string `env:"SRCODE_LEDGER_DSN"`
}

// MetricsConfig holds the Prometheus textfile target.
type MetricsConfig struct {
	Textfile string `env:"SRCODE_METRICS_TEXTFILE"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `env:"SRCODE_LOG_LEVEL" default:"info"`
	Format string `env:"SRCODE_LOG_FORMAT" default:"json"`
}
