package config

import (
	"strings"

	"srcode/internal/blob"
	"srcode/internal/core"
	"srcode/internal/exportjob"
	"srcode/internal/ledger"
)

// CodingOptions converts the coding settings to core options.
func (c *Config) CodingOptions() (core.Options, error) {
	strictness, err := core.ParseStrictness(c.Coding.Strictness)
	if err != nil {
		return core.Options{}, err
	}
	grouping, err := core.ParseGrouping(c.Coding.Grouping)
	if err != nil {
		return core.Options{}, err
	}
	return core.Options{
		IncludeQuantityInKey: c.Coding.IncludeQuantityInKey,
		Strictness:           strictness,
		Grouping:             grouping,
	}, nil
}

// BlobConfig returns the blob store selection.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(strings.ToLower(c.Blob.Driver)),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:    c.Blob.S3Bucket,
			Region:    c.Blob.S3Region,
			Endpoint:  c.Blob.S3Endpoint,
			PathStyle: c.Blob.S3PathStyle,
		},
	}
}

// LedgerDriver returns the configured ledger driver.
func (c *Config) LedgerDriver() ledger.Driver {
	return ledger.Driver(strings.ToLower(c.Ledger.Driver))
}

// ExportClient returns the export API client settings.
func (c *Config) ExportClient() exportjob.Config {
	return exportjob.Config{
		BaseURL:      c.API.URL,
		Timeout:      c.API.Timeout,
		RetryCount:   c.API.RetryCount,
		PollInterval: c.API.PollInterval,
		PollTimeout:  c.API.PollTimeout,
	}
}

// Credentials returns the export API login.
func (c *Config) Credentials() exportjob.Credentials {
	return exportjob.Credentials{LoginName: c.API.User, Password: c.API.Password, Domain: c.API.Domain}
}

// OutputXLSX reports whether workbooks should be published.
func (c *Config) OutputXLSX() bool {
	f := strings.ToLower(c.Pipeline.OutputFormat)
	return f == "xlsx" || f == "both"
}

// OutputCSV reports whether CSV files should be published.
func (c *Config) OutputCSV() bool {
	f := strings.ToLower(c.Pipeline.OutputFormat)
	return f == "csv" || f == "both"
}
