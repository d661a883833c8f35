// Package blob is the single entry point to blob storage. It re-exports the
// core contract and selects a driver from configuration; other packages must
// not import the infra drivers directly.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"srcode/internal/blob/core"
	fsinfra "srcode/internal/infra/blob/fs"
	meminfra "srcode/internal/infra/blob/memory"
	s3infra "srcode/internal/infra/blob/s3"
)

type (
	Store      = core.Store
	Info       = core.Info
	PutOptions = core.PutOptions
	Driver     = core.Driver
	S3Config   = s3infra.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// Config selects and parameterises a driver. An empty Driver means fs.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open returns the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewFilesystem returns a Store rooted at a local directory.
func NewFilesystem(root string) (Store, error) {
	s, err := fsinfra.New(root)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemory returns a process-local Store.
func NewMemory() Store { return meminfra.New() }

// NewS3 returns a Store backed by an S3-compatible bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	s, err := s3infra.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewS3Mock returns an S3 Store wired to an in-memory fake endpoint.
func NewS3Mock() Store { return s3infra.NewMockForTests() }

// Replace writes data at key, removing any previous blob first. Stores are
// create-only, so re-publishing the same run output goes through here.
func Replace(ctx context.Context, s Store, key string, data []byte, opts PutOptions) (Info, error) {
	if _, err := s.Delete(ctx, key); err != nil {
		return Info{}, fmt.Errorf("replace %s: %w", key, err)
	}
	return s.Put(ctx, key, bytes.NewReader(data), opts)
}

// ReadAll fetches the full content of key.
func ReadAll(ctx context.Context, s Store, key string) (Info, []byte, error) {
	info, rc, err := s.Get(ctx, key)
	if err != nil {
		return Info{}, nil, err
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return Info{}, nil, fmt.Errorf("read %s: %w", key, err)
	}
	return info, b, nil
}
