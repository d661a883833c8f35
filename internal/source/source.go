// Package source turns files, directories, zip archives and blob-store
// objects into named tables ready for coding.
package source

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"srcode/internal/blob"
	"srcode/internal/table"
)

// Source is one input table and where it came from.
type Source struct {
	Name   string // used for output file names
	Origin string // file path, archive member or blob key
	Table  *table.Table
}

// LoadPath loads a .csv or .xlsx file, a .zip archive (one source per table
// member) or a directory (its direct children, sorted by name). A directory
// with some unreadable children returns the readable ones with the error.
func LoadPath(p string) ([]Source, error) {
	st, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return loadDir(p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return decode(p, filepath.Base(p), data)
}

// LoadPaths loads every path in order. A failing path does not stop the
// rest: the sources that loaded come back together with the joined errors.
func LoadPaths(paths []string) ([]Source, error) {
	var (
		out  []Source
		errs []error
	)
	for _, p := range paths {
		srcs, err := LoadPath(p)
		out = append(out, srcs...)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", p, err))
		}
	}
	return out, errors.Join(errs...)
}

func loadDir(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var (
		out  []Source
		errs []error
	)
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		srcs, err := decode(p, e.Name(), data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		out = append(out, srcs...)
	}
	return out, errors.Join(errs...)
}

func supported(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".xlsx", ".zip":
		return true
	}
	return false
}

// decode dispatches on the file extension of name.
func decode(origin, name string, data []byte) ([]Source, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		t, err := table.Read(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return []Source{{Name: stem(name), Origin: origin, Table: t}}, nil
	case ".xlsx":
		t, err := table.ReadXLSX(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return []Source{{Name: stem(name), Origin: origin, Table: t}}, nil
	case ".zip":
		return ReadArchive(origin, bytes.NewReader(data), int64(len(data)))
	}
	return nil, fmt.Errorf("unsupported input %q", name)
}

// ReadArchive reads every CSV member of a zip archive. A single-table archive
// yields one source named after the archive; otherwise sources are named
// "<archive>/<member>".
func ReadArchive(origin string, r io.ReaderAt, size int64) ([]Source, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", origin, err)
	}
	var members []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), ".csv") {
			members = append(members, f)
		}
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("archive %s has no csv members", origin)
	}
	archive := stem(path.Base(filepath.ToSlash(origin)))
	out := make([]Source, 0, len(members))
	for _, f := range members {
		t, err := readMember(f)
		if err != nil {
			return nil, fmt.Errorf("%s!%s: %w", origin, f.Name, err)
		}
		name := archive
		if len(members) > 1 {
			name = archive + "/" + stem(path.Base(f.Name))
		}
		out = append(out, Source{Name: name, Origin: origin + "!" + f.Name, Table: t})
	}
	return out, nil
}

func readMember(f *zip.File) (*table.Table, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return table.Read(rc)
}

func stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// Loader reads sources out of a blob store.
type Loader struct {
	Store  blob.Store
	Logger *zap.Logger
}

// LoadBlobs loads every supported object under prefix, in key order.
func (l *Loader) LoadBlobs(ctx context.Context, prefix string) ([]Source, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	infos, err := l.Store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	var out []Source
	for _, info := range infos {
		if !supported(info.Key) {
			logger.Debug("skipping unsupported blob", zap.String("key", info.Key))
			continue
		}
		srcs, err := l.LoadBlob(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded blob source", zap.String("key", info.Key), zap.Int("tables", len(srcs)))
		out = append(out, srcs...)
	}
	return out, nil
}

// LoadBlob loads the sources held by one blob.
func (l *Loader) LoadBlob(ctx context.Context, key string) ([]Source, error) {
	_, data, err := blob.ReadAll(ctx, l.Store, key)
	if err != nil {
		return nil, err
	}
	srcs, err := decode(key, path.Base(key), data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return srcs, nil
}
