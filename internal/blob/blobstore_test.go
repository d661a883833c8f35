package blob

import (
	"context"
	"errors"
	"testing"
)

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, Config{FSRoot: t.TempDir()})
	if err != nil || fsStore.Driver() != DriverFilesystem {
		t.Fatalf("default driver: %v %v", fsStore, err)
	}
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, Config{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestReplaceAndReadAll(t *testing.T) {
	ctx := context.Background()
	for name, s := range map[string]Store{"memory": NewMemory(), "s3": NewS3Mock()} {
		t.Run(name, func(t *testing.T) {
			if _, err := Replace(ctx, s, "coded/r/a.csv", []byte("one"), PutOptions{ContentType: "text/csv"}); err != nil {
				t.Fatalf("first replace: %v", err)
			}
			if _, err := Replace(ctx, s, "coded/r/a.csv", []byte("two"), PutOptions{ContentType: "text/csv"}); err != nil {
				t.Fatalf("second replace: %v", err)
			}
			_, b, err := ReadAll(ctx, s, "coded/r/a.csv")
			if err != nil || string(b) != "two" {
				t.Fatalf("read = %q %v", b, err)
			}
			if _, _, err := ReadAll(ctx, s, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}
