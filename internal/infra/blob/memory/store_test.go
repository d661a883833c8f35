package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"srcode/internal/blob/core"
)

func TestStore_Lifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	info, err := s.Put(ctx, "exports/Cohort A.zip", bytes.NewReader([]byte("data")), core.PutOptions{ContentType: "application/zip", Metadata: map[string]string{"cp_id": "7"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "exports/Cohort A.zip" || info.Size != 4 || info.ETag == "" {
		t.Fatalf("unexpected info %#v", info)
	}
	if _, err := s.Put(ctx, "exports/Cohort A.zip", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "exports/Cohort A.zip")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "data" || got.Metadata["cp_id"] != "7" {
		t.Fatalf("bad payload %q %#v", b, got)
	}
	// returned metadata must not alias the stored map
	got.Metadata["cp_id"] = "changed"
	if h, _ := s.Head(ctx, "exports/Cohort A.zip"); h.Metadata["cp_id"] != "7" {
		t.Fatalf("metadata aliased: %#v", h.Metadata)
	}
	if list, err := s.List(ctx, "exports/"); err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
	if list, _ := s.List(ctx, "coded/"); len(list) != 0 {
		t.Fatalf("expected empty list for unmatched prefix")
	}
	if ok, err := s.Delete(ctx, "exports/Cohort A.zip"); err != nil || !ok {
		t.Fatalf("delete expected true, got %v %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "exports/Cohort A.zip"); ok {
		t.Fatalf("second delete should be false")
	}
	if _, err := s.Head(ctx, "exports/Cohort A.zip"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_RejectsEmptyKeyAndCancelledContext(t *testing.T) {
	s := New()
	if _, err := s.Put(context.Background(), " ", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "k", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Driver() != core.DriverMemory {
		t.Fatalf("driver = %s", s.Driver())
	}
}
