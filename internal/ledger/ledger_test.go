package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	for _, d := range []Driver{"", DriverNone} {
		s, err := Open(ctx, d, "")
		if err != nil || s != nil {
			t.Fatalf("driver %q: store %v err %v", d, s, err)
		}
	}
	mem, err := Open(ctx, DriverMemory, "")
	if err != nil || mem == nil {
		t.Fatalf("memory: %v", err)
	}
	lite, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if err := lite.Close(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}
	if _, err := Open(ctx, "mongo", ""); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}
