// Package ledger selects the run ledger driver. Other packages depend on
// domain.RunLedger and reach the persistence drivers only through Open.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"srcode/internal/infra/persistence/memory"
	"srcode/internal/infra/persistence/postgres"
	"srcode/internal/infra/persistence/sqlite"
	"srcode/pkg/domain"
)

// Store is the run ledger contract.
type Store = domain.RunLedger

// Driver names a ledger backend.
type Driver string

const (
	// DriverNone disables the ledger; Open returns a nil Store.
	DriverNone     Driver = "none"
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrUnknownDriver is returned by Open for unsupported driver names.
var ErrUnknownDriver = errors.New("ledger: unknown driver")

// Open returns the ledger for driver. dsn is a file path for sqlite and a
// connection string for postgres; both fall back to driver defaults when empty.
func Open(ctx context.Context, driver Driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		s, err := sqlite.NewStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
