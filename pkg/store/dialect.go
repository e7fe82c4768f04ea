package store

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// dialect pairs a database/sql driver with its bun dialect and the error
// and identity handling bun leaves to the caller.
type dialect interface {
	name() string
	driverName() string
	bunDialect() schema.Dialect
	// isConflict reports whether err is a constraint or concurrency failure
	// raised by the driver.
	isConflict(err error) bool
	// syncIdentity realigns generated keys after rows were inserted with
	// explicit key values.
	syncIdentity(ctx context.Context, db *bun.DB, m *Model) error
}

func dialectFor(backend string) (dialect, error) {
	switch backend {
	case types.BackendSQLite:
		return sqliteDialect{}, nil
	case types.BackendPostgres:
		return postgresDialect{}, nil
	default:
		return nil, types.ErrBackendUnknown
	}
}
