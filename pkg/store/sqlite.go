package store

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type sqliteDialect struct{}

func (sqliteDialect) name() string               { return "sqlite" }
func (sqliteDialect) driverName() string         { return "sqlite" }
func (sqliteDialect) bunDialect() schema.Dialect { return sqlitedialect.New() }

// isConflict matches SQLITE_CONSTRAINT and its extended codes
// (SQLITE_CONSTRAINT_UNIQUE, SQLITE_CONSTRAINT_PRIMARYKEY, ...).
func (sqliteDialect) isConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func (sqliteDialect) syncIdentity(context.Context, *bun.DB, *Model) error {
	// The rowid allocator always continues from the largest key.
	return nil
}
