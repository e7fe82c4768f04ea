package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/schema"
)

type postgresDialect struct{}

func (postgresDialect) name() string               { return "postgres" }
func (postgresDialect) driverName() string         { return "pgx" }
func (postgresDialect) bunDialect() schema.Dialect { return pgdialect.New() }

// isConflict matches SQLSTATE class 23 (integrity constraint violation),
// 40001 (serialization failure) and 40P01 (deadlock detected).
func (postgresDialect) isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "23") || pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// syncIdentity moves the serial sequence behind an autoincrement key past
// the largest key present.
func (postgresDialect) syncIdentity(ctx context.Context, db *bun.DB, m *Model) error {
	if !m.pk.AutoIncrement {
		return nil
	}
	_, err := db.NewRaw(
		"SELECT setval(pg_get_serial_sequence(?, ?), COALESCE((SELECT MAX(?) FROM ?), 0) + 1, false)",
		m.Table, m.KeyColumn(), bun.Ident(m.KeyColumn()), bun.Ident(m.Table),
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("sync identity for %s: %w", m.Table, err)
	}
	return nil
}
