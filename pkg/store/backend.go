package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/uptrace/bun"

	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// DatabaseFile is the SQLite database file created inside Config.DataDir.
const DatabaseFile = "crudkit.db"

var sqlOpen = sql.Open

// Backend owns the database handle for one attached store.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *bun.DB
	dialect  dialect
}

// NewBackend creates a detached backend. Call Attach to open it.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach opens the database described by config and creates the tables of
// every registered model that does not exist yet. Returns ErrAlreadyAttached
// if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	d, err := dialectFor(config.Backend)
	if err != nil {
		return err
	}

	dsn, err := dataSource(config)
	if err != nil {
		return err
	}
	sqldb, err := sqlOpen(d.driverName(), dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.name(), err)
	}
	db := bun.NewDB(sqldb, d.bunDialect())

	ctx := context.Background()
	if d.name() == types.BackendSQLite {
		// One connection serializes writers and keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return fmt.Errorf("configure sqlite: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping %s: %w", d.name(), err)
	}

	for _, m := range Models() {
		if _, err := db.NewCreateTable().Model(m.nilModel()).IfNotExists().Exec(ctx); err != nil {
			db.Close()
			return fmt.Errorf("create table %s: %w", m.Table, err)
		}
	}

	b.db = db
	b.dialect = d
	b.config = config
	b.attached = true
	return nil
}

// dataSource resolves the driver DSN. SQLite uses DataDir/crudkit.db,
// falling back to DSN and then to a private in-memory database.
func dataSource(config types.Config) (string, error) {
	if config.Backend != types.BackendSQLite {
		return config.DSN, nil
	}
	if config.DataDir == "" {
		if config.DSN != "" {
			return config.DSN, nil
		}
		return ":memory:", nil
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(config.DataDir, DatabaseFile), nil
}

// Detach closes the database. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	b.dialect = nil
	b.attached = false
	return err
}

// Config returns the configuration the backend was attached with.
func (b *Backend) Config() types.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// DB exposes the underlying handle for tooling and tests. It is nil while
// the backend is detached.
func (b *Backend) DB() *bun.DB {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.db
}

// handle returns the open database and dialect, or ErrBackendDetached.
func (b *Backend) handle() (*bun.DB, dialect, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, nil, types.ErrBackendDetached
	}
	return b.db, b.dialect, nil
}

// NewSession starts an empty unit of work.
func (b *Backend) NewSession() *Session {
	return newSession(b)
}

// Session returns the unit of work carried by ctx, or a new one.
func (b *Backend) Session(ctx context.Context) *Session {
	if s, ok := SessionFrom(ctx); ok {
		return s
	}
	return newSession(b)
}

// SyncIdentity realigns generated keys of m with the rows present. Call it
// after inserting rows with explicit keys.
func (b *Backend) SyncIdentity(ctx context.Context, m *Model) error {
	db, d, err := b.handle()
	if err != nil {
		return err
	}
	return d.syncIdentity(ctx, db, m)
}

type sessionKey struct{}

// WithSession returns a copy of ctx that carries s. Backend.Session returns
// it instead of opening a new unit of work.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session carried by ctx.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}
