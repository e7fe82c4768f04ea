package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// EntityState is the pending state of a tracked entity.
type EntityState int

const (
	Detached EntityState = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s EntityState) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "detached"
	}
}

// Entry is one entity tracked by a Session.
type Entry struct {
	Entity any
	State  EntityState

	model    *Model
	original []any // column values when loaded or last saved
}

// Model returns the entry's entity model.
func (e *Entry) Model() *Model { return e.model }

type identity struct {
	model *Model
	key   any
}

// Session is a unit of work. It is not safe for concurrent use; open one per
// request.
type Session struct {
	backend *Backend
	entries []*Entry
	byPtr   map[any]*Entry
	byKey   map[identity]*Entry
}

func newSession(b *Backend) *Session {
	return &Session{
		backend: b,
		byPtr:   make(map[any]*Entry),
		byKey:   make(map[identity]*Entry),
	}
}

// Add tracks entity as Added. entity must be a pointer to a registered type.
// Adding an entity that is pending deletion restores it as Modified.
func (s *Session) Add(entity any) error {
	if e, ok := s.byPtr[entity]; ok {
		if e.State == Deleted {
			e.State = Modified
		}
		return nil
	}
	m, err := Lookup(reflect.TypeOf(entity))
	if err != nil {
		return err
	}
	if _, err := m.elem(entity); err != nil {
		return err
	}
	s.track(&Entry{Entity: entity, State: Added, model: m})
	return nil
}

// Remove marks entity for deletion. An entity that was only added is
// forgotten instead. Untracked entities are attached first.
func (s *Session) Remove(entity any) error {
	e, ok := s.byPtr[entity]
	if !ok {
		var err error
		if e, err = s.Attach(entity); err != nil {
			return err
		}
	}
	if e.State == Added {
		s.forget(e)
		return nil
	}
	e.State = Deleted
	return nil
}

// Attach tracks entity as Unchanged, snapshotting its current values. If an
// entity with the same key is already tracked, that entry is returned.
func (s *Session) Attach(entity any) (*Entry, error) {
	if e, ok := s.byPtr[entity]; ok {
		return e, nil
	}
	m, err := Lookup(reflect.TypeOf(entity))
	if err != nil {
		return nil, err
	}
	v, err := m.elem(entity)
	if err != nil {
		return nil, err
	}
	if e, ok := s.byKey[identity{m, m.keyOf(v)}]; ok {
		return e, nil
	}
	e := &Entry{Entity: entity, State: Unchanged, model: m, original: m.values(v)}
	s.track(e)
	return e, nil
}

// Entry returns the tracking entry for entity, if any.
func (s *Session) Entry(entity any) (*Entry, bool) {
	e, ok := s.byPtr[entity]
	return e, ok
}

// Entries runs change detection and returns every tracked entry in the order
// it was first tracked.
func (s *Session) Entries() []*Entry {
	s.DetectChanges()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// HasChanges reports whether SaveChanges would write anything.
func (s *Session) HasChanges() bool {
	for _, e := range s.Entries() {
		if e.State == Added || e.State == Modified || e.State == Deleted {
			return true
		}
	}
	return false
}

// DetectChanges compares Unchanged and Modified entries against their
// snapshots and updates their state.
func (s *Session) DetectChanges() {
	for _, e := range s.entries {
		if e.State != Unchanged && e.State != Modified {
			continue
		}
		v := reflect.ValueOf(e.Entity).Elem()
		if reflect.DeepEqual(e.model.values(v), e.original) {
			e.State = Unchanged
		} else {
			e.State = Modified
		}
	}
}

// SaveChanges writes every pending change in one transaction. On success
// added and modified entries become Unchanged and deleted entries are
// forgotten. On failure the transaction is rolled back, entry states are left
// as they were, and keys generated during the attempt are cleared.
// Constraint and concurrency failures are returned as *types.UpdateError.
// The key of a tracked entity cannot change; SaveChanges rejects such an
// entry with types.ErrKeyChanged and writes nothing.
func (s *Session) SaveChanges(ctx context.Context) error {
	db, d, err := s.backend.handle()
	if err != nil {
		return err
	}
	s.DetectChanges()

	var pending []*Entry
	for _, e := range s.entries {
		switch e.State {
		case Modified, Deleted:
			if err := e.checkKey(); err != nil {
				return err
			}
			pending = append(pending, e)
		case Added:
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var generated []*Entry
	undo := func() {
		for _, e := range generated {
			k := e.model.key(reflect.ValueOf(e.Entity).Elem())
			k.Set(reflect.Zero(k.Type()))
		}
	}

	for _, e := range pending {
		var err error
		switch e.State {
		case Added:
			var gen bool
			gen, err = s.insert(ctx, tx, d, e)
			if gen {
				generated = append(generated, e)
			}
		case Modified:
			err = s.update(ctx, tx, d, e)
		case Deleted:
			err = s.delete(ctx, tx, d, e)
		}
		if err != nil {
			undo()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		undo()
		return classify(d, "commit", "", err)
	}

	for _, e := range pending {
		if e.State == Deleted {
			s.forget(e)
			continue
		}
		wasAdded := e.State == Added
		e.original = e.model.values(reflect.ValueOf(e.Entity).Elem())
		e.State = Unchanged
		if wasAdded {
			s.byKey[e.identity()] = e
		}
	}
	return nil
}

// checkKey fails when the key of a loaded entity differs from its snapshot.
func (e *Entry) checkKey() error {
	current := e.model.keyOf(reflect.ValueOf(e.Entity).Elem())
	if original := e.original[e.model.pkPos]; current != original {
		return fmt.Errorf("%w: %s %v is now %v", types.ErrKeyChanged, e.model.Name(), original, current)
	}
	return nil
}

func (e *Entry) identity() identity {
	return identity{e.model, e.original[e.model.pkPos]}
}

// insert writes an added entity. A zero string key is replaced by a UUID v7
// first; a zero autoincrement key is filled in by the database.
func (s *Session) insert(ctx context.Context, tx bun.Tx, d dialect, e *Entry) (generated bool, err error) {
	m := e.model
	key := m.key(reflect.ValueOf(e.Entity).Elem())
	if key.IsZero() && m.generatesKey() {
		generated = true
		if key.Kind() == reflect.String {
			id, err := uuid.NewV7()
			if err != nil {
				return false, fmt.Errorf("generating UUID v7: %w", err)
			}
			key.SetString(id.String())
		}
	}
	if _, err := tx.NewInsert().Model(e.Entity).Exec(ctx); err != nil {
		return generated, classify(d, "insert", m.Table, err)
	}
	return generated, nil
}

func (s *Session) update(ctx context.Context, tx bun.Tx, d dialect, e *Entry) error {
	res, err := tx.NewUpdate().Model(e.Entity).WherePK().Exec(ctx)
	if err != nil {
		return classify(d, "update", e.model.Table, err)
	}
	return checkAffected(res, "update", e.model.Table)
}

func (s *Session) delete(ctx context.Context, tx bun.Tx, d dialect, e *Entry) error {
	res, err := tx.NewDelete().Model(e.Entity).WherePK().Exec(ctx)
	if err != nil {
		return classify(d, "delete", e.model.Table, err)
	}
	return checkAffected(res, "delete", e.model.Table)
}

// checkAffected turns a write that matched no row into a concurrency failure.
func checkAffected(res sql.Result, op, table string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", op, table, err)
	}
	if n == 0 {
		return &types.UpdateError{Table: table, Op: op, Err: types.ErrConcurrency}
	}
	return nil
}

// classify wraps driver errors, promoting constraint and concurrency
// failures to *types.UpdateError.
func classify(d dialect, op, table string, err error) error {
	if d.isConflict(err) {
		return &types.UpdateError{Table: table, Op: op, Err: err}
	}
	if table == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

// IsConflict reports whether err is a constraint or concurrency failure,
// whether or not it has been wrapped in *types.UpdateError yet.
func IsConflict(err error) bool {
	if errors.Is(err, types.ErrConflict) {
		return true
	}
	return sqliteDialect{}.isConflict(err) || postgresDialect{}.isConflict(err)
}

func (s *Session) track(e *Entry) {
	s.entries = append(s.entries, e)
	s.byPtr[e.Entity] = e
	if e.State != Added {
		s.byKey[e.identity()] = e
	}
}

func (s *Session) forget(e *Entry) {
	delete(s.byPtr, e.Entity)
	if e.original != nil {
		if key := e.identity(); s.byKey[key] == e {
			delete(s.byKey, key)
		}
	}
	for i, x := range s.entries {
		if x == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	e.State = Detached
}
