package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/mesh-intelligence/crudkit/pkg/types"
)

type condition struct {
	expr string
	args []any
}

// Query is a filtered, not-yet-executed read over the table of T. Builder
// methods return a new Query; the receiver is never modified. Nothing touches
// the database until First, All or Count runs.
type Query[T any] struct {
	s       *Session
	model   *Model
	err     error
	where   []condition
	order   string
	skip    int
	take    int
	noTrack bool
}

// From starts a query over the backing table of T within s.
func From[T any](s *Session) *Query[T] {
	m, err := ModelFor[T]()
	return &Query[T]{s: s, model: m, err: err}
}

// Page returns up to take untracked entities of T after skipping skip rows,
// ordered by primary key.
func Page[T any](ctx context.Context, s *Session, skip, take int) ([]*T, error) {
	return From[T](s).AsNoTracking().Skip(skip).Take(take).All(ctx)
}

func (q *Query[T]) clone() *Query[T] {
	c := *q
	c.where = append([]condition(nil), q.where...)
	return &c
}

// Where adds a condition. Conditions are ANDed; use ? for arguments and
// bun.Ident for identifiers.
func (q *Query[T]) Where(expr string, args ...any) *Query[T] {
	c := q.clone()
	c.where = append(c.where, condition{expr, args})
	return c
}

// OrderBy sets the ORDER BY expression. The default is the primary key.
func (q *Query[T]) OrderBy(expr string) *Query[T] {
	c := q.clone()
	c.order = expr
	return c
}

// Skip skips the first n rows.
func (q *Query[T]) Skip(n int) *Query[T] {
	c := q.clone()
	c.skip = max(n, 0)
	return c
}

// Take limits the result to n rows. Zero means no limit.
func (q *Query[T]) Take(n int) *Query[T] {
	c := q.clone()
	c.take = max(n, 0)
	return c
}

// AsNoTracking returns entities that the session does not track. Changes to
// them are not saved.
func (q *Query[T]) AsNoTracking() *Query[T] {
	c := q.clone()
	c.noTrack = true
	return c
}

// SQL renders the query in the dialect of the attached backend.
func (q *Query[T]) SQL() (string, error) {
	if q.err != nil {
		return "", q.err
	}
	db, d, err := q.s.backend.handle()
	if err != nil {
		return "", err
	}
	var items []*T
	return q.selectQuery(db, d, &items).String(), nil
}

func (q *Query[T]) filtered(db *bun.DB, dest any) *bun.SelectQuery {
	sel := db.NewSelect().Model(dest)
	for _, w := range q.where {
		sel = sel.Where(w.expr, w.args...)
	}
	return sel
}

func (q *Query[T]) selectQuery(db *bun.DB, d dialect, dest any) *bun.SelectQuery {
	sel := q.filtered(db, dest)
	if q.order != "" {
		sel = sel.OrderExpr(q.order)
	} else {
		sel = sel.OrderExpr("?", bun.Ident(q.model.KeyColumn()))
	}
	switch {
	case q.take > 0:
		sel = sel.Limit(q.take)
	case q.skip > 0 && d.name() == types.BackendSQLite:
		// SQLite only accepts OFFSET after a LIMIT.
		sel = sel.Limit(-1)
	}
	if q.skip > 0 {
		sel = sel.Offset(q.skip)
	}
	return sel
}

// First returns the first matching entity, or types.ErrNotFound.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	items, err := q.Take(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, types.ErrNotFound
	}
	return items[0], nil
}

// All returns every matching entity. An empty result is an empty slice.
func (q *Query[T]) All(ctx context.Context) ([]*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	db, d, err := q.s.backend.handle()
	if err != nil {
		return nil, err
	}

	items := make([]*T, 0)
	if err := q.selectQuery(db, d, &items).Scan(ctx); err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.model.Table, err)
	}
	if q.noTrack {
		return items, nil
	}
	for i, item := range items {
		e, err := q.s.Attach(item)
		if err != nil {
			return nil, err
		}
		// Identity resolution: an already tracked instance wins.
		items[i] = e.Entity.(*T)
	}
	return items, nil
}

// Count returns the number of matching rows, ignoring Skip and Take.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	db, _, err := q.s.backend.handle()
	if err != nil {
		return 0, err
	}
	n, err := q.filtered(db, (*T)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", q.model.Table, err)
	}
	return n, nil
}
