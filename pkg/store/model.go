package store

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// catalog parses bun struct tags. Table and column names are the same in
// every dialect, so one catalog describes models for all backends.
var catalog = sqlitedialect.New().Tables()

// Model describes how a registered entity type is stored. The mapping comes
// from the type's bun tags:
//
//	type Person struct {
//		bun.BaseModel `bun:"table:persons"`
//		Id   int    `bun:"id,pk,autoincrement"`
//		Name string `bun:"name,notnull,unique"`
//	}
type Model struct {
	Type  reflect.Type
	Table string

	table *schema.Table
	pk    *schema.Field
	pkPos int // position of pk in table.Fields
}

// Name returns the Go type name of the entity.
func (m *Model) Name() string { return m.Type.Name() }

// New allocates a zero entity and returns a pointer to it.
func (m *Model) New() any { return reflect.New(m.Type).Interface() }

// KeyField returns the Go name of the primary key field.
func (m *Model) KeyField() string { return m.pk.GoName }

// KeyColumn returns the column name of the primary key.
func (m *Model) KeyColumn() string { return m.pk.Name }

// Columns lists column names in declaration order.
func (m *Model) Columns() []string {
	names := make([]string, len(m.table.Fields))
	for i, f := range m.table.Fields {
		names[i] = f.Name
	}
	return names
}

// nilModel is a typed nil pointer, which bun accepts for DDL.
func (m *Model) nilModel() any { return reflect.Zero(reflect.PointerTo(m.Type)).Interface() }

// generatesKey reports whether a zero key is filled in on insert: by the
// database for autoincrement integers, by the session for strings.
func (m *Model) generatesKey() bool {
	return m.pk.AutoIncrement || m.pk.IndirectType.Kind() == reflect.String
}

// values copies the current column values out of v (a struct value).
func (m *Model) values(v reflect.Value) []any {
	out := make([]any, len(m.table.Fields))
	for i, f := range m.table.Fields {
		fv := v.FieldByIndex(f.Index).Interface()
		if b, ok := fv.([]byte); ok {
			fv = append([]byte(nil), b...)
		}
		out[i] = fv
	}
	return out
}

func (m *Model) key(v reflect.Value) reflect.Value { return v.FieldByIndex(m.pk.Index) }

// keyOf returns the primary key value of v.
func (m *Model) keyOf(v reflect.Value) any { return m.key(v).Interface() }

// elem returns the struct value behind entity, which must be a non-nil
// pointer to m.Type.
func (m *Model) elem(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Type() != m.Type {
		return reflect.Value{}, fmt.Errorf("%w: want *%s, got %T", types.ErrInvalidData, m.Type.Name(), entity)
	}
	return v.Elem(), nil
}

var registry = struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*Model
}{byType: make(map[reflect.Type]*Model)}

// Register records T as a stored entity type. Registering a type twice is a
// no-op. T needs exactly one primary key, of integer or string type, and a
// table name no other registered type uses.
func Register[T any]() error {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("registering %s: expected struct, got %s", t, t.Kind())
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.byType[t]; ok {
		return nil
	}
	m, err := newModel(t)
	if err != nil {
		return fmt.Errorf("registering %s: %w", t.Name(), err)
	}
	for _, other := range registry.byType {
		if other.Table == m.Table {
			return fmt.Errorf("registering %s: table %q already used by %s", t.Name(), m.Table, other.Name())
		}
	}
	registry.byType[t] = m
	return nil
}

// MustRegister calls Register and panics on error. Intended for program
// initialization.
func MustRegister[T any]() {
	if err := Register[T](); err != nil {
		panic(err)
	}
}

func newModel(t reflect.Type) (*Model, error) {
	table := catalog.Get(t)
	if len(table.PKs) != 1 {
		return nil, fmt.Errorf("want one primary key, found %d", len(table.PKs))
	}
	pk := table.PKs[0]
	switch pk.IndirectType.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.String:
	default:
		return nil, fmt.Errorf("field %s: primary keys must be integers or strings", pk.GoName)
	}
	m := &Model{Type: t, Table: table.Name, table: table, pk: pk}
	for i, f := range table.Fields {
		if f == pk {
			m.pkPos = i
		}
	}
	return m, nil
}

// ModelFor returns the registered model for T.
func ModelFor[T any]() (*Model, error) {
	return Lookup(reflect.TypeFor[T]())
}

// Lookup returns the registered model for t (or *t).
func Lookup(t reflect.Type) (*Model, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	m, ok := registry.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotRegistered, t)
	}
	return m, nil
}

// LookupTable returns the registered model stored in table.
func LookupTable(table string) (*Model, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for _, m := range registry.byType {
		if m.Table == table {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: table %q", types.ErrNotRegistered, table)
}

// Models returns every registered model ordered by table name.
func Models() []*Model {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	out := make([]*Model, 0, len(registry.byType))
	for _, m := range registry.byType {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}
