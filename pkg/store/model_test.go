package store

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/mesh-intelligence/crudkit/pkg/types"
)

func TestModelForPerson(t *testing.T) {
	m, err := ModelFor[types.Person]()
	require.NoError(t, err)

	assert.Equal(t, types.PersonsTable, m.Table)
	assert.Equal(t, "Person", m.Name())
	assert.Equal(t, []string{"id", "last_name", "first_name", "sys_user"}, m.Columns())
	assert.Equal(t, "Id", m.KeyField())
	assert.Equal(t, "id", m.KeyColumn())
	assert.True(t, m.generatesKey())

	_, ok := m.New().(*types.Person)
	assert.True(t, ok)
}

func TestLookupTable(t *testing.T) {
	m, err := LookupTable(types.ActivitiesTable)
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[types.Activity](), m.Type)
}

func TestLookupAcceptsPointerTypes(t *testing.T) {
	m, err := Lookup(reflect.TypeFor[*types.Person]())
	require.NoError(t, err)
	assert.Equal(t, types.PersonsTable, m.Table)
}

func TestLookupUnregistered(t *testing.T) {
	type unknown struct {
		Id int `bun:"id,pk"`
	}
	_, err := ModelFor[unknown]()
	assert.ErrorIs(t, err, types.ErrNotRegistered)

	_, err = LookupTable("nowhere")
	assert.ErrorIs(t, err, types.ErrNotRegistered)
}

type impostor struct {
	bun.BaseModel `bun:"table:persons"`
	Id            int `bun:"id,pk"`
}

type keyless struct {
	bun.BaseModel `bun:"table:keyless"`
	Name          string `bun:"name"`
}

type twoKeys struct {
	bun.BaseModel `bun:"table:two_keys"`
	A             int `bun:"a,pk"`
	B             int `bun:"b,pk"`
}

type floatKey struct {
	bun.BaseModel `bun:"table:float_keys"`
	Id            float64 `bun:"id,pk"`
}

func TestRegister(t *testing.T) {
	t.Run("same type twice is a no-op", func(t *testing.T) {
		assert.NoError(t, Register[types.Person]())
	})

	t.Run("table already used by another type fails", func(t *testing.T) {
		assert.ErrorContains(t, Register[impostor](), "already used by Person")
	})

	t.Run("no key", func(t *testing.T) {
		assert.ErrorContains(t, Register[keyless](), "want one primary key, found 0")
	})

	t.Run("composite key", func(t *testing.T) {
		assert.ErrorContains(t, Register[twoKeys](), "found 2")
	})

	t.Run("key must be integer or string", func(t *testing.T) {
		assert.ErrorContains(t, Register[floatKey](), "integers or strings")
	})

	t.Run("not a struct", func(t *testing.T) {
		assert.Error(t, Register[int]())
	})

	t.Run("failures are not recorded", func(t *testing.T) {
		_, err := ModelFor[twoKeys]()
		assert.ErrorIs(t, err, types.ErrNotRegistered)
	})
}

func TestStringKeysAreGenerated(t *testing.T) {
	m, err := ModelFor[note]()
	require.NoError(t, err)
	assert.Equal(t, "Key", m.KeyField())
	assert.True(t, m.generatesKey())
}

func TestModelsSortedByTable(t *testing.T) {
	var tables []string
	for _, m := range Models() {
		tables = append(tables, m.Table)
	}
	assert.IsNonDecreasing(t, tables)
	assert.Contains(t, tables, types.PersonsTable)
	assert.Contains(t, tables, types.ActivitiesTable)
}

func TestElemRejectsWrongType(t *testing.T) {
	m, err := ModelFor[types.Person]()
	require.NoError(t, err)

	_, err = m.elem(&types.Activity{})
	assert.ErrorIs(t, err, types.ErrInvalidData)
	_, err = m.elem((*types.Person)(nil))
	assert.ErrorIs(t, err, types.ErrInvalidData)
	_, err = m.elem(&types.Person{})
	assert.NoError(t, err)
}
