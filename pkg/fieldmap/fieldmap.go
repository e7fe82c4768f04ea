// Package fieldmap maps the field names of an entity type to typed accessors
// and merges partial JSON objects onto loaded entities.
//
// Every exported field is reachable under its declared Go name and under a
// lowerCamelCase variant, so clients may send either "FirstName" or
// "firstName". Lookups are case-sensitive against those two forms only.
// Maps are built once per type and shared read-only by all goroutines.
package fieldmap

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"unicode"

	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// Field is a settable, gettable accessor for one struct field.
type Field struct {
	Name  string       // Declared Go name.
	Index []int        // Index path for reflect.Value.FieldByIndex.
	Type  reflect.Type // Declared type.
}

// Get returns the field of v, a struct value.
func (f *Field) Get(v reflect.Value) reflect.Value {
	return v.FieldByIndex(f.Index)
}

// Set assigns x to the field of v, an addressable struct value.
func (f *Field) Set(v reflect.Value, x reflect.Value) {
	v.FieldByIndex(f.Index).Set(x)
}

// Map is the field map of one struct type.
type Map struct {
	typ    reflect.Type
	fields []*Field
	keys   []string
	byKey  map[string]*Field
}

var cache sync.Map // reflect.Type -> *Map

// For returns the field map of T.
func For[T any]() *Map {
	return Of(reflect.TypeFor[T]())
}

// Of returns the field map of t (or of *t). It panics if t is not a struct.
func Of(t reflect.Type) *Map {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if m, ok := cache.Load(t); ok {
		return m.(*Map)
	}
	m, _ := cache.LoadOrStore(t, build(t))
	return m.(*Map)
}

func build(t reflect.Type) *Map {
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("fieldmap: %s is not a struct", t))
	}
	m := &Map{typ: t, byKey: make(map[string]*Field)}
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || sf.Anonymous || throughPointer(t, sf.Index) {
			continue
		}
		f := &Field{Name: sf.Name, Index: sf.Index, Type: sf.Type}
		m.fields = append(m.fields, f)
		m.add(sf.Name, f)
		m.add(LowerCamel(sf.Name), f)
	}
	return m
}

// add registers key unless a field already claimed it. Declared names are
// registered before their camel variants, so they win collisions.
func (m *Map) add(key string, f *Field) {
	if _, ok := m.byKey[key]; ok {
		return
	}
	m.byKey[key] = f
	m.keys = append(m.keys, key)
}

// throughPointer reports whether the index path crosses an embedded pointer,
// which FieldByIndex cannot follow on a nil value.
func throughPointer(t reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Pointer {
			return true
		}
		t = f.Type
	}
	return false
}

// LowerCamel lowers the leading run of upper-case letters of name, keeping
// the last one upper-case when it starts the next word:
// FirstName -> firstName, ID -> id, URLPath -> urlPath.
func LowerCamel(name string) string {
	r := []rune(name)
	for i := 0; i < len(r) && unicode.IsUpper(r[i]); i++ {
		if i > 0 && i+1 < len(r) && unicode.IsLower(r[i+1]) {
			break
		}
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}

// Type returns the struct type the map was built for.
func (m *Map) Type() reflect.Type { return m.typ }

// Keys returns every lookup key in field declaration order, the declared
// name of each field before its camel variant.
func (m *Map) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Fields returns the accessors in declaration order.
func (m *Map) Fields() []*Field {
	return append([]*Field(nil), m.fields...)
}

// Lookup returns the accessor registered under name.
func (m *Map) Lookup(name string) (*Field, bool) {
	f, ok := m.byKey[name]
	return f, ok
}

// Apply merges input onto dst, a pointer to the map's struct type. For every
// key of the map present in input, the raw value is decoded into the field's
// declared type and assigned. Fields not named in input are left untouched.
// A value that cannot be decoded leaves dst unchanged and returns an error
// wrapping types.ErrInvalidData.
func (m *Map) Apply(dst any, input map[string]json.RawMessage) error {
	v, err := m.target(dst)
	if err != nil {
		return err
	}

	type assignment struct {
		f *Field
		x reflect.Value
	}
	var pending []assignment
	for _, key := range m.keys {
		raw, ok := input[key]
		if !ok {
			continue
		}
		f := m.byKey[key]
		x := reflect.New(f.Type)
		if err := json.Unmarshal(raw, x.Interface()); err != nil {
			return fmt.Errorf("%w: field %s: %v", types.ErrInvalidData, key, err)
		}
		pending = append(pending, assignment{f, x.Elem()})
	}
	for _, a := range pending {
		a.f.Set(v, a.x)
	}
	return nil
}

// CopyAll overwrites every field of dst with the value of the same field in
// src, except the fields whose declared names are listed in keep. Both must
// be pointers to the map's struct type.
func (m *Map) CopyAll(dst, src any, keep ...string) error {
	dv, err := m.target(dst)
	if err != nil {
		return err
	}
	sv, err := m.target(src)
	if err != nil {
		return err
	}
	for _, f := range m.fields {
		if !slices.Contains(keep, f.Name) {
			f.Set(dv, f.Get(sv))
		}
	}
	return nil
}

func (m *Map) target(ptr any) (reflect.Value, error) {
	v := reflect.ValueOf(ptr)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Type() != m.typ {
		return reflect.Value{}, fmt.Errorf("%w: want *%s, got %T", types.ErrInvalidData, m.typ.Name(), ptr)
	}
	return v.Elem(), nil
}
