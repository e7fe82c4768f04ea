package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/crudkit/pkg/store"
	"github.com/mesh-intelligence/crudkit/pkg/types"
)

func init() {
	store.MustRegister[types.Person]()
	store.MustRegister[types.Activity]()
}

func setupBackend(t *testing.T) *store.Backend {
	t.Helper()
	b := store.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })
	return b
}

func TestTables(t *testing.T) {
	names, err := Tables()
	require.NoError(t, err)
	assert.Equal(t, []string{types.PersonsTable, types.ActivitiesTable}, names)
}

func TestDefaults(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	counts, err := Defaults(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{types.PersonsTable: 3, types.ActivitiesTable: 4}, counts)

	p, err := store.From[types.Person](b.NewSession()).Where("id = ?", 1).First(ctx)
	require.NoError(t, err)
	assert.Equal(t, &types.Person{Id: 1, FirstName: "George", LastName: "Washington", SysUser: "system"}, p)

	a, err := store.From[types.Activity](b.NewSession()).Where("name = ?", "Govern").First(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Id)

	t.Run("second run inserts nothing", func(t *testing.T) {
		counts, err := Defaults(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{types.PersonsTable: 0, types.ActivitiesTable: 0}, counts)
	})

	t.Run("generated keys continue after the seeds", func(t *testing.T) {
		s := b.NewSession()
		p := &types.Person{FirstName: "James", LastName: "Madison"}
		require.NoError(t, s.Add(p))
		require.NoError(t, s.SaveChanges(ctx))
		assert.Equal(t, 4, p.Id)
	})

	t.Run("built-in rows are not shared with callers", func(t *testing.T) {
		assert.Equal(t, 1, Persons[0].Id)
		assert.Equal(t, "Washington", Persons[0].LastName)
	})
}

func TestExportAndLoadDir(t *testing.T) {
	ctx := context.Background()
	src := setupBackend(t)
	_, err := Defaults(ctx, src)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "export")
	require.NoError(t, ExportDir(ctx, src, dir))

	data, err := os.ReadFile(filepath.Join(dir, "persons.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"id":1,"lastName":"Washington","firstName":"George","sysUser":"system"}`, lines[0])

	dst := setupBackend(t)
	counts, err := LoadDir(ctx, dst, dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{types.PersonsTable: 3, types.ActivitiesTable: 4}, counts)

	all, err := store.Page[types.Activity](ctx, dst.NewSession(), 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Talk", all[2].Name)
}

func TestLoadDir(t *testing.T) {
	ctx := context.Background()

	t.Run("missing files are skipped", func(t *testing.T) {
		b := setupBackend(t)
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "activities.jsonl"),
			[]byte(`{"id":10,"name":"Read"}`+"\n\nnot json\n"+`{"id":11,"name":"Write"}`+"\n"), 0o644))

		counts, err := LoadDir(ctx, b, dir)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{types.PersonsTable: 0, types.ActivitiesTable: 2}, counts)
	})

	t.Run("records of the wrong shape fail the whole load", func(t *testing.T) {
		b := setupBackend(t)
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "persons.jsonl"),
			[]byte(`{"id":1,"lastName":"Ok"}`+"\n"+`{"id":"two"}`+"\n"), 0o644))

		_, err := LoadDir(ctx, b, dir)
		assert.ErrorIs(t, err, types.ErrInvalidData)
		assert.ErrorContains(t, err, "record 2")

		n, err := store.From[types.Person](b.NewSession()).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("duplicate names conflict", func(t *testing.T) {
		b := setupBackend(t)
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "activities.jsonl"),
			[]byte(`{"name":"Walk"}`+"\n"+`{"name":"Walk"}`+"\n"), 0o644))

		_, err := LoadDir(ctx, b, dir)
		assert.ErrorIs(t, err, types.ErrConflict)
	})
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	_, err := Defaults(ctx, b)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Export(ctx, b, types.ActivitiesTable, &buf))
	records, err := readJSONL(&buf)
	require.NoError(t, err)
	require.Len(t, records, 4)

	var a types.Activity
	require.NoError(t, json.Unmarshal(records[3], &a))
	assert.Equal(t, types.Activity{Id: 4, Name: "Govern", SysUser: "system"}, a)

	assert.ErrorIs(t, Export(ctx, b, "crumbs", &buf), ErrUnknownTable)
}

func TestExportFileReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	_, err := Defaults(ctx, b)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0o644))
	require.NoError(t, ExportFile(ctx, b, types.PersonsTable, path))

	records, err := readJSONLFile(path)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestReadJSONLSkipsMalformedLines(t *testing.T) {
	records, err := readJSONL(strings.NewReader("{\"a\":1}\n\n{broken\n[1,2]\n"))
	require.NoError(t, err)
	assert.Equal(t, []json.RawMessage{json.RawMessage(`{"a":1}`), json.RawMessage(`[1,2]`)}, records)
}
