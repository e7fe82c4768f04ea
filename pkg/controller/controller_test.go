package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/crudkit/pkg/store"
	"github.com/mesh-intelligence/crudkit/pkg/types"
)

func init() {
	store.MustRegister[types.Person]()
	store.MustRegister[types.Activity]()
}

type personHandler struct{}

func (personHandler) Find(s *store.Session, key string) (*store.Query[types.Person], error) {
	id, err := strconv.Atoi(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidKey, key)
	}
	return store.From[types.Person](s).Where("id = ?", id), nil
}

// detachingPersons detaches the backend once the entity is loaded, so only
// the save can fail.
type detachingPersons struct {
	b *store.Backend
}

func (h detachingPersons) Find(s *store.Session, key string) (*store.Query[types.Person], error) {
	return personHandler{}.Find(s, key)
}

func (h detachingPersons) BeforeUpdate(context.Context, *store.Session, *types.Person) error {
	return h.b.Detach()
}

type activityHandler struct {
	beforeDelete error
}

func (activityHandler) Find(s *store.Session, key string) (*store.Query[types.Activity], error) {
	id, err := strconv.Atoi(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidKey, key)
	}
	return store.From[types.Activity](s).Where("id = ?", id), nil
}

func (activityHandler) BeforeCreate(_ context.Context, _ *store.Session, input *types.Activity) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: activity name is required", types.ErrInvalidData)
	}
	return nil
}

func (h activityHandler) BeforeDelete(context.Context, *store.Session, *types.Activity) error {
	return h.beforeDelete
}

type observation struct {
	entity, op string
	status     int
}

type fakeRecorder struct {
	mu  sync.Mutex
	obs []observation
}

func (r *fakeRecorder) Observe(entity, op string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{entity, op, status})
}

func (r *fakeRecorder) all() []observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observation(nil), r.obs...)
}

// setupBackend attaches a SQLite backend seeded with three persons and two
// activities.
func setupBackend(t *testing.T) *store.Backend {
	t.Helper()
	b := store.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })

	s := b.NewSession()
	for _, e := range []any{
		&types.Person{Id: 1, LastName: "Washington", FirstName: "George", SysUser: "system"},
		&types.Person{Id: 2, LastName: "Adams", FirstName: "John", SysUser: "system"},
		&types.Person{Id: 3, LastName: "Jefferson", FirstName: "Thomas", SysUser: "system"},
		&types.Activity{Id: 1, Name: "Walk", SysUser: "system"},
		&types.Activity{Id: 2, Name: "Sleep", SysUser: "system"},
	} {
		require.NoError(t, s.Add(e))
	}
	require.NoError(t, s.SaveChanges(context.Background()))
	return b
}

func staticUser(name string) types.PrincipalProvider {
	return types.PrincipalFunc(func(context.Context) string { return name })
}

func newPersons(b *store.Backend, opts ...Option) *Controller[types.Person] {
	return New[types.Person](personHandler{}, b, staticUser("tester"), nil, opts...)
}

func loadPerson(t *testing.T, b *store.Backend, id int) (*types.Person, error) {
	t.Helper()
	return store.From[types.Person](b.NewSession()).AsNoTracking().Where("id = ?", id).First(context.Background())
}

func TestList(t *testing.T) {
	b := setupBackend(t)
	res := newPersons(b).List(context.Background())

	require.Equal(t, http.StatusOK, res.Status)
	people, ok := res.Body.([]*types.Person)
	require.True(t, ok)
	assert.Len(t, people, 3)
	assert.Equal(t, "Washington", people[0].LastName)
}

func TestListEmpty(t *testing.T) {
	b := store.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })

	res := newPersons(b).List(context.Background())
	require.Equal(t, http.StatusOK, res.Status)
	assert.NotNil(t, res.Body)
	assert.Empty(t, res.Body)
}

func TestGet(t *testing.T) {
	b := setupBackend(t)
	c := newPersons(b)
	ctx := context.Background()

	t.Run("seeded entity", func(t *testing.T) {
		res := c.Get(ctx, "2")
		require.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, &types.Person{Id: 2, LastName: "Adams", FirstName: "John", SysUser: "system"}, res.Body)
	})

	t.Run("missing key", func(t *testing.T) {
		res := c.Get(ctx, "999")
		assert.Equal(t, http.StatusNotFound, res.Status)
		assert.Equal(t, ErrorBody{Error: "The Person record could not be found for key: 999"}, res.Body)
	})

	t.Run("key the handler cannot parse", func(t *testing.T) {
		res := c.Get(ctx, "george")
		assert.Equal(t, http.StatusNotFound, res.Status)
	})

	t.Run("key is URL-decoded", func(t *testing.T) {
		res := c.Get(ctx, "%33")
		require.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, "Jefferson", res.Body.(*types.Person).LastName)

		res = c.Get(ctx, "100%25")
		assert.Equal(t, ErrorBody{Error: "The Person record could not be found for key: 100%"}, res.Body)
	})

	t.Run("invalid escape is used as is", func(t *testing.T) {
		res := c.Get(ctx, "%zz")
		assert.Equal(t, ErrorBody{Error: "The Person record could not be found for key: %zz"}, res.Body)
	})
}

func TestCreateThenGet(t *testing.T) {
	b := setupBackend(t)
	c := newPersons(b)
	ctx := context.Background()

	input := &types.Person{LastName: "Madison", FirstName: "James"}
	res := c.Create(ctx, input)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Same(t, input, res.Body)
	assert.Equal(t, 4, input.Id)
	assert.Equal(t, "tester", input.SysUser, "principal is stamped on insert")

	got := c.Get(ctx, "4")
	require.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, &types.Person{Id: 4, LastName: "Madison", FirstName: "James", SysUser: "tester"}, got.Body)
}

func TestCreateNilInput(t *testing.T) {
	b := setupBackend(t)
	res := newPersons(b).Create(context.Background(), nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	b := setupBackend(t)
	c := New[types.Activity](activityHandler{}, b, staticUser("tester"), nil)

	input := &types.Activity{Name: "Walk"}
	res := c.Create(context.Background(), input)

	require.Equal(t, http.StatusConflict, res.Status)
	body, ok := res.Body.(ErrorBody)
	require.True(t, ok)
	assert.Contains(t, body.Error, "UNIQUE")
	assert.Same(t, input, body.Object, "the submitted entity is echoed")

	n, err := store.From[types.Activity](b.NewSession()).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpdateIsFullOverwrite(t *testing.T) {
	b := setupBackend(t)
	c := newPersons(b)
	ctx := context.Background()

	res := c.Update(ctx, "3", &types.Person{Id: 3, LastName: "Jefferson-Updated"})
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, &types.Person{Id: 3, LastName: "Jefferson-Updated", SysUser: "tester"}, res.Body)

	got, err := loadPerson(t, b, 3)
	require.NoError(t, err)
	assert.Empty(t, got.FirstName, "fields missing from the input are zeroed")
	assert.Equal(t, "Jefferson-Updated", got.LastName)
}

func TestUpdateKeepsTheStoredKey(t *testing.T) {
	ctx := context.Background()

	for name, input := range map[string]*types.Person{
		"no key in input":        {LastName: "NoId"},
		"different key in input": {Id: 42, LastName: "NoId"},
	} {
		t.Run(name, func(t *testing.T) {
			b := setupBackend(t)
			res := newPersons(b).Update(ctx, "1", input)
			require.Equal(t, http.StatusOK, res.Status)
			assert.Equal(t, 1, res.Body.(*types.Person).Id)

			got, err := loadPerson(t, b, 1)
			require.NoError(t, err)
			assert.Equal(t, "NoId", got.LastName)

			for _, id := range []int{0, 42} {
				_, err := loadPerson(t, b, id)
				assert.ErrorIs(t, err, types.ErrNotFound)
			}
		})
	}
}

func TestUpdateMissing(t *testing.T) {
	b := setupBackend(t)
	res := newPersons(b).Update(context.Background(), "999", &types.Person{Id: 999, LastName: "Nobody"})
	assert.Equal(t, http.StatusNotFound, res.Status)

	_, err := loadPerson(t, b, 999)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPatch(t *testing.T) {
	ctx := context.Background()

	t.Run("changes only the named field", func(t *testing.T) {
		b := setupBackend(t)
		res := newPersons(b).Patch(ctx, "1", json.RawMessage(`{"lastName":"Washington-Updated"}`))

		require.Equal(t, http.StatusOK, res.Status)
		want := &types.Person{Id: 1, LastName: "Washington-Updated", FirstName: "George", SysUser: "tester"}
		assert.Equal(t, want, res.Body)

		got, err := loadPerson(t, b, 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("PascalCase keys", func(t *testing.T) {
		b := setupBackend(t)
		res := newPersons(b).Patch(ctx, "2", json.RawMessage(`{"FirstName":"Johnny"}`))
		require.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, "Johnny", res.Body.(*types.Person).FirstName)
		assert.Equal(t, "Adams", res.Body.(*types.Person).LastName)
	})

	t.Run("missing key is 404 and creates nothing", func(t *testing.T) {
		b := setupBackend(t)
		res := newPersons(b).Patch(ctx, "999", json.RawMessage(`{"lastName":"X"}`))
		assert.Equal(t, http.StatusNotFound, res.Status)

		_, err := loadPerson(t, b, 999)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("empty object saves without changes", func(t *testing.T) {
		b := setupBackend(t)
		res := newPersons(b).Patch(ctx, "1", json.RawMessage(`{}`))
		require.Equal(t, http.StatusOK, res.Status)

		got, err := loadPerson(t, b, 1)
		require.NoError(t, err)
		assert.Equal(t, &types.Person{Id: 1, LastName: "Washington", FirstName: "George", SysUser: "system"}, got)
	})

	t.Run("empty object still saves", func(t *testing.T) {
		b := setupBackend(t)
		c := New[types.Person](detachingPersons{b}, b, staticUser("tester"), nil)
		res := c.Patch(ctx, "1", json.RawMessage(`{}`))
		assert.Equal(t, http.StatusInternalServerError, res.Status)
		assert.Equal(t, types.ErrBackendDetached.Error(), res.Body.(ErrorBody).Error)
	})

	t.Run("changing the key is a server error", func(t *testing.T) {
		b := setupBackend(t)
		res := newPersons(b).Patch(ctx, "1", json.RawMessage(`{"id":42,"lastName":"Moved"}`))
		assert.Equal(t, http.StatusInternalServerError, res.Status)
		assert.Contains(t, res.Body.(ErrorBody).Error, types.ErrKeyChanged.Error())

		got, err := loadPerson(t, b, 1)
		require.NoError(t, err)
		assert.Equal(t, "Washington", got.LastName)
	})

	t.Run("value of the wrong type is 422", func(t *testing.T) {
		b := setupBackend(t)
		res := newPersons(b).Patch(ctx, "1", json.RawMessage(`{"lastName":42}`))
		assert.Equal(t, http.StatusUnprocessableEntity, res.Status)

		got, err := loadPerson(t, b, 1)
		require.NoError(t, err)
		assert.Equal(t, "Washington", got.LastName)
	})
}

func TestPatchRejectsNonObjects(t *testing.T) {
	b := setupBackend(t)
	c := newPersons(b)
	ctx := context.Background()

	for _, payload := range []string{`[1,2,3]`, `"Washington"`, `42`, `null`, ``, `{"broken"`} {
		t.Run(payload, func(t *testing.T) {
			res := c.Patch(ctx, "1", json.RawMessage(payload))
			assert.Equal(t, http.StatusUnprocessableEntity, res.Status)
			assert.Equal(t, ErrorBody{Error: "Cannot update Person with " + payload}, res.Body)
		})
	}

	t.Run("echo is truncated to 200 characters", func(t *testing.T) {
		payload := "[" + strings.Repeat(`"x",`, 100) + `"x"]`
		res := c.Patch(ctx, "1", json.RawMessage(payload))
		require.Equal(t, http.StatusUnprocessableEntity, res.Status)
		assert.Equal(t, "Cannot update Person with "+payload[:200]+"...", res.Body.(ErrorBody).Error)
	})

	t.Run("rejected before lookup", func(t *testing.T) {
		res := c.Patch(ctx, "999", json.RawMessage(`[]`))
		assert.Equal(t, http.StatusUnprocessableEntity, res.Status)
	})

	got, err := loadPerson(t, b, 1)
	require.NoError(t, err)
	assert.Equal(t, &types.Person{Id: 1, LastName: "Washington", FirstName: "George", SysUser: "system"}, got)
}

func TestDelete(t *testing.T) {
	b := setupBackend(t)
	c := newPersons(b)
	ctx := context.Background()

	res := c.Delete(ctx, "2")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "2", res.Body, "delete answers with the key")

	assert.Equal(t, http.StatusNotFound, c.Get(ctx, "2").Status)
	assert.Equal(t, http.StatusNotFound, c.Delete(ctx, "2").Status)

	n, err := store.From[types.Person](b.NewSession()).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDeleteAnswersWithDecodedKey(t *testing.T) {
	b := setupBackend(t)
	res := newPersons(b).Delete(context.Background(), "%31")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "1", res.Body)
}

func TestHookFailures(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	t.Run("invalid data is 422", func(t *testing.T) {
		c := New[types.Activity](activityHandler{}, b, nil, nil)
		input := &types.Activity{Name: "  "}
		res := c.Create(ctx, input)
		assert.Equal(t, http.StatusUnprocessableEntity, res.Status)
		assert.Equal(t, ErrorBody{Error: "invalid entity data: activity name is required", Object: input}, res.Body)
	})

	t.Run("other errors are 500 and nothing is deleted", func(t *testing.T) {
		c := New[types.Activity](activityHandler{beforeDelete: errors.New("audit log unavailable")}, b, nil, nil)
		res := c.Delete(ctx, "1")
		assert.Equal(t, http.StatusInternalServerError, res.Status)
		assert.Equal(t, http.StatusOK, c.Get(ctx, "1").Status)
	})
}

// upperPatcher replaces the default merge and removal.
type upperPatcher struct {
	personHandler
	deleted []int
}

func (h *upperPatcher) DoPatch(_ context.Context, _ *store.Session, input map[string]json.RawMessage, existing *types.Person) error {
	var last string
	if err := json.Unmarshal(input["lastName"], &last); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	existing.LastName = strings.ToUpper(last)
	return nil
}

func (h *upperPatcher) DoDelete(_ context.Context, _ *store.Session, existing *types.Person) error {
	h.deleted = append(h.deleted, existing.Id)
	return nil
}

func TestDoHooksReplaceDefaults(t *testing.T) {
	b := setupBackend(t)
	h := &upperPatcher{}
	c := New[types.Person](h, b, staticUser("tester"), nil)
	ctx := context.Background()

	res := c.Patch(ctx, "1", json.RawMessage(`{"lastName":"washington"}`))
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "WASHINGTON", res.Body.(*types.Person).LastName)

	res = c.Delete(ctx, "3")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, []int{3}, h.deleted)
	assert.Equal(t, http.StatusOK, c.Get(ctx, "3").Status, "custom delete kept the row")
}

func TestSessionFromContextIsShared(t *testing.T) {
	b := setupBackend(t)
	c := newPersons(b)
	s := b.NewSession()
	ctx := store.WithSession(context.Background(), s)

	res := c.Get(ctx, "1")
	require.Equal(t, http.StatusOK, res.Status)
	e, ok := s.Entry(res.Body)
	require.True(t, ok, "the controller used the session from the context")
	assert.Equal(t, store.Unchanged, e.State)
}

func TestAsyncVariants(t *testing.T) {
	b := setupBackend(t)
	rec := &fakeRecorder{}
	c := newPersons(b, WithRecorder(rec), WithName("Patriot"))
	ctx := context.Background()

	list := <-c.ListAsync(ctx)
	assert.Equal(t, http.StatusOK, list.Status)

	got := <-c.GetAsync(ctx, "1")
	assert.Equal(t, http.StatusOK, got.Status)

	missing := <-c.GetAsync(ctx, "404")
	assert.Equal(t, ErrorBody{Error: "The Patriot record could not be found for key: 404"}, missing.Body)

	created := <-c.CreateAsync(ctx, &types.Person{LastName: "Monroe", FirstName: "James"})
	require.Equal(t, http.StatusOK, created.Status)

	updated := <-c.UpdateAsync(ctx, "4", &types.Person{Id: 4, LastName: "Monroe", FirstName: "J."})
	assert.Equal(t, http.StatusOK, updated.Status)

	patched := <-c.PatchAsync(ctx, "4", json.RawMessage(`{"firstName":"Jim"}`))
	require.Equal(t, http.StatusOK, patched.Status)
	assert.Equal(t, "Jim", patched.Body.(*types.Person).FirstName)

	deleted := <-c.DeleteAsync(ctx, "4")
	assert.Equal(t, "4", deleted.Body)

	assert.Equal(t, []observation{
		{"Patriot", "list_async", 200},
		{"Patriot", "get_async", 200},
		{"Patriot", "get_async", 404},
		{"Patriot", "create_async", 200},
		{"Patriot", "update_async", 200},
		{"Patriot", "patch_async", 200},
		{"Patriot", "delete_async", 200},
	}, rec.all())
}

func TestRecorderObservesBlockingOps(t *testing.T) {
	b := setupBackend(t)
	rec := &fakeRecorder{}
	c := newPersons(b, WithRecorder(rec))
	ctx := context.Background()

	c.List(ctx)
	c.Get(ctx, "999")
	c.Patch(ctx, "1", json.RawMessage(`[]`))

	assert.Equal(t, []observation{
		{"Person", "list", 200},
		{"Person", "get", 404},
		{"Person", "patch", 422},
	}, rec.all())
	assert.Equal(t, "Person", c.Name())
}

func TestDetachedBackendIsServerError(t *testing.T) {
	b := setupBackend(t)
	c := newPersons(b)
	require.NoError(t, b.Detach())

	assert.Equal(t, http.StatusInternalServerError, c.List(context.Background()).Status)
	assert.Equal(t, http.StatusInternalServerError, c.Get(context.Background(), "1").Status)
}
