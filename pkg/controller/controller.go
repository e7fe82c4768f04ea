// Package controller provides a generic CRUD controller for entities stored
// through pkg/store.
//
// A Controller is bound to one entity type T and a Handler[T] that knows how
// to turn an opaque key into a query. Handlers customize behavior by
// implementing any of the optional hook interfaces (BeforeCreator,
// BeforeUpdater, BeforeDeleter, Creator, Updater, Patcher, Deleter); hooks
// they do not implement fall back to the defaults.
//
// Every operation returns a Result and never panics on persistence failures.
// Each has an Async sibling that runs it on its own goroutine. Controllers
// are safe for concurrent use; each operation opens its own store.Session
// unless the context already carries one.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/mesh-intelligence/crudkit/pkg/fieldmap"
	"github.com/mesh-intelligence/crudkit/pkg/store"
	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// SessionProvider hands out the unit of work for an operation.
// *store.Backend implements it.
type SessionProvider interface {
	Session(ctx context.Context) *store.Session
}

// Recorder observes the outcome of every operation.
type Recorder interface {
	Observe(entity, op string, status int, elapsed time.Duration)
}

// Option configures a Controller.
type Option func(*options)

type options struct {
	name     string
	recorder Recorder
}

// WithName overrides the entity name used in messages, logs and metrics.
// The default is the Go type name of T.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithRecorder reports operation outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// Controller exposes list, get, create, update, patch and delete over
// entities of type T.
type Controller[T any] struct {
	handler   Handler[T]
	sessions  SessionProvider
	principal types.PrincipalProvider
	log       *clog.Logger
	fields    *fieldmap.Map
	name      string
	recorder  Recorder
}

// New returns a controller for T. A nil principal stamps an empty SysUser;
// a nil logger logs through the default slog logger.
func New[T any](handler Handler[T], sessions SessionProvider, principal types.PrincipalProvider, logger *clog.Logger, opts ...Option) *Controller[T] {
	o := options{name: reflect.TypeFor[T]().Name()}
	for _, opt := range opts {
		opt(&o)
	}
	if principal == nil {
		principal = types.PrincipalFunc(func(context.Context) string { return "" })
	}
	if logger == nil {
		logger = clog.NewLogger(slog.Default())
	}
	return &Controller[T]{
		handler:   handler,
		sessions:  sessions,
		principal: principal,
		log:       logger,
		fields:    fieldmap.For[T](),
		name:      o.name,
		recorder:  o.recorder,
	}
}

// Name returns the entity name.
func (c *Controller[T]) Name() string { return c.name }

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying a request-scoped logger. The
// controller prefers it over the logger it was constructed with.
func WithLogger(ctx context.Context, l *clog.Logger) context.Context {
	return clog.WithLogger(context.WithValue(ctx, loggerKey{}, l), l)
}

func (c *Controller[T]) logger(ctx context.Context) *clog.Logger {
	l, ok := ctx.Value(loggerKey{}).(*clog.Logger)
	if !ok {
		l = c.log
	}
	return l.With("entity", c.name)
}

func (c *Controller[T]) observe(op string, start time.Time, res Result) Result {
	if c.recorder != nil {
		c.recorder.Observe(c.name, op, res.Status, time.Since(start))
	}
	return res
}

// List returns every entity of T, untracked. It answers 200 with an empty
// slice when there are none.
func (c *Controller[T]) List(ctx context.Context) Result {
	return c.observe("list", time.Now(), c.list(ctx))
}

// Get returns the entity found under key, or 404.
func (c *Controller[T]) Get(ctx context.Context, key string) Result {
	return c.observe("get", time.Now(), c.get(ctx, key))
}

var errRequestBody = errors.New("request body is required")

// Create inserts input and returns it, with any generated key filled in.
func (c *Controller[T]) Create(ctx context.Context, input *T) Result {
	return c.observe("create", time.Now(), c.create(ctx, input))
}

// Update overwrites every field of the entity found under key with the
// fields of input, including fields input leaves at their zero value, and
// returns the updated entity. The primary key is kept: a key in input that
// differs from the stored one is ignored.
func (c *Controller[T]) Update(ctx context.Context, key string, input *T) Result {
	return c.observe("update", time.Now(), c.update(ctx, key, input))
}

// Patch merges the JSON object raw onto the entity found under key and
// returns the updated entity. Fields raw does not name are left untouched.
// A payload that is not a JSON object is rejected with 422 before any
// lookup.
func (c *Controller[T]) Patch(ctx context.Context, key string, raw json.RawMessage) Result {
	return c.observe("patch", time.Now(), c.patch(ctx, key, raw))
}

// Delete removes the entity found under key. On success the body is the
// decoded key rather than the entity.
func (c *Controller[T]) Delete(ctx context.Context, key string) Result {
	return c.observe("delete", time.Now(), c.delete(ctx, key))
}

func (c *Controller[T]) list(ctx context.Context) Result {
	s := c.sessions.Session(ctx)
	items, err := store.From[T](s).AsNoTracking().All(ctx)
	if err != nil {
		c.logger(ctx).ErrorContext(ctx, "listing failed", "error", err)
		return failure(http.StatusInternalServerError, err, nil)
	}
	return Result{Status: http.StatusOK, Body: items}
}

func (c *Controller[T]) get(ctx context.Context, key string) Result {
	s := c.sessions.Session(ctx)
	existing, _, res := c.resolve(ctx, s, key)
	if existing == nil {
		return res
	}
	return Result{Status: http.StatusOK, Body: existing}
}

func (c *Controller[T]) create(ctx context.Context, input *T) Result {
	if input == nil {
		return failure(http.StatusBadRequest, errRequestBody, nil)
	}
	s := c.sessions.Session(ctx)

	if h, ok := c.handler.(BeforeCreator[T]); ok {
		if err := h.BeforeCreate(ctx, s, input); err != nil {
			return c.hookFailure(ctx, "BeforeCreate", err, input)
		}
	}
	var err error
	if h, ok := c.handler.(Creator[T]); ok {
		err = h.DoCreate(ctx, s, input)
	} else {
		err = s.Add(input)
	}
	if err != nil {
		return c.hookFailure(ctx, "DoCreate", err, input)
	}
	return c.save(ctx, s, "create", input, input)
}

func (c *Controller[T]) update(ctx context.Context, key string, input *T) Result {
	if input == nil {
		return failure(http.StatusBadRequest, errRequestBody, nil)
	}
	s := c.sessions.Session(ctx)
	existing, _, res := c.resolve(ctx, s, key)
	if existing == nil {
		return res
	}

	if h, ok := c.handler.(BeforeUpdater[T]); ok {
		if err := h.BeforeUpdate(ctx, s, existing); err != nil {
			return c.hookFailure(ctx, "BeforeUpdate", err, input)
		}
	}
	var err error
	if h, ok := c.handler.(Updater[T]); ok {
		err = h.DoUpdate(ctx, s, input, existing)
	} else {
		err = c.copyAll(existing, input)
	}
	if err != nil {
		return c.hookFailure(ctx, "DoUpdate", err, input)
	}
	return c.save(ctx, s, "update", existing, input)
}

// copyAll overwrites existing with input, keeping the primary key.
func (c *Controller[T]) copyAll(existing, input *T) error {
	m, err := store.ModelFor[T]()
	if err != nil {
		return err
	}
	return c.fields.CopyAll(existing, input, m.KeyField())
}

func (c *Controller[T]) patch(ctx context.Context, key string, raw json.RawMessage) Result {
	input, ok := jsonObject(raw)
	if !ok {
		return unprocessable(c.name, raw)
	}
	s := c.sessions.Session(ctx)
	existing, _, res := c.resolve(ctx, s, key)
	if existing == nil {
		return res
	}

	if h, ok := c.handler.(BeforeUpdater[T]); ok {
		if err := h.BeforeUpdate(ctx, s, existing); err != nil {
			return c.hookFailure(ctx, "BeforeUpdate", err, raw)
		}
	}
	var err error
	if h, ok := c.handler.(Patcher[T]); ok {
		err = h.DoPatch(ctx, s, input, existing)
	} else {
		err = c.fields.Apply(existing, input)
	}
	if err != nil {
		return c.hookFailure(ctx, "DoPatch", err, raw)
	}
	return c.save(ctx, s, "patch", existing, raw)
}

func (c *Controller[T]) delete(ctx context.Context, key string) Result {
	s := c.sessions.Session(ctx)
	existing, key, res := c.resolve(ctx, s, key)
	if existing == nil {
		return res
	}

	if h, ok := c.handler.(BeforeDeleter[T]); ok {
		if err := h.BeforeDelete(ctx, s, existing); err != nil {
			return c.hookFailure(ctx, "BeforeDelete", err, existing)
		}
	}
	var err error
	if h, ok := c.handler.(Deleter[T]); ok {
		err = h.DoDelete(ctx, s, existing)
	} else {
		err = s.Remove(existing)
	}
	if err != nil {
		return c.hookFailure(ctx, "DoDelete", err, existing)
	}
	return c.save(ctx, s, "delete", key, existing)
}

// resolve URL-decodes key and loads the entity it names. When nothing is
// found it returns a nil entity and the response to send.
func (c *Controller[T]) resolve(ctx context.Context, s *store.Session, raw string) (*T, string, Result) {
	key := decodeKey(raw)
	q, err := c.handler.Find(s, key)
	if err == nil {
		var existing *T
		existing, err = q.First(ctx)
		if err == nil {
			return existing, key, Result{}
		}
	}
	if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidKey) {
		c.logger(ctx).WarnContext(ctx, "record could not be found", "key", key)
		return nil, key, notFound(c.name, key)
	}
	c.logger(ctx).ErrorContext(ctx, "lookup failed", "key", key, "error", err)
	return nil, key, failure(http.StatusInternalServerError, err, nil)
}

// save stamps the current principal on every pending Attributable entry and
// commits the session. ret is the success body; object is echoed and logged
// on failure.
func (c *Controller[T]) save(ctx context.Context, s *store.Session, op string, ret, object any) Result {
	user := c.principal.SysUser(ctx)
	// Entries runs change detection first, so patched entities show as Modified.
	for _, e := range s.Entries() {
		switch e.State {
		case store.Added, store.Modified, store.Deleted:
			if a, ok := e.Entity.(types.Attributable); ok {
				a.SetSysUser(user)
			}
		}
	}
	if err := s.SaveChanges(ctx); err != nil {
		res := ClassifySaveError(err, object)
		c.logger(ctx).ErrorContext(ctx, "save failed",
			"op", op, "status", res.Status, "error", err, "object", object)
		return res
	}
	return Result{Status: http.StatusOK, Body: ret}
}

func (c *Controller[T]) hookFailure(ctx context.Context, hook string, err error, object any) Result {
	if errors.Is(err, types.ErrInvalidData) {
		c.logger(ctx).WarnContext(ctx, "rejected by hook", "hook", hook, "error", err)
		return failure(http.StatusUnprocessableEntity, err, object)
	}
	c.logger(ctx).ErrorContext(ctx, "hook failed", "hook", hook, "error", err, "object", object)
	return failure(http.StatusInternalServerError, err, object)
}

// decodeKey URL-decodes key. Keys that are not valid escapes are used as is.
func decodeKey(key string) string {
	if decoded, err := url.QueryUnescape(key); err == nil {
		return decoded
	}
	return key
}

// jsonObject decodes raw when it is a JSON object.
func jsonObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}
