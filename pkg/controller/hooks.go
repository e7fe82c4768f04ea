package controller

import (
	"context"
	"encoding/json"

	"github.com/mesh-intelligence/crudkit/pkg/store"
)

// Handler is the one method every entity controller must supply: a lookup
// from an opaque key to a filtered, not yet executed query. Only the handler
// knows how keys are structured. Return an error wrapping
// types.ErrInvalidKey for keys that cannot name any record; the controller
// answers those with Not Found.
type Handler[T any] interface {
	Find(s *store.Session, key string) (*store.Query[T], error)
}

// The Before hooks run after the target entity is resolved and before it is
// mutated. Returning an error stops the operation; nothing is saved. Errors
// wrapping types.ErrInvalidData are reported as 422, anything else as 500.

// BeforeCreator is implemented by handlers that validate or prepare input
// before it is staged for insertion.
type BeforeCreator[T any] interface {
	BeforeCreate(ctx context.Context, s *store.Session, input *T) error
}

// BeforeUpdater is implemented by handlers that inspect the existing entity
// before a PUT or PATCH changes it.
type BeforeUpdater[T any] interface {
	BeforeUpdate(ctx context.Context, s *store.Session, existing *T) error
}

// BeforeDeleter is implemented by handlers that inspect the existing entity
// before it is staged for removal.
type BeforeDeleter[T any] interface {
	BeforeDelete(ctx context.Context, s *store.Session, existing *T) error
}

// The Do hooks replace the default mutation primitives.

// Creator replaces the default insert, which is s.Add(input).
type Creator[T any] interface {
	DoCreate(ctx context.Context, s *store.Session, input *T) error
}

// Updater replaces the default full overwrite, which copies every field of
// input onto existing, key and zero values included.
type Updater[T any] interface {
	DoUpdate(ctx context.Context, s *store.Session, input, existing *T) error
}

// Patcher replaces the default merge, which assigns every field named in
// input and leaves the rest alone.
type Patcher[T any] interface {
	DoPatch(ctx context.Context, s *store.Session, input map[string]json.RawMessage, existing *T) error
}

// Deleter replaces the default removal, which is s.Remove(existing).
type Deleter[T any] interface {
	DoDelete(ctx context.Context, s *store.Session, existing *T) error
}
