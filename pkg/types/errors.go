package types

import (
	"errors"
	"fmt"
)

// Lookup and payload errors.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidKey    = errors.New("invalid entity key")
	ErrInvalidData   = errors.New("invalid entity data")
	ErrNotRegistered = errors.New("entity type is not registered")
	ErrKeyChanged    = errors.New("key of a tracked entity was changed")
)

// Save errors. ErrConflict is the class every constraint or concurrency
// failure belongs to; ErrConcurrency is the specific case of an UPDATE or
// DELETE that matched no row.
var (
	ErrConflict    = errors.New("conflicting update")
	ErrConcurrency = errors.New("row was changed or removed by another writer")
)

// Backend lifecycle errors.
var (
	ErrBackendDetached = errors.New("backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)

// UpdateError reports a failed write of one entity during SaveChanges that
// was caused by a constraint violation or a concurrency check. It matches
// ErrConflict under errors.Is.
type UpdateError struct {
	Table string // Table that was being written.
	Op    string // "insert", "update" or "delete".
	Err   error  // Underlying driver or concurrency error.
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Is reports ErrConflict so callers can classify without errors.As.
func (e *UpdateError) Is(target error) bool { return target == ErrConflict }
