// Package handlers holds the concrete entity controllers of the crudkit
// service and wires them into an HTTP router.
package handlers

import (
	"fmt"
	"strconv"

	"github.com/mesh-intelligence/crudkit/pkg/store"
	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// RegisterModels registers the service's entity types with the store. Call
// it before attaching a backend so their tables are created.
func RegisterModels() error {
	if err := store.Register[types.Person](); err != nil {
		return err
	}
	return store.Register[types.Activity]()
}

// PersonHandler looks persons up by integer id.
type PersonHandler struct{}

// Find implements controller.Handler.
func (PersonHandler) Find(s *store.Session, key string) (*store.Query[types.Person], error) {
	id, err := parseID(key)
	if err != nil {
		return nil, err
	}
	return store.From[types.Person](s).Where("id = ?", id), nil
}

func parseID(key string) (int, error) {
	id, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer id", types.ErrInvalidKey, key)
	}
	return id, nil
}
