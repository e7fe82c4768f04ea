package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/crudkit/pkg/fieldmap"
	"github.com/mesh-intelligence/crudkit/pkg/store"
	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// ActivityHandler looks activities up by integer id and rejects blank names
// on every write.
type ActivityHandler struct{}

// Find implements controller.Handler.
func (ActivityHandler) Find(s *store.Session, key string) (*store.Query[types.Activity], error) {
	id, err := parseID(key)
	if err != nil {
		return nil, err
	}
	return store.From[types.Activity](s).Where("id = ?", id), nil
}

// BeforeCreate trims and validates the name.
func (ActivityHandler) BeforeCreate(_ context.Context, _ *store.Session, input *types.Activity) error {
	input.Name = strings.TrimSpace(input.Name)
	return validateActivity(input)
}

// DoUpdate validates input before overwriting every field but the id.
func (ActivityHandler) DoUpdate(_ context.Context, _ *store.Session, input, existing *types.Activity) error {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateActivity(input); err != nil {
		return err
	}
	return fieldmap.For[types.Activity]().CopyAll(existing, input, "Id")
}

// DoPatch merges input and validates the result.
func (ActivityHandler) DoPatch(_ context.Context, _ *store.Session, input map[string]json.RawMessage, existing *types.Activity) error {
	if err := fieldmap.For[types.Activity]().Apply(existing, input); err != nil {
		return err
	}
	existing.Name = strings.TrimSpace(existing.Name)
	return validateActivity(existing)
}

func validateActivity(a *types.Activity) error {
	if a.Name == "" {
		return fmt.Errorf("%w: activity name must not be blank", types.ErrInvalidData)
	}
	return nil
}
