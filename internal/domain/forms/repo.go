package forms

import (
	"context"

	"github.com/google/uuid"
)

// TemplateRepository persists template definitions. Templates are never hard
// deleted; retiring is a patch of Active.
type TemplateRepository interface {
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	// Patch applies the non-nil members of p in one statement and returns the
	// updated row.
	Patch(ctx context.Context, id uuid.UUID, p TemplatePatch) (*Template, error)
	// List returns templates newest first. Retired templates are skipped
	// unless includeRetired is set.
	List(ctx context.Context, includeRetired bool, limit, offset int) ([]*Template, int, error)
}

// InstanceRepository persists patient answer sets. Stored values are not
// checked against the template.
type InstanceRepository interface {
	Create(ctx context.Context, i *Instance) error
	GetByID(ctx context.Context, id uuid.UUID) (*Instance, error)
	// ListByPatient returns instances newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error)
	// ReplaceValues swaps the whole value map.
	ReplaceValues(ctx context.Context, id uuid.UUID, values Values) error
	Delete(ctx context.Context, id uuid.UUID) error
}
