package forms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daniilsirbu/medical-records-management-system/internal/platform/auth"
	"github.com/daniilsirbu/medical-records-management-system/internal/platform/db"
)

// Authorizer decides whether the principal on ctx may perform access.
// *auth.RoleAuthorizer satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, access auth.Access) error
}

// StoreRecorder receives one observation per repository call.
// *telemetry.TelemetryProvider satisfies it.
type StoreRecorder interface {
	ObserveStoreOp(entity, operation, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStoreOp(string, string, string, time.Duration) {}

// Service is the instance store: template and instance persistence behind
// authorization. Every method is a single-entity operation.
type Service struct {
	templates TemplateRepository
	instances InstanceRepository
	authz     Authorizer
	metrics   StoreRecorder
	logger    zerolog.Logger
}

func NewService(templates TemplateRepository, instances InstanceRepository, authz Authorizer, logger zerolog.Logger) *Service {
	return &Service{
		templates: templates,
		instances: instances,
		authz:     authz,
		metrics:   nopRecorder{},
		logger:    logger,
	}
}

// SetRecorder attaches a metrics recorder to the service.
func (s *Service) SetRecorder(r StoreRecorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.metrics = r
}

func (s *Service) authorize(ctx context.Context, access auth.Access) error {
	if err := s.authz.Authorize(ctx, access); err != nil {
		return &AuthorizationError{Access: access, Err: err}
	}
	return nil
}

// log prefers the request-scoped logger so entries carry the request id, and
// tags entries with the tenant bound to ctx.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &s.logger
	}
	if tid := db.TenantFromContext(ctx); tid != "" {
		tl := l.With().Str("tenant_id", tid).Logger()
		return &tl
	}
	return l
}

// track records the outcome of a repository call and wraps its error.
func (s *Service) track(entity, op string, start time.Time, err error) error {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	s.metrics.ObserveStoreOp(entity, op, outcome, time.Since(start))
	return wrapStoreErr(entity+" "+op, err)
}

// -- Templates --

// CreateTemplate stores a new definition. Section and field shape is checked
// here; the stricter authoring rules belong to the Builder and
// ValidateDefinition. t.Active is stored as given, so a zero Template is
// created retired; build t with NewTemplate to get the active default.
func (s *Service) CreateTemplate(ctx context.Context, t *Template) (uuid.UUID, error) {
	if err := s.authorize(ctx, auth.AccessWrite); err != nil {
		return uuid.Nil, err
	}
	if strings.TrimSpace(t.Name) == "" {
		return uuid.Nil, builderErr(RuleNameRequired, -1, "", "name is required")
	}
	if err := validateShape(t); err != nil {
		return uuid.Nil, err
	}
	if t.Sections == nil {
		t.Sections = []Section{}
	}
	start := time.Now()
	if err := s.track("template", "create", start, s.templates.Create(ctx, t)); err != nil {
		return uuid.Nil, err
	}
	s.log(ctx).Info().Str("template_id", t.ID.String()).Int("fields", t.FieldCount()).Msg("form template created")
	return t.ID, nil
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	if err := s.authorize(ctx, auth.AccessRead); err != nil {
		return nil, err
	}
	start := time.Now()
	t, err := s.templates.GetByID(ctx, id)
	if err := s.track("template", "get", start, err); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTemplates returns active templates, newest first.
func (s *Service) ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	return s.listTemplates(ctx, false, limit, offset)
}

// ListAllTemplates includes retired templates.
func (s *Service) ListAllTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	return s.listTemplates(ctx, true, limit, offset)
}

func (s *Service) listTemplates(ctx context.Context, includeRetired bool, limit, offset int) ([]*Template, int, error) {
	if err := s.authorize(ctx, auth.AccessRead); err != nil {
		return nil, 0, err
	}
	start := time.Now()
	items, total, err := s.templates.List(ctx, includeRetired, limit, offset)
	if err := s.track("template", "list", start, err); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpdateTemplate replaces only the attributes present in p. Existing
// instances are never touched.
func (s *Service) UpdateTemplate(ctx context.Context, id uuid.UUID, p TemplatePatch) (*Template, error) {
	if err := s.authorize(ctx, auth.AccessWrite); err != nil {
		return nil, err
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, builderErr(RuleNameRequired, -1, "", "name cannot be blank")
	}
	if p.Sections != nil {
		if err := validateShape(&Template{Sections: *p.Sections}); err != nil {
			return nil, err
		}
		if *p.Sections == nil {
			empty := []Section{}
			p.Sections = &empty
		}
	}
	if p.Empty() {
		return s.GetTemplate(ctx, id)
	}
	start := time.Now()
	t, err := s.templates.Patch(ctx, id, p)
	if err := s.track("template", "update", start, err); err != nil {
		return nil, err
	}
	s.log(ctx).Info().Str("template_id", id.String()).Bool("active", t.Active).Msg("form template updated")
	return t, nil
}

// RetireTemplate marks the template inactive. Its instances stay readable.
func (s *Service) RetireTemplate(ctx context.Context, id uuid.UUID) error {
	inactive := false
	_, err := s.UpdateTemplate(ctx, id, TemplatePatch{Active: &inactive})
	return err
}

// -- Instances --

// CreateInstance stores a completed form. Values are stored as given; shape
// is the binder's concern.
func (s *Service) CreateInstance(ctx context.Context, patientID, templateID uuid.UUID, values Values, completedDate string) (uuid.UUID, error) {
	if err := s.authorize(ctx, auth.AccessWrite); err != nil {
		return uuid.Nil, err
	}
	if patientID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("patient_id is required")
	}
	if _, err := time.Parse(DateLayout, completedDate); err != nil {
		return uuid.Nil, fmt.Errorf("invalid completed date %q", completedDate)
	}
	start := time.Now()
	_, err := s.templates.GetByID(ctx, templateID)
	if err := s.track("template", "get", start, err); err != nil {
		return uuid.Nil, err
	}

	inst := &Instance{
		PatientID:     patientID,
		TemplateID:    templateID,
		Values:        values.Clone(),
		CompletedDate: completedDate,
	}
	start = time.Now()
	if err := s.track("instance", "create", start, s.instances.Create(ctx, inst)); err != nil {
		return uuid.Nil, err
	}
	s.log(ctx).Info().
		Str("instance_id", inst.ID.String()).
		Str("template_id", templateID.String()).
		Str("patient_id", patientID.String()).
		Msg("form instance created")
	return inst.ID, nil
}

// GetInstance returns the instance joined with its template, which is nil if
// the template row no longer exists.
func (s *Service) GetInstance(ctx context.Context, id uuid.UUID) (*InstanceWithTemplate, error) {
	if err := s.authorize(ctx, auth.AccessRead); err != nil {
		return nil, err
	}
	start := time.Now()
	inst, err := s.instances.GetByID(ctx, id)
	if err := s.track("instance", "get", start, err); err != nil {
		return nil, err
	}
	t, err := s.lookupTemplate(ctx, inst.TemplateID, nil)
	if err != nil {
		return nil, err
	}
	return &InstanceWithTemplate{Instance: *inst, Template: t}, nil
}

// ListInstances returns a patient's instances newest first, each joined with
// its template whether or not that template is still active.
func (s *Service) ListInstances(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*InstanceWithTemplate, int, error) {
	if err := s.authorize(ctx, auth.AccessRead); err != nil {
		return nil, 0, err
	}
	start := time.Now()
	items, total, err := s.instances.ListByPatient(ctx, patientID, limit, offset)
	if err := s.track("instance", "list", start, err); err != nil {
		return nil, 0, err
	}
	cache := map[uuid.UUID]*Template{}
	out := make([]*InstanceWithTemplate, 0, len(items))
	for _, inst := range items {
		t, err := s.lookupTemplate(ctx, inst.TemplateID, cache)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, &InstanceWithTemplate{Instance: *inst, Template: t})
	}
	return out, total, nil
}

// lookupTemplate resolves a join. A missing template yields nil, not an error.
func (s *Service) lookupTemplate(ctx context.Context, id uuid.UUID, cache map[uuid.UUID]*Template) (*Template, error) {
	if t, ok := cache[id]; ok {
		return t, nil
	}
	start := time.Now()
	t, err := s.templates.GetByID(ctx, id)
	err = s.track("template", "get", start, err)
	if errors.Is(err, ErrNotFound) {
		t, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache[id] = t
	}
	return t, nil
}

// UpdateInstance replaces the instance's whole value map.
func (s *Service) UpdateInstance(ctx context.Context, id uuid.UUID, values Values) error {
	if err := s.authorize(ctx, auth.AccessWrite); err != nil {
		return err
	}
	start := time.Now()
	if err := s.track("instance", "update", start, s.instances.ReplaceValues(ctx, id, values.Clone())); err != nil {
		return err
	}
	s.log(ctx).Info().Str("instance_id", id.String()).Int("values", len(values)).Msg("form instance updated")
	return nil
}

func (s *Service) DeleteInstance(ctx context.Context, id uuid.UUID) error {
	if err := s.authorize(ctx, auth.AccessWrite); err != nil {
		return err
	}
	start := time.Now()
	if err := s.track("instance", "delete", start, s.instances.Delete(ctx, id)); err != nil {
		return err
	}
	s.log(ctx).Info().Str("instance_id", id.String()).Msg("form instance deleted")
	return nil
}

// InstanceDrift reports how the instance's stored keys compare with its
// template's current fields.
func (s *Service) InstanceDrift(ctx context.Context, id uuid.UUID) (Drift, error) {
	inst, err := s.GetInstance(ctx, id)
	if err != nil {
		return Drift{}, err
	}
	if inst.Template == nil {
		return Drift{}, &NotFoundError{Kind: "template", ID: inst.TemplateID}
	}
	return DiffInstance(inst.Template, inst.Values), nil
}

// -- Forms --

// NewInstanceForm opens an empty form for patientID on an active template.
func (s *Service) NewInstanceForm(ctx context.Context, templateID, patientID uuid.UUID) (*Form, error) {
	t, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return NewForm(t, patientID)
}

// EditInstanceForm opens an existing instance for editing.
func (s *Service) EditInstanceForm(ctx context.Context, instanceID uuid.UUID) (*Form, error) {
	inst, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return EditForm(inst)
}
