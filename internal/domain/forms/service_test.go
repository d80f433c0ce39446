package forms

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daniilsirbu/medical-records-management-system/internal/platform/auth"
)

// ── Mock Repositories ──

type mockTemplateRepo struct {
	data  map[uuid.UUID]*Template
	order []uuid.UUID
	err   error
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{data: map[uuid.UUID]*Template{}}
}

func (m *mockTemplateRepo) Create(_ context.Context, t *Template) error {
	if m.err != nil {
		return m.err
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.data[t.ID] = t.Clone()
	m.order = append(m.order, t.ID)
	return nil
}
func (m *mockTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*Template, error) {
	if m.err != nil {
		return nil, m.err
	}
	if t, ok := m.data[id]; ok {
		return t.Clone(), nil
	}
	return nil, &NotFoundError{Kind: "template", ID: id}
}
func (m *mockTemplateRepo) Patch(_ context.Context, id uuid.UUID, p TemplatePatch) (*Template, error) {
	t, ok := m.data[id]
	if !ok {
		return nil, &NotFoundError{Kind: "template", ID: id}
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		d := *p.Description
		t.Description = &d
		if d == "" {
			t.Description = nil
		}
	}
	if p.Sections != nil {
		t.Sections = cloneSections(*p.Sections)
	}
	if p.Active != nil {
		t.Active = *p.Active
	}
	return t.Clone(), nil
}
func (m *mockTemplateRepo) List(_ context.Context, includeRetired bool, limit, offset int) ([]*Template, int, error) {
	var out []*Template
	for i := len(m.order) - 1; i >= 0; i-- {
		t := m.data[m.order[i]]
		if t.Active || includeRetired {
			out = append(out, t.Clone())
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

type mockInstanceRepo struct {
	data  map[uuid.UUID]*Instance
	order []uuid.UUID
}

func newMockInstanceRepo() *mockInstanceRepo {
	return &mockInstanceRepo{data: map[uuid.UUID]*Instance{}}
}

func (m *mockInstanceRepo) Create(_ context.Context, i *Instance) error {
	i.ID = uuid.New()
	cp := *i
	m.data[i.ID] = &cp
	m.order = append(m.order, i.ID)
	return nil
}
func (m *mockInstanceRepo) GetByID(_ context.Context, id uuid.UUID) (*Instance, error) {
	if i, ok := m.data[id]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, &NotFoundError{Kind: "instance", ID: id}
}
func (m *mockInstanceRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	var out []*Instance
	for i := len(m.order) - 1; i >= 0; i-- {
		if inst, ok := m.data[m.order[i]]; ok && inst.PatientID == patientID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}
func (m *mockInstanceRepo) ReplaceValues(_ context.Context, id uuid.UUID, values Values) error {
	i, ok := m.data[id]
	if !ok {
		return &NotFoundError{Kind: "instance", ID: id}
	}
	i.Values = values
	return nil
}
func (m *mockInstanceRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.data[id]; !ok {
		return &NotFoundError{Kind: "instance", ID: id}
	}
	delete(m.data, id)
	return nil
}

type recordedOp struct{ entity, op, outcome string }

type fakeRecorder struct{ ops []recordedOp }

func (r *fakeRecorder) ObserveStoreOp(entity, op, outcome string, _ time.Duration) {
	r.ops = append(r.ops, recordedOp{entity, op, outcome})
}

func newTestService() (*Service, *mockTemplateRepo, *mockInstanceRepo) {
	tr, ir := newMockTemplateRepo(), newMockInstanceRepo()
	return NewService(tr, ir, auth.DefaultAuthorizer(), zerolog.Nop()), tr, ir
}

func nurseCtx() context.Context {
	return auth.WithPrincipal(context.Background(), "nurse-1", []string{auth.RoleNurse})
}

func frontDeskCtx() context.Context {
	return auth.WithPrincipal(context.Background(), "desk-1", []string{auth.RoleFrontDesk})
}

func mustCreateTemplate(t *testing.T, svc *Service) uuid.UUID {
	t.Helper()
	id, err := svc.CreateTemplate(nurseCtx(), intakeTemplate())
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	return id
}

func TestService_CreateTemplate(t *testing.T) {
	svc, repo, _ := newTestService()
	id := mustCreateTemplate(t, svc)
	if repo.data[id] == nil || !repo.data[id].Active {
		t.Error("template should be stored active")
	}
}

func TestService_CreateTemplateRejectsBadShape(t *testing.T) {
	svc, repo, _ := newTestService()
	tmpl := intakeTemplate()
	tmpl.Sections[1].Fields[0].ID = "name"
	_, err := svc.CreateTemplate(nurseCtx(), tmpl)
	var bve *BuilderValidationError
	if !errors.As(err, &bve) || bve.Rule != RuleDuplicateField {
		t.Fatalf("expected duplicate field error, got %v", err)
	}
	if len(repo.data) != 0 {
		t.Error("nothing should be stored")
	}
}

func TestService_Authorization(t *testing.T) {
	svc, _, _ := newTestService()
	id := mustCreateTemplate(t, svc)

	_, err := svc.CreateTemplate(frontDeskCtx(), intakeTemplate())
	var ae *AuthorizationError
	if !errors.As(err, &ae) || !errors.Is(err, auth.ErrForbidden) || ae.Access != auth.AccessWrite {
		t.Errorf("front desk create: expected forbidden write, got %v", err)
	}
	if _, err := svc.GetTemplate(frontDeskCtx(), id); err != nil {
		t.Errorf("front desk read: %v", err)
	}
	if _, err := svc.GetTemplate(context.Background(), id); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("anonymous read: expected unauthenticated, got %v", err)
	}
	if err := svc.DeleteInstance(frontDeskCtx(), uuid.New()); !errors.Is(err, auth.ErrForbidden) {
		t.Errorf("front desk delete: expected forbidden, got %v", err)
	}
}

func TestService_ListTemplatesActiveNewestFirst(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := nurseCtx()
	first := mustCreateTemplate(t, svc)
	second := mustCreateTemplate(t, svc)
	third := mustCreateTemplate(t, svc)
	if err := svc.RetireTemplate(ctx, second); err != nil {
		t.Fatalf("RetireTemplate: %v", err)
	}

	items, total, err := svc.ListTemplates(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if total != 2 || len(items) != 2 || items[0].ID != third || items[1].ID != first {
		t.Errorf("unexpected listing: total=%d items=%v", total, items)
	}

	all, total, _ := svc.ListAllTemplates(ctx, 10, 0)
	if total != 3 || len(all) != 3 {
		t.Errorf("ListAllTemplates total = %d", total)
	}

	// retired templates stay readable
	got, err := svc.GetTemplate(ctx, second)
	if err != nil || got.Active {
		t.Errorf("retired template: %+v, %v", got, err)
	}
}

func TestService_UpdateTemplatePatch(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := nurseCtx()
	id := mustCreateTemplate(t, svc)

	name := "Intake v2"
	got, err := svc.UpdateTemplate(ctx, id, TemplatePatch{Name: &name})
	if err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if got.Name != name || len(got.Sections) != 2 || !got.Active {
		t.Errorf("only name should change: %+v", got)
	}

	blank := " "
	if _, err := svc.UpdateTemplate(ctx, id, TemplatePatch{Name: &blank}); err == nil {
		t.Error("blank name should be rejected")
	}

	bad := []Section{{Title: "x", Fields: []Field{{ID: "a", Type: "slider", Label: "A"}}}}
	if _, err := svc.UpdateTemplate(ctx, id, TemplatePatch{Sections: &bad}); err == nil {
		t.Error("unknown field type should be rejected")
	}

	if _, err := svc.UpdateTemplate(ctx, uuid.New(), TemplatePatch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_InstanceLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	rec := &fakeRecorder{}
	svc.SetRecorder(rec)
	ctx := nurseCtx()
	tid := mustCreateTemplate(t, svc)
	pid := uuid.New()

	form, err := svc.NewInstanceForm(ctx, tid, pid)
	if err != nil {
		t.Fatalf("NewInstanceForm: %v", err)
	}
	fillRequired(t, form)
	id, err := form.Submit(ctx, svc)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := svc.GetInstance(ctx, id)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Template == nil || got.Template.ID != tid || got.PatientID != pid {
		t.Errorf("unexpected join: %+v", got)
	}
	if _, err := time.Parse(DateLayout, got.CompletedDate); err != nil {
		t.Errorf("completed date %q: %v", got.CompletedDate, err)
	}

	// edits replace wholesale
	replacement := Values{"name": Text("Ana Maria")}
	if err := svc.UpdateInstance(ctx, id, replacement); err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}
	got, _ = svc.GetInstance(ctx, id)
	if !got.Values.Equal(replacement) {
		t.Errorf("values = %v, want %v", got.Values, replacement)
	}

	if err := svc.DeleteInstance(ctx, id); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	if _, err := svc.GetInstance(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := svc.DeleteInstance(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected not found, got %v", err)
	}

	if len(rec.ops) == 0 {
		t.Fatal("expected store observations")
	}
	last := rec.ops[len(rec.ops)-1]
	if last != (recordedOp{"instance", "delete", "not_found"}) {
		t.Errorf("last observation = %+v", last)
	}
}

func TestService_CreateInstanceChecks(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := nurseCtx()
	tid := mustCreateTemplate(t, svc)

	if _, err := svc.CreateInstance(ctx, uuid.Nil, tid, Values{}, "2024-01-02"); err == nil {
		t.Error("expected error for missing patient")
	}
	if _, err := svc.CreateInstance(ctx, uuid.New(), tid, Values{}, "02/01/2024"); err == nil {
		t.Error("expected error for bad completed date")
	}
	if _, err := svc.CreateInstance(ctx, uuid.New(), uuid.New(), Values{}, "2024-01-02"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected template not found, got %v", err)
	}
}

func TestService_ListInstancesJoinsRetiredAndMissing(t *testing.T) {
	svc, _, irepo := newTestService()
	ctx := nurseCtx()
	tid := mustCreateTemplate(t, svc)
	pid := uuid.New()

	first, _ := svc.CreateInstance(ctx, pid, tid, Values{"name": Text("a")}, "2024-01-01")
	second, _ := svc.CreateInstance(ctx, pid, tid, Values{"name": Text("b")}, "2024-01-02")
	svc.CreateInstance(ctx, uuid.New(), tid, Values{}, "2024-01-03")
	if err := svc.RetireTemplate(ctx, tid); err != nil {
		t.Fatalf("RetireTemplate: %v", err)
	}
	orphan := &Instance{PatientID: pid, TemplateID: uuid.New(), Values: Values{}, CompletedDate: "2024-01-04"}
	irepo.Create(ctx, orphan)

	items, total, err := svc.ListInstances(ctx, pid, 20, 0)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if total != 3 || len(items) != 3 {
		t.Fatalf("total = %d, len = %d", total, len(items))
	}
	ids := []uuid.UUID{items[0].ID, items[1].ID, items[2].ID}
	want := []uuid.UUID{orphan.ID, second, first}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("items[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
	if items[0].Template != nil {
		t.Error("orphaned instance should have a nil template")
	}
	if items[1].Template == nil || items[1].Template.Active {
		t.Error("retired template should still be joined")
	}
}

func TestService_InstanceDrift(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := nurseCtx()
	tid := mustCreateTemplate(t, svc)
	id, _ := svc.CreateInstance(ctx, uuid.New(), tid, Values{"name": Text("Ana"), "legacy": Text("x")}, "2024-01-01")

	d, err := svc.InstanceDrift(ctx, id)
	if err != nil {
		t.Fatalf("InstanceDrift: %v", err)
	}
	if len(d.StaleKeys) != 1 || d.StaleKeys[0] != "legacy" {
		t.Errorf("stale keys = %v", d.StaleKeys)
	}
	sort.Strings(d.Unanswered)
	if len(d.Unanswered) != 8 {
		t.Errorf("unanswered = %v", d.Unanswered)
	}
}

func TestService_PersistenceError(t *testing.T) {
	svc, trepo, _ := newTestService()
	trepo.err = errors.New("connection reset")
	_, err := svc.GetTemplate(nurseCtx(), uuid.New())
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if pe.Op != "template get" {
		t.Errorf("op = %q", pe.Op)
	}
}

func TestService_EditInstanceForm(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := nurseCtx()
	tid := mustCreateTemplate(t, svc)
	id, _ := svc.CreateInstance(ctx, uuid.New(), tid, Values{"name": Text("Ana")}, "2024-01-01")
	if err := svc.RetireTemplate(ctx, tid); err != nil {
		t.Fatalf("RetireTemplate: %v", err)
	}
	f, err := svc.EditInstanceForm(ctx, id)
	if err != nil {
		t.Fatalf("EditInstanceForm: %v", err)
	}
	if !f.Editing() || f.InstanceID() != id {
		t.Error("form should edit the instance")
	}
	if _, err := svc.NewInstanceForm(ctx, tid, uuid.New()); !errors.Is(err, ErrTemplateInactive) {
		t.Errorf("new form on retired template: expected inactive, got %v", err)
	}
}
