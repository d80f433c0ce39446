package forms

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/daniilsirbu/medical-records-management-system/internal/platform/auth"
)

type handlerEnv struct {
	e   *echo.Echo
	svc *Service
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	svc, _, _ := newTestService()
	html, err := NewHTMLRenderer()
	if err != nil {
		t.Fatalf("NewHTMLRenderer: %v", err)
	}
	e := echo.New()
	NewHandler(svc, html).RegisterRoutes(e.Group("/api/v1"))
	return &handlerEnv{e: e, svc: svc}
}

func (env *handlerEnv) do(t *testing.T, method, path, body string, roles ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if len(roles) == 0 {
		roles = []string{auth.RoleNurse}
	}
	req = req.WithContext(auth.WithPrincipal(req.Context(), "user-1", roles))
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

const intakeJSON = `{
	"name": "Intake",
	"sections": [
		{"title": "Patient", "fields": [
			{"id": "name", "type": "text", "label": "Full name", "required": true},
			{"id": "weight", "type": "number", "label": "Weight"},
			{"id": "allergies", "type": "checkbox", "label": "Allergies", "options": ["Latex", "Pollen"]}
		]}
	]
}`

func (env *handlerEnv) createTemplate(t *testing.T) uuid.UUID {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/form-templates", intakeJSON)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create template: %d %s", rec.Code, rec.Body.String())
	}
	return decode[Template](t, rec).ID
}

func TestHandler_CreateTemplate(t *testing.T) {
	env := newHandlerEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/form-templates", intakeJSON)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[Template](t, rec)
	if got.ID == uuid.Nil || !got.Active || got.FieldCount() != 3 {
		t.Errorf("unexpected template: %+v", got)
	}
}

func TestHandler_CreateTemplateInvalid(t *testing.T) {
	env := newHandlerEnv(t)
	body := `{"name": "x", "sections": [{"title": "a", "fields": []}]}`
	rec := env.do(t, http.MethodPost, "/api/v1/form-templates", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["rule"] != RuleSectionEmpty {
		t.Errorf("rule = %v", got["rule"])
	}
}

func TestHandler_RoleGates(t *testing.T) {
	env := newHandlerEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/form-templates", intakeJSON, auth.RoleFrontDesk)
	if rec.Code != http.StatusForbidden {
		t.Errorf("front desk create: expected 403, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/form-templates", "", auth.RoleFrontDesk)
	if rec.Code != http.StatusOK {
		t.Errorf("front desk list: expected 200, got %d", rec.Code)
	}
}

func TestHandler_ListTemplates(t *testing.T) {
	env := newHandlerEnv(t)
	id := env.createTemplate(t)
	env.createTemplate(t)
	if rec := env.do(t, http.MethodDelete, "/api/v1/form-templates/"+id.String(), ""); rec.Code != http.StatusNoContent {
		t.Fatalf("retire: %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/form-templates", "")
	got := decode[struct {
		Data []struct {
			ID           uuid.UUID `json:"id"`
			FieldCount   int       `json:"field_count"`
			SectionCount int       `json:"section_count"`
		} `json:"data"`
		Total int `json:"total"`
	}](t, rec)
	if got.Total != 1 || len(got.Data) != 1 {
		t.Fatalf("expected one active template, got %+v", got)
	}
	if got.Data[0].FieldCount != 3 || got.Data[0].SectionCount != 1 {
		t.Errorf("summary counts = %+v", got.Data[0])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/form-templates?include_retired=true", "")
	if total := decode[map[string]any](t, rec)["total"]; total != float64(2) {
		t.Errorf("include_retired total = %v", total)
	}
}

func TestHandler_UpdateTemplate(t *testing.T) {
	env := newHandlerEnv(t)
	id := env.createTemplate(t)
	rec := env.do(t, http.MethodPatch, "/api/v1/form-templates/"+id.String(), `{"name":"Intake v2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[Template](t, rec); got.Name != "Intake v2" || got.FieldCount() != 3 {
		t.Errorf("unexpected template: %+v", got)
	}

	rec = env.do(t, http.MethodPatch, "/api/v1/form-templates/"+id.String(), `{"sections":[{"title":"a","fields":[{"id":"s","type":"select","label":"S"}]}]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("option-less select: expected 422, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPatch, "/api/v1/form-templates/"+uuid.NewString(), `{"name":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing template: expected 404, got %d", rec.Code)
	}
}

func TestHandler_Schema(t *testing.T) {
	env := newHandlerEnv(t)
	id := env.createTemplate(t)
	rec := env.do(t, http.MethodGet, "/api/v1/form-templates/"+id.String()+"/schema", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("schema: %d", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["type"] != "object" {
		t.Errorf("schema type = %v", got["type"])
	}
	props, _ := got["properties"].(map[string]any)
	if _, ok := props["allergies"]; !ok {
		t.Errorf("schema properties = %v", props)
	}
}

func TestHandler_InstanceFlow(t *testing.T) {
	env := newHandlerEnv(t)
	tid := env.createTemplate(t)
	pid := uuid.New()

	body := `{"patient_id":"` + pid.String() + `","template_id":"` + tid.String() + `","values":{"weight":"70"}}`
	rec := env.do(t, http.MethodPost, "/api/v1/form-instances", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing required: expected 422, got %d", rec.Code)
	}
	missing := decode[struct {
		Missing []string `json:"missing"`
	}](t, rec)
	if len(missing.Missing) != 1 || missing.Missing[0] != "Full name" {
		t.Errorf("missing = %v", missing.Missing)
	}

	body = `{"patient_id":"` + pid.String() + `","template_id":"` + tid.String() + `","values":{"name":"Ana","weight":"70","allergies":["Pollen"]}}`
	rec = env.do(t, http.MethodPost, "/api/v1/form-instances", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create instance: %d %s", rec.Code, rec.Body.String())
	}
	inst := decode[InstanceWithTemplate](t, rec)
	if !inst.Values["weight"].Equal(Number(70)) || inst.Template == nil {
		t.Errorf("unexpected instance: %+v", inst)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/form-instances/"+inst.ID.String(), `{"values":{"name":"Ana Maria"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	updated := decode[InstanceWithTemplate](t, rec)
	if _, ok := updated.Values["weight"]; ok {
		t.Error("update must replace the value map wholesale")
	}

	rec = env.do(t, http.MethodPut, "/api/v1/form-instances/"+inst.ID.String(), `{"values":{"name":"x","allergies":["Dust"]}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad option: expected 422, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/patients/"+pid.String()+"/form-instances", "")
	if total := decode[map[string]any](t, rec)["total"]; total != float64(1) {
		t.Errorf("patient listing total = %v", total)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/form-instances/"+inst.ID.String()+"/drift", "")
	if rec.Code != http.StatusOK {
		t.Errorf("drift: %d", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/api/v1/form-instances/"+inst.ID.String(), ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/form-instances/"+inst.ID.String(), ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", rec.Code)
	}
}

func TestHandler_CreateInstanceRetiredTemplate(t *testing.T) {
	env := newHandlerEnv(t)
	tid := env.createTemplate(t)
	env.do(t, http.MethodDelete, "/api/v1/form-templates/"+tid.String(), "")
	body := `{"patient_id":"` + uuid.NewString() + `","template_id":"` + tid.String() + `","values":{"name":"Ana"}}`
	if rec := env.do(t, http.MethodPost, "/api/v1/form-instances", body); rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_BadIDs(t *testing.T) {
	env := newHandlerEnv(t)
	for _, path := range []string{
		"/api/v1/form-templates/not-a-uuid",
		"/api/v1/form-instances/not-a-uuid",
		"/api/v1/patients/not-a-uuid/form-instances",
	} {
		if rec := env.do(t, http.MethodGet, path, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestHandler_HTMLForm(t *testing.T) {
	env := newHandlerEnv(t)
	tid := env.createTemplate(t)
	pid := uuid.New()
	path := "/api/v1/form-templates/" + tid.String() + "/render?patient_id=" + pid.String()

	rec := env.do(t, http.MethodGet, path, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `name="allergies"`) {
		t.Fatalf("render: %d %s", rec.Code, rec.Body.String())
	}

	post := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		req = req.WithContext(auth.WithPrincipal(req.Context(), "user-1", []string{auth.RoleNurse}))
		rec := httptest.NewRecorder()
		env.e.ServeHTTP(rec, req)
		return rec
	}

	rec = post(url.Values{"weight": {"70"}})
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "<li>Full name</li>") {
		t.Errorf("incomplete post: %d", rec.Code)
	}

	rec = post(url.Values{"name": {"Ana"}, "allergies": {"Latex"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("complete post: %d %s", rec.Code, rec.Body.String())
	}
	loc := rec.Header().Get("Location")
	if !strings.Contains(loc, "instance_id=") {
		t.Errorf("redirect = %s", loc)
	}

	rec = env.do(t, http.MethodGet, loc, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `value="Ana"`) {
		t.Errorf("edit render: %d", rec.Code)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/form-templates/"+tid.String()+"/render", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("render without patient: expected 400, got %d", rec.Code)
	}
}
