package forms

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/daniilsirbu/medical-records-management-system/internal/platform/auth"
	"github.com/daniilsirbu/medical-records-management-system/pkg/pagination"
)

type Handler struct {
	svc  *Service
	html *HTMLRenderer
}

func NewHandler(svc *Service, html *HTMLRenderer) *Handler {
	return &Handler{svc: svc, html: html}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, physician, nurse, front desk
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleFrontDesk))
	readGroup.GET("/form-templates", h.ListTemplates)
	readGroup.GET("/form-templates/:id", h.GetTemplate)
	readGroup.GET("/form-templates/:id/schema", h.GetTemplateSchema)
	readGroup.GET("/form-templates/:id/render", h.RenderForm)
	readGroup.GET("/patients/:patient_id/form-instances", h.ListInstances)
	readGroup.GET("/form-instances/:id", h.GetInstance)
	readGroup.GET("/form-instances/:id/drift", h.GetInstanceDrift)

	// Write endpoints – admin, physician, nurse
	writeGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	writeGroup.POST("/form-templates", h.CreateTemplate)
	writeGroup.PATCH("/form-templates/:id", h.UpdateTemplate)
	writeGroup.DELETE("/form-templates/:id", h.RetireTemplate)
	writeGroup.POST("/form-templates/:id/render", h.SubmitForm)
	writeGroup.POST("/form-instances", h.CreateInstance)
	writeGroup.PUT("/form-instances/:id", h.UpdateInstance)
	writeGroup.DELETE("/form-instances/:id", h.DeleteInstance)
}

// httpError maps domain errors onto status codes. Store failures are not
// described to the client.
func httpError(err error) error {
	var (
		bve *BuilderValidationError
		rfe *RequiredFieldError
		be  *BindError
		nf  *NotFoundError
		ae  *AuthorizationError
		pe  *PersistenceError
	)
	switch {
	case errors.As(err, &bve):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]any{
			"message": bve.Message,
			"rule":    bve.Rule,
			"section": bve.Section,
			"field":   bve.Field,
		})
	case errors.As(err, &rfe):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]any{
			"message": "required fields missing",
			"missing": rfe.Labels,
		})
	case errors.As(err, &be):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]any{
			"message": be.Message,
			"field":   be.FieldID,
		})
	case errors.Is(err, ErrTemplateInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &nf):
		return echo.NewHTTPError(http.StatusNotFound, nf.Error())
	case errors.As(err, &ae):
		if errors.Is(ae.Err, auth.ErrUnauthenticated) {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		return echo.NewHTTPError(http.StatusForbidden, ae.Error())
	case errors.As(err, &pe):
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Template Handlers --

type createTemplateRequest struct {
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Sections    []Section `json:"sections"`
	Active      *bool     `json:"active"`
}

type templateListItem struct {
	*Template
	SectionCount int `json:"section_count"`
	FieldCount   int `json:"field_count"`
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	var req createTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t := NewTemplate(req.Name, req.Description, req.Sections, req.Active)
	if err := ValidateDefinition(t); err != nil {
		return httpError(err)
	}
	if _, err := h.svc.CreateTemplate(c.Request().Context(), t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	pg := pagination.FromContext(c)
	list := h.svc.ListTemplates
	if c.QueryParam("include_retired") == "true" {
		list = h.svc.ListAllTemplates
	}
	items, total, err := list(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	out := make([]templateListItem, len(items))
	for i, t := range items {
		out[i] = templateListItem{Template: t, SectionCount: len(t.Sections), FieldCount: t.FieldCount()}
	}
	resp := pagination.NewResponse(out, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL, total)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdateTemplate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var p TemplatePatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if p.Sections != nil {
		if err := ValidateSections(*p.Sections); err != nil {
			return httpError(err)
		}
	}
	t, err := h.svc.UpdateTemplate(c.Request().Context(), id, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) RetireTemplate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.RetireTemplate(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetTemplateSchema(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ValuesSchema(t))
}

// -- HTML Form Handlers --

// openForm resolves the form a render request refers to: an edit when
// instance_id is given, otherwise a new instance for patient_id.
func (h *Handler) openForm(c echo.Context) (*Form, error) {
	ctx := c.Request().Context()
	if raw := c.QueryParam("instance_id"); raw != "" {
		iid, err := uuid.Parse(raw)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid instance_id")
		}
		f, err := h.svc.EditInstanceForm(ctx, iid)
		if err != nil {
			return nil, httpError(err)
		}
		if f.Template().ID.String() != c.Param("id") {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "instance does not belong to this template")
		}
		return f, nil
	}
	tid, err := parseID(c, "id")
	if err != nil {
		return nil, err
	}
	pid, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "patient_id or instance_id is required")
	}
	f, err := h.svc.NewInstanceForm(ctx, tid, pid)
	if err != nil {
		return nil, httpError(err)
	}
	return f, nil
}

func (h *Handler) renderHTML(c echo.Context, status int, f *Form, missing []string) error {
	var buf bytes.Buffer
	if err := h.html.Render(&buf, f, c.Request().URL.RequestURI(), missing); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "render failed").SetInternal(err)
	}
	return c.HTMLBlob(status, buf.Bytes())
}

func (h *Handler) RenderForm(c echo.Context) error {
	f, err := h.openForm(c)
	if err != nil {
		return err
	}
	return h.renderHTML(c, http.StatusOK, f, nil)
}

// SubmitForm accepts the page posted by RenderForm. A form with unanswered
// required fields is rendered again with those fields flagged.
func (h *Handler) SubmitForm(c echo.Context) error {
	f, err := h.openForm(c)
	if err != nil {
		return err
	}
	post, err := c.FormParams()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := BindPost(f, post); err != nil {
		return httpError(err)
	}
	id, err := f.Submit(c.Request().Context(), h.svc)
	var rfe *RequiredFieldError
	if errors.As(err, &rfe) {
		return h.renderHTML(c, http.StatusUnprocessableEntity, f, rfe.Labels)
	}
	if err != nil {
		return httpError(err)
	}
	return c.Redirect(http.StatusSeeOther, c.Request().URL.Path+"?instance_id="+id.String())
}

// -- Instance Handlers --

type createInstanceRequest struct {
	PatientID  uuid.UUID `json:"patient_id"`
	TemplateID uuid.UUID `json:"template_id"`
	Values     Values    `json:"values"`
}

type updateInstanceRequest struct {
	Values Values `json:"values"`
}

// CreateInstance binds the posted values through a form so they are checked
// against the template before anything is stored.
func (h *Handler) CreateInstance(c echo.Context) error {
	var req createInstanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil || req.TemplateID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and template_id are required")
	}
	ctx := c.Request().Context()
	f, err := h.svc.NewInstanceForm(ctx, req.TemplateID, req.PatientID)
	if err != nil {
		return httpError(err)
	}
	if err := f.Bind(req.Values); err != nil {
		return httpError(err)
	}
	id, err := f.Submit(ctx, h.svc)
	if err != nil {
		return httpError(err)
	}
	inst, err := h.svc.GetInstance(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inst)
}

func (h *Handler) GetInstance(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	inst, err := h.svc.GetInstance(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *Handler) ListInstances(c echo.Context) error {
	pid, err := parseID(c, "patient_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInstances(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL, total)
	return c.JSON(http.StatusOK, resp)
}

// UpdateInstance replaces every answer with the posted values.
func (h *Handler) UpdateInstance(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req updateInstanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	f, err := h.svc.EditInstanceForm(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if err := f.Bind(req.Values); err != nil {
		return httpError(err)
	}
	if _, err := f.Submit(ctx, h.svc); err != nil {
		return httpError(err)
	}
	inst, err := h.svc.GetInstance(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *Handler) DeleteInstance(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteInstance(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetInstanceDrift(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.InstanceDrift(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}
