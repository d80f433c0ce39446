// Package openapi describes the routes mounted on an Echo server as an
// OpenAPI 3 document.
package openapi

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

// Generator builds the document from the live route table, so it always
// matches what the server actually serves.
type Generator struct {
	title   string
	version string
	prefix  string
	routes  func() []*echo.Route

	once sync.Once
	doc  *openapi3.T
}

// NewGenerator documents every route under prefix (e.g. "/api/v1").
func NewGenerator(e *echo.Echo, title, version, prefix string) *Generator {
	return &Generator{title: title, version: version, prefix: prefix, routes: e.Routes}
}

// GenerateSpec produces the document. It is built once, on first use, after
// all routes are registered.
func (g *Generator) GenerateSpec() *openapi3.T {
	g.once.Do(func() { g.doc = g.build() })
	return g.doc
}

func (g *Generator) build() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info:    &openapi3.Info{Title: g.title, Version: g.version},
		Paths:   openapi3.NewPaths(),
		Servers: openapi3.Servers{{URL: g.prefix}},
		Components: &openapi3.Components{
			SecuritySchemes: openapi3.SecuritySchemes{
				"bearerAuth": &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
			},
		},
		Security: *openapi3.NewSecurityRequirements().
			With(openapi3.NewSecurityRequirement().Authenticate("bearerAuth")),
	}

	routes := g.routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	tags := map[string]bool{}
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, g.prefix+"/") || r.Method == echo.RouteNotFound {
			continue
		}
		path, params := openAPIPath(strings.TrimPrefix(r.Path, g.prefix))

		op := openapi3.NewOperation()
		op.OperationID = operationID(r)
		tag := resourceTag(path)
		op.Tags = []string{tag}
		tags[tag] = true
		for _, p := range params {
			op.AddParameter(openapi3.NewPathParameter(p).
				WithSchema(openapi3.NewStringSchema().WithFormat("uuid")))
		}
		status, desc := successStatus(r.Method)
		op.AddResponse(status, openapi3.NewResponse().WithDescription(desc))
		op.AddResponse(http.StatusUnauthorized, openapi3.NewResponse().WithDescription("Missing or invalid credentials"))
		op.AddResponse(http.StatusForbidden, openapi3.NewResponse().WithDescription("Role not permitted"))
		doc.AddOperation(path, r.Method, op)
	}

	names := make([]string, 0, len(tags))
	for t := range tags {
		names = append(names, t)
	}
	sort.Strings(names)
	for _, n := range names {
		doc.Tags = append(doc.Tags, &openapi3.Tag{Name: n})
	}
	return doc
}

// openAPIPath turns "/form-templates/:id" into "/form-templates/{id}" and
// returns the parameter names in order.
func openAPIPath(echoPath string) (string, []string) {
	segs := strings.Split(echoPath, "/")
	var params []string
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			params = append(params, s[1:])
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/"), params
}

// operationID derives a name from the handler, e.g.
// "...forms.(*Handler).ListTemplates-fm" becomes "ListTemplates".
func operationID(r *echo.Route) string {
	name := strings.TrimSuffix(r.Name, "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || strings.HasPrefix(name, "func") {
		return strings.ToLower(r.Method) + strings.ReplaceAll(r.Path, "/", "_")
	}
	return name
}

// resourceTag is the first path segment, e.g. "form-templates".
func resourceTag(path string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return seg
}

func successStatus(method string) (int, string) {
	switch method {
	case http.MethodPost:
		return http.StatusCreated, "Created"
	case http.MethodDelete:
		return http.StatusNoContent, "Deleted"
	}
	return http.StatusOK, "OK"
}

// Handler serves the document as JSON.
func (g *Generator) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	}
}
