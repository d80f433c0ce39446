package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newSanitizeEcho() *echo.Echo {
	e := echo.New()
	e.Use(Sanitize(zerolog.Nop()))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/*", ok)
	e.POST("/*", ok)
	return e
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		headers map[string]string
		want    int
	}{
		{"plain request", "/api/v1/form-templates?include_retired=true", nil, http.StatusOK},
		{"render query", "/api/v1/form-templates/abc/render?patient_id=8d6b", nil, http.StatusOK},
		{"dot dot", "/../../etc/passwd", nil, http.StatusBadRequest},
		{"encoded dot dot", "/api/v1/%2e%2e/secret", nil, http.StatusBadRequest},
		{"double encoded", "/api/v1/%252e%252e/secret", nil, http.StatusBadRequest},
		{"null byte in path", "/api/v1/form-templates%00", nil, http.StatusBadRequest},
		{"null byte in query", "/api/v1/form-templates?q=a%00b", nil, http.StatusBadRequest},
		{"script in query", "/api/v1/form-templates?q=%3Cscript%3Ealert(1)%3C/script%3E", nil, http.StatusBadRequest},
		{"handler attribute in query", "/api/v1/form-templates?q=x%20onerror%3Dalert(1)", nil, http.StatusBadRequest},
		{"oversized header", "/", map[string]string{"X-Big": strings.Repeat("a", maxHeaderValueSize+1)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newSanitizeEcho()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("%s: got %d, want %d", tt.target, rec.Code, tt.want)
			}
		})
	}
}

func TestSanitize_HeaderInjection(t *testing.T) {
	for _, v := range []string{"a\r\nX-Evil: 1", "a\nb", "a\rb"} {
		e := newSanitizeEcho()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header["X-Custom"] = []string{v}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("header %q: got %d, want 400", v, rec.Code)
		}
	}
}

func TestSanitize_BodyNotInspected(t *testing.T) {
	e := newSanitizeEcho()
	body := `{"values":{"notes":"<script>x</script> and ../.."}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/form-instances", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected body content to pass through, got %d", rec.Code)
	}
}
