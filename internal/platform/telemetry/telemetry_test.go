package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTelemetryConfig_Defaults(t *testing.T) {
	cfg := TelemetryConfig{}
	cfg.applyDefaults()
	if cfg.ServiceName != "forms-server" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if !cfg.metricsOn() {
		t.Error("metrics should default to on")
	}
	cfg.MetricsEnabled = BoolPtr(false)
	if cfg.metricsOn() {
		t.Error("metrics should be off when disabled")
	}
}

func serve(t *testing.T, tp *TelemetryProvider, route string, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Use(tp.MetricsMiddleware())
	e.GET(route, handler)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, strings.Replace(route, ":id", "42", 1), nil))
	return rec
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	serve(t, tp, "/api/v1/form-templates/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if n := testutil.CollectAndCount(tp.requestDuration); n != 1 {
		t.Fatalf("expected 1 labeled series, got %d", n)
	}
	if testutil.ToFloat64(tp.activeRequests) != 0 {
		t.Error("active requests should return to zero")
	}
}

func TestMetricsMiddleware_ErrorStatus(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	serve(t, tp, "/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "missing")
	})
	serve(t, tp, "/fail", func(c echo.Context) error {
		return errors.New("db down")
	})

	if problems, err := testutil.CollectAndLint(tp.requestDuration); err != nil || len(problems) > 0 {
		t.Fatalf("lint: %v %v", err, problems)
	}
	body := scrape(t, tp)
	for _, want := range []string{`route="/boom",service="forms-server",status="404"`, `route="/fail",service="forms-server",status="500"`} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %s", want)
		}
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{MetricsEnabled: BoolPtr(false)})
	serve(t, tp, "/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if n := testutil.CollectAndCount(tp.requestDuration); n != 0 {
		t.Errorf("expected no series when disabled, got %d", n)
	}
}

func TestObserveStoreOp(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	tp.ObserveStoreOp("instance", "create", "ok", 3*time.Millisecond)
	tp.ObserveStoreOp("instance", "create", "ok", 4*time.Millisecond)
	tp.ObserveStoreOp("template", "get", "not_found", time.Millisecond)

	if got := testutil.ToFloat64(tp.storeOps.WithLabelValues("instance", "create", "ok")); got != 2 {
		t.Errorf("instance create ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(tp.storeOps.WithLabelValues("template", "get", "not_found")); got != 1 {
		t.Errorf("template get not_found = %v, want 1", got)
	}
}

func TestRegisterPoolStats(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	tp.RegisterPoolStats("postgres", func() (int32, int32) { return 3, 7 })

	body := scrape(t, tp)
	if !strings.Contains(body, `forms_db_pool_acquired_connections{driver="postgres"} 3`) {
		t.Errorf("missing acquired gauge:\n%s", body)
	}
	if !strings.Contains(body, `forms_db_pool_idle_connections{driver="postgres"} 7`) {
		t.Errorf("missing idle gauge:\n%s", body)
	}
}

func TestPrometheusHandler_ValidFormat(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{ServiceVersion: "1.2.3"})
	body := scrape(t, tp)
	if !strings.Contains(body, "# TYPE forms_build_info gauge") {
		t.Errorf("missing build_info TYPE line:\n%s", body)
	}
	if !strings.Contains(body, `version="1.2.3"`) {
		t.Errorf("missing version label:\n%s", body)
	}
}

func scrape(t *testing.T, tp *TelemetryProvider) string {
	t.Helper()
	e := echo.New()
	e.GET("/metrics", tp.PrometheusHandler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status %d", rec.Code)
	}
	return rec.Body.String()
}
