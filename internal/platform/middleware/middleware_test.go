package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	RequestID()(handler)(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/view", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")

	if err := Logger(zerolog.New(&buf))(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"level":"info"`, `"request_id":"req-123"`, `"path":"/view"`, `"status":200`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log line %s", want, out)
		}
	}
}

func TestLogger_LogsErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients/P404", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	}

	if err := Logger(zerolog.New(&buf))(handler)(c); err != nil {
		t.Fatalf("expected error to be handled, got %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 response, got %d", rec.Code)
	}
	out := buf.String()
	if !strings.Contains(out, `"status":404`) || !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn line with status 404, got %s", out)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		panic("test panic")
	}

	err := Recovery(zerolog.Nop())(handler)(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := Recovery(zerolog.Nop())(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCORS_PreflightAnyOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
	}{
		{"web origin", "http://localhost:5173"},
		{"file page", "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodOptions, "/create", nil)
			req.Header.Set(echo.HeaderOrigin, tt.origin)
			req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
			req.Header.Set(echo.HeaderAccessControlRequestHeaders, "Content-Type, X-Custom")
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := CORS([]string{"*"})(okHandler)(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			h := rec.Header()
			if got := h.Get(echo.HeaderAccessControlAllowOrigin); got != tt.origin {
				t.Errorf("expected allow-origin %q, got %q", tt.origin, got)
			}
			if h.Get(echo.HeaderAccessControlAllowCredentials) != "true" {
				t.Error("expected credentials to be allowed")
			}
			if !strings.Contains(h.Get(echo.HeaderAccessControlAllowMethods), http.MethodDelete) {
				t.Errorf("expected DELETE in allowed methods, got %q", h.Get(echo.HeaderAccessControlAllowMethods))
			}
			if h.Get(echo.HeaderAccessControlAllowHeaders) != "Content-Type, X-Custom" {
				t.Errorf("expected requested headers to be echoed, got %q", h.Get(echo.HeaderAccessControlAllowHeaders))
			}
		})
	}
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	mw := CORS([]string{"https://app.example"})

	for origin, want := range map[string]string{
		"https://app.example":  "https://app.example",
		"https://evil.example": "",
	} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/view", nil)
		req.Header.Set(echo.HeaderOrigin, origin)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		if err := mw(okHandler)(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != want {
			t.Errorf("origin %s: expected allow-origin %q, got %q", origin, want, got)
		}
	}
}

func TestSecurityHeaders_SetsAllHeaders(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/view", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := SecurityHeaders()(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s: expected %q, got %q", header, want, got)
		}
	}
}

func TestSanitize(t *testing.T) {
	e := echo.New()
	e.Use(Sanitize(zerolog.Nop()))
	e.GET("/*", okHandler)

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"clean", "/sort?sort_by=bmi&order=desc", "", http.StatusOK},
		{"dotted id in path", "/patients/P..1", "", http.StatusOK},
		{"encoded id in path", "/patients/P%2e%2e1", "", http.StatusOK},
		{"null byte in query", "/sort?sort_by=bmi%00", "", http.StatusBadRequest},
		{"script in query", "/sort?sort_by=%3Cscript%3Ealert(1)", "", http.StatusBadRequest},
		{"header injection", "/view", "value\r\nX-Evil: 1", http.StatusBadRequest},
		{"oversized header", "/view", strings.Repeat("a", maxHeaderValueSize+1), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-Test", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
