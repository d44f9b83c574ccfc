package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", he.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_PerClientIP(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	for _, ip := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip
		c := e.NewContext(req, httptest.NewRecorder())
		if err := handler(c); err != nil {
			t.Errorf("%s: expected first request to pass, got %v", ip, err)
		}
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{})(okHandler)

	for i := 0; i < 50; i++ {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}
}
