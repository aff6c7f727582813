package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurity(t *testing.T) {
	serve := func(dev bool) http.Header {
		h := Security(SecurityConfig{IsDevelopment: dev})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
		return rec.Header()
	}

	prod := serve(false)
	for _, hd := range apiHeaders {
		if got := prod.Get(hd.name); got != hd.value {
			t.Errorf("%s = %q, want %q", hd.name, got, hd.value)
		}
	}
	if got := prod.Get("Strict-Transport-Security"); got != hstsValue {
		t.Errorf("HSTS = %q in production", got)
	}

	dev := serve(true)
	if got := dev.Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS = %q in development, want empty", got)
	}
	if got := dev.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q in development", got)
	}
}

func TestSecurity_DoesNotLeakHSTSIntoSharedHeaders(t *testing.T) {
	Security(SecurityConfig{})
	for _, hd := range apiHeaders {
		if hd.name == "Strict-Transport-Security" {
			t.Fatal("production config mutated the shared header list")
		}
	}
}

func TestMaxBodySize(t *testing.T) {
	var readErr error
	h := MaxBodySize(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("small body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"X"}`)))
		if rec.Code != http.StatusOK || readErr != nil {
			t.Errorf("status = %d, err = %v", rec.Code, readErr)
		}
	})

	t.Run("declared length too large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", rec.Code)
		}
		if rec.Body.String() != payloadTooLargeBody {
			t.Errorf("body = %s", rec.Body.String())
		}
	})

	t.Run("undeclared length capped", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
		req.ContentLength = -1
		h.ServeHTTP(httptest.NewRecorder(), req)
		var maxErr *http.MaxBytesError
		if !errors.As(readErr, &maxErr) {
			t.Errorf("read err = %v, want *http.MaxBytesError", readErr)
		}
	})
}
