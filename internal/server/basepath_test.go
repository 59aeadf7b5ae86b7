package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeBasePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"app", "/app/"},
		{"/app", "/app/"},
		{"/app/", "/app/"},
		{"app/", "/app/"},
	}

	for _, tc := range tests {
		got := NormalizeBasePath(tc.input)
		if got != tc.expected {
			t.Errorf("NormalizeBasePath(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func pathEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	})
}

func TestBasePathHandlerStripsBase(t *testing.T) {
	handler := NewBasePathHandler("/app/", pathEcho())

	req := httptest.NewRequest(http.MethodGet, "/app/assets/main.js", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Body.String() != "/assets/main.js" {
		t.Errorf("expected path /assets/main.js, got %q", rec.Body.String())
	}
}

func TestBasePathHandlerBaseWithoutSlash(t *testing.T) {
	handler := NewBasePathHandler("/app/", pathEcho())

	req := httptest.NewRequest(http.MethodGet, "/app", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Body.String() != "/" {
		t.Errorf("expected path /, got %q", rec.Body.String())
	}
}

func TestBasePathHandlerRedirectsRoot(t *testing.T) {
	handler := NewBasePathHandler("/app", pathEcho())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/app/" {
		t.Errorf("Location = %q, want /app/", loc)
	}
}

func TestBasePathHandlerOutsideBase(t *testing.T) {
	handler := NewBasePathHandler("/app/", pathEcho())

	req := httptest.NewRequest(http.MethodGet, "/other/page", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/app/") {
		t.Errorf("expected hint naming the base, got %q", rec.Body.String())
	}
}

func TestBasePathHandlerRootIsNoop(t *testing.T) {
	inner := pathEcho()
	if h := NewBasePathHandler("/", inner); h == nil {
		t.Fatal("expected handler")
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	NewBasePathHandler("", inner).ServeHTTP(rec, req)
	if rec.Body.String() != "/x" {
		t.Errorf("expected unchanged path, got %q", rec.Body.String())
	}
}
