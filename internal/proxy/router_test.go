package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rathix/devserver/internal/config"
)

func testTable(upstream string) config.ProxyTable {
	return config.ProxyTable{
		{Prefix: "/api/v2", Rule: config.ProxyRule{Target: upstream + "/second"}},
		{Prefix: "/api", Rule: config.ProxyRule{Target: upstream, Rewrite: strip("/api")}},
		{Prefix: "/socket", Rule: config.ProxyRule{Target: upstream, WS: true}},
		{Prefix: "/plain", Rule: config.ProxyRule{Target: upstream}},
	}
}

func TestRouterMatchDeclarationOrder(t *testing.T) {
	rt, err := NewRouter(testTable("http://127.0.0.1:1"))
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		path string
		want string
	}{
		{"/api/v2/models", "/api/v2"},
		{"/api/v1/models", "/api"},
		{"/api", "/api"},
		{"/apiary", "/api"},
		{"/socket/live", "/socket"},
		{"/index.html", ""},
		{"/", ""},
		{"/src/api/client.ts", ""},
	}
	for _, tc := range cases {
		rule := rt.Match(httptest.NewRequest(http.MethodGet, tc.path, nil))
		got := ""
		if rule != nil {
			got = rule.Prefix
		}
		if got != tc.want {
			t.Errorf("Match(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestRouterWebSocketUpgradeNeedsWS(t *testing.T) {
	rt, err := NewRouter(testTable("http://127.0.0.1:1"))
	if err != nil {
		t.Fatal(err)
	}

	upgrade := func(path string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("Connection", "keep-alive, Upgrade")
		r.Header.Set("Upgrade", "websocket")
		return r
	}

	if rule := rt.Match(upgrade("/socket/live")); rule == nil || rule.Prefix != "/socket" {
		t.Errorf("expected ws upgrade to match /socket, got %v", rule)
	}
	if rule := rt.Match(upgrade("/plain/live")); rule != nil {
		t.Errorf("expected ws upgrade on non-ws rule to fall through, got %q", rule.Prefix)
	}
}

func TestRouterWrapPassesThroughUnmatched(t *testing.T) {
	upstream := startLocalHTTPServer(t, echoHandler())
	rt, err := NewRouter(testTable(upstream.URL), WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("static:" + r.URL.Path))
	})
	h := rt.Wrap(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/main.tsx", nil))
	if rec.Body.String() != "static:/main.tsx" {
		t.Errorf("unmatched request body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/completions", nil))
	if got := decodeEcho(t, rec).Path; got != "/chat/completions" {
		t.Errorf("proxied path = %q, want /chat/completions", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/x", nil))
	if got := decodeEcho(t, rec).Path; got != "/second/api/v2/x" {
		t.Errorf("first declared rule not used, path = %q", got)
	}
}

func TestRouterEmptyTableReturnsNext(t *testing.T) {
	rt, err := NewRouter(nil)
	if err != nil {
		t.Fatal(err)
	}
	next := http.NotFoundHandler()
	rec := httptest.NewRecorder()
	rt.Wrap(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestNewRouterRejectsBadRule(t *testing.T) {
	_, err := NewRouter(config.ProxyTable{{Prefix: "/api", Rule: config.ProxyRule{Target: "nope"}}})
	if err == nil {
		t.Fatal("expected error")
	}
}
