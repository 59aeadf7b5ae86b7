package proxy

import (
	"net/http"
	"strings"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/websocket"
)

// Router dispatches requests to proxy rules in declaration order.
type Router struct {
	rules []*Rule
}

// NewRouter builds one Rule per table entry.
func NewRouter(table config.ProxyTable, opts ...Option) (*Router, error) {
	rules := make([]*Rule, 0, len(table))
	for _, e := range table {
		rule, err := NewRule(e.Prefix, e.Rule, opts...)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return &Router{rules: rules}, nil
}

// Rules returns the compiled rules in match order.
func (rt *Router) Rules() []*Rule {
	return rt.rules
}

// Match returns the first rule whose prefix the request path starts with.
// Websocket upgrades only match rules that enable ws.
func (rt *Router) Match(r *http.Request) *Rule {
	upgrade := websocket.IsUpgrade(r)
	for _, rule := range rt.rules {
		if !strings.HasPrefix(r.URL.Path, rule.Prefix) {
			continue
		}
		if upgrade && !rule.WS {
			continue
		}
		return rule
	}
	return nil
}

// Wrap proxies matching requests and passes everything else to next.
func (rt *Router) Wrap(next http.Handler) http.Handler {
	if len(rt.rules) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rule := rt.Match(r); rule != nil {
			rule.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
