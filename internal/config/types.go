package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the dev server record parsed from the YAML config file.
type Config struct {
	Plugins  []string     `yaml:"plugins"            json:"plugins"`
	Root     string       `yaml:"root,omitempty"     json:"root,omitempty"`
	Base     string       `yaml:"base,omitempty"     json:"base,omitempty"`
	CacheDir string       `yaml:"cacheDir,omitempty" json:"cacheDir,omitempty"`
	Server   ServerConfig `yaml:"server"             json:"server"`
}

// ServerConfig controls how the dev server binds, advertises HMR and proxies.
type ServerConfig struct {
	Host       string     `yaml:"host"                 json:"host"`
	Port       int        `yaml:"port"                 json:"port"`
	StrictPort *bool      `yaml:"strictPort,omitempty" json:"strictPort,omitempty"`
	HTTPS      bool       `yaml:"https,omitempty"      json:"https,omitempty"`
	HMR        HMRConfig  `yaml:"hmr"                  json:"hmr"`
	Proxy      ProxyTable `yaml:"proxy,omitempty"      json:"-"`
}

// HMRConfig describes the hot-reload socket as advertised to browsers.
// The advertised host may differ from the bind host when the server runs
// behind a container port mapping or another reverse proxy.
type HMRConfig struct {
	Host       string `yaml:"host,omitempty"       json:"host,omitempty"`
	ClientPort int    `yaml:"clientPort,omitempty" json:"clientPort,omitempty"`
	Path       string `yaml:"path,omitempty"       json:"path,omitempty"`
	Protocol   string `yaml:"protocol,omitempty"   json:"protocol,omitempty"`
}

// ProxyRule forwards requests under a path prefix to an upstream.
type ProxyRule struct {
	Target       string            `yaml:"target"                 json:"target"`
	ChangeOrigin bool              `yaml:"changeOrigin,omitempty" json:"changeOrigin,omitempty"`
	Secure       *bool             `yaml:"secure,omitempty"       json:"secure,omitempty"`
	WS           bool              `yaml:"ws,omitempty"           json:"ws,omitempty"`
	Rewrite      *Rewrite          `yaml:"rewrite,omitempty"      json:"rewrite,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"      json:"headers,omitempty"`
	Timeout      string            `yaml:"timeout,omitempty"      json:"timeout,omitempty"`
}

// Rewrite is a declarative path transform. StripPrefix and Pattern are
// mutually exclusive.
type Rewrite struct {
	StripPrefix string `yaml:"stripPrefix,omitempty" json:"stripPrefix,omitempty"`
	Pattern     string `yaml:"pattern,omitempty"     json:"pattern,omitempty"`
	Replacement string `yaml:"replacement,omitempty" json:"replacement,omitempty"`
}

// VerifyTLS reports whether upstream certificates are checked. An unset
// Secure means verification stays on.
func (r ProxyRule) VerifyTLS() bool {
	return r.Secure == nil || *r.Secure
}

// UnmarshalYAML accepts either a full rule mapping or a bare target URL.
func (r *ProxyRule) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*r = ProxyRule{Target: value.Value}
		return nil
	}
	type plain ProxyRule
	return value.Decode((*plain)(r))
}

// ProxyEntry binds a path prefix to its rule.
type ProxyEntry struct {
	Prefix string
	Rule   ProxyRule
}

// ProxyTable keeps proxy rules in declaration order, which is the order
// prefixes are matched in.
type ProxyTable []ProxyEntry

// Lookup returns the rule registered for prefix.
func (t ProxyTable) Lookup(prefix string) (ProxyRule, bool) {
	for _, e := range t {
		if e.Prefix == prefix {
			return e.Rule, true
		}
	}
	return ProxyRule{}, false
}

// UnmarshalYAML decodes a prefix-keyed mapping while preserving key order.
func (t *ProxyTable) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: proxy must be a mapping of path prefix to rule", value.Line)
	}
	table := make(ProxyTable, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		var rule ProxyRule
		if err := val.Decode(&rule); err != nil {
			return fmt.Errorf("proxy %q: %w", key.Value, err)
		}
		table = append(table, ProxyEntry{Prefix: key.Value, Rule: rule})
	}
	*t = table
	return nil
}

// MarshalYAML encodes the table back into an ordered mapping.
func (t ProxyTable) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range t {
		var val yaml.Node
		if err := val.Encode(e.Rule); err != nil {
			return nil, fmt.Errorf("proxy %q: %w", e.Prefix, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Prefix},
			&val,
		)
	}
	return node, nil
}
