package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rathix/devserver/internal/plugin"
)

const (
	DefaultHost     = "localhost"
	DefaultPort     = 5173
	DefaultRoot     = "."
	DefaultBase     = "/"
	DefaultCacheDir = ".devserver"
	DefaultHMRPath  = "/@devserver/hmr"

	// DefaultAPITarget is used by Default when API_TARGET is unset.
	DefaultAPITarget = "http://localhost:8000"
)

// LoadError reports every problem found while loading a config record.
type LoadError struct {
	Path string
	Errs []error
}

func (e *LoadError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	src := e.Path
	if src == "" {
		src = "<inline>"
	}
	return fmt.Sprintf("invalid config %s: %s", src, strings.Join(msgs, "; "))
}

func (e *LoadError) Unwrap() []error {
	return e.Errs
}

// Default returns the built-in record: React support, localhost:5173 and an
// /api proxy to API_TARGET with the prefix stripped.
func Default() *Config {
	insecure := false
	target := DefaultAPITarget
	if v, ok := os.LookupEnv("API_TARGET"); ok && v != "" {
		target = v
	}
	cfg := &Config{
		Plugins: []string{"react"},
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
			HMR:  HMRConfig{Host: DefaultHost},
			Proxy: ProxyTable{{
				Prefix: "/api",
				Rule: ProxyRule{
					Target:       target,
					ChangeOrigin: true,
					Secure:       &insecure,
					Rewrite:      &Rewrite{StripPrefix: "/api"},
				},
			}},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the YAML config file at path. A missing file yields
// Default(). Any parse or validation failure is returned as *LoadError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			if err := cfg.Validate(); err != nil {
				var le *LoadError
				if errors.As(err, &le) {
					le.Path = path
				}
				return nil, err
			}
			return cfg, nil
		}
		return nil, &LoadError{Path: path, Errs: []error{fmt.Errorf("failed to read config file: %w", err)}}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML record, fills defaults and validates it.
// ${VAR} and ${VAR:-fallback} references are expanded from the environment
// before decoding.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnv(data)

	cfg := &Config{}
	if len(bytes.TrimSpace(expanded)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, &LoadError{Errs: []error{fmt.Errorf("failed to parse config YAML: %w", err)}}
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders the record as canonical YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// StrictPortEnabled reports whether a taken port is fatal.
func (s ServerConfig) StrictPortEnabled() bool {
	return s.StrictPort == nil || *s.StrictPort
}

func (c *Config) applyDefaults() {
	// An explicit empty list disables plugins; only an absent key defaults.
	if c.Plugins == nil {
		c.Plugins = []string{"react"}
	}
	if c.Root == "" {
		c.Root = DefaultRoot
	}
	if c.Base == "" {
		c.Base = DefaultBase
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.HMR.Path == "" {
		c.Server.HMR.Path = DefaultHMRPath
	}
}

// Validate checks every invariant of the record and returns *LoadError
// listing all violations, or nil.
func (c *Config) Validate() error {
	var errs []error

	seenPlugins := make(map[string]struct{}, len(c.Plugins))
	for i, name := range c.Plugins {
		canonical, ok := plugin.Canonical(name)
		if !ok {
			errs = append(errs, fmt.Errorf("plugins[%d]: unknown plugin %q", i, name))
			continue
		}
		if _, dup := seenPlugins[canonical]; dup {
			errs = append(errs, fmt.Errorf("plugins[%d]: plugin %q listed twice", i, name))
			continue
		}
		seenPlugins[canonical] = struct{}{}
	}

	if !strings.HasPrefix(c.Base, "/") {
		errs = append(errs, fmt.Errorf("base: must start with '/', got %q", c.Base))
	}

	if strings.TrimSpace(c.Server.Host) == "" {
		errs = append(errs, errors.New("server.host: required field missing"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: must be between 1 and 65535, got %d", c.Server.Port))
	}

	hmr := c.Server.HMR
	if hmr.ClientPort < 0 || hmr.ClientPort > 65535 {
		errs = append(errs, fmt.Errorf("server.hmr.clientPort: must be between 0 and 65535, got %d", hmr.ClientPort))
	}
	if !strings.HasPrefix(hmr.Path, "/") {
		errs = append(errs, fmt.Errorf("server.hmr.path: must start with '/', got %q", hmr.Path))
	}
	if hmr.Protocol != "" && hmr.Protocol != "ws" && hmr.Protocol != "wss" {
		errs = append(errs, fmt.Errorf("server.hmr.protocol: must be \"ws\" or \"wss\", got %q", hmr.Protocol))
	}

	seenPrefixes := make(map[string]struct{}, len(c.Server.Proxy))
	for _, e := range c.Server.Proxy {
		errs = append(errs, validateProxyEntry(e, seenPrefixes)...)
	}

	if len(errs) > 0 {
		return &LoadError{Errs: errs}
	}
	return nil
}

func validateProxyEntry(e ProxyEntry, seen map[string]struct{}) []error {
	var errs []error
	field := fmt.Sprintf("server.proxy[%q]", e.Prefix)

	if !strings.HasPrefix(e.Prefix, "/") {
		errs = append(errs, fmt.Errorf("%s: prefix must start with '/'", field))
	}
	if _, dup := seen[e.Prefix]; dup {
		errs = append(errs, fmt.Errorf("%s: duplicate prefix", field))
	}
	seen[e.Prefix] = struct{}{}

	if err := validateTarget(e.Rule.Target); err != nil {
		errs = append(errs, fmt.Errorf("%s.target: %w", field, err))
	}

	if e.Rule.Timeout != "" {
		d, err := time.ParseDuration(e.Rule.Timeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.timeout: invalid duration %q: %w", field, e.Rule.Timeout, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s.timeout: must be positive, got %q", field, e.Rule.Timeout))
		}
	}

	if rw := e.Rule.Rewrite; rw != nil {
		switch {
		case rw.StripPrefix != "" && rw.Pattern != "":
			errs = append(errs, fmt.Errorf("%s.rewrite: stripPrefix and pattern are mutually exclusive", field))
		case rw.StripPrefix != "" && !strings.HasPrefix(rw.StripPrefix, "/"):
			errs = append(errs, fmt.Errorf("%s.rewrite.stripPrefix: must start with '/', got %q", field, rw.StripPrefix))
		case rw.Pattern != "":
			if _, err := regexp.Compile(rw.Pattern); err != nil {
				errs = append(errs, fmt.Errorf("%s.rewrite.pattern: %w", field, err))
			}
		}
	}
	return errs
}

func validateTarget(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("required field missing")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q must be absolute", raw)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-fallback}. Bare $VAR is left alone
// so regexp anchors in rewrite patterns survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		if v, ok := os.LookupEnv(string(m[1])); ok && v != "" {
			return []byte(v)
		}
		return m[2]
	})
}
