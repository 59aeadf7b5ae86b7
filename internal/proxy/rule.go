package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/websocket"
)

// RequestIDHeader tags every proxied request so upstream logs can be
// correlated with the dev server's.
const RequestIDHeader = "X-Request-Id"

// Recorder receives per-request proxy measurements.
// Defined here at the consumer, not in the metrics package.
type Recorder interface {
	ObserveProxy(prefix string, code int, d time.Duration)
	ProxyError(prefix string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveProxy(string, int, time.Duration) {}
func (nopRecorder) ProxyError(string)                       {}

type options struct {
	logger    *slog.Logger
	recorder  Recorder
	transport http.RoundTripper
}

// Option configures rules and routers.
type Option func(*options)

// WithLogger sets the logger for proxy activity.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithTransport replaces the upstream transport. The rule's secure and
// timeout settings only apply to the default transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default(), recorder: nopRecorder{}}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	return o
}

// Rule forwards requests under Prefix to Target.
type Rule struct {
	Prefix string
	Target *url.URL
	WS     bool

	changeOrigin bool
	headers      http.Header
	rewrite      Rewriter
	proxy        *httputil.ReverseProxy
	logger       *slog.Logger
	recorder     Recorder
}

// NewRule builds the reverse proxy for one configured prefix.
func NewRule(prefix string, cfg config.ProxyRule, opts ...Option) (*Rule, error) {
	o := applyOptions(opts)

	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: invalid target: %w", prefix, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("proxy %s: target %q is not an absolute URL", prefix, cfg.Target)
	}

	rw, err := NewRewriter(cfg.Rewrite)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", prefix, err)
	}

	transport := o.transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if !cfg.VerifyTLS() {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		if cfg.Timeout != "" {
			d, err := time.ParseDuration(cfg.Timeout)
			if err != nil {
				return nil, fmt.Errorf("proxy %s: invalid timeout %q: %w", prefix, cfg.Timeout, err)
			}
			t.ResponseHeaderTimeout = d
		}
		transport = t
	}

	headers := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	r := &Rule{
		Prefix:       prefix,
		Target:       target,
		WS:           cfg.WS,
		changeOrigin: cfg.ChangeOrigin,
		headers:      headers,
		rewrite:      rw,
		logger:       o.logger.With("prefix", prefix),
		recorder:     o.recorder,
	}
	r.proxy = &httputil.ReverseProxy{
		Rewrite:      r.rewriteRequest,
		Transport:    transport,
		ErrorHandler: r.handleError,
		ErrorLog:     slog.NewLogLogger(r.logger.Handler(), slog.LevelWarn),
	}
	return r, nil
}

// RewritePath returns the path that will be requested upstream, before the
// target's base path is joined in.
func (r *Rule) RewritePath(path string) string {
	return r.rewrite.Rewrite(path)
}

func (r *Rule) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	r.proxy.ServeHTTP(rec, req)
	if !rec.wroteHeader && websocket.IsUpgrade(req) {
		// Upgrades are written straight to the hijacked connection.
		rec.status = http.StatusSwitchingProtocols
	}

	elapsed := time.Since(start)
	r.recorder.ObserveProxy(r.Prefix, rec.status, elapsed)
	r.logger.Debug("proxied request",
		"method", req.Method,
		"path", req.URL.Path,
		"upstream", r.Target.String(),
		"status", rec.status,
		"duration", elapsed,
		"request_id", req.Header.Get(RequestIDHeader),
	)
}

func (r *Rule) rewriteRequest(pr *httputil.ProxyRequest) {
	path, rawPath := r.rewriteURLPath(pr.In.URL)
	pr.Out.URL.Path = path
	pr.Out.URL.RawPath = rawPath
	pr.SetURL(r.Target)
	if r.changeOrigin {
		pr.Out.Host = r.Target.Host
	} else {
		pr.Out.Host = pr.In.Host
	}
	for k, v := range r.headers {
		pr.Out.Header[k] = append([]string(nil), v...)
	}
}

// rewriteURLPath rewrites both the decoded and the escaped path. The escaped
// form is kept only when it still decodes to the rewritten path.
func (r *Rule) rewriteURLPath(u *url.URL) (string, string) {
	path := r.rewrite.Rewrite(u.Path)
	if u.RawPath == "" {
		return path, ""
	}
	raw := r.rewrite.Rewrite(u.RawPath)
	if unescaped, err := url.PathUnescape(raw); err == nil && unescaped == path {
		return path, raw
	}
	return path, ""
}

func (r *Rule) handleError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		r.logger.Debug("proxy request cancelled by client", "path", req.URL.Path)
	} else {
		r.recorder.ProxyError(r.Prefix)
		r.logger.Warn("proxy upstream error",
			"path", req.URL.Path,
			"upstream", r.Target.String(),
			"request_id", req.Header.Get(RequestIDHeader),
			"error", err,
		)
	}
	w.WriteHeader(http.StatusBadGateway)
}

// statusRecorder captures the status code written by the reverse proxy.
// Unwrap lets http.ResponseController reach Flush and Hijack on the
// underlying writer for streaming and websocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		s.ResponseWriter.WriteHeader(code)
		return
	}
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
