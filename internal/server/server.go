// Package server binds the dev server socket and routes requests between the
// API proxy, the live-reload endpoints and the project's static files.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/hmr"
)

const (
	// MetricsPath exposes Prometheus metrics.
	MetricsPath = "/@devserver/metrics"

	// portAttempts bounds the search for a free port when strictPort is off.
	portAttempts = 10

	shutdownTimeout = 10 * time.Second
)

// BindError reports that the listening socket could not be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Listen binds host:port. With strict set any failure is returned as
// *BindError. Otherwise, while the port is in use, the next ports are tried.
func Listen(host string, port int, strict bool) (net.Listener, error) {
	attempts := 1
	if !strict {
		attempts = portAttempts
	}
	var lastErr error
	for i := 0; i < attempts && port+i <= 65535; i++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port+i))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = &BindError{Addr: addr, Err: err}
		if !errors.Is(err, syscall.EADDRINUSE) {
			break
		}
	}
	return nil, lastErr
}

// Proxy hands matching requests to an upstream and the rest to next.
// *proxy.Router satisfies it.
type Proxy interface {
	Wrap(next http.Handler) http.Handler
}

// Hub is the live-reload websocket endpoint. *hmr.Hub satisfies it.
type Hub interface {
	http.Handler
	Close(ctx context.Context)
}

// Deps are the handlers the server routes between. Nil members are skipped.
type Deps struct {
	Proxy   Proxy
	HMR     Hub
	Client  http.Handler
	Metrics http.Handler
	Static  http.Handler
	TLS     *tls.Config
	Logger  *slog.Logger
}

// Server is a configured dev server ready to serve on a listener.
type Server struct {
	handler http.Handler
	hub     Hub
	tls     *tls.Config
	logger  *slog.Logger
}

// New builds the request routing for cfg. Proxy rules are consulted first so
// a configured prefix always reaches the upstream. Then come the live-reload
// socket, the client script, metrics and finally static files mounted under
// cfg.Base.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	if deps.HMR != nil {
		mux.Handle(cfg.Server.HMR.Path, deps.HMR)
	}
	if deps.Client != nil {
		mux.Handle(hmr.ClientPath, deps.Client)
	}
	if deps.Metrics != nil {
		mux.Handle(MetricsPath, deps.Metrics)
	}
	static := deps.Static
	if static == nil {
		static = http.NotFoundHandler()
	}
	mux.Handle("/", NewBasePathHandler(cfg.Base, static))

	var handler http.Handler = mux
	if deps.Proxy != nil {
		handler = deps.Proxy.Wrap(mux)
	}
	return &Server{
		handler: handler,
		hub:     deps.HMR,
		tls:     deps.TLS,
		logger:  logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until ctx is done, then closes live-reload
// clients and drains in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		TLSConfig:         s.tls,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	serverError := make(chan error, 1)
	go func() {
		var err error
		if s.tls != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError <- err
		}
		close(serverError)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		if s.hub != nil {
			s.hub.Close(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		s.logger.Info("Server stopped")
		return nil
	case err, ok := <-serverError:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

// LocalURL is the address printed for the developer to open.
func LocalURL(https bool, addr net.Addr, host, base string) string {
	scheme := "http"
	if https {
		scheme = "https"
	}
	port := ""
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return scheme + "://" + net.JoinHostPort(host, port) + NormalizeBasePath(base)
}
