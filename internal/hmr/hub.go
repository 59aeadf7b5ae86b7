package hmr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rathix/devserver/internal/websocket"
)

// Subprotocol is requested by the browser client.
const Subprotocol = "devserver-hmr"

// Metrics receives hub activity. Defined here at the consumer.
type Metrics interface {
	ClientConnected()
	ClientDisconnected()
	MessageSent(kind string)
}

type nopMetrics struct{}

func (nopMetrics) ClientConnected()    {}
func (nopMetrics) ClientDisconnected() {}
func (nopMetrics) MessageSent(string)  {}

// Hub accepts live-reload sockets and fans messages out to them.
type Hub struct {
	registry *websocket.Registry
	logger   *slog.Logger
	metrics  Metrics
	connOpts []websocket.Option
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithConnOptions passes keepalive options to every client connection.
func WithConnOptions(opts ...websocket.Option) HubOption {
	return func(h *Hub) { h.connOpts = append(h.connOpts, opts...) }
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		registry: websocket.NewRegistry(logger),
		logger:   logger,
		metrics:  nopMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.connOpts = append([]websocket.Option{websocket.WithLogger(logger)}, h.connOpts...)
	return h
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	return h.registry.Count()
}

// ServeHTTP upgrades the request and holds the socket open until the
// browser goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsUpgrade(r) {
		http.Error(w, "expected websocket upgrade", http.StatusUpgradeRequired)
		return
	}
	c, err := websocket.Accept(w, r, Subprotocol)
	if err != nil {
		h.logger.Debug("hmr upgrade failed", "error", err)
		return
	}

	ctx := c.CloseRead(context.Background())
	conn := websocket.WrapConn(ctx, c, h.connOpts...)
	h.registry.Register(conn)
	h.metrics.ClientConnected()
	h.logger.Debug("hmr client connected", "remote", r.RemoteAddr, "clients", h.registry.Count())
	defer func() {
		h.metrics.ClientDisconnected()
		h.registry.Unregister(conn)
		conn.ForceClose()
		h.logger.Debug("hmr client disconnected", "remote", r.RemoteAddr, "clients", h.registry.Count())
	}()

	hello, _ := json.Marshal(Message{Type: TypeConnected})
	if err := conn.Send(ctx, hello); err != nil {
		return
	}

	select {
	case <-ctx.Done():
	case <-conn.Done():
	}
}

// Broadcast sends msg to every connected browser and returns how many
// received it.
func (h *Hub) Broadcast(ctx context.Context, msg Message) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encoding hmr message: %w", err)
	}
	n := h.registry.Broadcast(ctx, data)
	h.metrics.MessageSent(msg.Type)
	h.logger.Info("hmr "+msg.Type, "clients", n, "updates", len(msg.Updates))
	return n, nil
}

// Close sends a going-away frame to every client.
func (h *Hub) Close(ctx context.Context) {
	h.registry.CloseAll(ctx)
}
