package websocket

import (
	"context"
	"log/slog"
	"sync"

	ws "nhooyr.io/websocket"
)

// Registry tracks connected live-reload clients.
type Registry struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
	log   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns: make(map[*Conn]struct{}),
		log:   logger,
	}
}

func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast sends data to every client concurrently and returns how many
// writes succeeded. Clients whose write fails are dropped.
func (r *Registry) Broadcast(ctx context.Context, data []byte) int {
	conns := r.snapshot()
	if len(conns) == 0 {
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			if err := c.Send(ctx, data); err != nil {
				r.log.Debug("dropping live-reload client after failed write", slog.String("error", err.Error()))
				r.Unregister(c)
				c.ForceClose()
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return delivered
}

// CloseAll sends a going-away close frame to every client, giving up when
// ctx expires.
func (r *Registry) CloseAll(ctx context.Context) {
	conns := r.snapshot()
	if len(conns) == 0 {
		return
	}

	r.log.Info("closing live-reload connections", slog.Int("count", len(conns)))

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			_ = c.CloseWithContext(ctx, ws.StatusGoingAway, "server shutting down")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("shutdown timeout reached, some live-reload connections may not have closed cleanly")
	}
}
