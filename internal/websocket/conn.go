package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ws "nhooyr.io/websocket"
)

// Conn is a server-side live-reload connection with ping/pong keepalive.
// Browsers never send application messages on it, so the caller is expected
// to run CloseRead on the inner connection to process control frames.
type Conn struct {
	inner  *ws.Conn
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// WrapConn starts the keepalive loop for c. It stops when ctx is done or
// the connection is closed.
func WrapConn(ctx context.Context, c *ws.Conn, options ...Option) *Conn {
	opts := applyOptions(options)
	ctx, cancel := context.WithCancel(ctx)
	conn := &Conn{
		inner:  c,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go conn.pingLoop(ctx)
	return conn
}

// Done is closed once the keepalive loop has exited, either because the
// connection was closed or because the peer stopped answering pings.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send writes one text message, bounded by the configured write timeout.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return c.inner.Write(ctx, ws.MessageText, data)
}

// Close sends a close frame and shuts down the connection.
func (c *Conn) Close(code ws.StatusCode, reason string) error {
	return c.CloseWithContext(context.Background(), code, reason)
}

// CloseWithContext sends a close frame, waiting for the keepalive loop no
// longer than ctx allows.
func (c *Conn) CloseWithContext(ctx context.Context, code ws.StatusCode, reason string) error {
	if !c.markClosed() {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return c.inner.Close(code, reason)
}

// ForceClose drops the connection without a close handshake.
func (c *Conn) ForceClose() {
	if !c.markClosed() {
		return
	}
	c.cancel()
	c.inner.CloseNow()
}

func (c *Conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *Conn) pingLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, c.opts.PongTimeout)
			err := c.inner.Ping(pingCtx)
			pingCancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.opts.Logger.Debug("live-reload client stopped answering pings", slog.String("error", err.Error()))
				c.inner.CloseNow()
				return
			}
		}
	}
}
