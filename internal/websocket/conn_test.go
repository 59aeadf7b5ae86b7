package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ws "nhooyr.io/websocket"
)

func setupTestServer(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return "ws" + srv.URL[4:]
}

func readLoop(ctx context.Context, c *ws.Conn) {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
	}
}

func TestConn_ClosesWhenPeerStopsPonging(t *testing.T) {
	serverDone := make(chan struct{})

	wsURL := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		defer close(serverDone)
		c, err := Accept(w, r)
		if err != nil {
			t.Errorf("accept error: %v", err)
			return
		}
		ctx := c.CloseRead(context.Background())
		conn := WrapConn(ctx, c,
			WithPingInterval(50*time.Millisecond),
			WithPongTimeout(100*time.Millisecond),
		)
		select {
		case <-conn.Done():
		case <-time.After(5 * time.Second):
			t.Error("timed out waiting for keepalive loop to exit")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// No client read loop, so pings go unanswered.
	c, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer c.CloseNow()

	select {
	case <-serverDone:
	case <-time.After(5 * time.Second):
		t.Error("timed out waiting for server handler to exit")
	}
}

func TestConn_StaysAliveWhilePonging(t *testing.T) {
	serverDone := make(chan struct{})

	wsURL := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		defer close(serverDone)
		c, err := Accept(w, r)
		if err != nil {
			t.Errorf("accept error: %v", err)
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		conn := WrapConn(c.CloseRead(ctx), c,
			WithPingInterval(50*time.Millisecond),
			WithPongTimeout(2*time.Second),
		)

		time.Sleep(300 * time.Millisecond)
		select {
		case <-conn.Done():
			t.Error("keepalive loop exited while the client was answering pings")
		default:
		}

		cancel()
		conn.Close(ws.StatusNormalClosure, "test done")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	go readLoop(ctx, c)

	select {
	case <-serverDone:
	case <-time.After(5 * time.Second):
		t.Error("timed out waiting for server")
	}
	c.CloseNow()
}

func TestConn_SendDeliversText(t *testing.T) {
	wsURL := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r)
		if err != nil {
			t.Errorf("accept error: %v", err)
			return
		}
		conn := WrapConn(c.CloseRead(context.Background()), c, WithPingInterval(time.Minute))
		if err := conn.Send(context.Background(), []byte(`{"type":"connected"}`)); err != nil {
			t.Errorf("send: %v", err)
		}
		conn.Close(ws.StatusNormalClosure, "")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer c.CloseNow()

	typ, msg, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != ws.MessageText || string(msg) != `{"type":"connected"}` {
		t.Errorf("got %v %q", typ, msg)
	}
}

func TestConn_DoubleCloseIsNoop(t *testing.T) {
	serverDone := make(chan struct{})

	wsURL := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		defer close(serverDone)
		c, err := Accept(w, r)
		if err != nil {
			t.Errorf("accept error: %v", err)
			return
		}
		conn := WrapConn(context.Background(), c, WithPingInterval(10*time.Second))
		conn.Close(ws.StatusNormalClosure, "first")
		if err := conn.Close(ws.StatusNormalClosure, "second"); err != nil {
			t.Errorf("second close should not error: %v", err)
		}
		conn.ForceClose()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	go readLoop(ctx, c)

	select {
	case <-serverDone:
	case <-time.After(5 * time.Second):
		t.Error("timed out waiting for close")
	}
	c.CloseNow()
}

func TestIsUpgrade(t *testing.T) {
	cases := []struct {
		conn, upgrade string
		want          bool
	}{
		{"Upgrade", "websocket", true},
		{"keep-alive, Upgrade", "WebSocket", true},
		{"keep-alive", "websocket", false},
		{"Upgrade", "h2c", false},
		{"", "", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.conn != "" {
			r.Header.Set("Connection", tc.conn)
		}
		if tc.upgrade != "" {
			r.Header.Set("Upgrade", tc.upgrade)
		}
		if got := IsUpgrade(r); got != tc.want {
			t.Errorf("IsUpgrade(Connection=%q, Upgrade=%q) = %v, want %v", tc.conn, tc.upgrade, got, tc.want)
		}
	}
}
