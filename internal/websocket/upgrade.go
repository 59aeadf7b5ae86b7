package websocket

import (
	"net/http"
	"strings"

	ws "nhooyr.io/websocket"
)

// Accept upgrades a browser's live-reload request. Origin checks are off:
// the page is often served under a different public host than the socket
// (container port mapping, tunnels), which is exactly what hmr.host covers.
func Accept(w http.ResponseWriter, r *http.Request, subprotocols ...string) (*ws.Conn, error) {
	return ws.Accept(w, r, &ws.AcceptOptions{
		Subprotocols:       subprotocols,
		InsecureSkipVerify: true,
	})
}

// IsUpgrade reports whether r asks to switch to the websocket protocol.
func IsUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
				return true
			}
		}
	}
	return false
}
