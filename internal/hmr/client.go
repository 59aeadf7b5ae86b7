package hmr

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ClientPath is where the browser client script is served.
const ClientPath = "/@devserver/client"

// ClientConfig is what the browser is told about the live-reload socket.
// Empty Host, zero Port and empty Protocol fall back to the page's own
// location.
type ClientConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Path     string `json:"path"`
	Protocol string `json:"protocol"`
}

const clientScript = `// devserver live-reload client
const config = __DEVSERVER_CONFIG__;
const protocol = config.protocol || (location.protocol === 'https:' ? 'wss' : 'ws');
const host = config.host || location.hostname;
const port = config.port || location.port;
const socketURL = protocol + '://' + host + (port ? ':' + port : '') + config.path;

let wasConnected = false;

function connect() {
  const socket = new WebSocket(socketURL, '` + Subprotocol + `');
  socket.addEventListener('message', (event) => handle(JSON.parse(event.data)));
  socket.addEventListener('close', () => {
    if (wasConnected) {
      console.log('[devserver] server connection lost, waiting to reconnect');
    }
    setTimeout(connect, 1000);
  });
}

function handle(msg) {
  switch (msg.type) {
    case 'connected':
      if (wasConnected) {
        location.reload();
        return;
      }
      wasConnected = true;
      console.debug('[devserver] connected.');
      break;
    case 'full-reload':
      location.reload();
      break;
    case 'update':
      for (const update of msg.updates || []) {
        if (update.type === 'css-update') {
          swapStylesheet(update);
        } else {
          location.reload();
          return;
        }
      }
      break;
  }
}

function swapStylesheet(update) {
  let swapped = false;
  for (const link of document.querySelectorAll('link[rel="stylesheet"]')) {
    const href = new URL(link.href, location.href);
    if (href.pathname === update.path) {
      href.searchParams.set('t', String(update.timestamp));
      link.href = href.toString();
      swapped = true;
    }
  }
  if (!swapped) {
    location.reload();
  }
}

connect();
`

// NewClientHandler serves the browser client with cfg baked in.
func NewClientHandler(cfg ClientConfig) (http.Handler, error) {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	body := []byte(strings.Replace(clientScript, "__DEVSERVER_CONFIG__", string(encoded), 1))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(body)
	}), nil
}

// ClientTag is the script element that loads the client.
func ClientTag() string {
	return `<script type="module" src="` + ClientPath + `"></script>`
}
