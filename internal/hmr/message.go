package hmr

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Message types understood by the browser client.
const (
	TypeConnected  = "connected"
	TypeFullReload = "full-reload"
	TypeUpdate     = "update"
	TypeCSSUpdate  = "css-update"
)

// Message is one JSON frame pushed to browsers.
type Message struct {
	Type    string   `json:"type"`
	Path    string   `json:"path,omitempty"`
	Updates []Update `json:"updates,omitempty"`
}

// Update describes one hot-swappable asset.
type Update struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
}

// MessageForChanges turns changed file paths under root into a message.
// Stylesheets can be swapped in place; any other change reloads the page.
// Update paths are URL paths under base, the public path root is served at.
func MessageForChanges(root, base string, paths []string, now time.Time) Message {
	if len(paths) == 0 {
		return Message{Type: TypeFullReload, Path: "*"}
	}

	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		if !strings.EqualFold(filepath.Ext(p), ".css") {
			return Message{Type: TypeFullReload, Path: "*"}
		}
		urls = append(urls, urlPath(root, base, p))
	}
	sort.Strings(urls)

	ts := now.UnixMilli()
	updates := make([]Update, 0, len(urls))
	for _, u := range urls {
		updates = append(updates, Update{Type: TypeCSSUpdate, Path: u, Timestamp: ts})
	}
	return Message{Type: TypeUpdate, Updates: updates}
}

func urlPath(root, base, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(p)
	}
	prefix := strings.Trim(base, "/")
	if prefix != "" {
		prefix = "/" + prefix
	}
	return prefix + "/" + filepath.ToSlash(rel)
}
