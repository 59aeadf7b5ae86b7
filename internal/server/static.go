package server

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
)

// HTMLTransformer rewrites HTML documents before they are served.
// plugin.Pipeline satisfies it.
type HTMLTransformer interface {
	Apply(html []byte) []byte
}

// DefaultDeny lists file name patterns that are never served from the root.
var DefaultDeny = []string{".env", ".env.*", "*.crt", "*.pem", "*.key", ".git"}

// StaticHandler serves the project root as-is. HTML documents go through the
// transformer first, and extensionless paths that match no file fall back to
// index.html for client-side routing. Missing files with an extension, and
// directories without an index.html, are a 404.
type StaticHandler struct {
	fileServer http.Handler
	filesystem fs.FS
	transform  HTMLTransformer
	deny       []string
	logger     *slog.Logger
}

// NewStaticHandler serves fsys. Any path segment matching one of deny (in
// path.Match syntax) is refused with 403. A nil transformer serves HTML
// unchanged.
func NewStaticHandler(fsys fs.FS, transform HTMLTransformer, logger *slog.Logger, deny ...string) *StaticHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaticHandler{
		fileServer: http.FileServer(http.FS(fsys)),
		filesystem: fsys,
		transform:  transform,
		deny:       deny,
		logger:     logger,
	}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if h.denied(name) {
		http.Error(w, "access to this file is restricted", http.StatusForbidden)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")

	if name == "" {
		name = "index.html"
	}
	info, err := fs.Stat(h.filesystem, name)
	if err == nil && info.IsDir() {
		index := path.Join(name, "index.html")
		if _, ierr := fs.Stat(h.filesystem, index); ierr == nil {
			h.serveHTML(w, r, index)
			return
		}
		// No directory listings: they would name denied files.
		http.NotFound(w, r)
		return
	}
	if err == nil {
		if isHTML(name) {
			h.serveHTML(w, r, name)
			return
		}
		h.fileServer.ServeHTTP(w, r)
		return
	}

	// r.URL.Path is already decoded, so %2Ecss counts as an extension.
	if path.Ext(name) != "" {
		http.NotFound(w, r)
		return
	}
	h.serveHTML(w, r, "index.html")
}

func (h *StaticHandler) serveHTML(w http.ResponseWriter, r *http.Request, name string) {
	data, err := fs.ReadFile(h.filesystem, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("failed to read html document", "file", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if h.transform != nil {
		data = h.transform.Apply(data)
	}
	modTime := time.Time{}
	if info, err := fs.Stat(h.filesystem, name); err == nil {
		modTime = info.ModTime()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, name, modTime, bytes.NewReader(data))
}

func (h *StaticHandler) denied(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		for _, pattern := range h.deny {
			if ok, _ := path.Match(pattern, seg); ok {
				return true
			}
		}
	}
	return false
}

func isHTML(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".html" || ext == ".htm"
}
