package proxy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rathix/devserver/internal/config"
)

// Rewriter transforms an inbound request path into the path sent upstream.
type Rewriter interface {
	Rewrite(path string) string
}

// RewriteFunc adapts a plain function to Rewriter.
type RewriteFunc func(string) string

func (f RewriteFunc) Rewrite(path string) string { return f(path) }

// StripPrefix removes prefix from the start of path exactly once. Paths
// that do not start with prefix are returned unchanged. The result always
// starts with '/', so "/api" becomes "/" and "/apiv2" becomes "/v2".
func StripPrefix(prefix, path string) string {
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return path
	}
	return ensureLeadingSlash(rest)
}

// NewRewriter compiles a declarative rewrite. A nil rewrite forwards the
// path untouched.
func NewRewriter(rw *config.Rewrite) (Rewriter, error) {
	switch {
	case rw == nil || (rw.StripPrefix == "" && rw.Pattern == ""):
		return RewriteFunc(func(p string) string { return p }), nil
	case rw.StripPrefix != "" && rw.Pattern != "":
		return nil, fmt.Errorf("stripPrefix and pattern are mutually exclusive")
	case rw.StripPrefix != "":
		prefix := rw.StripPrefix
		return RewriteFunc(func(p string) string { return StripPrefix(prefix, p) }), nil
	}

	re, err := regexp.Compile(rw.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid rewrite pattern: %w", err)
	}
	return &patternRewriter{re: re, replacement: rw.Replacement}, nil
}

// patternRewriter replaces the first match of re, expanding $n references
// in the replacement.
type patternRewriter struct {
	re          *regexp.Regexp
	replacement string
}

func (p *patternRewriter) Rewrite(path string) string {
	loc := p.re.FindStringSubmatchIndex(path)
	if loc == nil {
		return path
	}
	var b strings.Builder
	b.WriteString(path[:loc[0]])
	b.Write(p.re.ExpandString(nil, p.replacement, path, loc))
	b.WriteString(path[loc[1]:])
	return ensureLeadingSlash(b.String())
}

func ensureLeadingSlash(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
