// Package plugin resolves the named UI-framework integrations listed in the
// config record and applies them to served index.html documents.
package plugin

import (
	"fmt"
	"strings"
)

// Plugin contributes markup to the head of every served HTML document.
type Plugin interface {
	Name() string
	HeadTags() []string
}

var builtins = map[string]func() Plugin{
	"react": func() Plugin { return reactPlugin{} },
}

var aliases = map[string]string{
	"react-support":            "react",
	"@vitejs/plugin-react":     "react",
	"@vitejs/plugin-react-swc": "react",
}

// Canonical maps a configured plugin name (or alias) to its registered name.
func Canonical(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	_, ok := builtins[name]
	return name, ok
}

// Pipeline is an ordered set of plugins.
type Pipeline []Plugin

// Resolve builds a pipeline from names, keeping their order.
func Resolve(names []string) (Pipeline, error) {
	p := make(Pipeline, 0, len(names))
	for _, name := range names {
		canonical, ok := Canonical(name)
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q", name)
		}
		p = append(p, builtins[canonical]())
	}
	return p, nil
}

// Names lists plugin names in pipeline order.
func (p Pipeline) Names() []string {
	names := make([]string, 0, len(p))
	for _, pl := range p {
		names = append(names, pl.Name())
	}
	return names
}

// Apply injects every plugin's head tags, in pipeline order, at the top of
// the document head.
func (p Pipeline) Apply(html []byte) []byte {
	var snippet strings.Builder
	for _, pl := range p {
		for _, tag := range pl.HeadTags() {
			snippet.WriteString(tag)
			snippet.WriteByte('\n')
		}
	}
	if snippet.Len() == 0 {
		return html
	}
	return InjectHead(html, snippet.String())
}

// Static is a plugin with a fixed set of head tags.
type Static struct {
	PluginName string
	Tags       []string
}

func (s Static) Name() string       { return s.PluginName }
func (s Static) HeadTags() []string { return s.Tags }

const reactPreamble = `<script type="module">
window.$RefreshReg$ = () => {};
window.$RefreshSig$ = () => (type) => type;
window.__devserver_react_preamble_installed__ = true;
</script>`

type reactPlugin struct{}

func (reactPlugin) Name() string { return "react" }

func (reactPlugin) HeadTags() []string {
	return []string{reactPreamble}
}
