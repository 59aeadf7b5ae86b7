package hmr

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestMessageForChanges(t *testing.T) {
	root := filepath.FromSlash("/work/app")
	now := time.UnixMilli(1700000000000)
	p := func(s string) string { return filepath.Join(root, filepath.FromSlash(s)) }

	cases := []struct {
		name  string
		paths []string
		want  Message
	}{
		{
			name:  "script change reloads",
			paths: []string{p("src/main.tsx")},
			want:  Message{Type: TypeFullReload, Path: "*"},
		},
		{
			name:  "mixed change reloads",
			paths: []string{p("src/app.css"), p("index.html")},
			want:  Message{Type: TypeFullReload, Path: "*"},
		},
		{
			name:  "stylesheets swap in place",
			paths: []string{p("src/b.css"), p("src/a.CSS")},
			want: Message{Type: TypeUpdate, Updates: []Update{
				{Type: TypeCSSUpdate, Path: "/src/a.CSS", Timestamp: 1700000000000},
				{Type: TypeCSSUpdate, Path: "/src/b.css", Timestamp: 1700000000000},
			}},
		},
		{
			name:  "no paths reloads",
			paths: nil,
			want:  Message{Type: TypeFullReload, Path: "*"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MessageForChanges(root, "/", tc.paths, now)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestMessageForChangesUnderBase(t *testing.T) {
	root := filepath.FromSlash("/work/app")
	now := time.UnixMilli(1700000000000)
	path := filepath.Join(root, "src", "theme.css")

	for _, base := range []string{"/app/", "/app", "app/"} {
		got := MessageForChanges(root, base, []string{path}, now)
		if got.Type != TypeUpdate || len(got.Updates) != 1 {
			t.Fatalf("base %q: got %+v, want one update", base, got)
		}
		if got.Updates[0].Path != "/app/src/theme.css" {
			t.Errorf("base %q: path = %q, want /app/src/theme.css", base, got.Updates[0].Path)
		}
	}

	for _, base := range []string{"", "/"} {
		got := MessageForChanges(root, base, []string{path}, now)
		if got.Updates[0].Path != "/src/theme.css" {
			t.Errorf("base %q: path = %q, want /src/theme.css", base, got.Updates[0].Path)
		}
	}
}
