package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/PuerkitoBio/goquery"

	"github.com/lalithlochan/courier/internal/store"
)

func TestClickLink(t *testing.T) {
	format := "https://{hostname}/click/{user_msg_id}/{msg_id}?next={encoded_url_path}&raw={url_path}"

	tests := []struct {
		name    string
		format  string
		payload map[string]any
		want    string
	}{
		{"no link", format, map[string]any{"foo": "bar"}, ""},
		{"non string", format, map[string]any{ClickLinkKey: 12}, ""},
		{"absolute", format, map[string]any{ClickLinkKey: "https://example.com/x"}, "https://example.com/x"},
		{"no format", "", map[string]any{ClickLinkKey: "/courses/1"}, "/courses/1"},
		{
			"relative",
			format,
			map[string]any{ClickLinkKey: "/courses/1?tab=a b"},
			"https://lms.example.com/click/10/20?next=%2Fcourses%2F1%3Ftab%3Da+b&raw=/courses/1?tab=a b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClickLink(tt.format, tt.payload, 10, 20, "lms.example.com")
			if got != tt.want {
				t.Errorf("ClickLink() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistry_ForType(t *testing.T) {
	reg := NewRegistry()
	tmpl, err := NewMessageTemplate("foo", `<p>{{.payload.subject}}</p>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg.Register("foo.renderer", tmpl)

	if _, ok := reg.ForType(store.NotificationType{Name: "x", Renderer: "foo.renderer"}); !ok {
		t.Error("expected renderer to be found")
	}
	if _, ok := reg.ForType(store.NotificationType{Name: "x", Renderer: "missing"}); ok {
		t.Error("expected missing renderer")
	}
	if _, ok := reg.ForType(store.NotificationType{Name: "x"}); ok {
		t.Error("expected no renderer for empty identifier")
	}
}

func TestRegistry_LoadMessageTemplates(t *testing.T) {
	fsys := fstest.MapFS{
		"basic.html":              {Data: []byte(`<p>{{.payload.title}}</p>`)},
		"open-edx/lms/badge.html": {Data: []byte(`<b>{{.payload.badge}}</b>`)},
		"README.md":               {Data: []byte("ignored")},
	}
	reg := NewRegistry()
	n, err := reg.LoadMessageTemplates(fsys)
	if err != nil || n != 2 {
		t.Fatalf("load: n=%d err=%v", n, err)
	}
	r, ok := reg.Lookup("open-edx/lms/badge")
	if !ok {
		t.Fatal("nested template not registered")
	}
	out, err := r.Render(store.Message{Payload: map[string]any{"badge": "gold"}}, FormatHTML, nil)
	if err != nil || out != "<b>gold</b>" {
		t.Errorf("render = %q, %v", out, err)
	}

	bad := fstest.MapFS{"broken.html": {Data: []byte(`{{.payload`)}}
	if _, err := NewRegistry().LoadMessageTemplates(bad); err == nil {
		t.Error("expected a parse error")
	}
}

func TestMessageTemplate_Render(t *testing.T) {
	tmpl, err := NewMessageTemplate("announcement",
		`<a href="{{.click_link}}">{{.payload.subject}}</a><span>{{index .renderer_context "label"}}</span>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tmpl.CanRenderFormat("text") {
		t.Error("text format should not be supported")
	}

	msg := store.Message{
		ID:      3,
		Type:    store.NotificationType{Name: "a.b", RendererContext: map[string]any{"label": "News"}},
		Payload: map[string]any{"subject": "Exam <moved>"},
	}
	out, err := tmpl.Render(msg, FormatHTML, map[string]any{"click_link": "https://x.test/1"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := `<a href="https://x.test/1">Exam &lt;moved&gt;</a><span>News</span>`
	if out != want {
		t.Errorf("render = %q, want %q", out, want)
	}

	if _, err := tmpl.Render(msg, "text", nil); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestTemplateRenderer(t *testing.T) {
	fsys := fstest.MapFS{
		"digest/inner.html":   {Data: []byte(`{{range .items}}<li>{{.}}</li>{{end}}`)},
		"digest/branded.html": {Data: []byte(`<body>{{.body}}</body>`)},
		"README.md":           {Data: []byte(`ignored`)},
	}
	r, err := NewTemplateRenderer(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	inner, err := r.RenderToString("digest/inner.html", map[string]any{"items": []string{"a", "b"}})
	if err != nil {
		t.Fatalf("render inner: %v", err)
	}
	if inner != "<li>a</li><li>b</li>" {
		t.Errorf("inner = %q", inner)
	}

	if _, err := r.RenderToString("README.md", nil); err == nil {
		t.Error("non html files must not be loaded")
	}
	if _, err := r.RenderToString("missing.html", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestCSSInliner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digest.css")
	if err := os.WriteFile(path, []byte(`.title { color: red; }`), 0o600); err != nil {
		t.Fatalf("write css: %v", err)
	}

	inliner, err := LoadCSSInliner(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := inliner.Inline(`<html><head></head><body><p class="title">Hello</p></body></html>`)
	if err != nil {
		t.Fatalf("inline: %v", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	style, ok := doc.Find("p.title").Attr("style")
	if !ok || !strings.Contains(style, "color") || !strings.Contains(style, "red") {
		t.Errorf("expected inline color style, got %q in %s", style, out)
	}

	if _, err := LoadCSSInliner(filepath.Join(t.TempDir(), "missing.css")); err == nil {
		t.Error("expected error for missing stylesheet")
	}
}

func TestStaticResolver(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "images"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "images", "logo.png"), []byte("png"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := StaticResolver{Root: root}
	if got := r.Resolve("images/logo.png"); got != filepath.Join(root, "images", "logo.png") {
		t.Errorf("resolve relative = %s", got)
	}
	if got := r.Resolve("/etc/logo.png"); got != "/etc/logo.png" {
		t.Errorf("resolve absolute = %s", got)
	}
	if !r.Exists("images/logo.png") {
		t.Error("expected logo to exist")
	}
	if r.Exists("images") || r.Exists("") || r.Exists("nope.css") {
		t.Error("directories, empty and missing paths must not exist")
	}
}
