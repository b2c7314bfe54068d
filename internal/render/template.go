package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"strings"

	"github.com/lalithlochan/courier/internal/store"
)

// Funcs are available to every template.
var Funcs = template.FuncMap{
	"safe":  func(s string) template.HTML { return template.HTML(s) },
	"upper": strings.ToUpper,
}

// TemplateRenderer renders named templates. Names are paths relative to the
// file system the templates were loaded from.
type TemplateRenderer struct {
	root *template.Template
}

// NewTemplateRenderer parses every *.html file under fsys.
func NewTemplateRenderer(fsys fs.FS) (*TemplateRenderer, error) {
	root := template.New("").Funcs(Funcs)
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		if _, err := root.New(path).Parse(string(data)); err != nil {
			return fmt.Errorf("parse template %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return &TemplateRenderer{root: root}, nil
}

// RenderToString executes the template called name against data.
func (t *TemplateRenderer) RenderToString(name string, data any) (string, error) {
	tmpl := t.root.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("template %s not found", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// MessageTemplate is a Renderer backed by one html/template. The template
// sees msg, payload, click_link, renderer_context and context.
type MessageTemplate struct {
	tmpl *template.Template
}

// NewMessageTemplate parses text as a message template.
func NewMessageTemplate(name, text string) (*MessageTemplate, error) {
	tmpl, err := template.New(name).Funcs(Funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse message template %s: %w", name, err)
	}
	return &MessageTemplate{tmpl: tmpl}, nil
}

// CanRenderFormat only supports HTML.
func (m *MessageTemplate) CanRenderFormat(format string) bool {
	return format == FormatHTML
}

// Render executes the template for msg.
func (m *MessageTemplate) Render(msg store.Message, format string, ctx map[string]any) (string, error) {
	if !m.CanRenderFormat(format) {
		return "", fmt.Errorf("format %s is not supported", format)
	}
	data := map[string]any{
		"msg":              msg,
		"payload":          msg.Payload,
		"click_link":       ctx["click_link"],
		"renderer_context": msg.Type.RendererContext,
		"context":          ctx,
	}
	var buf bytes.Buffer
	if err := m.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render message %d: %w", msg.ID, err)
	}
	return buf.String(), nil
}
