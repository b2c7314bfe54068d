// Package render turns notification messages into presentation strings.
package render

import (
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/lalithlochan/courier/internal/store"
)

// FormatHTML is the format requested by digests.
const FormatHTML = "html"

// Renderer renders messages of the notification types pointing at it.
type Renderer interface {
	CanRenderFormat(format string) bool
	Render(msg store.Message, format string, ctx map[string]any) (string, error)
}

// Registry maps renderer identifiers, as stored on notification types, to
// renderers.
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]Renderer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{renderers: make(map[string]Renderer)}
}

// Register binds name to r.
func (r *Registry) Register(name string, renderer Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderers[name] = renderer
}

// Lookup returns the renderer registered as name.
func (r *Registry) Lookup(name string) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	renderer, ok := r.renderers[name]
	return renderer, ok
}

// ForType returns the renderer of t.
func (r *Registry) ForType(t store.NotificationType) (Renderer, bool) {
	if t.Renderer == "" {
		return nil, false
	}
	return r.Lookup(t.Renderer)
}

// LoadMessageTemplates registers every *.html file under fsys as a
// MessageTemplate named by its path without the extension.
func (r *Registry) LoadMessageTemplates(fsys fs.FS) (int, error) {
	n := 0
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
		name := strings.TrimSuffix(path, ".html")
		tmpl, err := NewMessageTemplate(name, string(data))
		if err != nil {
			return err
		}
		r.Register(name, tmpl)
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("load message templates: %w", err)
	}
	return n, nil
}
