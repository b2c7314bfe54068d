package digest

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/mail"
	"github.com/lalithlochan/courier/internal/namespace"
	"github.com/lalithlochan/courier/internal/render"
)

// Template names, relative to the embedded templates directory.
const (
	InnerTemplate   = "digest/inner.html"
	BrandedTemplate = "digest/branded.html"
)

//go:embed templates
var templateFS embed.FS

// Templates returns the embedded digest templates.
func Templates() (*render.TemplateRenderer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	return render.NewTemplateRenderer(sub)
}

// Composer turns grouped notifications into a mail envelope.
type Composer struct {
	templates *render.TemplateRenderer
	inliner   *render.CSSInliner
	logo      *mail.InlinePart
	newCID    func() string
}

// NewComposer loads the stylesheet and logo named in s through static. A
// missing stylesheet disables inlining; a missing logo drops the image.
func NewComposer(templates *render.TemplateRenderer, s Settings, static render.StaticResolver, logger *zap.Logger) (*Composer, error) {
	c := &Composer{
		templates: templates,
		newCID:    uuid.NewString,
	}

	if static.Exists(s.CSSPath) {
		inliner, err := render.LoadCSSInliner(static.Resolve(s.CSSPath))
		if err != nil {
			return nil, err
		}
		c.inliner = inliner
	} else if s.CSSPath != "" {
		logger.Info("digest stylesheet not found, css will not be inlined", zap.String("path", s.CSSPath))
	}

	if static.Exists(s.LogoPath) {
		path := static.Resolve(s.LogoPath)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read logo: %w", err)
		}
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.logo = &mail.InlinePart{
			Filename:    filepath.Base(path),
			ContentType: contentType,
			Data:        data,
		}
	} else if s.LogoPath != "" {
		logger.Info("digest logo not found", zap.String("path", s.LogoPath))
	}

	return c, nil
}

// ExpandSubject substitutes {display_name} in subject.
func ExpandSubject(subject, displayName string) string {
	return strings.ReplaceAll(subject, "{display_name}", displayName)
}

// Compose renders the digest of user for the namespace info.
func (c *Composer) Compose(info namespace.Info, user namespace.User, groups []Group, subject, from string) (mail.Envelope, error) {
	subject = ExpandSubject(subject, info.DisplayName)

	inner, err := c.templates.RenderToString(InnerTemplate, map[string]any{
		"groups":       groups,
		"user":         user,
		"display_name": info.DisplayName,
	})
	if err != nil {
		return mail.Envelope{}, err
	}

	env := mail.Envelope{
		From:    from,
		To:      []string{user.Email},
		Subject: subject,
	}

	data := map[string]any{
		"content":      template.HTML(inner),
		"subject":      subject,
		"display_name": info.DisplayName,
	}
	if c.logo != nil {
		logo := *c.logo
		logo.ContentID = c.newCID()
		env.Inline = append(env.Inline, logo)
		data["logo_src"] = template.URL("cid:" + logo.ContentID)
	}

	html, err := c.templates.RenderToString(BrandedTemplate, data)
	if err != nil {
		return mail.Envelope{}, err
	}
	if c.inliner != nil {
		if html, err = c.inliner.Inline(html); err != nil {
			return mail.Envelope{}, err
		}
	}
	env.HTML = html
	return env, nil
}
