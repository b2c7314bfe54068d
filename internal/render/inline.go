package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/vanng822/go-premailer/premailer"
)

// CSSInliner injects a stylesheet into a document and moves its rules onto
// the matching elements' style attributes.
type CSSInliner struct {
	css string
}

// NewCSSInliner creates an inliner for css.
func NewCSSInliner(css string) *CSSInliner {
	return &CSSInliner{css: css}
}

// LoadCSSInliner reads the stylesheet at path.
func LoadCSSInliner(path string) (*CSSInliner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stylesheet: %w", err)
	}
	return NewCSSInliner(string(data)), nil
}

// Inline returns html with the stylesheet applied inline.
func (c *CSSInliner) Inline(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("head").AppendHtml(`<style type="text/css">` + c.css + `</style>`)

	withStyle, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize html: %w", err)
	}

	p, err := premailer.NewPremailerFromString(withStyle, premailer.NewOptions())
	if err != nil {
		return "", fmt.Errorf("load premailer: %w", err)
	}
	out, err := p.Transform()
	if err != nil {
		return "", fmt.Errorf("inline css: %w", err)
	}
	return out, nil
}

// StaticResolver resolves asset paths against the static asset tree.
type StaticResolver struct {
	Root string
}

// Resolve returns path unchanged when it is absolute, otherwise joins it
// under Root.
func (s StaticResolver) Resolve(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return filepath.Join(s.Root, path)
}

// Exists reports whether path resolves to a regular file.
func (s StaticResolver) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(s.Resolve(path))
	return err == nil && info.Mode().IsRegular()
}
