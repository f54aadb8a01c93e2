package chat

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 760px; margin: 2rem auto; padding: 0 1rem; color: #1a1a2e; }
h1 { border-bottom: 2px solid #e0e0e0; padding-bottom: .4rem; }
pre { background: #f4f4f8; padding: 1rem; overflow-x: auto; border-radius: 4px; }
code { background: #f4f4f8; padding: .1rem .3rem; border-radius: 3px; }
table { border-collapse: collapse; } td, th { border: 1px solid #ccc; padding: .3rem .6rem; }
footer { margin-top: 3rem; font-size: .8rem; color: #888; border-top: 1px solid #e0e0e0; padding-top: .5rem; }
</style>
</head>
<body>
<h1>%s</h1>
%s
<footer>Generated %s from instance %s</footer>
</body>
</html>
`

// PageGenerator renders Markdown chat artifacts to sanitized HTML files
// under a single pages directory.
type PageGenerator struct {
	dir       string
	markdown  goldmark.Markdown
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

func NewPageGenerator(dir string) (*PageGenerator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pages dir: %w", err)
	}
	return &PageGenerator{
		dir:       dir,
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		sanitizer: bluemonday.UGCPolicy(),
		now:       time.Now,
	}, nil
}

// Dir returns the pages directory.
func (g *PageGenerator) Dir() string { return g.dir }

// Slugify normalizes a title to [a-z0-9-], collapsing runs and trimming to
// 80 characters.
func Slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 80 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// Generate renders markdown content to an HTML page and returns the slug it
// was stored under. Slug collisions get a numeric suffix.
func (g *PageGenerator) Generate(title, markdown, instanceName string) (string, error) {
	slug := Slugify(title)
	if slug == "" {
		return "", fmt.Errorf("title %q produces an empty slug", title)
	}

	var rendered bytes.Buffer
	if err := g.markdown.Convert([]byte(markdown), &rendered); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	body := g.sanitizer.SanitizeBytes(rendered.Bytes())

	now := g.now()
	page := fmt.Sprintf(pageTemplate,
		html.EscapeString(title),
		html.EscapeString(title),
		body,
		now.Format("2006-01-02 15:04:05"),
		html.EscapeString(instanceName),
	)

	final := slug
	for n := 1; ; n++ {
		path := filepath.Join(g.dir, final+".html")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		final = fmt.Sprintf("%s-%d", slug, n)
	}

	if err := os.WriteFile(filepath.Join(g.dir, final+".html"), []byte(page), 0o644); err != nil {
		return "", fmt.Errorf("write page: %w", err)
	}
	return final, nil
}

// Read returns the HTML behind a slug. Slugs with path separators or dots
// are refused before touching the filesystem.
func (g *PageGenerator) Read(slug string) ([]byte, error) {
	if !validSlug(slug) {
		return nil, fmt.Errorf("invalid slug %q", slug)
	}
	return os.ReadFile(filepath.Join(g.dir, slug+".html"))
}

func validSlug(slug string) bool {
	if slug == "" {
		return false
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}
