package textutil

import (
	"bytes"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownOnce     sync.Once
	markdownRenderer goldmark.Markdown
	descriptionPol   *bluemonday.Policy
)

func initMarkdown() {
	markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))
	descriptionPol = bluemonday.UGCPolicy()
	descriptionPol.AllowAttrs("class").OnElements("span", "p")
	descriptionPol.AllowAttrs("loading").OnElements("img")
	descriptionPol.RequireNoFollowOnLinks(true)
	descriptionPol.AddTargetBlankToFullyQualifiedLinks(true)
}

// RenderDescription converts a product description (Markdown or HTML) to sanitized HTML.
// goldmark passes raw HTML through only when unsafe rendering is on, so HTML descriptions are
// sanitized directly instead of rendered.
func RenderDescription(source string) string {
	markdownOnce.Do(initMarkdown)
	source = strings.TrimSpace(source)
	if source == "" {
		return ""
	}
	if looksLikeHTML(source) {
		return strings.TrimSpace(descriptionPol.Sanitize(source))
	}
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(source), &buf); err != nil {
		return strings.TrimSpace(descriptionPol.Sanitize(source))
	}
	return strings.TrimSpace(string(descriptionPol.SanitizeBytes(buf.Bytes())))
}

func looksLikeHTML(s string) bool {
	return strings.HasPrefix(s, "<") && strings.Contains(s, ">")
}
