// Package sitemap renders sitemap.xml and robots.txt for the public site.
package sitemap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/deshtopup/storefront/internal/domain"
)

const (
	sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"
	// MaxURLs is the protocol limit for a single urlset file.
	MaxURLs = 50000

	SitemapFile = "sitemap.xml"
	RobotsFile  = "robots.txt"
)

// DefaultStaticPaths are always listed. The cart is excluded since robots.txt disallows it.
var DefaultStaticPaths = []string{"/", "/browse", "/about", "/contact", "/privacy-policy", "/terms", "/refund-policy"}

// DisallowedPaths are listed in robots.txt.
var DisallowedPaths = []string{"/cart", "/checkout", "/api/"}

var ErrTooManyURLs = errors.New("sitemap: url count exceeds protocol limit")

// Source is the input of one generation run.
type Source struct {
	StaticPaths []string
	Categories  []string
	Products    []domain.Product
	// Extra product slugs from the static browse list that may not exist in the database.
	BrowseSlugs []string
}

type Generator struct {
	baseURL *url.URL
	now     func() time.Time
}

func NewGenerator(baseURL string, now func() time.Time) (*Generator, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("sitemap: base url must be absolute, got %q", baseURL)
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{baseURL: parsed, now: now}, nil
}

// Entries builds the url list: static pages first, then categories, then products sorted by
// path. Paths are deduplicated; the first occurrence wins.
func (g *Generator) Entries(src Source) []domain.SitemapEntry {
	now := g.now().UTC()
	seen := make(map[string]bool)
	var entries []domain.SitemapEntry
	add := func(entry domain.SitemapEntry) {
		if entry.Path == "" || seen[entry.Path] {
			return
		}
		seen[entry.Path] = true
		entries = append(entries, entry)
	}

	static := src.StaticPaths
	if len(static) == 0 {
		static = DefaultStaticPaths
	}
	for _, p := range static {
		priority := 0.5
		freq := "monthly"
		if p = cleanPath(p); p == "/" {
			priority, freq = 1.0, "daily"
		} else if p == "/browse" {
			priority, freq = 0.8, "daily"
		}
		add(domain.SitemapEntry{Path: p, LastMod: now, ChangeFreq: freq, Priority: priority})
	}

	categories := append([]string(nil), src.Categories...)
	sort.Strings(categories)
	for _, key := range categories {
		if key = strings.TrimSpace(key); key != "" {
			add(domain.SitemapEntry{Path: "/category/" + strings.ToLower(key), LastMod: now, ChangeFreq: "weekly", Priority: 0.7})
		}
	}

	var products []domain.SitemapEntry
	for _, product := range src.Products {
		if !product.Published || product.Slug == "" {
			continue
		}
		lastMod := product.UpdatedAt
		if lastMod.IsZero() {
			lastMod = now
		}
		products = append(products, domain.SitemapEntry{Path: productPath(product.Slug), LastMod: lastMod.UTC(), ChangeFreq: "weekly", Priority: 0.9})
	}
	for _, slug := range src.BrowseSlugs {
		if slug = strings.TrimSpace(slug); slug != "" {
			products = append(products, domain.SitemapEntry{Path: productPath(slug), LastMod: now, ChangeFreq: "weekly", Priority: 0.9})
		}
	}
	// stable so database entries keep precedence over browse slugs for the same path
	sort.SliceStable(products, func(i, j int) bool { return products[i].Path < products[j].Path })
	for _, entry := range products {
		add(entry)
	}
	return entries
}

type urlSetXML struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	Items   []urlItemXML `xml:"url"`
}

type urlItemXML struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// RenderXML encodes entries as a urlset document.
func (g *Generator) RenderXML(entries []domain.SitemapEntry) ([]byte, error) {
	if len(entries) > MaxURLs {
		return nil, fmt.Errorf("%w: %d", ErrTooManyURLs, len(entries))
	}
	set := urlSetXML{Xmlns: sitemapNamespace, Items: make([]urlItemXML, 0, len(entries))}
	for _, entry := range entries {
		item := urlItemXML{Loc: g.absolute(entry.Path), ChangeFreq: entry.ChangeFreq}
		if !entry.LastMod.IsZero() {
			item.LastMod = entry.LastMod.UTC().Format("2006-01-02")
		}
		if entry.Priority > 0 {
			item.Priority = strconv.FormatFloat(entry.Priority, 'f', 1, 64)
		}
		set.Items = append(set.Items, item)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return nil, fmt.Errorf("sitemap: encode: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RenderRobots allows everything except the private paths and points crawlers at the sitemap.
func (g *Generator) RenderRobots() []byte {
	var b strings.Builder
	b.WriteString("User-agent: *\n")
	b.WriteString("Allow: /\n")
	for _, p := range DisallowedPaths {
		b.WriteString("Disallow: " + p + "\n")
	}
	b.WriteString("\nSitemap: " + g.absolute("/"+SitemapFile) + "\n")
	return []byte(b.String())
}

func (g *Generator) absolute(p string) string {
	u := *g.baseURL
	u.Path = strings.TrimRight(g.baseURL.Path, "/") + p
	u.RawPath = ""
	return u.String()
}

func productPath(slug string) string {
	return "/product/" + strings.ToLower(slug)
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
