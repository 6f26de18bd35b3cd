// Package browse serves the category browsing page from a static product list. The list is a
// YAML file embedded in the binary and can be replaced at startup with a file on disk.
package browse

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deshtopup/storefront/internal/domain"
	"github.com/deshtopup/storefront/internal/platform/textutil"
	"github.com/deshtopup/storefront/internal/pricelist"
)

//go:embed products.yaml
var defaultProducts []byte

type catalogFile struct {
	Categories []categoryEntry `yaml:"categories"`
	Products   []productEntry  `yaml:"products"`
}

type categoryEntry struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
}

type productEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Slug     string `yaml:"slug"`
	Category string `yaml:"category"`
	Image    string `yaml:"image"`
	Price    any    `yaml:"price"`
	Badge    string `yaml:"badge"`
}

// Catalog is an immutable, validated browse list. It is safe for concurrent use.
type Catalog struct {
	products   []domain.BrowseProduct
	categories []categoryEntry
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultProducts)
}

// LoadFile reads a catalog from path. An empty path yields the embedded catalog.
func LoadFile(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("browse: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("browse: read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document. Products must have a unique id and a name;
// categories referenced by products but not declared are appended with the key as label.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("browse: decode catalog: %w", err)
	}

	c := &Catalog{}
	declared := make(map[string]bool)
	for _, cat := range file.Categories {
		key := normalizeKey(cat.Key)
		if key == "" || declared[key] {
			continue
		}
		declared[key] = true
		label := strings.TrimSpace(cat.Label)
		if label == "" {
			label = key
		}
		c.categories = append(c.categories, categoryEntry{Key: key, Label: label})
	}

	var problems []string
	seen := make(map[string]bool)
	for i, entry := range file.Products {
		id := strings.TrimSpace(entry.ID)
		name := strings.TrimSpace(entry.Name)
		switch {
		case id == "":
			problems = append(problems, fmt.Sprintf("products[%d]: id is required", i))
			continue
		case name == "":
			problems = append(problems, fmt.Sprintf("products[%d]: name is required", i))
			continue
		case seen[id]:
			problems = append(problems, fmt.Sprintf("products[%d]: duplicate id %q", i, id))
			continue
		}
		seen[id] = true

		category := normalizeKey(entry.Category)
		if category != "" && !declared[category] {
			declared[category] = true
			c.categories = append(c.categories, categoryEntry{Key: category, Label: category})
		}
		slug := strings.ToLower(strings.TrimSpace(entry.Slug))
		if slug == "" {
			slug = textutil.Slugify(name)
		}
		c.products = append(c.products, domain.BrowseProduct{
			ID:       id,
			Name:     name,
			Slug:     slug,
			Category: category,
			Image:    strings.TrimSpace(entry.Image),
			Price:    pricelist.CoercePrice(entry.Price),
			Badge:    strings.TrimSpace(entry.Badge),
		})
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("browse: invalid catalog: %w", errors.New(strings.Join(problems, "; ")))
	}
	return c, nil
}

// Products returns a copy of every product in file order.
func (c *Catalog) Products() []domain.BrowseProduct {
	out := make([]domain.BrowseProduct, len(c.products))
	copy(out, c.products)
	return out
}

// Categories lists categories in declaration order with their product counts.
func (c *Catalog) Categories() []domain.CategorySummary {
	counts := make(map[string]int, len(c.categories))
	for _, p := range c.products {
		counts[p.Category]++
	}
	out := make([]domain.CategorySummary, 0, len(c.categories))
	for _, cat := range c.categories {
		out = append(out, domain.CategorySummary{Key: cat.Key, Label: cat.Label, Count: counts[cat.Key]})
	}
	return out
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
