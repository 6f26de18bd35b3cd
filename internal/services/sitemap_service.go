package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deshtopup/storefront/internal/sitemap"
)

// SitemapServiceDeps wires sitemap generation. Browse is optional; when set its products are
// listed even if they have no catalog document yet.
type SitemapServiceDeps struct {
	Catalog     CatalogService
	Browse      BrowseService
	Generator   *sitemap.Generator
	Writers     []sitemap.Writer
	StaticPaths []string
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
}

type sitemapService struct {
	catalog     CatalogService
	browse      BrowseService
	generator   *sitemap.Generator
	writers     []sitemap.Writer
	staticPaths []string
	now         func() time.Time
	logger      func(context.Context, string, map[string]any)
}

var _ SitemapService = (*sitemapService)(nil)

func NewSitemapService(deps SitemapServiceDeps) (SitemapService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("sitemap service: catalog service is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("sitemap service: generator is required")
	}
	if len(deps.Writers) == 0 {
		return nil, errors.New("sitemap service: at least one writer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &sitemapService{
		catalog:     deps.Catalog,
		browse:      deps.Browse,
		generator:   deps.Generator,
		writers:     deps.Writers,
		staticPaths: deps.StaticPaths,
		now:         func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

// Regenerate fails without writing anything when the catalog cannot be listed, so a backend
// outage never replaces a good sitemap with a partial one.
func (s *sitemapService) Regenerate(ctx context.Context) (SitemapResult, error) {
	products, err := s.catalog.ListPublished(ctx)
	if err != nil {
		return SitemapResult{}, fmt.Errorf("sitemap service: list products: %w", err)
	}

	src := sitemap.Source{StaticPaths: s.staticPaths, Products: products}
	if s.browse != nil {
		for _, cat := range s.browse.Categories(ctx) {
			if cat.Count > 0 {
				src.Categories = append(src.Categories, cat.Key)
			}
		}
		for _, p := range s.browse.Products(ctx) {
			src.BrowseSlugs = append(src.BrowseSlugs, p.Slug)
		}
	}

	entries := s.generator.Entries(src)
	xmlData, err := s.generator.RenderXML(entries)
	if err != nil {
		return SitemapResult{}, err
	}
	robots := s.generator.RenderRobots()

	result := SitemapResult{URLCount: len(entries), GeneratedAt: s.now()}
	for _, w := range s.writers {
		for _, file := range []struct {
			name, contentType string
			data              []byte
		}{
			{sitemap.SitemapFile, "application/xml; charset=utf-8", xmlData},
			{sitemap.RobotsFile, "text/plain; charset=utf-8", robots},
		} {
			loc, err := w.Write(ctx, file.name, file.contentType, file.data)
			if err != nil {
				s.logger(ctx, "sitemap.write.failed", map[string]any{"file": file.name, "error": err})
				return SitemapResult{}, fmt.Errorf("sitemap service: write %s: %w", file.name, err)
			}
			result.Locations = append(result.Locations, loc)
		}
	}

	s.logger(ctx, "sitemap.regenerated", map[string]any{
		"urls":      result.URLCount,
		"products":  len(products),
		"locations": result.Locations,
	})
	return result, nil
}
