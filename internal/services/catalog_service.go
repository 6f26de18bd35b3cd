package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deshtopup/storefront/internal/domain"
	"github.com/deshtopup/storefront/internal/platform/cache"
	"github.com/deshtopup/storefront/internal/platform/observability"
	"github.com/deshtopup/storefront/internal/platform/textutil"
	"github.com/deshtopup/storefront/internal/repositories"
)

const (
	defaultSimilarLimit    = 8
	defaultCatalogCacheTTL = 5 * time.Minute
	listPublishedPageSize  = 100
	listPublishedMaxPages  = 200
)

var (
	// ErrCatalogNotFound indicates no published product matches the lookup.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogUnavailable indicates the catalog backend failed.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
	// ErrCatalogInvalidInput indicates a blank title or slug.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog      repositories.CatalogRepository
	Cache        cache.Cache
	CacheTTL     time.Duration
	SimilarLimit int
	Metrics      *observability.Metrics
	Logger       func(context.Context, string, map[string]any)
}

type catalogService struct {
	repo         repositories.CatalogRepository
	cache        cache.Cache
	cacheTTL     time.Duration
	similarLimit int
	metrics      *observability.Metrics
	logger       func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies. The cache
// is optional.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultCatalogCacheTTL
	}
	limit := deps.SimilarLimit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		repo:         deps.Catalog,
		cache:        deps.Cache,
		cacheTTL:     ttl,
		similarLimit: limit,
		metrics:      deps.Metrics,
		logger:       logger,
	}, nil
}

// ProductPage looks a product up by its display title, falling back to the slug derived from
// the title for documents whose title was edited after links were shared.
func (s *catalogService) ProductPage(ctx context.Context, title string) (ProductPage, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return ProductPage{}, ErrCatalogInvalidInput
	}
	product, err := s.cachedProduct(ctx, "title:"+strings.ToLower(title), func(ctx context.Context) (Product, error) {
		product, err := s.repo.FindByTitle(ctx, title)
		if isRepoNotFound(err) {
			if slug := textutil.Slugify(title); slug != "" {
				product, err = s.repo.FindBySlug(ctx, slug)
			}
		}
		return product, err
	})
	return s.page(ctx, "product_page", product, err)
}

func (s *catalogService) ProductPageBySlug(ctx context.Context, slug string) (ProductPage, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return ProductPage{}, ErrCatalogInvalidInput
	}
	product, err := s.cachedProduct(ctx, "slug:"+slug, func(ctx context.Context) (Product, error) {
		return s.repo.FindBySlug(ctx, slug)
	})
	return s.page(ctx, "product_page_by_slug", product, err)
}

func (s *catalogService) page(ctx context.Context, operation string, product Product, err error) (ProductPage, error) {
	if err != nil {
		if isRepoNotFound(err) {
			return ProductPage{}, ErrCatalogNotFound
		}
		if errors.Is(err, context.Canceled) {
			return ProductPage{}, err
		}
		s.degraded(ctx, operation, err)
		return emptyProductPage(), nil
	}
	if !product.Published {
		return ProductPage{}, ErrCatalogNotFound
	}
	return ProductPage{
		Product:   product,
		PriceList: nonNilPriceList(product.PriceList),
		Similar:   s.Similar(ctx, product, s.similarLimit),
	}, nil
}

// Similar returns other published products of the same category. Failures yield an empty list.
func (s *catalogService) Similar(ctx context.Context, product Product, limit int) []Product {
	if limit <= 0 {
		limit = s.similarLimit
	}
	category := strings.TrimSpace(product.Category)
	if category == "" {
		return []Product{}
	}

	// one extra so the product itself can be dropped without shortening the list
	fetch := max(limit, s.similarLimit) + 1
	key := fmt.Sprintf("category:%s:%d", strings.ToLower(category), fetch)
	candidates, err := s.cachedProducts(ctx, key, func(ctx context.Context) ([]Product, error) {
		return s.repo.ListByCategory(ctx, category, fetch)
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.degraded(ctx, "similar", err)
		}
		return []Product{}
	}

	out := make([]Product, 0, limit)
	for _, candidate := range candidates {
		if sameProduct(candidate, product) || !candidate.Published {
			continue
		}
		out = append(out, candidate)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (s *catalogService) ListPublished(ctx context.Context) ([]Product, error) {
	var (
		out   []Product
		token string
	)
	for page := 0; page < listPublishedMaxPages; page++ {
		result, err := s.repo.ListPublished(ctx, domain.Pagination{PageSize: listPublishedPageSize, PageToken: token})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		out = append(out, result.Items...)
		if result.NextPageToken == "" {
			return out, nil
		}
		token = result.NextPageToken
	}
	s.logger(ctx, "catalog.list_published.truncated", map[string]any{"products": len(out)})
	return out, nil
}

func (s *catalogService) cachedProduct(ctx context.Context, key string, load func(context.Context) (Product, error)) (Product, error) {
	var product Product
	if s.cacheGet(ctx, key, &product) {
		return product, nil
	}
	product, err := load(ctx)
	if err != nil {
		return Product{}, err
	}
	s.cacheSet(ctx, key, product)
	return product, nil
}

func (s *catalogService) cachedProducts(ctx context.Context, key string, load func(context.Context) ([]Product, error)) ([]Product, error) {
	var products []Product
	if s.cacheGet(ctx, key, &products) {
		return products, nil
	}
	products, err := load(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, products)
	return products, nil
}

// cacheGet reports a hit only when the payload decodes; cache errors count as misses.
func (s *catalogService) cacheGet(ctx context.Context, key string, target any) bool {
	if s.cache == nil {
		return false
	}
	data, ok, err := s.cache.Get(ctx, "catalog:"+key)
	if err != nil {
		s.logger(ctx, "catalog.cache.error", map[string]any{"key": key, "error": err})
	}
	hit := err == nil && ok && json.Unmarshal(data, target) == nil
	s.metrics.RecordCatalogCache(ctx, hit)
	return hit
}

func (s *catalogService) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, "catalog:"+key, data, s.cacheTTL); err != nil {
		s.logger(ctx, "catalog.cache.error", map[string]any{"key": key, "error": err})
	}
}

func (s *catalogService) degraded(ctx context.Context, operation string, err error) {
	s.metrics.RecordCatalogDegraded(ctx, operation)
	s.logger(ctx, "catalog."+operation+".degraded", map[string]any{"error": err})
}

func emptyProductPage() ProductPage {
	return ProductPage{PriceList: []PriceListItem{}, Similar: []Product{}, Degraded: true}
}

func nonNilPriceList(items []PriceListItem) []PriceListItem {
	if items == nil {
		return []PriceListItem{}
	}
	return items
}

func sameProduct(a, b Product) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return strings.EqualFold(a.Title, b.Title)
}

func isRepoNotFound(err error) bool {
	if err == nil {
		return false
	}
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
