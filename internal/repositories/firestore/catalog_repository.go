package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/deshtopup/storefront/internal/domain"
	pfirestore "github.com/deshtopup/storefront/internal/platform/firestore"
	"github.com/deshtopup/storefront/internal/repositories"
)

const (
	defaultCatalogCollection = "products"
	defaultCatalogPageSize   = 24
	maxCatalogPageSize       = 100
)

// CatalogRepository reads product documents. Documents are loosely typed because they are
// edited by hand in the console, so each one is decoded as a field map and normalized.
type CatalogRepository struct {
	products *pfirestore.BaseRepository[map[string]any]
}

func NewCatalogRepository(provider *pfirestore.Provider, collection string) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultCatalogCollection
	}
	return &CatalogRepository{
		products: pfirestore.NewBaseRepository[map[string]any](provider, collection, nil, pfirestore.MapDecoder()),
	}, nil
}

// FindByTitle matches the stored title exactly, then falls back to the legacy "name" field.
func (r *CatalogRepository) FindByTitle(ctx context.Context, title string) (domain.Product, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Product{}, pfirestore.NotFoundError(r.op("find_by_title"), errors.New("title is required"))
	}
	doc, err := r.products.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("title", "==", title)
	})
	if isNotFound(err) {
		doc, err = r.products.First(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("name", "==", title)
		})
	}
	if err != nil {
		return domain.Product{}, err
	}
	return productFromDocument(doc), nil
}

func (r *CatalogRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if slug == "" {
		return domain.Product{}, pfirestore.NotFoundError(r.op("find_by_slug"), errors.New("slug is required"))
	}
	doc, err := r.products.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return productFromDocument(doc), nil
}

// ListByCategory returns published products of a category. Unpublished documents are
// filtered after the read since older documents lack the field entirely.
func (r *CatalogRepository) ListByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error) {
	category = strings.TrimSpace(category)
	if category == "" || limit <= 0 {
		return []domain.Product{}, nil
	}
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("category", "==", category).Limit(limit * 2)
	})
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, limit)
	for _, doc := range docs {
		product := productFromDocument(doc)
		if !product.Published {
			continue
		}
		products = append(products, product)
		if len(products) == limit {
			break
		}
	}
	return products, nil
}

// ListPublished pages through the collection in document ID order. The page token is the last
// document ID of the previous page.
func (r *CatalogRepository) ListPublished(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	limit := pager.PageSize
	switch {
	case limit <= 0:
		limit = defaultCatalogPageSize
	case limit > maxCatalogPageSize:
		limit = maxCatalogPageSize
	}

	var startAfter string
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil || len(decoded) == 0 {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("%s: invalid page token", r.op("list"))
		}
		startAfter = string(decoded)
	}

	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if startAfter != "" {
			q = q.StartAfter(startAfter)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	nextToken := ""
	if len(docs) > limit {
		docs = docs[:limit]
		nextToken = base64.RawURLEncoding.EncodeToString([]byte(docs[len(docs)-1].ID))
	}

	items := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		if product := productFromDocument(doc); product.Published {
			items = append(items, product)
		}
	}
	return domain.CursorPage[domain.Product]{Items: items, NextPageToken: nextToken}, nil
}

func (r *CatalogRepository) op(action string) string {
	return r.products.Collection() + "." + action
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
