package repositories

import (
	"context"

	"github.com/deshtopup/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository reads product documents. Lookups that match nothing return a
// RepositoryError whose IsNotFound is true.
type CatalogRepository interface {
	FindByTitle(ctx context.Context, title string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	// ListByCategory returns published products in category, at most limit of them.
	ListByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error)
	ListPublished(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
}

// CartMutation edits a loaded cart in place. Returning an error aborts the write.
type CartMutation func(cart *domain.Cart) error

// CartRepository persists one cart per owner key. Load of an unknown owner yields an empty
// cart, not an error.
type CartRepository interface {
	Load(ctx context.Context, ownerKey string) (domain.Cart, error)
	// Update runs mutate against the current cart and stores the result. Concurrent updates
	// for the same owner are serialized.
	Update(ctx context.Context, ownerKey string, mutate CartMutation) (domain.Cart, error)
	Delete(ctx context.Context, ownerKey string) error
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
