package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deshtopup/storefront/internal/domain"
	"github.com/deshtopup/storefront/internal/platform/pagination"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Product         = domain.Product
	ProductPage     = domain.ProductPage
	PriceListItem   = domain.PriceListItem
	BrowseProduct   = domain.BrowseProduct
	PriceBucket     = domain.PriceBucket
	CategorySummary = domain.CategorySummary
	Cart            = domain.Cart
	CartItem        = domain.CartItem
	SitemapEntry    = domain.SitemapEntry
	HealthReport    = domain.HealthReport
)

// CatalogService serves product detail pages. Read failures never surface to the shopper: the
// page is returned empty with Degraded set. ErrCatalogNotFound is the only error a caller needs
// to handle.
type CatalogService interface {
	ProductPage(ctx context.Context, title string) (ProductPage, error)
	ProductPageBySlug(ctx context.Context, slug string) (ProductPage, error)
	Similar(ctx context.Context, product Product, limit int) []Product
	// ListPublished walks every published product; used by sitemap generation, so failures
	// are returned rather than degraded.
	ListPublished(ctx context.Context) ([]Product, error)
}

// BrowseService filters the static browse list.
type BrowseService interface {
	Browse(ctx context.Context, filter BrowseFilter) (BrowseResult, error)
	Categories(ctx context.Context) []CategorySummary
	Buckets() []PriceBucket
	Products(ctx context.Context) []BrowseProduct
}

type BrowseFilter struct {
	Category string
	Bucket   string
	Query    string
	Page     pagination.Params
}

type BrowseResult struct {
	Items         []BrowseProduct
	Total         int
	NextPageToken string
}

// CartService manages one cart per owner key ("user:<uid>" or "guest:<id>").
type CartService interface {
	Get(ctx context.Context, ownerKey string) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, ownerKey, itemID string) (CartView, error)
	Clear(ctx context.Context, ownerKey string) error
	// MergeGuest folds the guest cart into the user's cart using the add rule and deletes the
	// guest cart.
	MergeGuest(ctx context.Context, guestKey, userKey string) (CartView, error)
}

// CartView is a cart with derived totals.
type CartView struct {
	Cart      Cart
	Subtotal  decimal.Decimal
	ItemCount int
}

type AddCartItemCommand struct {
	OwnerKey     string            `validate:"required,max=160"`
	ProductName  string            `validate:"required,max=200"`
	ProductImage string            `validate:"omitempty,max=2048"`
	Label        string            `validate:"max=200"`
	Price        decimal.Decimal   `validate:"-"`
	Quantity     int               `validate:"gte=1,lte=99"`
	ProductType  string            `validate:"omitempty,max=60"`
	GameInfo     map[string]string `validate:"omitempty,max=10,dive,keys,max=60,endkeys,max=200"`
}

// UpdateCartItemCommand sets an absolute quantity. Zero or below removes the line.
type UpdateCartItemCommand struct {
	OwnerKey string `validate:"required,max=160"`
	ItemID   string `validate:"required,max=64"`
	Quantity int    `validate:"lte=99"`
}

// CartEvent describes a cart mutation for downstream consumers (analytics, abandoned cart
// reminders).
type CartEvent struct {
	Type        string    `json:"type"`
	OwnerKey    string    `json:"ownerKey"`
	ItemID      string    `json:"itemId,omitempty"`
	ProductName string    `json:"productName,omitempty"`
	Label       string    `json:"label,omitempty"`
	Quantity    int       `json:"quantity"`
	ItemCount   int       `json:"itemCount"`
	Subtotal    float64   `json:"subtotal"`
	OccurredAt  time.Time `json:"occurredAt"`
}

const (
	CartEventItemAdded   = "cart.item_added"
	CartEventItemUpdated = "cart.item_updated"
	CartEventItemRemoved = "cart.item_removed"
	CartEventCleared     = "cart.cleared"
	CartEventMerged      = "cart.merged"
)

// CartEventPublisher delivers cart events. Publishing is best effort; failures are logged.
type CartEventPublisher interface {
	PublishCartEvent(ctx context.Context, event CartEvent) error
}

// SitemapService regenerates sitemap.xml and robots.txt.
type SitemapService interface {
	Regenerate(ctx context.Context) (SitemapResult, error)
}

type SitemapResult struct {
	URLCount    int
	Locations   []string
	GeneratedAt time.Time
}

// SystemService backs the readiness endpoint.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}
