package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// CursorPage is a page of results plus the token for the next page, empty on the last page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// PriceListItem is one sellable variant of a product (e.g. "100 Diamonds").
// Price is in BDT.
type PriceListItem struct {
	Label string
	Price decimal.Decimal
	Hot   bool
	Type  string
}

// Product is a catalog document after normalization.
type Product struct {
	ID          string
	Title       string
	Slug        string
	Category    string
	Image       string
	Description string
	Tags        []string
	Region      string
	Platform    string
	Published   bool
	PriceList   []PriceListItem
	UpdatedAt   time.Time
}

// MinPrice returns the cheapest variant price, or zero for an empty price list.
func (p Product) MinPrice() decimal.Decimal {
	if len(p.PriceList) == 0 {
		return decimal.Zero
	}
	min := p.PriceList[0].Price
	for _, item := range p.PriceList[1:] {
		if item.Price.LessThan(min) {
			min = item.Price
		}
	}
	return min
}

// ProductPage is the payload shared by every product detail page.
type ProductPage struct {
	Product   Product
	PriceList []PriceListItem
	Similar   []Product
	// Degraded is set when the backend failed and the page is an empty fallback.
	Degraded bool
}

// Empty reports whether the page carries no product.
func (p ProductPage) Empty() bool { return p.Product.ID == "" && p.Product.Title == "" }

// BrowseProduct is an entry of the static browse list.
type BrowseProduct struct {
	ID       string
	Name     string
	Slug     string
	Category string
	Image    string
	Price    decimal.Decimal
	Badge    string
}

// PriceBucket is a named price range used to filter the browse list. Max is exclusive; a zero
// Max means unbounded.
type PriceBucket struct {
	Key   string
	Label string
	Min   decimal.Decimal
	Max   decimal.Decimal
}

// Contains reports whether price falls within the bucket.
func (b PriceBucket) Contains(price decimal.Decimal) bool {
	if price.LessThan(b.Min) {
		return false
	}
	if b.Max.IsZero() {
		return true
	}
	return price.LessThan(b.Max)
}

// CategorySummary is a category with the number of products in it.
type CategorySummary struct {
	Key   string
	Label string
	Count int
}

// CartItem is one line in the shopping cart.
type CartItem struct {
	ID           string
	ProductName  string
	ProductImage string
	Label        string
	Price        decimal.Decimal
	Quantity     int
	ProductType  string
	GameInfo     map[string]string
}

// MergeKey identifies the line an added item merges into: product name and variant label,
// trimmed and case-folded.
func (i CartItem) MergeKey() string {
	return strings.ToLower(strings.TrimSpace(i.ProductName)) + "\x00" + strings.ToLower(strings.TrimSpace(i.Label))
}

// LineTotal is price times quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the full persisted cart of one owner.
type Cart struct {
	OwnerKey  string
	Items     []CartItem
	UpdatedAt time.Time
}

// Subtotal sums every line total.
func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// ItemCount sums quantities across lines.
func (c Cart) ItemCount() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// SitemapEntry is one <url> of the generated sitemap.
type SitemapEntry struct {
	Path       string
	LastMod    time.Time
	ChangeFreq string
	Priority   float64
}

// HealthStatus is the outcome of a readiness probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// HealthCheck is the result of probing one dependency.
type HealthCheck struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency checks. Status is the worst of its checks.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
