package browse

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/deshtopup/storefront/internal/domain"
	"github.com/deshtopup/storefront/internal/platform/pagination"
)

// ErrUnknownBucket is returned when the price filter names no known bucket.
var ErrUnknownBucket = errors.New("browse: unknown price bucket")

// OrderFields are the orderBy fields Browse accepts.
var OrderFields = []string{"price", "name"}

var buckets = []domain.PriceBucket{
	{Key: "under-500", Label: "Under ৳500", Min: decimal.Zero, Max: decimal.NewFromInt(500)},
	{Key: "500-1000", Label: "৳500 - ৳1,000", Min: decimal.NewFromInt(500), Max: decimal.NewFromInt(1000)},
	{Key: "1000-2000", Label: "৳1,000 - ৳2,000", Min: decimal.NewFromInt(1000), Max: decimal.NewFromInt(2000)},
	{Key: "over-2000", Label: "Over ৳2,000", Min: decimal.NewFromInt(2000)},
}

// Buckets returns the price buckets in ascending order.
func Buckets() []domain.PriceBucket {
	out := make([]domain.PriceBucket, len(buckets))
	copy(out, buckets)
	return out
}

// BucketByKey looks up a bucket; "all" and "" are not buckets.
func BucketByKey(key string) (domain.PriceBucket, bool) {
	key = normalizeKey(key)
	for _, b := range buckets {
		if b.Key == key {
			return b, true
		}
	}
	return domain.PriceBucket{}, false
}

// Filter narrows the browse list. Empty fields, and the value "all", match everything.
type Filter struct {
	Category string
	Bucket   string
	Query    string
	Page     pagination.Params
}

type Result struct {
	Items         []domain.BrowseProduct
	Total         int
	NextPageToken string
}

// Browse filters, sorts and pages the catalog. Without an explicit order products keep file
// order, which is the merchandised order.
func (c *Catalog) Browse(filter Filter) (Result, error) {
	category := normalizeKey(filter.Category)
	if category == "all" {
		category = ""
	}

	var bucket *domain.PriceBucket
	if key := normalizeKey(filter.Bucket); key != "" && key != "all" {
		b, ok := BucketByKey(key)
		if !ok {
			return Result{}, fmt.Errorf("%w: %q", ErrUnknownBucket, filter.Bucket)
		}
		bucket = &b
	}
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	matched := make([]domain.BrowseProduct, 0, len(c.products))
	for _, p := range c.products {
		if category != "" && p.Category != category {
			continue
		}
		if bucket != nil && !bucket.Contains(p.Price) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) {
			continue
		}
		matched = append(matched, p)
	}

	sortProducts(matched, filter.Page.Orders)

	start, end := filter.Page.Window(len(matched))
	return Result{
		Items:         matched[start:end],
		Total:         len(matched),
		NextPageToken: pagination.NextToken(end, len(matched)),
	}, nil
}

func sortProducts(products []domain.BrowseProduct, orders []pagination.Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(products, func(i, j int) bool {
		for _, order := range orders {
			cmp := compareField(products[i], products[j], order.Field)
			if cmp == 0 {
				continue
			}
			if order.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareField(a, b domain.BrowseProduct, field string) int {
	switch field {
	case "price":
		return a.Price.Cmp(b.Price)
	case "name":
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	default:
		return 0
	}
}
