package firestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/deshtopup/storefront/internal/domain"
	pfirestore "github.com/deshtopup/storefront/internal/platform/firestore"
	"github.com/deshtopup/storefront/internal/platform/textutil"
	"github.com/deshtopup/storefront/internal/pricelist"
)

func productFromDocument(doc pfirestore.Document[map[string]any]) domain.Product {
	product := decodeProduct(doc.ID, doc.Data)
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = doc.UpdateTime.UTC()
	}
	return product
}

// decodeProduct maps a raw product document. Field names accumulated several spellings over
// time; the first non-empty one wins.
func decodeProduct(id string, data map[string]any) domain.Product {
	title := firstString(data, "title", "name")
	slug := strings.ToLower(firstString(data, "slug"))
	if slug == "" {
		slug = textutil.Slugify(title)
	}

	published := true
	if raw, ok := data["published"]; ok && raw != nil {
		published = pricelist.CoerceBool(raw)
	}

	var rawPrices any
	for _, key := range []string{"priceList", "price_list", "prices"} {
		if v, ok := data[key]; ok && v != nil {
			rawPrices = v
			break
		}
	}

	product := domain.Product{
		ID:          id,
		Title:       title,
		Slug:        slug,
		Category:    firstString(data, "category"),
		Image:       firstString(data, "image", "imageUrl", "img"),
		Description: textutil.RenderDescription(firstString(data, "description")),
		Tags:        stringSlice(data["tags"]),
		Region:      firstString(data, "region"),
		Platform:    firstString(data, "platform"),
		Published:   published,
		PriceList:   pricelist.Normalize(rawPrices),
	}
	if ts, ok := data["updatedAt"].(time.Time); ok {
		product.UpdatedAt = ts.UTC()
	}
	return product
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := data[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case nil:
		default:
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringSlice(raw any) []string {
	var out []string
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
