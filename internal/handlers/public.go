package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/deshtopup/storefront/internal/browse"
	"github.com/deshtopup/storefront/internal/platform/httpx"
	"github.com/deshtopup/storefront/internal/platform/pagination"
	"github.com/deshtopup/storefront/internal/services"
)

const (
	catalogDegradedHeader = "X-Catalog-Degraded"
	publicCacheControl    = "public, max-age=300"
	maxBrowsePageSize     = 96
)

// PublicHandlers serves unauthenticated catalog and browse endpoints.
type PublicHandlers struct {
	catalog services.CatalogService
	browse  services.BrowseService
}

func NewPublicHandlers(catalog services.CatalogService, browse services.BrowseService) *PublicHandlers {
	return &PublicHandlers{catalog: catalog, browse: browse}
}

// Routes wires the /public endpoints onto the provided router.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.productByTitle)
	r.Get("/products/{slug}", h.productBySlug)
	r.Get("/browse", h.browseProducts)
	r.Get("/categories", h.listCategories)
}

func (h *PublicHandlers) productByTitle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", "title is required", http.StatusBadRequest))
		return
	}
	page, err := h.catalog.ProductPage(ctx, title)
	writeProductPage(ctx, w, page, err)
}

func (h *PublicHandlers) productBySlug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	page, err := h.catalog.ProductPageBySlug(ctx, chi.URLParam(r, "slug"))
	writeProductPage(ctx, w, page, err)
}

// writeProductPage answers degraded pages with 200 and an empty body shape so the storefront
// still renders its skeleton.
func writeProductPage(ctx context.Context, w http.ResponseWriter, page services.ProductPage, err error) {
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCatalogInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_query", "product title or slug is required", http.StatusBadRequest))
		case errors.Is(err, services.ErrCatalogNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			httpx.WriteError(ctx, w, httpx.NewError("catalog_timeout", "catalog request was cancelled", http.StatusGatewayTimeout))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		}
		return
	}

	if page.Degraded {
		w.Header().Set(catalogDegradedHeader, "true")
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", publicCacheControl)
	}
	writeJSONResponse(w, http.StatusOK, buildProductPagePayload(page))
}

func (h *PublicHandlers) browseProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.browse == nil {
		httpx.WriteError(ctx, w, httpx.NewError("browse_unavailable", "browse service is unavailable", http.StatusServiceUnavailable))
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{
		MaxPageSize:        maxBrowsePageSize,
		AllowedOrderFields: browse.OrderFields,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	result, err := h.browse.Browse(ctx, services.BrowseFilter{
		Category: query.Get("category"),
		Bucket:   query.Get("price"),
		Query:    query.Get("q"),
		Page:     params,
	})
	if err != nil {
		if errors.Is(err, services.ErrBrowseInvalidFilter) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_query", "unknown price filter", http.StatusBadRequest).
				WithDetails(map[string]any{"allowed_prices": bucketKeys(h.browse.Buckets())}))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("browse_error", "failed to browse products", http.StatusInternalServerError))
		return
	}

	items := make([]browseProductPayload, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, buildBrowseProductPayload(item))
	}
	w.Header().Set("Cache-Control", publicCacheControl)
	writeJSONResponse(w, http.StatusOK, browseResponse{
		Products:      items,
		Total:         result.Total,
		NextPageToken: result.NextPageToken,
	})
}

func (h *PublicHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.browse == nil {
		httpx.WriteError(ctx, w, httpx.NewError("browse_unavailable", "browse service is unavailable", http.StatusServiceUnavailable))
		return
	}
	categories := h.browse.Categories(ctx)
	resp := categoriesResponse{
		Categories:   make([]categoryPayload, 0, len(categories)),
		PriceBuckets: []priceBucketPayload{},
	}
	for _, c := range categories {
		resp.Categories = append(resp.Categories, categoryPayload{Key: c.Key, Label: c.Label, Count: c.Count})
	}
	for _, b := range h.browse.Buckets() {
		payload := priceBucketPayload{Key: b.Key, Label: b.Label, Min: newAmount(b.Min)}
		if !b.Max.IsZero() {
			max := newAmount(b.Max)
			payload.Max = &max
		}
		resp.PriceBuckets = append(resp.PriceBuckets, payload)
	}
	w.Header().Set("Cache-Control", publicCacheControl)
	writeJSONResponse(w, http.StatusOK, resp)
}

func bucketKeys(buckets []services.PriceBucket) []string {
	keys := make([]string, 0, len(buckets)+1)
	keys = append(keys, "all")
	for _, b := range buckets {
		keys = append(keys, b.Key)
	}
	return keys
}

func buildProductPagePayload(page services.ProductPage) productPageResponse {
	resp := productPageResponse{
		PriceList: make([]priceListItemPayload, 0, len(page.PriceList)),
		Similar:   make([]productSummaryPayload, 0, len(page.Similar)),
		Degraded:  page.Degraded,
	}
	if !page.Empty() {
		product := buildProductPayload(page.Product)
		resp.Product = &product
	}
	for _, item := range page.PriceList {
		resp.PriceList = append(resp.PriceList, priceListItemPayload{
			Label: item.Label,
			Price:        newAmount(item.Price),
			PriceDisplay: displayAmount(item.Price),
			Hot:          item.Hot,
			Type:         item.Type,
		})
	}
	for _, similar := range page.Similar {
		resp.Similar = append(resp.Similar, productSummaryPayload{
			ID:       similar.ID,
			Title:    similar.Title,
			Slug:     similar.Slug,
			Image:    similar.Image,
			MinPrice:        newAmount(similar.MinPrice()),
			MinPriceDisplay: displayAmount(similar.MinPrice()),
		})
	}
	return resp
}

func buildProductPayload(p services.Product) productPayload {
	return productPayload{
		ID:          p.ID,
		Title:       p.Title,
		Slug:        p.Slug,
		Category:    p.Category,
		Image:       p.Image,
		Description: p.Description,
		Tags:        p.Tags,
		Region:      p.Region,
		Platform:    p.Platform,
		MinPrice:        newAmount(p.MinPrice()),
		MinPriceDisplay: displayAmount(p.MinPrice()),
		UpdatedAt:       formatTime(p.UpdatedAt),
	}
}

func buildBrowseProductPayload(p services.BrowseProduct) browseProductPayload {
	return browseProductPayload{
		ID:       p.ID,
		Name:     p.Name,
		Slug:     p.Slug,
		Category: p.Category,
		Image:    p.Image,
		Price:        newAmount(p.Price),
		PriceDisplay: displayAmount(p.Price),
		Badge:        p.Badge,
	}
}

type productPageResponse struct {
	Product   *productPayload         `json:"product"`
	PriceList []priceListItemPayload  `json:"price_list"`
	Similar   []productSummaryPayload `json:"similar"`
	Degraded  bool                    `json:"degraded,omitempty"`
}

type productPayload struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	Category        string   `json:"category,omitempty"`
	Image           string   `json:"image,omitempty"`
	Description     string   `json:"description,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Region          string   `json:"region,omitempty"`
	Platform        string   `json:"platform,omitempty"`
	MinPrice        amount   `json:"min_price"`
	MinPriceDisplay string   `json:"min_price_display"`
	UpdatedAt       string   `json:"updated_at,omitempty"`
}

type priceListItemPayload struct {
	Label        string `json:"label"`
	Price        amount `json:"price"`
	PriceDisplay string `json:"price_display"`
	Hot          bool   `json:"hot"`
	Type         string `json:"type,omitempty"`
}

type productSummaryPayload struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Slug            string `json:"slug"`
	Image           string `json:"image,omitempty"`
	MinPrice        amount `json:"min_price"`
	MinPriceDisplay string `json:"min_price_display"`
}

type browseResponse struct {
	Products      []browseProductPayload `json:"products"`
	Total         int                    `json:"total"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

type browseProductPayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Category     string `json:"category"`
	Image        string `json:"image,omitempty"`
	Price        amount `json:"price"`
	PriceDisplay string `json:"price_display"`
	Badge        string `json:"badge,omitempty"`
}

type categoriesResponse struct {
	Categories   []categoryPayload    `json:"categories"`
	PriceBuckets []priceBucketPayload `json:"price_buckets"`
}

type categoryPayload struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

type priceBucketPayload struct {
	Key   string           `json:"key"`
	Label string           `json:"label"`
	Min   amount  `json:"min"`
	Max   *amount `json:"max,omitempty"`
}
