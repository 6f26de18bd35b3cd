package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/deshtopup/storefront/internal/browse"
	"github.com/deshtopup/storefront/internal/services"
)

type stubCatalogService struct {
	byTitle func(ctx context.Context, title string) (services.ProductPage, error)
	bySlug  func(ctx context.Context, slug string) (services.ProductPage, error)
}

func (s *stubCatalogService) ProductPage(ctx context.Context, title string) (services.ProductPage, error) {
	if s.byTitle != nil {
		return s.byTitle(ctx, title)
	}
	return services.ProductPage{}, services.ErrCatalogNotFound
}

func (s *stubCatalogService) ProductPageBySlug(ctx context.Context, slug string) (services.ProductPage, error) {
	if s.bySlug != nil {
		return s.bySlug(ctx, slug)
	}
	return services.ProductPage{}, services.ErrCatalogNotFound
}

func (s *stubCatalogService) Similar(context.Context, services.Product, int) []services.Product {
	return []services.Product{}
}

func (s *stubCatalogService) ListPublished(context.Context) ([]services.Product, error) {
	return nil, nil
}

var _ services.CatalogService = (*stubCatalogService)(nil)

const testBrowseYAML = `
categories:
  - key: game-topup
    label: Game Top-up
  - key: gift-card
    label: Gift Cards
products:
  - id: ff
    name: Free Fire Diamonds
    category: game-topup
    price: 85
  - id: pubg
    name: PUBG Mobile UC
    category: game-topup
    price: "৳৯৫"
  - id: steam
    name: Steam Wallet
    category: gift-card
    price: "1,450 tk"
`

func newPublicRouter(t *testing.T, catalog services.CatalogService) http.Handler {
	t.Helper()
	cat, err := browse.Parse([]byte(testBrowseYAML))
	if err != nil {
		t.Fatalf("parse browse catalog: %v", err)
	}
	browseSvc, err := services.NewBrowseService(cat)
	if err != nil {
		t.Fatalf("browse service: %v", err)
	}
	return NewRouter(WithPublicRoutes(NewPublicHandlers(catalog, browseSvc).Routes))
}

func freeFirePage() services.ProductPage {
	product := services.Product{
		ID:        "ff",
		Title:     "Free Fire",
		Slug:      "free-fire",
		Category:  "game-topup",
		Published: true,
		PriceList: []services.PriceListItem{
			{Label: "100 Diamonds", Price: decimal.NewFromInt(85), Hot: true},
			{Label: "210 Diamonds", Price: decimal.NewFromInt(165)},
		},
	}
	return services.ProductPage{
		Product:   product,
		PriceList: product.PriceList,
		Similar:   []services.Product{{ID: "pubg", Title: "PUBG Mobile", Slug: "pubg-mobile"}},
	}
}

func TestPublicHandlersProductByTitle(t *testing.T) {
	var gotTitle string
	catalog := &stubCatalogService{
		byTitle: func(_ context.Context, title string) (services.ProductPage, error) {
			gotTitle = title
			return freeFirePage(), nil
		},
	}
	router := newPublicRouter(t, catalog)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/public/products?title=Free+Fire", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotTitle != "Free Fire" {
		t.Fatalf("expected title to be forwarded, got %q", gotTitle)
	}
	if rr.Header().Get(catalogDegradedHeader) != "" {
		t.Fatalf("did not expect degraded header")
	}
	if rr.Header().Get("Cache-Control") != publicCacheControl {
		t.Fatalf("expected public cache control, got %q", rr.Header().Get("Cache-Control"))
	}

	var resp productPageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Product == nil || resp.Product.Slug != "free-fire" || !resp.Product.MinPrice.Equal(decimal.NewFromInt(85)) {
		t.Fatalf("unexpected product %+v", resp.Product)
	}
	if len(resp.PriceList) != 2 || !resp.PriceList[0].Hot || resp.PriceList[1].Label != "210 Diamonds" {
		t.Fatalf("unexpected price list %+v", resp.PriceList)
	}
	if len(resp.Similar) != 1 || resp.Similar[0].Slug != "pubg-mobile" {
		t.Fatalf("unexpected similar %+v", resp.Similar)
	}
}

func TestPublicHandlersProductErrors(t *testing.T) {
	router := newPublicRouter(t, &stubCatalogService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/public/products", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without title, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/public/products/unknown", nil))
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "product_not_found") {
		t.Fatalf("expected product_not_found 404, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestPublicHandlersDegradedPage(t *testing.T) {
	catalog := &stubCatalogService{
		bySlug: func(context.Context, string) (services.ProductPage, error) {
			return services.ProductPage{PriceList: []services.PriceListItem{}, Similar: []services.Product{}, Degraded: true}, nil
		},
	}
	router := newPublicRouter(t, catalog)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/public/products/free-fire", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected degraded page to answer 200, got %d", rr.Code)
	}
	if rr.Header().Get(catalogDegradedHeader) != "true" {
		t.Fatalf("expected degraded header")
	}
	if body := strings.TrimSpace(rr.Body.String()); body != `{"product":null,"price_list":[],"similar":[],"degraded":true}` {
		t.Fatalf("unexpected degraded body %s", body)
	}
}

func TestPublicHandlersBrowse(t *testing.T) {
	router := newPublicRouter(t, &stubCatalogService{})

	cases := []struct {
		name    string
		query   string
		wantIDs []string
		total   int
	}{
		{name: "all", query: "", wantIDs: []string{"ff", "pubg", "steam"}, total: 3},
		{name: "category", query: "category=game-topup", wantIDs: []string{"ff", "pubg"}, total: 2},
		{name: "bucket", query: "price=1000-2000", wantIDs: []string{"steam"}, total: 1},
		{name: "search", query: "q=steam", wantIDs: []string{"steam"}, total: 1},
		{name: "order by price desc", query: "orderBy=price+desc", wantIDs: []string{"steam", "pubg", "ff"}, total: 3},
		{name: "paged", query: "pageSize=2", wantIDs: []string{"ff", "pubg"}, total: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/public/browse?"+tc.query, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			var resp browseResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Total != tc.total {
				t.Fatalf("expected total %d, got %d", tc.total, resp.Total)
			}
			ids := make([]string, 0, len(resp.Products))
			for _, p := range resp.Products {
				ids = append(ids, p.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tc.wantIDs, ",") {
				t.Fatalf("expected %v, got %v", tc.wantIDs, ids)
			}
			if (len(tc.wantIDs) < tc.total) != (resp.NextPageToken != "") {
				t.Fatalf("unexpected next page token %q", resp.NextPageToken)
			}
		})
	}
}

func TestPublicHandlersBrowseInvalidQuery(t *testing.T) {
	router := newPublicRouter(t, &stubCatalogService{})
	for _, query := range []string{"price=cheap", "orderBy=popularity", "pageSize=-1"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/public/browse?"+query, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestPublicHandlersCategories(t *testing.T) {
	router := newPublicRouter(t, &stubCatalogService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/public/categories", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp categoriesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	counts := map[string]int{}
	for _, c := range resp.Categories {
		counts[c.Key] = c.Count
	}
	if counts["game-topup"] != 2 || counts["gift-card"] != 1 {
		t.Fatalf("unexpected category counts %v", counts)
	}
	if len(resp.PriceBuckets) != 4 {
		t.Fatalf("expected 4 price buckets, got %d", len(resp.PriceBuckets))
	}
	last := resp.PriceBuckets[len(resp.PriceBuckets)-1]
	if last.Key != "over-2000" || last.Max != nil {
		t.Fatalf("expected unbounded last bucket, got %+v", last)
	}
}

func TestPublicHandlersPricesAreJSONNumbers(t *testing.T) {
	catalog := &stubCatalogService{
		byTitle: func(context.Context, string) (services.ProductPage, error) {
			page := freeFirePage()
			page.PriceList = append(page.PriceList, services.PriceListItem{Label: "2180 Diamonds", Price: decimal.NewFromInt(1200)})
			return page, nil
		},
	}
	router := newPublicRouter(t, catalog)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/public/products?title=Free+Fire", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	list, ok := body["price_list"].([]any)
	if !ok || len(list) != 3 {
		t.Fatalf("unexpected price_list %v", body["price_list"])
	}
	first := list[0].(map[string]any)
	if price, ok := first["price"].(float64); !ok || price != 85 {
		t.Fatalf("expected numeric price 85, got %T %v", first["price"], first["price"])
	}
	if hot, ok := first["hot"].(bool); !ok || !hot {
		t.Fatalf("expected hot=true, got %v", first["hot"])
	}
	second := list[1].(map[string]any)
	if hot, ok := second["hot"].(bool); !ok || hot {
		t.Fatalf("expected hot=false to be present, got %v", second["hot"])
	}
	last := list[2].(map[string]any)
	if last["price_display"] != "৳1,200" {
		t.Fatalf("expected display ৳1,200, got %v", last["price_display"])
	}

	product := body["product"].(map[string]any)
	if _, ok := product["min_price"].(float64); !ok {
		t.Fatalf("expected numeric min_price, got %T", product["min_price"])
	}
	similar := body["similar"].([]any)[0].(map[string]any)
	if _, ok := similar["min_price"].(float64); !ok {
		t.Fatalf("expected numeric similar min_price, got %T", similar["min_price"])
	}
}

func TestPublicHandlersBrowsePricesAreJSONNumbers(t *testing.T) {
	router := newPublicRouter(t, &stubCatalogService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/public/browse?q=steam", nil))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	steam := body["products"].([]any)[0].(map[string]any)
	if price, ok := steam["price"].(float64); !ok || price != 1450 {
		t.Fatalf("expected numeric price 1450, got %T %v", steam["price"], steam["price"])
	}
	if steam["price_display"] != "৳1,450" {
		t.Fatalf("unexpected display %v", steam["price_display"])
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/public/categories", nil))
	body = nil
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	bucket := body["price_buckets"].([]any)[1].(map[string]any)
	if _, ok := bucket["min"].(float64); !ok {
		t.Fatalf("expected numeric bucket min, got %T", bucket["min"])
	}
	if _, ok := bucket["max"].(float64); !ok {
		t.Fatalf("expected numeric bucket max, got %T", bucket["max"])
	}
}
