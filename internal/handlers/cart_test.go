package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deshtopup/storefront/internal/platform/auth"
	"github.com/deshtopup/storefront/internal/platform/idempotency"
	"github.com/deshtopup/storefront/internal/services"
)

var cartTestNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type stubCartService struct {
	getFunc    func(ctx context.Context, ownerKey string) (services.CartView, error)
	addFunc    func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error)
	updateFunc func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error)
	removeFunc func(ctx context.Context, ownerKey, itemID string) (services.CartView, error)
	clearFunc  func(ctx context.Context, ownerKey string) error
	mergeFunc  func(ctx context.Context, guestKey, userKey string) (services.CartView, error)
}

func (s *stubCartService) Get(ctx context.Context, ownerKey string) (services.CartView, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, ownerKey)
	}
	return services.CartView{Cart: services.Cart{OwnerKey: ownerKey}}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, ownerKey, itemID string) (services.CartView, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, ownerKey, itemID)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) Clear(ctx context.Context, ownerKey string) error {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, ownerKey)
	}
	return nil
}

func (s *stubCartService) MergeGuest(ctx context.Context, guestKey, userKey string) (services.CartView, error) {
	if s.mergeFunc != nil {
		return s.mergeFunc(ctx, guestKey, userKey)
	}
	return services.CartView{}, nil
}

var _ services.CartService = (*stubCartService)(nil)

func sampleCartView(ownerKey string) services.CartView {
	cart := services.Cart{
		OwnerKey: ownerKey,
		Items: []services.CartItem{{
			ID:          "01HZX",
			ProductName: "Free Fire",
			Label:       "100 Diamonds",
			Price:       decimal.NewFromInt(85),
			Quantity:    2,
			ProductType: "game-topup",
			GameInfo:    map[string]string{"playerId": "123456"},
		}},
		UpdatedAt: cartTestNow,
	}
	return services.CartView{Cart: cart, Subtotal: cart.Subtotal(), ItemCount: cart.ItemCount()}
}

// withTestIdentity stands in for the Firebase middleware.
func withTestIdentity(uid string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UID: uid})))
		})
	}
}

func newCartRouter(h *CartHandlers, mw ...func(http.Handler) http.Handler) http.Handler {
	return NewRouter(WithMiddlewares(mw...), WithCartRoutes(h.Routes))
}

func testGuestTokens() *auth.GuestTokens {
	return auth.NewGuestTokens("test-secret", time.Hour, func() time.Time { return cartTestNow })
}

func TestCartHandlersGetCartForUser(t *testing.T) {
	var gotKey string
	svc := &stubCartService{
		getFunc: func(_ context.Context, ownerKey string) (services.CartView, error) {
			gotKey = ownerKey
			return sampleCartView(ownerKey), nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, nil, svc), withTestIdentity("uid-7"))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotKey != "user:uid-7" {
		t.Fatalf("expected owner key user:uid-7, got %q", gotKey)
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected Cache-Control no-store, got %q", cc)
	}
	if rr.Header().Get("ETag") == "" || rr.Header().Get("Last-Modified") == "" {
		t.Fatalf("expected ETag and Last-Modified headers")
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.Owner != "user" || resp.Cart.ItemCount != 2 || len(resp.Cart.Items) != 1 {
		t.Fatalf("unexpected cart payload %+v", resp.Cart)
	}
	if !resp.Cart.Subtotal.Equal(decimal.NewFromInt(170)) {
		t.Fatalf("expected subtotal 170, got %s", resp.Cart.Subtotal)
	}
	item := resp.Cart.Items[0]
	if !item.LineTotal.Equal(decimal.NewFromInt(170)) || item.GameInfo["playerId"] != "123456" {
		t.Fatalf("unexpected item payload %+v", item)
	}
}

func TestCartHandlersCartAmountsAreJSONNumbers(t *testing.T) {
	svc := &stubCartService{
		getFunc: func(_ context.Context, ownerKey string) (services.CartView, error) {
			return sampleCartView(ownerKey), nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, nil, svc), withTestIdentity("uid-7"))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body map[string]map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	cart := body["cart"]
	if subtotal, ok := cart["subtotal"].(float64); !ok || subtotal != 170 {
		t.Fatalf("expected numeric subtotal 170, got %T %v", cart["subtotal"], cart["subtotal"])
	}
	if cart["subtotal_display"] != "৳170" {
		t.Fatalf("unexpected subtotal display %v", cart["subtotal_display"])
	}
	item := cart["items"].([]any)[0].(map[string]any)
	if price, ok := item["price"].(float64); !ok || price != 85 {
		t.Fatalf("expected numeric price 85, got %T %v", item["price"], item["price"])
	}
	if total, ok := item["line_total"].(float64); !ok || total != 170 {
		t.Fatalf("expected numeric line_total 170, got %T %v", item["line_total"], item["line_total"])
	}
}

func TestCartHandlersRequireOwner(t *testing.T) {
	router := newCartRouter(NewCartHandlers(nil, testGuestTokens(), &stubCartService{}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity or token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(auth.GuestTokenHeader, "not-a-token")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "invalid_guest_token") {
		t.Fatalf("expected invalid_guest_token 401, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersGuestTokenFlow(t *testing.T) {
	var added services.AddCartItemCommand
	svc := &stubCartService{
		addFunc: func(_ context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
			added = cmd
			return sampleCartView(cmd.OwnerKey), nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, testGuestTokens(), svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/cart/guest-token", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 from guest-token, got %d: %s", rr.Code, rr.Body.String())
	}
	var issued guestTokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &issued); err != nil {
		t.Fatalf("decode guest token: %v", err)
	}
	if issued.Token == "" || issued.GuestID == "" || issued.Header != auth.GuestTokenHeader {
		t.Fatalf("unexpected guest token payload %+v", issued)
	}

	body := `{"product_name":" Free Fire ","label":"100 Diamonds","price":"85","game_info":{"playerId":"123456"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
	req.Header.Set(auth.GuestTokenHeader, issued.Token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from add item, got %d: %s", rr.Code, rr.Body.String())
	}
	if added.OwnerKey != "guest:"+issued.GuestID {
		t.Fatalf("expected guest owner key, got %q", added.OwnerKey)
	}
	if added.ProductName != "Free Fire" || added.Quantity != 1 || !added.Price.Equal(decimal.NewFromInt(85)) {
		t.Fatalf("unexpected add command %+v", added)
	}
	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if resp.Cart.Owner != "guest" {
		t.Fatalf("expected guest owner, got %q", resp.Cart.Owner)
	}
}

func TestCartHandlersGuestTokenDisabled(t *testing.T) {
	router := newCartRouter(NewCartHandlers(nil, nil, &stubCartService{}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/cart/guest-token", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestCartHandlersGuestTokenRateLimited(t *testing.T) {
	h := NewCartHandlers(nil, testGuestTokens(), &stubCartService{},
		WithGuestTokenRateLimit(1, time.Minute, func() time.Time { return cartTestNow }))
	router := newCartRouter(h)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/v1/cart/guest-token", nil))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected first request to succeed, got %d", first.Code)
	}
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/v1/cart/guest-token", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", second.Header().Get("Retry-After"))
	}
}

func TestCartHandlersAddItemValidation(t *testing.T) {
	svc := &stubCartService{
		addFunc: func(context.Context, services.AddCartItemCommand) (services.CartView, error) {
			return services.CartView{}, &services.ValidationError{Fields: map[string]string{"quantity": "lte"}}
		},
	}
	router := newCartRouter(NewCartHandlers(nil, nil, svc), withTestIdentity("uid-1"))

	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "empty body", body: "", want: "request body is required"},
		{name: "unknown field", body: `{"product_name":"x","colour":"red"}`, want: "invalid JSON payload"},
		{name: "missing product", body: `{"label":"100"}`, want: "product_name is required"},
		{name: "zero quantity", body: `{"product_name":"x","quantity":0}`, want: "quantity must be at least 1"},
		{name: "service validation", body: `{"product_name":"x","quantity":500}`, want: `"fields"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tc.want) {
				t.Fatalf("expected body to mention %q, got %s", tc.want, rr.Body.String())
			}
		})
	}
}

func TestCartHandlersUpdateItem(t *testing.T) {
	var got services.UpdateCartItemCommand
	svc := &stubCartService{
		updateFunc: func(_ context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error) {
			got = cmd
			return services.CartView{Cart: services.Cart{OwnerKey: cmd.OwnerKey}}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, nil, svc), withTestIdentity("uid-1"))

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/cart/items/01HZX", strings.NewReader(`{"quantity":0}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.ItemID != "01HZX" || got.Quantity != 0 || got.OwnerKey != "user:uid-1" {
		t.Fatalf("unexpected update command %+v", got)
	}
	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Cart.Items == nil || len(resp.Cart.Items) != 0 {
		t.Fatalf("expected empty items array, got %#v", resp.Cart.Items)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/cart/items/01HZX", strings.NewReader(`{"quantity":-2}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || got.Quantity != -2 {
		t.Fatalf("expected negative quantity to reach the service, got %d %+v", rr.Code, got)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/cart/items/01HZX", strings.NewReader(`{}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without quantity, got %d", rr.Code)
	}
}

func TestCartHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: services.ErrCartNotFound, status: http.StatusNotFound},
		{name: "conflict", err: services.ErrCartConflict, status: http.StatusConflict},
		{name: "unavailable", err: services.ErrCartUnavailable, status: http.StatusServiceUnavailable},
		{name: "invalid", err: services.ErrCartInvalidInput, status: http.StatusBadRequest},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCartService{
				removeFunc: func(context.Context, string, string) (services.CartView, error) {
					return services.CartView{}, tc.err
				},
			}
			router := newCartRouter(NewCartHandlers(nil, nil, svc), withTestIdentity("uid-1"))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/missing", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	var cleared string
	svc := &stubCartService{
		clearFunc: func(_ context.Context, ownerKey string) error {
			cleared = ownerKey
			return nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, nil, svc), withTestIdentity("uid-1"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/cart", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if cleared != "user:uid-1" {
		t.Fatalf("expected user cart cleared, got %q", cleared)
	}
}

func TestCartHandlersMergeGuestCart(t *testing.T) {
	guests := testGuestTokens()
	issued, err := guests.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	var gotGuest, gotUser string
	svc := &stubCartService{
		mergeFunc: func(_ context.Context, guestKey, userKey string) (services.CartView, error) {
			gotGuest, gotUser = guestKey, userKey
			return sampleCartView(userKey), nil
		},
	}

	t.Run("requires sign in", func(t *testing.T) {
		router := newCartRouter(NewCartHandlers(nil, guests, svc))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart:merge", nil)
		req.Header.Set(auth.GuestTokenHeader, issued.Token)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("requires guest token", func(t *testing.T) {
		router := newCartRouter(NewCartHandlers(nil, guests, svc), withTestIdentity("uid-9"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/cart:merge", nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("merges", func(t *testing.T) {
		router := newCartRouter(NewCartHandlers(nil, guests, svc), withTestIdentity("uid-9"))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart:merge", nil)
		req.Header.Set(auth.GuestTokenHeader, issued.Token)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if gotGuest != "guest:"+issued.GuestID || gotUser != "user:uid-9" {
			t.Fatalf("unexpected merge keys guest=%q user=%q", gotGuest, gotUser)
		}
	})
}

func TestCartHandlersAddItemIsIdempotent(t *testing.T) {
	calls := 0
	svc := &stubCartService{
		addFunc: func(_ context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
			calls++
			return sampleCartView(cmd.OwnerKey), nil
		},
	}
	mw := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithClock(func() time.Time { return cartTestNow }))
	router := newCartRouter(NewCartHandlers(nil, nil, svc, WithCartIdempotency(mw)), withTestIdentity("uid-1"))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"product_name":"PUBG UC","label":"60 UC","price":95}`))
		req.Header.Set("Idempotency-Key", "add-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}
	first := send()
	second := send()
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("unexpected statuses %d / %d", first.Code, second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected the service to run once, got %d", calls)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header on second response")
	}
}
