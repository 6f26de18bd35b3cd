package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/deshtopup/storefront/internal/platform/auth"
	"github.com/deshtopup/storefront/internal/platform/httpx"
	"github.com/deshtopup/storefront/internal/platform/observability"
	"github.com/deshtopup/storefront/internal/platform/requestctx"
	"github.com/deshtopup/storefront/internal/services"
)

const (
	maxCartBodySize          = 16 * 1024
	defaultGuestTokenLimit   = 20
	defaultGuestTokenWindow  = time.Minute
	defaultCartItemQuantity  = 1
	cartResponseCacheControl = "no-store, no-cache, max-age=0, must-revalidate"
)

// CartHandlers exposes cart endpoints for signed-in shoppers and guests holding a cart token.
type CartHandlers struct {
	authn       *auth.Authenticator
	guests      *auth.GuestTokens
	carts       services.CartService
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// CartHandlerOption customises cart handlers.
type CartHandlerOption func(*CartHandlers)

// WithCartIdempotency guards POST /cart/items with the supplied middleware.
func WithCartIdempotency(mw func(http.Handler) http.Handler) CartHandlerOption {
	return func(h *CartHandlers) {
		h.idempotency = mw
	}
}

// WithGuestTokenRateLimit caps guest token minting per client address.
func WithGuestTokenRateLimit(limit int, window time.Duration, clock func() time.Time) CartHandlerOption {
	return func(h *CartHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
	}
}

// NewCartHandlers constructs cart handlers. guests may be nil, in which case only signed-in
// shoppers have carts.
func NewCartHandlers(authn *auth.Authenticator, guests *auth.GuestTokens, carts services.CartService, opts ...CartHandlerOption) *CartHandlers {
	h := &CartHandlers{
		authn:   authn,
		guests:  guests,
		carts:   carts,
		limiter: newSimpleRateLimiter(defaultGuestTokenLimit, defaultGuestTokenWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires /cart and /cart:merge onto the API root.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	optional := passthrough
	if h.authn != nil {
		optional = h.authn.OptionalFirebaseAuth()
	}

	r.Route("/cart", func(cr chi.Router) {
		cr.Use(optional)
		cr.Post("/guest-token", h.issueGuestToken)
		cr.Group(func(owned chi.Router) {
			owned.Use(h.resolveOwner)
			owned.Get("/", h.getCart)
			owned.Delete("/", h.clearCart)
			if h.idempotency != nil {
				owned.With(h.idempotency).Post("/items", h.addItem)
			} else {
				owned.Post("/items", h.addItem)
			}
			owned.Patch("/items/{itemId}", h.updateItem)
			owned.Delete("/items/{itemId}", h.removeItem)
		})
	})
	r.With(optional).Post("/cart:merge", h.mergeGuestCart)
}

func passthrough(next http.Handler) http.Handler { return next }

// resolveOwner picks the signed-in user first, then the guest token, and rejects requests
// carrying neither.
func (h *CartHandlers) resolveOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var owner requestctx.CartOwner
		if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && strings.TrimSpace(identity.UID) != "" {
			owner.UID = identity.UID
		} else if token := strings.TrimSpace(r.Header.Get(auth.GuestTokenHeader)); token != "" {
			guestID, err := h.guests.Parse(token)
			if err != nil {
				writeGuestTokenError(ctx, w, err)
				return
			}
			owner.GuestID = guestID
		} else {
			httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "sign in or present a guest cart token", http.StatusUnauthorized))
			return
		}

		ctx = requestctx.WithCartOwner(ctx, owner)
		logger := requestctx.Logger(ctx).With(zap.String("cart_owner", observability.SanitizeOwnerKey(owner.Key())))
		ctx = requestctx.WithLogger(ctx, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.Get(ctx, owner.Key())
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, owner, view)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	body, ok := readCartBody(ctx, w, r)
	if !ok {
		return
	}
	req, err := parseAddItemRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	quantity := defaultCartItemQuantity
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	view, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		OwnerKey:     owner.Key(),
		ProductName:  req.ProductName,
		ProductImage: req.ProductImage,
		Label:        req.Label,
		Price:        req.Price,
		Quantity:     quantity,
		ProductType:  req.ProductType,
		GameInfo:     req.GameInfo,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, owner, view)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	body, ok := readCartBody(ctx, w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := decodeStrict(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	view, err := h.carts.UpdateQuantity(ctx, services.UpdateCartItemCommand{
		OwnerKey: owner.Key(),
		ItemID:   chi.URLParam(r, "itemId"),
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, owner, view)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.RemoveItem(ctx, owner.Key(), chi.URLParam(r, "itemId"))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, owner, view)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	if err := h.carts.Clear(ctx, owner.Key()); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", cartResponseCacheControl)
	w.WriteHeader(http.StatusNoContent)
}

// mergeGuestCart folds the cart named by the guest token into the signed-in user's cart.
func (h *CartHandlers) mergeGuestCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	token := strings.TrimSpace(r.Header.Get(auth.GuestTokenHeader))
	if token == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", auth.GuestTokenHeader+" header is required", http.StatusBadRequest))
		return
	}
	guestID, err := h.guests.Parse(token)
	if err != nil {
		writeGuestTokenError(ctx, w, err)
		return
	}

	guest := requestctx.CartOwner{GuestID: guestID}
	user := requestctx.CartOwner{UID: identity.UID}
	view, err := h.carts.MergeGuest(ctx, guest.Key(), user.Key())
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, user, view)
}

func (h *CartHandlers) issueGuestToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.limiter != nil {
		if allowed, retryAfter := h.limiter.Allow(clientAddress(r)); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many guest cart tokens requested", http.StatusTooManyRequests))
			return
		}
	}
	issued, err := h.guests.Issue()
	if err != nil {
		if errors.Is(err, auth.ErrGuestTokenDisabled) {
			httpx.WriteError(ctx, w, httpx.NewError("guest_cart_disabled", "guest carts are not enabled", http.StatusServiceUnavailable))
			return
		}
		requestctx.Logger(ctx).Error("guest token issue failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("guest_token_error", "failed to issue guest cart token", http.StatusInternalServerError))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusCreated, guestTokenResponse{
		Token:     issued.Token,
		GuestID:   issued.GuestID,
		Header:    auth.GuestTokenHeader,
		ExpiresAt: formatTime(issued.ExpiresAt),
	})
}

func (h *CartHandlers) owner(ctx context.Context, w http.ResponseWriter) (requestctx.CartOwner, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return requestctx.CartOwner{}, false
	}
	owner, ok := requestctx.CartOwnerFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return requestctx.CartOwner{}, false
	}
	return owner, true
}

func readCartBody(ctx context.Context, w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return nil, false
	}
	return body, true
}

func decodeStrict(body []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON payload: %v", err)
	}
	return nil
}

func parseAddItemRequest(body []byte) (addItemRequest, error) {
	var req addItemRequest
	if err := decodeStrict(body, &req); err != nil {
		return req, err
	}
	req.ProductName = strings.TrimSpace(req.ProductName)
	if req.ProductName == "" {
		return req, errors.New("product_name is required")
	}
	if req.Quantity != nil && *req.Quantity < 1 {
		return req, errors.New("quantity must be at least 1")
	}
	return req, nil
}

func writeGuestTokenError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrGuestTokenDisabled) {
		httpx.WriteError(ctx, w, httpx.NewError("guest_cart_disabled", "guest carts are not enabled", http.StatusUnauthorized))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_guest_token", "guest cart token is invalid or expired", http.StatusUnauthorized))
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		fields := make(map[string]any, len(validationErr.Fields))
		for field, rule := range validationErr.Fields {
			fields[field] = rule
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart item is invalid", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": fields}))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("cart_timeout", "cart request timed out", http.StatusGatewayTimeout))
	default:
		requestctx.Logger(ctx).Error("cart request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart", http.StatusInternalServerError))
	}
}

func writeCartResponse(w http.ResponseWriter, status int, owner requestctx.CartOwner, view services.CartView) {
	setCartResponseHeaders(w, view.Cart)
	writeJSONResponse(w, status, cartResponse{Cart: buildCartPayload(owner, view)})
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", cartResponseCacheControl)
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartPayload(owner requestctx.CartOwner, view services.CartView) cartPayload {
	kind := "user"
	if owner.IsGuest() {
		kind = "guest"
	}
	return cartPayload{
		Owner:           kind,
		ItemCount:       view.ItemCount,
		Subtotal:        newAmount(view.Subtotal),
		SubtotalDisplay: displayAmount(view.Subtotal),
		Items:           buildCartItems(view.Cart.Items),
		UpdatedAt:       formatTime(view.Cart.UpdatedAt),
	}
}

func buildCartItems(items []services.CartItem) []cartItemPayload {
	if len(items) == 0 {
		return []cartItemPayload{}
	}
	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, cartItemPayload{
			ID:               item.ID,
			ProductName:      item.ProductName,
			ProductImage:     item.ProductImage,
			Label:            item.Label,
			Price:            newAmount(item.Price),
			PriceDisplay:     displayAmount(item.Price),
			Quantity:         item.Quantity,
			LineTotal:        newAmount(item.LineTotal()),
			LineTotalDisplay: displayAmount(item.LineTotal()),
			ProductType:      item.ProductType,
			GameInfo:         item.GameInfo,
		})
	}
	return payload
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.OwnerKey) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.OwnerKey), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	token := hex.EncodeToString(sum[:8])
	return fmt.Sprintf(`W/"%s"`, token)
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	Owner           string            `json:"owner"`
	ItemCount       int               `json:"item_count"`
	Subtotal        amount            `json:"subtotal"`
	SubtotalDisplay string            `json:"subtotal_display"`
	Items           []cartItemPayload `json:"items"`
	UpdatedAt       string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ID               string            `json:"id"`
	ProductName      string            `json:"product_name"`
	ProductImage     string            `json:"product_image,omitempty"`
	Label            string            `json:"label"`
	Price            amount            `json:"price"`
	PriceDisplay     string            `json:"price_display"`
	Quantity         int               `json:"quantity"`
	LineTotal        amount            `json:"line_total"`
	LineTotalDisplay string            `json:"line_total_display"`
	ProductType      string            `json:"product_type,omitempty"`
	GameInfo         map[string]string `json:"game_info,omitempty"`
}

type addItemRequest struct {
	ProductName  string            `json:"product_name"`
	ProductImage string            `json:"product_image"`
	Label        string            `json:"label"`
	Price        decimal.Decimal   `json:"price"`
	Quantity     *int              `json:"quantity"`
	ProductType  string            `json:"product_type"`
	GameInfo     map[string]string `json:"game_info"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

type guestTokenResponse struct {
	Token     string `json:"token"`
	GuestID   string `json:"guest_id"`
	Header    string `json:"header"`
	ExpiresAt string `json:"expires_at"`
}
