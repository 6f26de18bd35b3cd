package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deshtopup/storefront/internal/platform/httpx"
	"github.com/deshtopup/storefront/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxClientKeyLen   = 128
)

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
	optional   bool
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the request header carrying the client key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long finished responses can be replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded instead of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.optional = true
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware guards a cart mutation route. It must run after the cart owner is resolved;
// requests without an owner go straight to the handler, which rejects them.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{headerName: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			owner, ok := requestctx.CartOwnerFrom(ctx)
			if !ok || owner.Key() == "" {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(cfg.headerName))
			switch {
			case clientKey == "" && cfg.optional:
				next.ServeHTTP(w, r)
				return
			case clientKey == "":
				respondError(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing "+cfg.headerName+" header")
				return
			case len(clientKey) > maxClientKeyLen:
				respondError(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", cfg.headerName+" is too long")
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				respondError(ctx, w, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
				return
			}

			key := Key{Owner: owner.Key(), Client: clientKey}
			fingerprint := fingerprintRequest(r, body)
			logger := requestctx.Logger(ctx).With(zap.Bool("guest_cart", owner.IsGuest()))

			outcome, entry, err := store.Reserve(ctx, key, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				respondError(ctx, w, http.StatusUnprocessableEntity, "idempotency_key_conflict", "idempotency key already used for a different cart request")
				return
			case err != nil:
				logger.Error("idempotency reserve failed", zap.Error(err))
				respondError(ctx, w, http.StatusServiceUnavailable, "idempotency_store_error", "unable to process idempotency key")
				return
			case outcome == OutcomeReplay:
				replay(w, entry.Response)
				return
			case outcome == OutcomeInFlight:
				respondError(ctx, w, http.StatusConflict, "idempotency_in_progress", "the same cart request is still being processed")
				return
			}

			rec := &bufferedResponse{header: http.Header{}}
			next.ServeHTTP(rec, r)
			resp := rec.response()

			// Failed mutations are retried by the client; only 2xx and 4xx outcomes are replayed.
			if resp.Status >= http.StatusInternalServerError {
				release(ctx, logger, store, key, fingerprint)
			} else if err := store.Complete(ctx, key, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
				logger.Error("idempotency complete failed", zap.Error(err))
				release(ctx, logger, store, key, fingerprint)
			}
			rec.flushTo(w)
		})
	}
}

func release(ctx context.Context, logger *zap.Logger, store Store, key Key, fingerprint string) {
	if err := store.Release(ctx, key, fingerprint); err != nil {
		logger.Warn("idempotency release failed", zap.Error(err))
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintRequest covers what changes the cart mutation. The owner is already part of the key.
func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	for _, part := range []string{strings.ToUpper(r.Method), r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type")} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// bufferedResponse holds the handler output until the store has recorded it.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 && status > 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) response() Response {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	return Response{Status: status, Header: b.header, Body: b.body.Bytes()}
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.response().Status)
	if b.body.Len() > 0 {
		_, _ = w.Write(b.body.Bytes())
	}
}
