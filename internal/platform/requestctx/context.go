package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	cartOwnerKey
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// CartOwner identifies whose cart a request operates on. Exactly one of UID or GuestID is set.
type CartOwner struct {
	UID     string
	GuestID string
}

// Key returns the storage key for the owner's cart.
func (o CartOwner) Key() string {
	if o.UID != "" {
		return "user:" + o.UID
	}
	if o.GuestID != "" {
		return "guest:" + o.GuestID
	}
	return ""
}

// IsGuest reports whether the owner is an anonymous shopper.
func (o CartOwner) IsGuest() bool { return o.UID == "" && o.GuestID != "" }

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithCartOwner records the resolved cart owner for the request.
func WithCartOwner(ctx context.Context, owner CartOwner) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, cartOwnerKey, owner)
}

// CartOwnerFrom returns the cart owner stored on the context.
func CartOwnerFrom(ctx context.Context) (CartOwner, bool) {
	if ctx == nil {
		return CartOwner{}, false
	}
	owner, ok := ctx.Value(cartOwnerKey).(CartOwner)
	if !ok || owner.Key() == "" {
		return CartOwner{}, false
	}
	return owner, true
}
