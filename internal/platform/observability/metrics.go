package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/deshtopup/storefront"

// Metrics holds the counters recorded by the catalog and cart services.
type Metrics struct {
	catalogDegraded metric.Int64Counter
	catalogCache    metric.Int64Counter
	cartMutations   metric.Int64Counter
}

// NewMetrics registers instruments on the global meter provider. A failed registration leaves
// the corresponding counter nil, which Record* methods treat as a no-op.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	m := &Metrics{}
	if meter == nil {
		return m
	}
	m.catalogDegraded, _ = meter.Int64Counter("storefront.catalog.degraded",
		metric.WithDescription("Catalog reads that fell back to an empty result"))
	m.catalogCache, _ = meter.Int64Counter("storefront.catalog.cache",
		metric.WithDescription("Catalog cache lookups by outcome"))
	m.cartMutations, _ = meter.Int64Counter("storefront.cart.mutations",
		metric.WithDescription("Cart mutations by operation and outcome"))
	return m
}

func (m *Metrics) RecordCatalogDegraded(ctx context.Context, operation string) {
	if m == nil || m.catalogDegraded == nil {
		return
	}
	m.catalogDegraded.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (m *Metrics) RecordCatalogCache(ctx context.Context, hit bool) {
	if m == nil || m.catalogCache == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.catalogCache.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordCartMutation(ctx context.Context, operation string, err error) {
	if m == nil || m.cartMutations == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.cartMutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
