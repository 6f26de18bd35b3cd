package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/deshtopup/storefront/internal/platform/auth"
	"github.com/deshtopup/storefront/internal/platform/httpx"
	"github.com/deshtopup/storefront/internal/platform/requestctx"
	"github.com/deshtopup/storefront/internal/services"
)

// InternalHandlers serves endpoints invoked by Cloud Scheduler. Authentication is applied by
// the router's internal middleware group.
type InternalHandlers struct {
	sitemaps services.SitemapService
}

func NewInternalHandlers(sitemaps services.SitemapService) *InternalHandlers {
	return &InternalHandlers{sitemaps: sitemaps}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sitemap:regenerate", h.regenerateSitemap)
}

func (h *InternalHandlers) regenerateSitemap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sitemaps == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sitemap_unavailable", "sitemap generation is not configured", http.StatusServiceUnavailable))
		return
	}

	logger := requestctx.Logger(ctx)
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok {
		logger = logger.With(zap.String("caller", caller.Email))
	}

	result, err := h.sitemaps.Regenerate(ctx)
	if err != nil {
		logger.Error("sitemap regeneration failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrCatalogUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		httpx.WriteError(ctx, w, httpx.NewError("sitemap_failed", "sitemap regeneration failed", status))
		return
	}

	logger.Info("sitemap regenerated", zap.Int("urls", result.URLCount), zap.Strings("locations", result.Locations))
	locations := result.Locations
	if locations == nil {
		locations = []string{}
	}
	writeJSONResponse(w, http.StatusOK, sitemapResponse{
		URLCount:    result.URLCount,
		Locations:   locations,
		GeneratedAt: formatTime(result.GeneratedAt),
	})
}

type sitemapResponse struct {
	URLCount    int      `json:"url_count"`
	Locations   []string `json:"locations"`
	GeneratedAt string   `json:"generated_at"`
}
