package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/deshtopup/storefront/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	info, sc, ok := ParseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", info.TraceID)
	}
	if info.SpanID != "0000000000000001" {
		t.Fatalf("unexpected span id %s", info.SpanID)
	}
	if !info.Sampled || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}

	for _, header := range []string{"", "abc/1", "105445aa7843bc8bf206b12000100000", "105445aa7843bc8bf206b12000100000/;o=1"} {
		if _, _, ok := ParseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one log entry, got %d", logs.Len())
	}
}

func TestRequestLoggerScopesContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("handler")
		w.WriteHeader(http.StatusCreated)
	})
	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(inner))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", nil))

	handlerEntries := logs.FilterMessage("handler").All()
	if len(handlerEntries) != 1 || handlerEntries[0].ContextMap()["method"] != http.MethodPost {
		t.Fatalf("expected handler log to carry request fields, got %+v", handlerEntries)
	}
	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected completion log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["status"]; got != int64(http.StatusCreated) {
		t.Fatalf("unexpected status field %v", got)
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logEvent := EventLogger(zap.New(core), "catalog")

	logEvent(context.Background(), "catalog.fetch.degraded", map[string]any{"error": errors.New("unavailable")})
	logEvent(context.Background(), "cart.item_added", map[string]any{"quantity": 2})

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for degraded event, got %s", all[0].Level)
	}
	if all[1].Level != zapcore.InfoLevel {
		t.Fatalf("expected info, got %s", all[1].Level)
	}
	if all[0].LoggerName != "catalog" {
		t.Fatalf("expected named logger, got %q", all[0].LoggerName)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordCatalogDegraded(context.Background(), "product_page")
	m.RecordCartMutation(context.Background(), "add", nil)
	NewMetrics().RecordCatalogCache(context.Background(), true)
}
