package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/testing/memstore"
	"github.com/odyssey-erp/stockledger/jobs"
)

func newTestRouter(t *testing.T, metrics *observability.Metrics) http.Handler {
	t.Helper()
	return newConfiguredRouter(t, &Config{APIRateLimit: 100, AppRequestTimeout: time.Second}, metrics)
}

func newConfiguredRouter(t *testing.T, cfg *Config, metrics *observability.Metrics) http.Handler {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) }
	store := memstore.New()
	ledger := inventory.NewLedger(inventory.LedgerConfig{Clock: clock})
	reservations := inventory.NewReservations(ledger, inventory.NewBatches(inventory.BatchFIFO, clock), time.Hour, nil, clock)
	service := inventory.NewService(store.Inventory(), ledger, reservations, nil)
	logger := slog.New(slog.NewTextHandler(httptest.NewRecorder(), nil))
	return NewRouter(RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, service),
		JobHandler:       jobs.NewHandler(nil, logger),
		Metrics:          metrics,
	})
}

func TestRouterHealth(t *testing.T) {
	router := newTestRouter(t, nil)
	for _, path := range []string{"/healthz", "/jobs/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouterRequiresTenant(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stock/available?item_id=1&warehouse_id=2", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouterServesAvailabilityAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := newTestRouter(t, metrics)

	req := httptest.NewRequest(http.MethodGet, "/api/stock/available?item_id=1&warehouse_id=2", nil)
	req.Header.Set(httpx.HeaderCompanyID, "9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "0", body["available"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `stockledger_http_requests_total{code="200",method="GET",route="/api/stock/available"} 1`))
}

func TestRouterRateLimitsPerCompany(t *testing.T) {
	router := newConfiguredRouter(t, &Config{APIRateLimit: 1, AppRequestTimeout: time.Second}, nil)
	call := func(company string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/stock/available?warehouse_id=1&item_id=2", nil)
		req.Header.Set(httpx.HeaderCompanyID, company)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, call("1").Code)
	limited := call("1")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "application/problem+json", limited.Header().Get("Content-Type"))
	require.Equal(t, http.StatusOK, call("2").Code)
}
