package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsledger/backend/internal/costing"
	"opsledger/backend/internal/domain"
	"opsledger/backend/internal/ledger"
	"opsledger/backend/internal/metrics"
	"opsledger/backend/internal/period"
	"opsledger/backend/internal/service"
	"opsledger/backend/internal/store"
	"opsledger/backend/internal/store/breaker"
	"opsledger/backend/internal/store/memory"
	"opsledger/backend/internal/store/storetest"
)

const testAdminPassword = "admin-pass-123"

var fixedNow = time.Date(2024, time.March, 20, 9, 30, 0, 0, time.UTC)

// newTestAPI wires a real service, engine and AuthManager over s so handler
// tests exercise the complete request path.
func newTestAPI(t *testing.T, s store.Store) *API {
	t.Helper()
	if s == nil {
		s = memory.New()
	}
	m := metrics.New("opsledger")
	clock := func() time.Time { return fixedNow }
	svc := service.New(
		s,
		ledger.New(s, nil, m),
		costing.New(s, nil, m),
		period.New(s, nil, m, period.WithLocation(time.UTC), period.WithClock(clock)),
		nil,
		service.WithLocation(time.UTC),
		service.WithClock(clock),
	)
	auth := NewAuthManager("test-secret-key-that-is-long-enough", time.Hour, svc, nil)
	require.NoError(t, auth.EnsureAdmin(context.Background(), "admin", testAdminPassword))
	return New(svc, auth, "*", nil, m)
}

func unitCost(v float64) domain.UnitCostRequest {
	return domain.UnitCostRequest{UnitCost: &v}
}

func tokenFor(t *testing.T, api *API, username, role string) string {
	t.Helper()
	token, err := api.auth.sign(username, role, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return token
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), rec.Body.String())
}

func TestHandleHealth(t *testing.T) {
	rec := do(t, newTestAPI(t, nil).Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, true, body["ok"])
}

func TestHealthReportsFailingDependency(t *testing.T) {
	api := newTestAPI(t, nil)
	api.AddHealthCheck("store", func(context.Context) error { return nil })
	api.AddHealthCheck("cache", func(context.Context) error { return errors.New("connection refused") })

	rec := do(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")

	var body struct {
		OK     bool              `json:"ok"`
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, rec, &body)
	assert.False(t, body.OK)
	assert.Equal(t, map[string]string{"store": "ok", "cache": "unavailable"}, body.Checks)
}

func TestHandleLogin(t *testing.T) {
	h := newTestAPI(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: testAdminPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, domain.RoleAdmin, resp.Role)

	rec = do(t, h, http.MethodGet, "/api/v1/inventory", resp.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutesRequireAuth(t *testing.T) {
	h := newTestAPI(t, nil).Handler()

	for _, path := range []string{"/api/v1/stock-in", "/api/v1/sales", "/api/v1/profit/current", "/api/v1/users"} {
		rec := do(t, h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := do(t, h, http.MethodGet, "/api/v1/sales", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffCannotRecalculateOrManageUsers(t *testing.T) {
	api := newTestAPI(t, nil)
	h := api.Handler()
	staff := tokenFor(t, api, "sari", domain.RoleStaff)

	rec := do(t, h, http.MethodPost, "/api/v1/profit/recalculate", staff, domain.RecalculateRequest{Month: "March 2024"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/users", staff, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/profit/overview", staff, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonthlyProfitFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	h := api.Handler()
	staff := tokenFor(t, api, "sari", domain.RoleStaff)
	admin := tokenFor(t, api, "admin", domain.RoleAdmin)

	rec := do(t, h, http.MethodPost, "/api/v1/stock-in", staff, domain.StockReceiptRequest{Date: "2024-03-01", ProductCode: "P1", Quantity: 10})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		StockIn domain.StockReceipt `json:"stock_in"`
	}
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.StockIn.ID)

	rec = do(t, h, http.MethodPut, "/api/v1/unit-costs/"+created.StockIn.ID, staff, unitCost(6))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/sales", staff, domain.SaleRequest{
		Date: "2024-03-10", Status: domain.SaleStatusDelivered,
		Products: []domain.SaleLine{{ProductCode: "P1", Quantity: 4}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/income", staff, map[string]any{"date": "2024-03-05", "details": "consulting", "amount": 1000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/api/v1/expenses", staff, map[string]any{"date": "2024-03-07", "details": "rent", "amount": 200})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/profit/current", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current domain.MonthlyResult
	decodeBody(t, rec, &current)
	assert.Equal(t, "2024-3", current.Key)
	assert.Equal(t, 1000.0, current.Income)
	assert.Equal(t, 200.0, current.Expenses)
	assert.Equal(t, 24.0, current.TotalProductCost)
	assert.Equal(t, 776.0, current.ProfitLoss)

	rec = do(t, h, http.MethodGet, "/api/v1/profit/months/2024-3", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.MonthlyProfitSnapshot
	decodeBody(t, rec, &snap)
	assert.Equal(t, "March 2024", snap.Month)
	assert.Equal(t, 776.0, snap.ProfitLoss)

	rec = do(t, h, http.MethodGet, "/api/v1/inventory", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var inventory struct {
		Inventory []domain.InventoryRow `json:"inventory"`
	}
	decodeBody(t, rec, &inventory)
	assert.Equal(t, []domain.InventoryRow{{ProductCode: "P1", StockIn: 10, StockOut: 4, AvailableStock: 6}}, inventory.Inventory)

	rec = do(t, h, http.MethodPost, "/api/v1/profit/recalculate", admin, domain.RecalculateRequest{Month: "February 2024"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var recalculated domain.MonthlyProfitSnapshot
	decodeBody(t, rec, &recalculated)
	assert.Equal(t, "2024-2", recalculated.ID)
	assert.Zero(t, recalculated.ProfitLoss)

	rec = do(t, h, http.MethodGet, "/api/v1/profit/history", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Snapshots []domain.MonthlyProfitSnapshot `json:"snapshots"`
	}
	decodeBody(t, rec, &history)
	assert.Len(t, history.Snapshots, 2)
}

func TestSaleStatusUpdate(t *testing.T) {
	api := newTestAPI(t, nil)
	h := api.Handler()
	staff := tokenFor(t, api, "sari", domain.RoleStaff)

	rec := do(t, h, http.MethodPost, "/api/v1/sales", staff, domain.SaleRequest{
		Date: "2024-03-10", Products: []domain.SaleLine{{ProductCode: "P1", Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Sale domain.SaleOrder `json:"sale"`
	}
	decodeBody(t, rec, &created)

	rec = do(t, h, http.MethodPatch, "/api/v1/sales/"+created.Sale.ID+"/status", staff, domain.SaleStatusRequest{Status: domain.SaleStatusSent})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPatch, "/api/v1/sales/nope/status", staff, domain.SaleStatusRequest{Status: domain.SaleStatusSent})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/sales/tally", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tally domain.SalesTally
	decodeBody(t, rec, &tally)
	assert.Equal(t, "Mar 2024", tally.Month)
	assert.True(t, tally.Recorded)

	rec = do(t, h, http.MethodGet, "/api/v1/sales/tally/history", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var history struct {
		Tallies []domain.MonthlySalesTally `json:"tallies"`
	}
	decodeBody(t, rec, &history)
	require.Len(t, history.Tallies, 1)
	assert.Equal(t, "Mar 2024", history.Tallies[0].Month)
	assert.Equal(t, fixedNow.UnixMilli(), history.Tallies[0].Timestamp)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	api := newTestAPI(t, nil)
	h := api.Handler()
	admin := tokenFor(t, api, "admin", domain.RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "validation", method: http.MethodPost, path: "/api/v1/expenses", body: map[string]any{"date": "2024-03-01", "details": "rent", "amount": 1.234}, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/api/v1/income", body: map[string]any{"date": "2024-03-01", "details": "x", "amount": 1, "memo": "y"}, want: http.StatusBadRequest},
		{name: "parse", method: http.MethodPost, path: "/api/v1/profit/recalculate", body: domain.RecalculateRequest{Month: "Smarch 2024"}, want: http.StatusBadRequest},
		{name: "missing snapshot", method: http.MethodGet, path: "/api/v1/profit/months/1999-1", want: http.StatusNotFound},
		{name: "unit cost missing", method: http.MethodPut, path: "/api/v1/unit-costs/ghost", body: map[string]any{}, want: http.StatusBadRequest},
		{name: "unknown receipt", method: http.MethodPut, path: "/api/v1/unit-costs/ghost", body: unitCost(1), want: http.StatusNotFound},
		{name: "wrong method", method: http.MethodDelete, path: "/api/v1/sales", want: http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, admin, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestStoreFailureHidesCause(t *testing.T) {
	s := storetest.NewFailing(memory.New(), errors.New("dial tcp 10.0.0.5: secret detail"), store.CollectionSales)
	api := newTestAPI(t, s)
	h := api.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/sales", tokenFor(t, api, "admin", domain.RoleAdmin), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret detail")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestOpenBreakerReturns503(t *testing.T) {
	s := storetest.NewFailing(memory.New(), fmt.Errorf("stockIn: %w", breaker.ErrUnavailable), store.CollectionStockIn)
	api := newTestAPI(t, s)

	rec := do(t, api.Handler(), http.MethodGet, "/api/v1/stock-in", tokenFor(t, api, "admin", domain.RoleAdmin), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUsersEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)
	h := api.Handler()
	admin := tokenFor(t, api, "admin", domain.RoleAdmin)

	rec := do(t, h, http.MethodPost, "/api/v1/users", admin, domain.StaffCreateRequest{Username: "sari", Password: "staff-pass-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/users", admin, domain.StaffCreateRequest{Username: "sari", Password: "staff-pass-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/users", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Users []domain.StaffUser `json:"users"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Users, 1)
	assert.Equal(t, "sari", body.Users[0].Username)

	rec = do(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "sari", Password: "staff-pass-1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	api := newTestAPI(t, nil)
	h := api.Handler()

	do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(api.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200")))

	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "opsledger_http_requests_total"))
}
