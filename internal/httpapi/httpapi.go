package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"opsledger/backend/internal/apperror"
	"opsledger/backend/internal/domain"
	"opsledger/backend/internal/logger"
	"opsledger/backend/internal/metrics"
	"opsledger/backend/internal/service"
	"opsledger/backend/internal/store/breaker"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	log           *logger.Logger
	metrics       *metrics.Metrics
	checks        []healthCheck
}

type healthCheck struct {
	name  string
	check func(context.Context) error
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *logger.Logger, m *metrics.Metrics) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		log:           logger.OrNop(log).WithComponent("http"),
		metrics:       m,
	}
}

// AddHealthCheck registers a dependency that /healthz pings. Register
// checks before calling Handler.
func (a *API) AddHealthCheck(name string, check func(context.Context) error) {
	a.checks = append(a.checks, healthCheck{name: name, check: check})
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	anyone := []string{domain.RoleStaff, domain.RoleAdmin}

	mux.HandleFunc("/api/v1/stock-in", a.requireAuth(a.handleStockIn, anyone...))
	mux.HandleFunc("/api/v1/unit-costs/", a.requireAuth(a.handleUnitCost, anyone...))
	mux.HandleFunc("/api/v1/average-costs", a.requireAuth(a.handleAverageCosts, anyone...))
	mux.HandleFunc("/api/v1/purchase-summary", a.requireAuth(a.handlePurchaseSummary, anyone...))
	mux.HandleFunc("/api/v1/inventory", a.requireAuth(a.handleInventory, anyone...))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, anyone...))
	mux.HandleFunc("/api/v1/sales/tally", a.requireAuth(a.handleSalesTally, anyone...))
	mux.HandleFunc("/api/v1/sales/tally/history", a.requireAuth(a.handleSalesTallyHistory, anyone...))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, anyone...))

	mux.HandleFunc("/api/v1/expenses", a.requireAuth(a.ledgerEntries(a.service.AddExpense, a.service.ListExpenses, "expenses"), anyone...))
	mux.HandleFunc("/api/v1/income", a.requireAuth(a.ledgerEntries(a.service.AddIncome, a.service.ListIncome, "income"), anyone...))
	mux.HandleFunc("/api/v1/investment", a.requireAuth(a.ledgerEntries(a.service.AddInvestment, a.service.ListInvestment, "investment"), anyone...))

	mux.HandleFunc("/api/v1/profit/current", a.requireAuth(a.handleProfitCurrent, anyone...))
	mux.HandleFunc("/api/v1/profit/history", a.requireAuth(a.handleProfitHistory, anyone...))
	mux.HandleFunc("/api/v1/profit/months/", a.requireAuth(a.handleProfitMonth, anyone...))
	mux.HandleFunc("/api/v1/profit/overview", a.requireAuth(a.handleProfitOverview, anyone...))
	mux.HandleFunc("/api/v1/profit/recalculate", a.requireAuth(a.handleRecalculate, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ok := true
	checks := make(map[string]string, len(a.checks))
	for _, hc := range a.checks {
		if err := hc.check(ctx); err != nil {
			a.log.Warnw("health check failed", "check", hc.name, "error", err)
			checks[hc.name] = "unavailable"
			ok = false
			continue
		}
		checks[hc.name] = "ok"
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ok":     ok,
		"checks": checks,
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.log.Infow("login rejected", "username", req.Username, "client", clientKey(r), "reason", err)
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStockIn(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		receipts, err := a.service.ListStockReceipts(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stock_in": receipts})
	case http.MethodPost:
		var req domain.StockReceiptRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		receipt, err := a.service.AddStockReceipt(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"stock_in": receipt})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleUnitCost(w http.ResponseWriter, r *http.Request) {
	receiptID, ok := pathTail(r, "/api/v1/unit-costs/")
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("receipt id required"))
		return
	}
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.UnitCostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.service.SetUnitCost(r.Context(), receiptID, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleAverageCosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	averages, err := a.service.AverageCosts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"average_costs": averages})
}

func (a *API) handlePurchaseSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	summary, err := a.service.PurchaseSummary(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_purchase_cost": summary.Value})
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	rows, err := a.service.Inventory(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": rows})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sales, err := a.service.ListSales(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	case http.MethodPost:
		var req domain.SaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		order, err := a.service.CreateSale(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sale": order})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSalesTally(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	tally, err := a.service.SalesTally(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

func (a *API) handleSalesTallyHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	history, err := a.service.SalesTallyHistory(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tallies": history})
}

// handleSaleActions serves /api/v1/sales/{id}/status.
func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	tail, ok := pathTail(r, "/api/v1/sales/")
	if !ok || !strings.HasSuffix(tail, "/status") {
		writeError(w, http.StatusNotFound, errors.New("unknown sale action"))
		return
	}
	id := strings.Trim(strings.TrimSuffix(tail, "/status"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("sale id required"))
		return
	}
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SaleStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.UpdateSaleStatus(r.Context(), id, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": order})
}

type (
	addEntryFunc    func(context.Context, domain.LedgerEntryRequest) (domain.LedgerEntry, error)
	listEntriesFunc func(context.Context) ([]domain.LedgerEntry, error)
)

// ledgerEntries serves the expense, income and investment collections,
// which share one record shape.
func (a *API) ledgerEntries(add addEntryFunc, list listEntriesFunc, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			entries, err := list(r.Context())
			if err != nil {
				a.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{name: entries})
		case http.MethodPost:
			var req domain.LedgerEntryRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			entry, err := add(r.Context(), req)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"entry": entry})
		default:
			writeMethodNotAllowed(w)
		}
	}
}

func (a *API) handleProfitCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	result, err := a.service.CurrentMonth(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleProfitHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	history, err := a.service.ProfitHistory(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": history})
}

func (a *API) handleProfitMonth(w http.ResponseWriter, r *http.Request) {
	key, ok := pathTail(r, "/api/v1/profit/months/")
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("month key required"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	snap, err := a.service.ProfitSnapshot(r.Context(), key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleProfitOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	overview, err := a.service.Overview(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (a *API) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.RecalculateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := a.service.Recalculate(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListStaff(r.Context())})
	case http.MethodPost:
		var req domain.StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.auth.CreateStaff(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		_, route := mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		mux.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		a.metrics.RecordHTTPRequest(r.Method, route, rec.status, elapsed)
		a.log.Debugw("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", elapsed)
	})
}

// fail writes err with the status its kind maps to.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	if errors.Is(err, breaker.ErrUnavailable) {
		return http.StatusServiceUnavailable
	}
	switch apperror.KindOf(err) {
	case apperror.KindValidation, apperror.KindParse:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// pathTail returns the non-empty remainder of the request path after prefix.
func pathTail(r *http.Request, prefix string) (string, bool) {
	if !strings.HasPrefix(r.URL.Path, prefix) {
		return "", false
	}
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	return tail, tail != ""
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause is logged by the caller.
	msg := err.Error()
	if status >= 500 {
		msg = strings.ToLower(http.StatusText(status))
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
