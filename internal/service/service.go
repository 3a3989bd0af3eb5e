package service

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"opsledger/backend/internal/apperror"
	"opsledger/backend/internal/costing"
	"opsledger/backend/internal/domain"
	"opsledger/backend/internal/ledger"
	"opsledger/backend/internal/logger"
	"opsledger/backend/internal/period"
	"opsledger/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// amountPattern accepts a positive decimal with at most two fraction digits.
var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// Service validates and records raw business records and fronts the
// aggregation engine for the HTTP layer.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	averager *costing.Averager
	periods  *period.Aggregator
	loc      *time.Location
	now      func() time.Time
	log      *logger.Logger
}

type Option func(*Service)

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(s store.Store, l *ledger.Ledger, a *costing.Averager, p *period.Aggregator, log *logger.Logger, opts ...Option) *Service {
	svc := &Service{
		store:    s,
		ledger:   l,
		averager: a,
		periods:  p,
		loc:      time.Local,
		now:      time.Now,
		log:      logger.OrNop(log).WithComponent("service"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) AddStockReceipt(ctx context.Context, req domain.StockReceiptRequest) (domain.StockReceipt, error) {
	const op = "add stock receipt"
	code := strings.TrimSpace(req.ProductCode)
	if code == "" {
		return domain.StockReceipt{}, apperror.Validation(op, "product code is required")
	}
	if req.Quantity < 1 {
		return domain.StockReceipt{}, apperror.Validation(op, "quantity must be greater than zero")
	}
	date, err := s.validDate(op, req.Date)
	if err != nil {
		return domain.StockReceipt{}, err
	}

	receipt := domain.StockReceipt{
		ProductCode: code,
		Quantity:    domain.Quantity(req.Quantity),
		Date:        date,
		Timestamp:   s.now().UnixMilli(),
	}
	id, err := s.append(ctx, op, store.CollectionStockIn, receipt)
	if err != nil {
		return domain.StockReceipt{}, err
	}
	receipt.ID = id
	s.audit(ctx, "stock_in.create", id, "product_code", code, "quantity", req.Quantity)

	// The receipt is stored either way; the next trigger repairs the averages.
	if _, err := s.averager.Recompute(ctx); err != nil {
		s.log.Errorw("recompute after stock receipt failed", "receipt_id", id, "error", err)
	}
	return receipt, nil
}

func (s *Service) ListStockReceipts(ctx context.Context) ([]domain.StockReceipt, error) {
	return listByDate[domain.StockReceipt](ctx, s, store.CollectionStockIn)
}

func (s *Service) SetUnitCost(ctx context.Context, receiptID string, req domain.UnitCostRequest) (domain.CostSummary, error) {
	if req.UnitCost == nil {
		return domain.CostSummary{}, apperror.Validation("set unit cost", "unit cost is required")
	}
	summary, err := s.averager.SetUnitCost(ctx, receiptID, *req.UnitCost)
	if err != nil {
		return domain.CostSummary{}, err
	}
	s.audit(ctx, "unit_cost.set", receiptID, "unit_cost", *req.UnitCost)
	return summary, nil
}

func (s *Service) AverageCosts(ctx context.Context) ([]domain.AverageCost, error) {
	return s.averager.AverageCosts(ctx)
}

func (s *Service) PurchaseSummary(ctx context.Context) (domain.PurchaseSummary, error) {
	return s.averager.PurchaseSummary(ctx)
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleOrder, error) {
	const op = "create sale"
	date, err := s.validDate(op, req.Date)
	if err != nil {
		return domain.SaleOrder{}, err
	}
	status := domain.SaleStatusProcessing
	if strings.TrimSpace(req.Status) != "" {
		if status, err = canonicalStatus(op, req.Status); err != nil {
			return domain.SaleOrder{}, err
		}
	}
	if len(req.Products) == 0 {
		return domain.SaleOrder{}, apperror.Validation(op, "at least one product is required")
	}
	lines := make([]domain.SaleLine, 0, len(req.Products))
	for i, line := range req.Products {
		code := strings.TrimSpace(line.ProductCode)
		if code == "" {
			return domain.SaleOrder{}, apperror.Validation(op, "product %d: product code is required", i+1)
		}
		if line.Quantity < 1 {
			return domain.SaleOrder{}, apperror.Validation(op, "product %d: quantity must be greater than zero", i+1)
		}
		lines = append(lines, domain.SaleLine{ProductCode: code, Quantity: line.Quantity})
	}
	if math.IsNaN(req.CODAmount) || math.IsInf(req.CODAmount, 0) || req.CODAmount < 0 {
		return domain.SaleOrder{}, apperror.Validation(op, "cod amount must be a non-negative number")
	}

	order := domain.SaleOrder{
		Date:            date,
		Status:          status,
		Products:        lines,
		CODAmount:       domain.Amount(req.CODAmount),
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		CustomerAddress: strings.TrimSpace(req.CustomerAddress),
		Timestamp:       s.now().UnixMilli(),
	}
	id, err := s.append(ctx, op, store.CollectionSales, order)
	if err != nil {
		return domain.SaleOrder{}, err
	}
	order.ID = id
	s.audit(ctx, "sale.create", id, "status", status, "lines", len(lines))
	s.refreshMonth(ctx, date)
	return order, nil
}

// UpdateSaleStatus moves an order to another status. Only the status field
// changes; the rest of the stored record is written back as read.
func (s *Service) UpdateSaleStatus(ctx context.Context, id string, req domain.SaleStatusRequest) (domain.SaleOrder, error) {
	const op = "update sale status"
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleOrder{}, apperror.Validation(op, "sale id is required")
	}
	status, err := canonicalStatus(op, req.Status)
	if err != nil {
		return domain.SaleOrder{}, err
	}

	rec, ok, err := s.store.GetByKey(ctx, store.CollectionSales, id)
	if err != nil {
		return domain.SaleOrder{}, apperror.Store(op, err)
	}
	if !ok {
		return domain.SaleOrder{}, apperror.NotFound(op, "sale %q not found", id)
	}
	var facts domain.SaleFacts
	if err := store.Decode(rec, &facts); err != nil {
		return domain.SaleOrder{}, apperror.Store(op, err)
	}
	previous := facts.Status
	rec["status"] = status
	delete(rec, store.KeyField)
	if err := s.store.Upsert(ctx, store.CollectionSales, id, rec); err != nil {
		return domain.SaleOrder{}, apperror.Store(op, err)
	}
	s.audit(ctx, "sale.status", id, "from", previous, "to", status)
	s.refreshMonth(ctx, string(facts.Date))

	var order domain.SaleOrder
	if err := store.Decode(rec, &order); err != nil {
		s.log.Warnw("sale has malformed fields, returning the fields aggregations read", "id", id, "error", err)
		order = facts.Order()
		order.Status = status
	}
	order.ID = id
	return order, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.SaleOrder, error) {
	return listByDate[domain.SaleOrder](ctx, s, store.CollectionSales)
}

func (s *Service) AddExpense(ctx context.Context, req domain.LedgerEntryRequest) (domain.LedgerEntry, error) {
	return s.addEntry(ctx, "add expense", store.CollectionExpenses, req)
}

func (s *Service) AddIncome(ctx context.Context, req domain.LedgerEntryRequest) (domain.LedgerEntry, error) {
	return s.addEntry(ctx, "add income", store.CollectionIncome, req)
}

func (s *Service) AddInvestment(ctx context.Context, req domain.LedgerEntryRequest) (domain.LedgerEntry, error) {
	return s.addEntry(ctx, "add investment", store.CollectionInvestment, req)
}

func (s *Service) ListExpenses(ctx context.Context) ([]domain.LedgerEntry, error) {
	return listByDate[domain.LedgerEntry](ctx, s, store.CollectionExpenses)
}

func (s *Service) ListIncome(ctx context.Context) ([]domain.LedgerEntry, error) {
	return listByDate[domain.LedgerEntry](ctx, s, store.CollectionIncome)
}

func (s *Service) ListInvestment(ctx context.Context) ([]domain.LedgerEntry, error) {
	return listByDate[domain.LedgerEntry](ctx, s, store.CollectionInvestment)
}

func (s *Service) Inventory(ctx context.Context) ([]domain.InventoryRow, error) {
	return s.ledger.ComputeInventory(ctx)
}

func (s *Service) SalesTally(ctx context.Context) (domain.SalesTally, error) {
	return s.ledger.TallySales(ctx, s.now().In(s.loc))
}

func (s *Service) SalesTallyHistory(ctx context.Context) ([]domain.MonthlySalesTally, error) {
	return s.ledger.TallyHistory(ctx)
}

func (s *Service) CurrentMonth(ctx context.Context) (domain.MonthlyResult, error) {
	return s.periods.ComputeCurrentMonth(ctx)
}

func (s *Service) ProfitHistory(ctx context.Context) ([]domain.MonthlyProfitSnapshot, error) {
	return s.periods.History(ctx)
}

func (s *Service) ProfitSnapshot(ctx context.Context, key string) (domain.MonthlyProfitSnapshot, error) {
	return s.periods.Snapshot(ctx, strings.TrimSpace(key))
}

func (s *Service) Recalculate(ctx context.Context, req domain.RecalculateRequest) (domain.MonthlyProfitSnapshot, error) {
	snap, err := s.periods.Recalculate(ctx, req.Month)
	if err != nil {
		return domain.MonthlyProfitSnapshot{}, err
	}
	s.audit(ctx, "profit.recalculate", snap.ID, "month", snap.Month, "profit_loss", snap.ProfitLoss)
	return snap, nil
}

func (s *Service) Overview(ctx context.Context) (domain.Overview, error) {
	return s.periods.Overview(ctx)
}

// CreateUser stores a new account keyed by username.
func (s *Service) CreateUser(ctx context.Context, user domain.UserAccount) error {
	const op = "create user"
	username := strings.TrimSpace(user.Username)
	if username == "" {
		return apperror.Validation(op, "username is required")
	}
	_, exists, err := s.store.GetByKey(ctx, store.CollectionUsers, username)
	if err != nil {
		return apperror.Store(op, err)
	}
	if exists {
		return apperror.Validation(op, "username %q already exists", username)
	}
	user.ID = ""
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	rec, err := store.Encode(user)
	if err != nil {
		return apperror.Store(op, err)
	}
	if err := s.store.Upsert(ctx, store.CollectionUsers, username, rec); err != nil {
		return apperror.Store(op, err)
	}
	s.audit(ctx, "user.create", username, "role", user.Role)
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	records, err := s.store.ListAll(ctx, store.CollectionUsers)
	if err != nil {
		return nil, apperror.Store("list users", err)
	}
	users := store.DecodeValid[domain.UserAccount](records, s.skip(store.CollectionUsers))
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// UpdateUserPassword replaces the stored password hash.
func (s *Service) UpdateUserPassword(ctx context.Context, username string, password string) error {
	const op = "update user password"
	rec, ok, err := s.store.GetByKey(ctx, store.CollectionUsers, username)
	if err != nil {
		return apperror.Store(op, err)
	}
	if !ok {
		return apperror.NotFound(op, "user %q not found", username)
	}
	rec["password"] = password
	delete(rec, store.KeyField)
	if err := s.store.Upsert(ctx, store.CollectionUsers, username, rec); err != nil {
		return apperror.Store(op, err)
	}
	return nil
}

func (s *Service) addEntry(ctx context.Context, op string, collection string, req domain.LedgerEntryRequest) (domain.LedgerEntry, error) {
	date, err := s.validDate(op, req.Date)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	details := strings.TrimSpace(req.Details)
	if details == "" {
		return domain.LedgerEntry{}, apperror.Validation(op, "details are required")
	}
	amount, err := validAmount(op, req.Amount.String())
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	entry := domain.LedgerEntry{
		Date:      date,
		Details:   details,
		Amount:    domain.Amount(amount.InexactFloat64()),
		Timestamp: s.now().UnixMilli(),
	}
	id, err := s.append(ctx, op, collection, entry)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	entry.ID = id
	s.audit(ctx, collection+".create", id, "amount", amount.String(), "date", date)
	if collection != store.CollectionInvestment {
		s.refreshMonth(ctx, date)
	}
	return entry, nil
}

func (s *Service) append(ctx context.Context, op string, collection string, v any) (string, error) {
	rec, err := store.Encode(v)
	if err != nil {
		return "", apperror.Store(op, err)
	}
	delete(rec, store.KeyField)
	id, err := s.store.Append(ctx, collection, rec)
	if err != nil {
		return "", apperror.Store(op, err)
	}
	return id, nil
}

// refreshMonth recomputes the snapshot of the month a write landed in.
// Failures are logged; the write itself already succeeded.
func (s *Service) refreshMonth(ctx context.Context, date string) {
	t, ok := domain.ParseDate(date, s.loc)
	if !ok {
		return
	}
	if _, err := s.periods.ComputeMonth(ctx, t.Year(), t.Month()); err != nil {
		s.log.Errorw("refresh monthly snapshot failed", "month", domain.MonthKey(t.Year(), t.Month()), "error", err)
	}
}

func (s *Service) validDate(op string, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperror.Validation(op, "date is required")
	}
	if _, ok := domain.ParseDate(value, s.loc); !ok {
		return "", apperror.Validation(op, "date %q must use YYYY-MM-DD", value)
	}
	return value, nil
}

func validAmount(op string, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if !amountPattern.MatchString(raw) {
		return decimal.Zero, apperror.Validation(op, "amount must be a positive number with at most two decimals")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, apperror.Validation(op, "amount must be greater than zero")
	}
	return amount, nil
}

func canonicalStatus(op string, status string) (string, error) {
	status = strings.TrimSpace(status)
	for _, known := range domain.SaleStatuses {
		if strings.EqualFold(status, known) {
			return known, nil
		}
	}
	return "", apperror.Validation(op, "status must be one of %s", strings.Join(domain.SaleStatuses, ", "))
}

func listByDate[T any](ctx context.Context, s *Service, collection string) ([]T, error) {
	records, err := s.store.QueryOrdered(ctx, collection, "date", store.Descending)
	if err != nil {
		return nil, apperror.Store("list "+collection, err)
	}
	return store.DecodeValid[T](records, s.skip(collection)), nil
}

func (s *Service) skip(collection string) func(string, error) {
	return func(key string, err error) {
		s.log.Warnw("skipping malformed record", "collection", collection, "key", key, "error", err)
	}
}

func (s *Service) audit(ctx context.Context, action string, entityID string, keysAndValues ...any) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	fields := append([]any{"action", action, "entity_id", entityID, "actor", actor.Username, "actor_role", actor.Role}, keysAndValues...)
	s.log.Infow("audit", fields...)
}
