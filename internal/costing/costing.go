// Package costing keeps per-product average costs and the total purchase
// cost in step with stock receipts and their unit costs.
package costing

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"opsledger/backend/internal/apperror"
	"opsledger/backend/internal/domain"
	"opsledger/backend/internal/logger"
	"opsledger/backend/internal/metrics"
	"opsledger/backend/internal/store"
	"opsledger/backend/internal/telemetry"
)

type Averager struct {
	store   store.Store
	log     *logger.Logger
	metrics *metrics.Metrics
}

func New(s store.Store, log *logger.Logger, m *metrics.Metrics) *Averager {
	return &Averager{
		store:   s,
		log:     logger.OrNop(log).WithComponent("costing"),
		metrics: m,
	}
}

// Average computes the weighted average unit cost per product, rounded to
// two decimals, and the total purchase cost. unitCosts is keyed by stock
// receipt id; a receipt without an entry costs 0 but its quantity still
// counts. Averages come back sorted by product code.
func Average(receipts []domain.StockReceipt, unitCosts map[string]float64) domain.CostSummary {
	type acc struct {
		cost decimal.Decimal
		qty  decimal.Decimal
	}
	groups := make(map[string]*acc)
	total := decimal.Zero

	for _, r := range receipts {
		qty := r.Quantity.Decimal()
		line := decimal.NewFromFloat(unitCosts[r.ID]).Mul(qty)

		g, ok := groups[r.ProductCode]
		if !ok {
			g = &acc{cost: decimal.Zero, qty: decimal.Zero}
			groups[r.ProductCode] = g
		}
		g.cost = g.cost.Add(line)
		g.qty = g.qty.Add(qty)
		total = total.Add(line)
	}

	averages := make([]domain.AverageCost, 0, len(groups))
	for code, g := range groups {
		avg := decimal.Zero
		if g.qty.IsPositive() {
			avg = g.cost.Div(g.qty).Round(2)
		}
		averages = append(averages, domain.AverageCost{
			ID:          code,
			ProductCode: code,
			AvgCost:     avg.InexactFloat64(),
		})
	}
	sort.Slice(averages, func(i, j int) bool { return averages[i].ProductCode < averages[j].ProductCode })

	return domain.CostSummary{
		AverageCosts:      averages,
		TotalPurchaseCost: total.InexactFloat64(),
	}
}

// Recompute rebuilds every average cost and the purchase summary from all
// receipts. Each result is written unconditionally. A receipt or unit cost
// whose quantity or cost does not decode fails the pass before any write.
func (a *Averager) Recompute(ctx context.Context) (summary domain.CostSummary, err error) {
	const op = "recompute average costs"
	ctx, span := telemetry.Start(ctx, "costing.Recompute")
	start := time.Now()
	defer func() {
		telemetry.End(span, err)
		a.metrics.RecordAggregation("recompute_costs", err, time.Since(start))
	}()

	var (
		receipts  []domain.StockReceipt
		unitCosts map[string]float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := a.store.ListAll(gctx, store.CollectionStockIn)
		if err != nil {
			return err
		}
		receipts, err = store.DecodeAs(records, domain.ReceiptFacts.Receipt)
		return err
	})
	g.Go(func() error {
		records, err := a.store.ListAll(gctx, store.CollectionUnitCosts)
		if err != nil {
			return err
		}
		entries, err := store.DecodeAll[domain.UnitCostEntry](records)
		if err != nil {
			return err
		}
		unitCosts = make(map[string]float64, len(entries))
		for _, e := range entries {
			unitCosts[e.ID] = float64(e.UnitCost)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		a.log.Errorw("cost read failed", "error", err)
		return domain.CostSummary{}, apperror.Store(op, err)
	}

	missing := 0
	for _, r := range receipts {
		if _, ok := unitCosts[r.ID]; !ok {
			missing++
		}
	}
	if missing > 0 {
		a.log.Debugw("receipts without unit cost counted at zero", "count", missing)
	}

	summary = Average(receipts, unitCosts)
	for _, avg := range summary.AverageCosts {
		rec, err := store.Encode(avg)
		if err != nil {
			return domain.CostSummary{}, apperror.Store(op, err)
		}
		if err := a.store.Upsert(ctx, store.CollectionAverageCosts, avg.ProductCode, rec); err != nil {
			a.log.Errorw("average cost write failed", "product_code", avg.ProductCode, "error", err)
			return domain.CostSummary{}, apperror.Store(op, err)
		}
	}

	rec, err := store.Encode(domain.PurchaseSummary{Value: summary.TotalPurchaseCost})
	if err != nil {
		return domain.CostSummary{}, apperror.Store(op, err)
	}
	if err := a.store.Upsert(ctx, store.CollectionPurchaseSummary, domain.PurchaseSummaryKey, rec); err != nil {
		a.log.Errorw("purchase summary write failed", "error", err)
		return domain.CostSummary{}, apperror.Store(op, err)
	}

	span.SetAttributes(
		attribute.Int("costing.products", len(summary.AverageCosts)),
		attribute.Float64("costing.total_purchase_cost", summary.TotalPurchaseCost),
	)
	a.log.Debugw("average costs recomputed", "products", len(summary.AverageCosts), "total_purchase_cost", summary.TotalPurchaseCost)
	return summary, nil
}

// SetUnitCost prices one stock receipt and recomputes every average.
func (a *Averager) SetUnitCost(ctx context.Context, receiptID string, unitCost float64) (domain.CostSummary, error) {
	const op = "set unit cost"
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return domain.CostSummary{}, apperror.Validation(op, "receipt id is required")
	}
	if math.IsNaN(unitCost) || math.IsInf(unitCost, 0) || unitCost < 0 {
		return domain.CostSummary{}, apperror.Validation(op, "unit cost must be a non-negative number")
	}

	_, ok, err := a.store.GetByKey(ctx, store.CollectionStockIn, receiptID)
	if err != nil {
		return domain.CostSummary{}, apperror.Store(op, err)
	}
	if !ok {
		return domain.CostSummary{}, apperror.NotFound(op, "stock receipt %q not found", receiptID)
	}

	rec, err := store.Encode(domain.UnitCostEntry{UnitCost: domain.Amount(unitCost)})
	if err != nil {
		return domain.CostSummary{}, apperror.Store(op, err)
	}
	if err := a.store.Upsert(ctx, store.CollectionUnitCosts, receiptID, rec); err != nil {
		return domain.CostSummary{}, apperror.Store(op, err)
	}
	a.log.Infow("unit cost set", "receipt_id", receiptID, "unit_cost", unitCost)

	return a.Recompute(ctx)
}

// AverageCosts reads the stored averages sorted by product code.
func (a *Averager) AverageCosts(ctx context.Context) ([]domain.AverageCost, error) {
	records, err := a.store.ListAll(ctx, store.CollectionAverageCosts)
	if err != nil {
		return nil, apperror.Store("list average costs", err)
	}
	averages := store.DecodeValid[domain.AverageCost](records, a.skip(store.CollectionAverageCosts))
	sort.Slice(averages, func(i, j int) bool { return averages[i].ProductCode < averages[j].ProductCode })
	return averages, nil
}

// PurchaseSummary reads the stored total purchase cost; 0 before the first
// recompute.
func (a *Averager) PurchaseSummary(ctx context.Context) (domain.PurchaseSummary, error) {
	const op = "get purchase summary"
	rec, ok, err := a.store.GetByKey(ctx, store.CollectionPurchaseSummary, domain.PurchaseSummaryKey)
	if err != nil {
		return domain.PurchaseSummary{}, apperror.Store(op, err)
	}
	if !ok {
		return domain.PurchaseSummary{ID: domain.PurchaseSummaryKey}, nil
	}
	var summary domain.PurchaseSummary
	if err := store.Decode(rec, &summary); err != nil {
		return domain.PurchaseSummary{}, apperror.Store(op, err)
	}
	return summary, nil
}

func (a *Averager) skip(collection string) func(string, error) {
	return func(key string, err error) {
		a.log.Warnw("skipping malformed record", "collection", collection, "id", key, "error", err)
	}
}
