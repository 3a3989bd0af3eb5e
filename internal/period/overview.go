package period

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"opsledger/backend/internal/apperror"
	"opsledger/backend/internal/domain"
	"opsledger/backend/internal/store"
	"opsledger/backend/internal/telemetry"
)

// Overview totals every record regardless of date. Nothing is written.
func (a *Aggregator) Overview(ctx context.Context) (view domain.Overview, err error) {
	ctx, span := telemetry.Start(ctx, "period.Overview")
	start := time.Now()
	defer func() {
		telemetry.End(span, err)
		a.metrics.RecordAggregation("overview", err, time.Since(start))
	}()

	var (
		src        Sources
		investment []domain.LedgerEntry
		summaries  []domain.PurchaseSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src, err = a.readSources(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		investment, err = readAs(gctx, a.store, store.CollectionInvestment, domain.EntryFacts.Entry)
		return err
	})
	g.Go(func() error {
		var err error
		summaries, err = readAll[domain.PurchaseSummary](gctx, a.store, store.CollectionPurchaseSummary)
		return err
	})
	if err := g.Wait(); err != nil {
		a.log.Errorw("overview read failed", "error", err)
		return domain.Overview{}, apperror.Store("compute overview", err)
	}

	return Lifetime(src, investment, summaries), nil
}

// Lifetime computes the all-time overview from already loaded records.
func Lifetime(src Sources, investment []domain.LedgerEntry, summaries []domain.PurchaseSummary) domain.Overview {
	income := sumAll(src.Income)
	expenses := sumAll(src.Expenses)
	invested := sumAll(investment)

	purchased := decimal.Zero
	for _, s := range summaries {
		purchased = purchased.Add(decimal.NewFromFloat(s.Value))
	}

	products := newProductCosts(src.AverageCosts)
	for _, order := range src.Sales {
		if order.IsDelivered() {
			products.add(order)
		}
	}
	rows, productCost := products.rows()

	return domain.Overview{
		Income:              income.InexactFloat64(),
		Expenses:            expenses.InexactFloat64(),
		Investment:          invested.InexactFloat64(),
		PurchasedAmount:     purchased.InexactFloat64(),
		ProductCosts:        rows,
		TotalProductCost:    productCost.InexactFloat64(),
		ProfitLoss:          income.Sub(expenses.Add(productCost)).InexactFloat64(),
		CashInHand:          income.Add(invested).Sub(expenses.Add(purchased)).InexactFloat64(),
		RemainingStockValue: purchased.Sub(productCost).InexactFloat64(),
	}
}
