package period

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"opsledger/backend/internal/domain"
	"opsledger/backend/internal/store"
)

// Sources is everything a month computation reads.
type Sources struct {
	Expenses     []domain.LedgerEntry
	Income       []domain.LedgerEntry
	AverageCosts []domain.AverageCost
	Sales        []domain.SaleOrder
}

// productCosts accumulates delivered quantities per product. The unit cost
// is taken once, when the product is first seen.
type productCosts struct {
	order   []string
	qty     map[string]int
	avg     map[string]decimal.Decimal
	costs   map[string]float64
	missing map[string]bool
}

func newProductCosts(averages []domain.AverageCost) *productCosts {
	costs := make(map[string]float64, len(averages))
	for _, avg := range averages {
		key := avg.ID
		if key == "" {
			key = avg.ProductCode
		}
		costs[key] = avg.AvgCost
	}
	return &productCosts{
		qty:     map[string]int{},
		avg:     map[string]decimal.Decimal{},
		costs:   costs,
		missing: map[string]bool{},
	}
}

func (p *productCosts) add(order domain.SaleOrder) {
	for _, line := range order.Products {
		code := line.ProductCode
		if _, seen := p.avg[code]; !seen {
			cost, ok := p.costs[code]
			if !ok {
				p.missing[code] = true
			}
			p.avg[code] = decimal.NewFromFloat(cost)
			p.order = append(p.order, code)
		}
		p.qty[code] += int(line.Quantity)
	}
}

// rows returns product lines sorted by product code and their total.
func (p *productCosts) rows() ([]domain.ProductCost, decimal.Decimal) {
	codes := append([]string(nil), p.order...)
	sort.Strings(codes)

	total := decimal.Zero
	out := make([]domain.ProductCost, 0, len(codes))
	for _, code := range codes {
		line := p.avg[code].Mul(decimal.NewFromInt(int64(p.qty[code])))
		total = total.Add(line)
		out = append(out, domain.ProductCost{
			ProductCode: code,
			Quantity:    p.qty[code],
			AvgCost:     p.avg[code].InexactFloat64(),
			Total:       line.InexactFloat64(),
		})
	}
	return out, total
}

func (p *productCosts) missingCodes() []string {
	out := make([]string, 0, len(p.missing))
	for code := range p.missing {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// MonthTotals folds src into the snapshot for one month. Records whose date
// does not parse as YYYY-MM-DD in loc are skipped. The second result lists
// delivered products that have no average cost and were costed at zero.
func MonthTotals(year int, month time.Month, loc *time.Location, src Sources) (domain.MonthlyProfitSnapshot, []string) {
	start, end := domain.MonthBounds(year, month, loc)
	inMonth := func(date string) bool {
		t, ok := domain.ParseDate(date, loc)
		return ok && domain.Within(t, start, end)
	}

	expenses := sumInMonth(src.Expenses, inMonth)
	income := sumInMonth(src.Income, inMonth)

	products := newProductCosts(src.AverageCosts)
	for _, order := range src.Sales {
		if order.IsDelivered() && inMonth(order.Date) {
			products.add(order)
		}
	}
	rows, productCost := products.rows()

	return domain.MonthlyProfitSnapshot{
		Month:            domain.MonthLabel(year, month),
		Expenses:         expenses.InexactFloat64(),
		Income:           income.InexactFloat64(),
		TotalProductCost: productCost.InexactFloat64(),
		ProfitLoss:       income.Sub(expenses.Add(productCost)).InexactFloat64(),
		ProductData:      rows,
	}, products.missingCodes()
}

func sumInMonth(entries []domain.LedgerEntry, inMonth func(string) bool) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if inMonth(e.Date) {
			total = total.Add(e.Amount.Decimal())
		}
	}
	return total
}

func sumAll(entries []domain.LedgerEntry) decimal.Decimal {
	return sumInMonth(entries, func(string) bool { return true })
}

// readSources issues the four collection reads concurrently. Any failure,
// including a record whose amount or quantity does not decode, cancels the
// rest and is returned as is. Dates are not checked here.
func (a *Aggregator) readSources(ctx context.Context) (Sources, error) {
	var src Sources
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src.Expenses, err = readAs(gctx, a.store, store.CollectionExpenses, domain.EntryFacts.Entry)
		return err
	})
	g.Go(func() error {
		var err error
		src.Income, err = readAs(gctx, a.store, store.CollectionIncome, domain.EntryFacts.Entry)
		return err
	})
	g.Go(func() error {
		var err error
		src.AverageCosts, err = readAll[domain.AverageCost](gctx, a.store, store.CollectionAverageCosts)
		return err
	})
	g.Go(func() error {
		var err error
		src.Sales, err = readAs(gctx, a.store, store.CollectionSales, domain.SaleFacts.Order)
		return err
	})
	if err := g.Wait(); err != nil {
		return Sources{}, err
	}
	return src, nil
}

func readAll[T any](ctx context.Context, s store.Store, collection string) ([]T, error) {
	records, err := s.ListAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[T](records)
}

func readAs[P, T any](ctx context.Context, s store.Store, collection string, to func(P) T) ([]T, error) {
	records, err := s.ListAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	return store.DecodeAs(records, to)
}

func (a *Aggregator) compute(ctx context.Context, year int, month time.Month) (domain.MonthlyProfitSnapshot, error) {
	src, err := a.readSources(ctx)
	if err != nil {
		return domain.MonthlyProfitSnapshot{}, err
	}
	snap, missing := MonthTotals(year, month, a.loc, src)
	if len(missing) > 0 {
		a.log.Warnw("delivered products without average cost costed at zero",
			"month", snap.Month, "product_codes", missing)
	}
	return snap, nil
}
