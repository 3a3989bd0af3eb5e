// Package ledger derives stock levels from stock receipts and sales.
package ledger

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"opsledger/backend/internal/apperror"
	"opsledger/backend/internal/domain"
	"opsledger/backend/internal/logger"
	"opsledger/backend/internal/metrics"
	"opsledger/backend/internal/store"
	"opsledger/backend/internal/telemetry"
)

type Ledger struct {
	store   store.Store
	log     *logger.Logger
	metrics *metrics.Metrics
}

func New(s store.Store, log *logger.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{
		store:   s,
		log:     logger.OrNop(log).WithComponent("ledger"),
		metrics: m,
	}
}

// Reduce folds receipts and sales into one row per received product, sorted
// by product code. Returned quantities are counted back only for orders
// whose status is exactly "Returned". The second result lists product codes
// that appear in sales but were never received.
func Reduce(receipts []domain.StockReceipt, sales []domain.SaleOrder) ([]domain.InventoryRow, []string) {
	received := make(map[string]int)
	soldGross := make(map[string]int)
	returned := make(map[string]int)

	for _, r := range receipts {
		received[r.ProductCode] += int(r.Quantity)
	}
	for _, order := range sales {
		for _, line := range order.Products {
			soldGross[line.ProductCode] += int(line.Quantity)
			if order.IsReturned() {
				returned[line.ProductCode] += int(line.Quantity)
			}
		}
	}

	rows := make([]domain.InventoryRow, 0, len(received))
	for code, stockIn := range received {
		stockOut := soldGross[code] - returned[code]
		rows = append(rows, domain.InventoryRow{
			ProductCode:    code,
			StockIn:        stockIn,
			StockOut:       stockOut,
			AvailableStock: stockIn - stockOut,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductCode < rows[j].ProductCode })

	var salesOnly []string
	for code := range soldGross {
		if _, ok := received[code]; !ok {
			salesOnly = append(salesOnly, code)
		}
	}
	sort.Strings(salesOnly)

	return rows, salesOnly
}

// ComputeInventory reads every receipt and sale and returns the current
// stock view. It writes nothing.
func (l *Ledger) ComputeInventory(ctx context.Context) (rows []domain.InventoryRow, err error) {
	const op = "compute inventory"
	ctx, span := telemetry.Start(ctx, "ledger.ComputeInventory")
	start := time.Now()
	defer func() {
		telemetry.End(span, err)
		l.metrics.RecordAggregation("compute_inventory", err, time.Since(start))
	}()

	var (
		receipts []domain.StockReceipt
		sales    []domain.SaleOrder
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		receipts, err = l.receipts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		sales, err = l.sales(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		l.log.Errorw("inventory read failed", "error", err)
		return nil, apperror.Store(op, err)
	}

	rows, salesOnly := Reduce(receipts, sales)
	if len(salesOnly) > 0 {
		l.log.Warnw("products sold without stock receipts are not in inventory", "product_codes", salesOnly)
	}
	span.SetAttributes(attribute.Int("inventory.rows", len(rows)))
	l.log.Debugw("inventory computed", "rows", len(rows), "receipts", len(receipts), "sales", len(sales))
	return rows, nil
}

// TallySales counts delivered and returned orders across all sales and
// records the counts once per calendar month of now. An existing record for
// the month is left as it is.
func (l *Ledger) TallySales(ctx context.Context, now time.Time) (tally domain.SalesTally, err error) {
	const op = "tally sales"
	ctx, span := telemetry.Start(ctx, "ledger.TallySales")
	start := time.Now()
	defer func() {
		telemetry.End(span, err)
		l.metrics.RecordAggregation("tally_sales", err, time.Since(start))
	}()

	sales, err := l.sales(ctx)
	if err != nil {
		return domain.SalesTally{}, apperror.Store(op, err)
	}

	tally.Month = now.Format(domain.TallyLabelLayout)
	for _, order := range sales {
		switch order.Status {
		case domain.SaleStatusDelivered:
			tally.Delivered++
		case domain.SaleStatusReturned:
			tally.Returned++
		}
	}

	existing, err := l.store.QueryEqual(ctx, store.CollectionMonthlySales, "month", tally.Month)
	if err != nil {
		return domain.SalesTally{}, apperror.Store(op, err)
	}
	if len(existing) > 0 {
		l.log.Debugw("sales tally already recorded", "month", tally.Month)
		return tally, nil
	}

	rec, err := store.Encode(domain.MonthlySalesTally{
		Month:     tally.Month,
		Delivered: tally.Delivered,
		Returned:  tally.Returned,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		return domain.SalesTally{}, apperror.Store(op, err)
	}
	if _, err := l.store.Append(ctx, store.CollectionMonthlySales, rec); err != nil {
		l.log.Errorw("sales tally write failed", "month", tally.Month, "error", err)
		return domain.SalesTally{}, apperror.Store(op, err)
	}
	tally.Recorded = true
	l.log.Infow("sales tally recorded", "month", tally.Month, "delivered", tally.Delivered, "returned", tally.Returned)
	return tally, nil
}

// TallyHistory lists the recorded monthly sales tallies, newest first.
func (l *Ledger) TallyHistory(ctx context.Context) ([]domain.MonthlySalesTally, error) {
	records, err := l.store.QueryOrdered(ctx, store.CollectionMonthlySales, "timestamp", store.Descending)
	if err != nil {
		return nil, apperror.Store("list sales tallies", err)
	}
	return store.DecodeValid[domain.MonthlySalesTally](records, l.skip(store.CollectionMonthlySales)), nil
}

// receipts and sales decode only the fields stock levels read. A record
// whose quantity or product lines do not decode fails the read.
func (l *Ledger) receipts(ctx context.Context) ([]domain.StockReceipt, error) {
	records, err := l.store.ListAll(ctx, store.CollectionStockIn)
	if err != nil {
		return nil, err
	}
	return store.DecodeAs(records, domain.ReceiptFacts.Receipt)
}

func (l *Ledger) sales(ctx context.Context) ([]domain.SaleOrder, error) {
	records, err := l.store.ListAll(ctx, store.CollectionSales)
	if err != nil {
		return nil, err
	}
	return store.DecodeAs(records, domain.SaleFacts.Order)
}

func (l *Ledger) skip(collection string) func(string, error) {
	return func(key string, err error) {
		l.log.Warnw("skipping malformed record", "collection", collection, "id", key, "error", err)
	}
}
