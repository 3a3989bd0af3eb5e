// Package period computes and persists monthly profit snapshots.
package period

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"opsledger/backend/internal/apperror"
	"opsledger/backend/internal/cache"
	"opsledger/backend/internal/domain"
	"opsledger/backend/internal/logger"
	"opsledger/backend/internal/metrics"
	"opsledger/backend/internal/store"
	"opsledger/backend/internal/telemetry"
)

type Aggregator struct {
	store    store.Store
	cache    cache.SnapshotCache
	cacheTTL time.Duration
	loc      *time.Location
	now      func() time.Time
	log      *logger.Logger
	metrics  *metrics.Metrics
}

type Option func(*Aggregator)

func WithCache(c cache.SnapshotCache, ttl time.Duration) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.cache = c
			a.cacheTTL = ttl
		}
	}
}

// WithLocation sets the zone in which record dates and month bounds are read.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func New(s store.Store, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:    s,
		cache:    cache.NoopSnapshotCache{},
		cacheTTL: 5 * time.Minute,
		loc:      time.Local,
		now:      time.Now,
		log:      logger.OrNop(log).WithComponent("period"),
		metrics:  m,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ComputeMonth totals one calendar month and stores the snapshot under
// "{year}-{month}". A month with no income, expenses or delivered product
// cost is never written, and an existing snapshot is only rewritten when one
// of its totals changed. The totals are returned either way.
func (a *Aggregator) ComputeMonth(ctx context.Context, year int, month time.Month) (result domain.MonthlyResult, err error) {
	const op = "compute month"
	key := domain.MonthKey(year, month)
	ctx, span := telemetry.Start(ctx, "period.ComputeMonth", attribute.String("month.key", key))
	start := time.Now()
	defer func() {
		telemetry.End(span, err)
		a.metrics.RecordAggregation("compute_month", err, time.Since(start))
	}()

	snap, err := a.compute(ctx, year, month)
	if err != nil {
		a.log.Errorw("month computation failed", "key", key, "error", err)
		return domain.MonthlyResult{}, apperror.Store(op, err)
	}
	result = resultOf(key, snap)

	if result.IsEmpty() {
		a.metrics.RecordSnapshotWrite(metrics.SnapshotSkipped)
		a.log.Debugw("empty month not stored", "key", key)
		return result, nil
	}

	rec, ok, err := a.store.GetByKey(ctx, store.CollectionMonthlyProfit, key)
	if err != nil {
		a.log.Errorw("snapshot read failed", "key", key, "error", err)
		return domain.MonthlyResult{}, apperror.Store(op, err)
	}

	outcome := metrics.SnapshotInserted
	if ok {
		var existing domain.MonthlyProfitSnapshot
		if err := store.Decode(rec, &existing); err != nil {
			a.log.Warnw("stored snapshot unreadable, overwriting", "key", key, "error", err)
			outcome = metrics.SnapshotUpdated
		} else if sameTotals(existing, snap) {
			a.metrics.RecordSnapshotWrite(metrics.SnapshotUnchanged)
			a.log.Debugw("snapshot unchanged", "key", key)
			return result, nil
		} else {
			outcome = metrics.SnapshotUpdated
		}
	}

	if _, err := a.write(ctx, key, snap); err != nil {
		return domain.MonthlyResult{}, apperror.Store(op, err)
	}
	a.metrics.RecordSnapshotWrite(outcome)
	a.log.Infow("snapshot stored", "key", key, "outcome", outcome, "profit_loss", snap.ProfitLoss)

	result.Written = true
	span.SetAttributes(attribute.Bool("snapshot.written", true))
	return result, nil
}

// ComputeCurrentMonth runs ComputeMonth for the clock's month.
func (a *Aggregator) ComputeCurrentMonth(ctx context.Context) (domain.MonthlyResult, error) {
	now := a.now().In(a.loc)
	return a.ComputeMonth(ctx, now.Year(), now.Month())
}

// History lists stored snapshots, newest first.
func (a *Aggregator) History(ctx context.Context) ([]domain.MonthlyProfitSnapshot, error) {
	records, err := a.store.QueryOrdered(ctx, store.CollectionMonthlyProfit, "timestamp", store.Descending)
	if err != nil {
		return nil, apperror.Store("list snapshots", err)
	}
	return store.DecodeValid[domain.MonthlyProfitSnapshot](records, a.skip(store.CollectionMonthlyProfit)), nil
}

// Snapshot reads one stored month, through the cache.
func (a *Aggregator) Snapshot(ctx context.Context, key string) (domain.MonthlyProfitSnapshot, error) {
	const op = "get snapshot"
	if cached, ok, err := a.cache.Get(ctx, key); err != nil {
		a.log.Warnw("snapshot cache read failed", "key", key, "error", err)
	} else if ok {
		return *cached, nil
	}

	rec, ok, err := a.store.GetByKey(ctx, store.CollectionMonthlyProfit, key)
	if err != nil {
		return domain.MonthlyProfitSnapshot{}, apperror.Store(op, err)
	}
	if !ok {
		return domain.MonthlyProfitSnapshot{}, apperror.NotFound(op, "no snapshot for %q", key)
	}
	var snap domain.MonthlyProfitSnapshot
	if err := store.Decode(rec, &snap); err != nil {
		return domain.MonthlyProfitSnapshot{}, apperror.Store(op, err)
	}
	a.cacheSet(ctx, key, snap)
	return snap, nil
}

// write stamps and upserts snap, then refreshes the cache. A failed upsert
// evicts the cached month instead.
func (a *Aggregator) write(ctx context.Context, key string, snap domain.MonthlyProfitSnapshot) (domain.MonthlyProfitSnapshot, error) {
	snap.ID = key
	snap.Timestamp = a.now().UnixMilli()

	rec, err := store.Encode(snap)
	if err != nil {
		return domain.MonthlyProfitSnapshot{}, err
	}
	if err := a.store.Upsert(ctx, store.CollectionMonthlyProfit, key, rec); err != nil {
		a.log.Errorw("snapshot write failed", "key", key, "error", err)
		// the stored state is unknown after a failed write
		if err := a.cache.Delete(ctx, key); err != nil {
			a.log.Warnw("snapshot cache evict failed", "key", key, "error", err)
		}
		return domain.MonthlyProfitSnapshot{}, err
	}
	a.cacheSet(ctx, key, snap)
	return snap, nil
}

func (a *Aggregator) cacheSet(ctx context.Context, key string, snap domain.MonthlyProfitSnapshot) {
	if err := a.cache.Set(ctx, key, &snap, a.cacheTTL); err != nil {
		a.log.Warnw("snapshot cache write failed", "key", key, "error", err)
	}
}

func (a *Aggregator) skip(collection string) func(string, error) {
	return func(key string, err error) {
		a.log.Warnw("skipping malformed record", "collection", collection, "id", key, "error", err)
	}
}

func sameTotals(existing, fresh domain.MonthlyProfitSnapshot) bool {
	return existing.Income == fresh.Income &&
		existing.Expenses == fresh.Expenses &&
		existing.TotalProductCost == fresh.TotalProductCost &&
		existing.ProfitLoss == fresh.ProfitLoss
}

func resultOf(key string, snap domain.MonthlyProfitSnapshot) domain.MonthlyResult {
	return domain.MonthlyResult{
		Key:              key,
		Month:            snap.Month,
		Expenses:         snap.Expenses,
		Income:           snap.Income,
		TotalProductCost: snap.TotalProductCost,
		ProfitLoss:       snap.ProfitLoss,
		ProductData:      snap.ProductData,
	}
}
