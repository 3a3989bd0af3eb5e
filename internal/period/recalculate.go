package period

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"opsledger/backend/internal/apperror"
	"opsledger/backend/internal/domain"
	"opsledger/backend/internal/metrics"
	"opsledger/backend/internal/telemetry"
)

// Recalculate recomputes the month named by a label such as "March 2024"
// and overwrites its snapshot unconditionally, zero totals included.
// Concurrent calls for the same month race; the last write wins.
func (a *Aggregator) Recalculate(ctx context.Context, monthLabel string) (snap domain.MonthlyProfitSnapshot, err error) {
	const op = "recalculate month"
	ctx, span := telemetry.Start(ctx, "period.Recalculate", attribute.String("month.label", monthLabel))
	start := time.Now()
	defer func() {
		telemetry.End(span, err)
		a.metrics.RecordAggregation("recalculate", err, time.Since(start))
	}()

	year, month, err := domain.ParseMonthLabel(monthLabel)
	if err != nil {
		return domain.MonthlyProfitSnapshot{}, err
	}
	key := domain.MonthKey(year, month)

	fresh, err := a.compute(ctx, year, month)
	if err != nil {
		a.log.Errorw("recalculation read failed", "key", key, "error", err)
		return domain.MonthlyProfitSnapshot{}, apperror.Store(op, err)
	}

	snap, err = a.write(ctx, key, fresh)
	if err != nil {
		return domain.MonthlyProfitSnapshot{}, apperror.Store(op, err)
	}
	a.metrics.RecordSnapshotWrite(metrics.SnapshotForced)
	a.log.Infow("snapshot recalculated", "key", key, "profit_loss", snap.ProfitLoss)
	return snap, nil
}
