package metrics

import (
	"context"
	"time"

	"opsledger/backend/internal/store"
)

type instrumentedStore struct {
	next    store.Store
	metrics *Metrics
}

// InstrumentStore counts and times every call made through next.
func InstrumentStore(next store.Store, m *Metrics) store.Store {
	if m == nil {
		return next
	}
	return &instrumentedStore{next: next, metrics: m}
}

func (s *instrumentedStore) ListAll(ctx context.Context, collection string) ([]store.Record, error) {
	start := time.Now()
	out, err := s.next.ListAll(ctx, collection)
	s.metrics.RecordStoreOperation(collection, "list_all", err, time.Since(start))
	return out, err
}

func (s *instrumentedStore) QueryEqual(ctx context.Context, collection string, field string, value any) ([]store.Record, error) {
	start := time.Now()
	out, err := s.next.QueryEqual(ctx, collection, field, value)
	s.metrics.RecordStoreOperation(collection, "query_equal", err, time.Since(start))
	return out, err
}

func (s *instrumentedStore) QueryOrdered(ctx context.Context, collection string, field string, dir store.Direction) ([]store.Record, error) {
	start := time.Now()
	out, err := s.next.QueryOrdered(ctx, collection, field, dir)
	s.metrics.RecordStoreOperation(collection, "query_ordered", err, time.Since(start))
	return out, err
}

func (s *instrumentedStore) GetByKey(ctx context.Context, collection string, key string) (store.Record, bool, error) {
	start := time.Now()
	rec, ok, err := s.next.GetByKey(ctx, collection, key)
	s.metrics.RecordStoreOperation(collection, "get_by_key", err, time.Since(start))
	return rec, ok, err
}

func (s *instrumentedStore) Upsert(ctx context.Context, collection string, key string, record store.Record) error {
	start := time.Now()
	err := s.next.Upsert(ctx, collection, key, record)
	s.metrics.RecordStoreOperation(collection, "upsert", err, time.Since(start))
	return err
}

func (s *instrumentedStore) Append(ctx context.Context, collection string, record store.Record) (string, error) {
	start := time.Now()
	key, err := s.next.Append(ctx, collection, record)
	s.metrics.RecordStoreOperation(collection, "append", err, time.Since(start))
	return key, err
}
