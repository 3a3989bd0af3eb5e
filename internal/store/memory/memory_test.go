package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsledger/backend/internal/store"
	"opsledger/backend/internal/store/storetest"
)

func TestMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, New())
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Upsert(ctx, "things", "a", store.Record{"tags": []any{"x"}}))

	rec, _, err := s.GetByKey(ctx, "things", "a")
	require.NoError(t, err)
	rec["tags"] = []any{"mutated"}

	again, _, err := s.GetByKey(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, again["tags"])
}

func TestQueryOrderedSkipsMissingField(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Upsert(ctx, "entries", "a", store.Record{"date": "2024-03-02"}))
	require.NoError(t, s.Upsert(ctx, "entries", "b", store.Record{"date": "2024-03-10"}))
	require.NoError(t, s.Upsert(ctx, "entries", "c", store.Record{"details": "no date"}))
	require.NoError(t, s.Upsert(ctx, "entries", "d", store.Record{"date": "2024-01-15"}))

	desc, err := s.QueryOrdered(ctx, "entries", "date", store.Descending)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "d"}, storetest.Keys(desc))

	asc, err := s.QueryOrdered(ctx, "entries", "date", store.Ascending)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a", "b"}, storetest.Keys(asc))
}

func TestQueryOrderedNumeric(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Upsert(ctx, "snaps", "x", store.Record{"timestamp": 900}))
	require.NoError(t, s.Upsert(ctx, "snaps", "y", store.Record{"timestamp": 1000}))
	require.NoError(t, s.Upsert(ctx, "snaps", "z", store.Record{"timestamp": 50}))

	desc, err := s.QueryOrdered(ctx, "snaps", "timestamp", store.Descending)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x", "z"}, storetest.Keys(desc))
}

func TestSeededStoreHasSourceCollections(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	for _, name := range []string{store.CollectionStockIn, store.CollectionUnitCosts, store.CollectionSales, store.CollectionExpenses, store.CollectionIncome} {
		all, err := s.ListAll(ctx, name)
		require.NoError(t, err)
		assert.NotEmpty(t, all, name)
	}
}
