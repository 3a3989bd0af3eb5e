package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsledger/backend/internal/store"
	"opsledger/backend/internal/store/memory"
)

type failingStore struct {
	store.Store
	calls int
	err   error
}

func (f *failingStore) ListAll(_ context.Context, _ string) ([]store.Record, error) {
	f.calls++
	return nil, f.err
}

type stateRecorder struct {
	states []int
}

func (r *stateRecorder) SetCircuitBreakerState(_ string, state int) {
	r.states = append(r.states, state)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingStore{Store: memory.New(), err: errors.New("connection refused")}
	observer := &stateRecorder{}
	s := New(inner, DefaultConfig("store"), nil, observer)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.ListAll(ctx, store.CollectionSales)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, s.State())
	assert.Equal(t, []int{int(gobreaker.StateOpen)}, observer.states)

	_, err := s.ListAll(ctx, store.CollectionSales)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 5, inner.calls)
}

func TestCallerErrorsDoNotTrip(t *testing.T) {
	s := New(memory.New(), DefaultConfig("store"), nil, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := s.Upsert(ctx, store.CollectionSales, "", store.Record{})
		assert.ErrorIs(t, err, store.ErrEmptyKey)
	}
	assert.Equal(t, gobreaker.StateClosed, s.State())
}

func TestPassesResultsThrough(t *testing.T) {
	s := New(memory.New(), DefaultConfig("store"), nil, nil)
	ctx := context.Background()

	key, err := s.Append(ctx, store.CollectionIncome, store.Record{"amount": 5})
	require.NoError(t, err)

	rec, ok, err := s.GetByKey(ctx, store.CollectionIncome, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(5), rec["amount"])

	_, ok, err = s.GetByKey(ctx, store.CollectionIncome, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ordered, err := s.QueryOrdered(ctx, store.CollectionIncome, "amount", store.Ascending)
	require.NoError(t, err)
	assert.Len(t, ordered, 1)
}
