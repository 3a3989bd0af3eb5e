// Package storetest runs the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsledger/backend/internal/store"
)

// Run exercises s against fresh, uniquely named collections. Backends that
// persist across tests may be passed in directly.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	prefix := fmt.Sprintf("conformance_%s_", t.Name())
	collection := func(name string) string {
		return sanitize(prefix + name)
	}

	t.Run("get missing key", func(t *testing.T) {
		rec, ok, err := s.GetByKey(context.Background(), collection("missing"), "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, rec)
	})

	t.Run("list empty collection", func(t *testing.T) {
		all, err := s.ListAll(context.Background(), collection("empty"))
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("upsert replaces whole record", func(t *testing.T) {
		ctx := context.Background()
		name := collection("upsert")
		require.NoError(t, s.Upsert(ctx, name, "2024-3", store.Record{"month": "March 2024", "income": 10.5, "stale": true}))
		require.NoError(t, s.Upsert(ctx, name, "2024-3", store.Record{"month": "March 2024", "income": 12.25}))

		rec, ok, err := s.GetByKey(ctx, name, "2024-3")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2024-3", rec.Key())
		assert.Equal(t, 12.25, rec["income"])
		assert.NotContains(t, rec, "stale")

		all, err := s.ListAll(ctx, name)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("append generates distinct keys", func(t *testing.T) {
		ctx := context.Background()
		name := collection("append")
		k1, err := s.Append(ctx, name, store.Record{"details": "a", "amount": 1})
		require.NoError(t, err)
		k2, err := s.Append(ctx, name, store.Record{"details": "b", "amount": 2})
		require.NoError(t, err)
		assert.NotEmpty(t, k1)
		assert.NotEqual(t, k1, k2)

		rec, ok, err := s.GetByKey(ctx, name, k1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a", rec["details"])
		assert.Equal(t, k1, rec.Key())
	})

	t.Run("nested values survive", func(t *testing.T) {
		ctx := context.Background()
		name := collection("nested")
		in := store.Record{
			"status":   "Delivered",
			"products": []any{map[string]any{"productCode": "P1", "quantity": 2.0}},
		}
		require.NoError(t, s.Upsert(ctx, name, "s1", in))

		rec, ok, err := s.GetByKey(ctx, name, "s1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []any{map[string]any{"productCode": "P1", "quantity": 2.0}}, rec["products"])
	})

	t.Run("query equal", func(t *testing.T) {
		ctx := context.Background()
		name := collection("equal")
		require.NoError(t, s.Upsert(ctx, name, "a", store.Record{"month": "Mar 2024", "delivered": 3}))
		require.NoError(t, s.Upsert(ctx, name, "b", store.Record{"month": "Apr 2024", "delivered": 3}))

		got, err := s.QueryEqual(ctx, name, "month", "Mar 2024")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].Key())

		got, err = s.QueryEqual(ctx, name, "delivered", 3)
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.QueryEqual(ctx, name, "month", "May 2024")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("query ordered omits records without the field", func(t *testing.T) {
		ctx := context.Background()
		name := collection("ordered")
		require.NoError(t, s.Upsert(ctx, name, "a", store.Record{"timestamp": 200}))
		require.NoError(t, s.Upsert(ctx, name, "b", store.Record{"timestamp": 300}))
		require.NoError(t, s.Upsert(ctx, name, "c", store.Record{"details": "no timestamp"}))
		require.NoError(t, s.Upsert(ctx, name, "d", store.Record{"timestamp": 100}))

		desc, err := s.QueryOrdered(ctx, name, "timestamp", store.Descending)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "d"}, Keys(desc))

		asc, err := s.QueryOrdered(ctx, name, "timestamp", store.Ascending)
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "a", "b"}, Keys(asc))
	})

	t.Run("empty key rejected", func(t *testing.T) {
		err := s.Upsert(context.Background(), collection("badkey"), "", store.Record{})
		assert.ErrorIs(t, err, store.ErrEmptyKey)
	})
}

func Keys(records []store.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Key())
	}
	return out
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
