package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsledger/backend/internal/store"
)

var _ store.Pinger = (*Store)(nil)

func TestEncodeBodyDropsKey(t *testing.T) {
	body, err := encodeBody(store.Record{"id": "x", "amount": 12.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":12.5}`, body)
}

func TestDecodeBodyRestoresKey(t *testing.T) {
	rec, err := decodeBody("2024-3", []byte(`{"month":"March 2024","income":10}`))
	require.NoError(t, err)
	assert.Equal(t, store.Record{"id": "2024-3", "month": "March 2024", "income": float64(10)}, rec)

	_, err = decodeBody("bad", []byte(`{`))
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(assert.AnError))
}
