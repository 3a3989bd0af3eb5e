package mongodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"opsledger/backend/internal/store"
)

var _ store.Pinger = (*Store)(nil)

func TestToDocumentMovesKeyToObjectID(t *testing.T) {
	doc := toDocument("2024-3", store.Record{"id": "ignored", "month": "March 2024"})
	assert.Equal(t, bson.M{"_id": "2024-3", "month": "March 2024"}, doc)
}

func TestFromRawNormalizesNumbersAndKey(t *testing.T) {
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: "r1"},
		{Key: "quantity", Value: int32(4)},
		{Key: "timestamp", Value: int64(1710000000000)},
		{Key: "unitCost", Value: 12.5},
	})
	require.NoError(t, err)

	rec, err := fromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, store.Record{
		"id":        "r1",
		"quantity":  float64(4),
		"timestamp": float64(1710000000000),
		"unitCost":  12.5,
	}, rec)
}

func TestFromRawAcceptsObjectIDKeys(t *testing.T) {
	oid := primitive.NewObjectID()
	raw, err := bson.Marshal(bson.D{{Key: "_id", Value: oid}, {Key: "details", Value: "rent"}})
	require.NoError(t, err)

	rec, err := fromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, oid.Hex(), rec.Key())
	assert.NotContains(t, rec, "_id")
}

func TestDocumentFieldMapsKey(t *testing.T) {
	assert.Equal(t, "_id", documentField("id"))
	assert.Equal(t, "month", documentField("month"))
}
