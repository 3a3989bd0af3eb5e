// Package mongodb stores records as MongoDB documents, one collection per
// record collection. The record key lives in _id.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"opsledger/backend/internal/store"
)

const idField = "_id"

type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "opsledger",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    50,
	}
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func Connect(ctx context.Context, cfg Config) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &Store{client: client, db: client.Database(cfg.Database)}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) ListAll(ctx context.Context, collection string) ([]store.Record, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongodb list %s: %w", collection, err)
	}
	return readAll(ctx, cursor, collection)
}

func (s *Store) QueryEqual(ctx context.Context, collection string, field string, value any) ([]store.Record, error) {
	want, err := store.Normalize(value)
	if err != nil {
		return nil, err
	}
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{documentField(field): want})
	if err != nil {
		return nil, fmt.Errorf("mongodb query %s.%s: %w", collection, field, err)
	}
	return readAll(ctx, cursor, collection)
}

// QueryOrdered leaves out documents without the field, matching the
// index-backed ordering of the other stores.
func (s *Store) QueryOrdered(ctx context.Context, collection string, field string, dir store.Direction) ([]store.Record, error) {
	field = documentField(field)
	order := 1
	if dir == store.Descending {
		order = -1
	}
	filter := bson.M{field: bson.M{"$exists": true}}
	opts := options.Find().SetSort(bson.D{{Key: field, Value: order}})

	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb order %s by %s: %w", collection, field, err)
	}
	return readAll(ctx, cursor, collection)
}

func (s *Store) GetByKey(ctx context.Context, collection string, key string) (store.Record, bool, error) {
	raw, err := s.db.Collection(collection).FindOne(ctx, bson.M{idField: key}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongodb get %s/%s: %w", collection, key, err)
	}
	rec, err := fromRaw(raw)
	if err != nil {
		return nil, false, fmt.Errorf("mongodb get %s/%s: %w", collection, key, err)
	}
	return rec, true, nil
}

func (s *Store) Upsert(ctx context.Context, collection string, key string, record store.Record) error {
	if key == "" {
		return store.ErrEmptyKey
	}
	doc := toDocument(key, record)
	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{idField: key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb upsert %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, collection string, record store.Record) (string, error) {
	key := primitive.NewObjectID().Hex()
	if _, err := s.db.Collection(collection).InsertOne(ctx, toDocument(key, record)); err != nil {
		return "", fmt.Errorf("mongodb append %s: %w", collection, err)
	}
	return key, nil
}

func documentField(field string) string {
	if field == store.KeyField {
		return idField
	}
	return field
}

func toDocument(key string, record store.Record) bson.M {
	doc := make(bson.M, len(record)+1)
	for k, v := range record {
		if k == store.KeyField {
			continue
		}
		doc[k] = v
	}
	doc[idField] = key
	return doc
}

func readAll(ctx context.Context, cursor *mongo.Cursor, collection string) ([]store.Record, error) {
	defer cursor.Close(ctx)

	out := []store.Record{}
	for cursor.Next(ctx) {
		rec, err := fromRaw(cursor.Current)
		if err != nil {
			return nil, fmt.Errorf("mongodb decode %s: %w", collection, err)
		}
		out = append(out, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongodb cursor %s: %w", collection, err)
	}
	return out, nil
}

// fromRaw converts a document to its relaxed extended JSON form so that
// numbers of any BSON width come back as float64.
func fromRaw(raw bson.Raw) (store.Record, error) {
	payload, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	var rec store.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}

	switch id := rec[idField].(type) {
	case string:
		rec[store.KeyField] = id
	case map[string]any:
		if oid, ok := id["$oid"].(string); ok {
			rec[store.KeyField] = oid
		}
	}
	delete(rec, idField)
	return rec, nil
}
