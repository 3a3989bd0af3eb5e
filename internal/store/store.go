package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidRecord = errors.New("invalid record")
	ErrEmptyKey      = errors.New("empty key")
)

const (
	CollectionStockIn         = "stockIn"
	CollectionSales           = "sales"
	CollectionUnitCosts       = "unitCosts"
	CollectionAverageCosts    = "averageCosts"
	CollectionPurchaseSummary = "purchaseSummary"
	CollectionExpenses        = "expenses"
	CollectionIncome          = "income"
	CollectionInvestment      = "investment"
	CollectionMonthlyProfit   = "monthlyProfit"
	CollectionMonthlySales    = "monthly_sales"
	CollectionUsers           = "users"
)

// KeyField holds a record's key in every Record returned by a Store.
const KeyField = "id"

type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Record is one schemaless document. Values are JSON-shaped: string,
// float64, bool, nil, []any and map[string]any.
type Record map[string]any

func (r Record) Key() string {
	key, _ := r[KeyField].(string)
	return key
}

// Store is a collection-scoped document store.
//
// QueryOrdered omits records that lack the order field. GetByKey reports a
// missing record with ok=false and a nil error. Upsert replaces the whole
// record. Append generates the key.
type Store interface {
	ListAll(ctx context.Context, collection string) ([]Record, error)
	QueryEqual(ctx context.Context, collection string, field string, value any) ([]Record, error)
	QueryOrdered(ctx context.Context, collection string, field string, dir Direction) ([]Record, error)
	GetByKey(ctx context.Context, collection string, key string) (Record, bool, error)
	Upsert(ctx context.Context, collection string, key string, record Record) error
	Append(ctx context.Context, collection string, record Record) (string, error)
}

// Pinger is implemented by backends that hold a server connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Encode turns a json-tagged struct into a Record.
func Encode(v any) (Record, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return rec, nil
}

// Decode fills the json-tagged struct v from rec.
func Decode(rec Record, v any) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// DecodeAll decodes every record into T, stopping at the first failure.
func DecodeAll[T any](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var item T
		if err := Decode(rec, &item); err != nil {
			return nil, fmt.Errorf("record %q: %w", rec.Key(), err)
		}
		out = append(out, item)
	}
	return out, nil
}

// DecodeAs decodes every record into the projection P and converts it with
// to. Like DecodeAll it fails on the first record that does not decode.
func DecodeAs[P, T any](records []Record, to func(P) T) ([]T, error) {
	projected, err := DecodeAll[P](records)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(projected))
	for _, p := range projected {
		out = append(out, to(p))
	}
	return out, nil
}

// DecodeValid decodes every record it can into T and reports the rest to
// skip, which may be nil.
func DecodeValid[T any](records []Record, skip func(key string, err error)) []T {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var item T
		if err := Decode(rec, &item); err != nil {
			if skip != nil {
				skip(rec.Key(), err)
			}
			continue
		}
		out = append(out, item)
	}
	return out
}

// Clone deep-copies a record through its JSON form.
func Clone(rec Record) (Record, error) {
	if rec == nil {
		return nil, nil
	}
	return Encode(rec)
}

// Normalize converts a scalar to the JSON-shaped form stored in records so
// that an int query value matches a float64 stored value.
func Normalize(value any) (any, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	var out any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return out, nil
}
