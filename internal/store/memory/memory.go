package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"opsledger/backend/internal/domain"
	"opsledger/backend/internal/store"
	"opsledger/backend/internal/xid"
)

type collection struct {
	order   []string
	records map[string]store.Record
}

type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// NewSeeded returns a store holding a small demo ledger for the current
// and the previous month.
func NewSeeded() *Store {
	s := New()
	now := time.Now()
	thisMonth := now.Format("2006-01")
	prev := now.AddDate(0, -1, 0).Format("2006-01")
	stamp := now.UnixMilli()

	receipts := []domain.StockReceipt{
		{ID: "rcpt-tshirt-01", ProductCode: "TSHIRT-BLK", Quantity: 40, Date: prev + "-03", Timestamp: stamp},
		{ID: "rcpt-tshirt-02", ProductCode: "TSHIRT-BLK", Quantity: 20, Date: thisMonth + "-02", Timestamp: stamp},
		{ID: "rcpt-mug-01", ProductCode: "MUG-WHT", Quantity: 30, Date: prev + "-05", Timestamp: stamp},
		{ID: "rcpt-cap-01", ProductCode: "CAP-RED", Quantity: 15, Date: thisMonth + "-04", Timestamp: stamp},
	}
	unitCosts := map[string]float64{
		"rcpt-tshirt-01": 180,
		"rcpt-tshirt-02": 195,
		"rcpt-mug-01":    90,
		"rcpt-cap-01":    120,
	}
	sales := []domain.SaleOrder{
		{ID: "sale-0001", Date: prev + "-12", Status: domain.SaleStatusDelivered, CODAmount: 1200, CustomerName: "Ravi",
			Products: []domain.SaleLine{{ProductCode: "TSHIRT-BLK", Quantity: 2}, {ProductCode: "MUG-WHT", Quantity: 1}}},
		{ID: "sale-0002", Date: prev + "-20", Status: domain.SaleStatusReturned, CODAmount: 450, CustomerName: "Anita",
			Products: []domain.SaleLine{{ProductCode: "MUG-WHT", Quantity: 3}}},
		{ID: "sale-0003", Date: thisMonth + "-06", Status: domain.SaleStatusDelivered, CODAmount: 900, CustomerName: "Kiran",
			Products: []domain.SaleLine{{ProductCode: "TSHIRT-BLK", Quantity: 3}}},
		{ID: "sale-0004", Date: thisMonth + "-07", Status: domain.SaleStatusSent, CODAmount: 350, CustomerName: "Meera",
			Products: []domain.SaleLine{{ProductCode: "CAP-RED", Quantity: 1}}},
	}
	entries := map[string][]domain.LedgerEntry{
		store.CollectionExpenses: {
			{ID: "exp-0001", Date: prev + "-01", Details: "Courier charges", Amount: 300, Timestamp: stamp},
			{ID: "exp-0002", Date: thisMonth + "-01", Details: "Packaging", Amount: 150, Timestamp: stamp},
		},
		store.CollectionIncome: {
			{ID: "inc-0001", Date: prev + "-25", Details: "COD remittance", Amount: 1200, Timestamp: stamp},
			{ID: "inc-0002", Date: thisMonth + "-10", Details: "COD remittance", Amount: 900, Timestamp: stamp},
		},
		store.CollectionInvestment: {
			{ID: "inv-0001", Date: prev + "-01", Details: "Owner capital", Amount: 10000, Timestamp: stamp},
		},
	}

	for _, r := range receipts {
		s.mustPut(store.CollectionStockIn, r.ID, r)
		s.mustPut(store.CollectionUnitCosts, r.ID, domain.UnitCostEntry{UnitCost: domain.Amount(unitCosts[r.ID])})
	}
	for _, sale := range sales {
		sale.Timestamp = stamp
		s.mustPut(store.CollectionSales, sale.ID, sale)
	}
	for name, list := range entries {
		for _, e := range list {
			s.mustPut(name, e.ID, e)
		}
	}
	return s
}

func (s *Store) mustPut(name string, key string, v any) {
	rec, err := store.Encode(v)
	if err != nil {
		panic(fmt.Sprintf("memory: seed %s/%s: %v", name, key, err))
	}
	if err := s.Upsert(context.Background(), name, key, rec); err != nil {
		panic(fmt.Sprintf("memory: seed %s/%s: %v", name, key, err))
	}
}

func (s *Store) ListAll(_ context.Context, name string) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.collections[name]
	if c == nil {
		return []store.Record{}, nil
	}
	out := make([]store.Record, 0, len(c.order))
	for _, key := range c.order {
		rec, err := store.Clone(c.records[key])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) QueryEqual(ctx context.Context, name string, field string, value any) ([]store.Record, error) {
	want, err := store.Normalize(value)
	if err != nil {
		return nil, err
	}
	all, err := s.ListAll(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(all))
	for _, rec := range all {
		got, ok := rec[field]
		if ok && reflect.DeepEqual(got, want) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) QueryOrdered(ctx context.Context, name string, field string, dir store.Direction) ([]store.Record, error) {
	all, err := s.ListAll(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(all))
	for _, rec := range all {
		if _, ok := rec[field]; ok {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		cmp := compareValues(out[i][field], out[j][field])
		if dir == store.Descending {
			return cmp > 0
		}
		return cmp < 0
	})
	return out, nil
}

func (s *Store) GetByKey(_ context.Context, name string, key string) (store.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.collections[name]
	if c == nil {
		return nil, false, nil
	}
	rec, ok := c.records[key]
	if !ok {
		return nil, false, nil
	}
	clone, err := store.Clone(rec)
	if err != nil {
		return nil, false, err
	}
	return clone, true, nil
}

func (s *Store) Upsert(_ context.Context, name string, key string, record store.Record) error {
	if key == "" {
		return store.ErrEmptyKey
	}
	rec, err := store.Clone(record)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = store.Record{}
	}
	rec[store.KeyField] = key

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(name)
	if _, exists := c.records[key]; !exists {
		c.order = append(c.order, key)
	}
	c.records[key] = rec
	return nil
}

func (s *Store) Append(ctx context.Context, name string, record store.Record) (string, error) {
	key := xid.New("")
	if err := s.Upsert(ctx, name, key, record); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) collection(name string) *collection {
	c := s.collections[name]
	if c == nil {
		c = &collection{records: make(map[string]store.Record)}
		s.collections[name] = c
	}
	return c
}

// compareValues orders nil < numbers < strings < bools < everything else.
func compareValues(a any, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case nil:
		return 0
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case bool:
		return 3
	}
	return 4
}
