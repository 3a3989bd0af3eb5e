package storetest

import (
	"context"
	"sync"

	"opsledger/backend/internal/store"
)

// Counting records how many writes pass through to the wrapped store.
type Counting struct {
	store.Store

	mu      sync.Mutex
	upserts map[string]int
	appends map[string]int
}

func NewCounting(next store.Store) *Counting {
	return &Counting{Store: next, upserts: map[string]int{}, appends: map[string]int{}}
}

func (c *Counting) Upsert(ctx context.Context, collection string, key string, record store.Record) error {
	c.mu.Lock()
	c.upserts[collection]++
	c.mu.Unlock()
	return c.Store.Upsert(ctx, collection, key, record)
}

func (c *Counting) Append(ctx context.Context, collection string, record store.Record) (string, error) {
	c.mu.Lock()
	c.appends[collection]++
	c.mu.Unlock()
	return c.Store.Append(ctx, collection, record)
}

func (c *Counting) Upserts(collection string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upserts[collection]
}

func (c *Counting) Appends(collection string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appends[collection]
}

func (c *Counting) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.upserts {
		total += n
	}
	for _, n := range c.appends {
		total += n
	}
	return total
}

// Failing returns Err from every read of the named collections and passes
// everything else through.
type Failing struct {
	store.Store
	Err         error
	Collections map[string]bool
}

func NewFailing(next store.Store, err error, collections ...string) *Failing {
	set := make(map[string]bool, len(collections))
	for _, name := range collections {
		set[name] = true
	}
	return &Failing{Store: next, Err: err, Collections: set}
}

func (f *Failing) ListAll(ctx context.Context, collection string) ([]store.Record, error) {
	if f.Collections[collection] {
		return nil, f.Err
	}
	return f.Store.ListAll(ctx, collection)
}

func (f *Failing) QueryEqual(ctx context.Context, collection string, field string, value any) ([]store.Record, error) {
	if f.Collections[collection] {
		return nil, f.Err
	}
	return f.Store.QueryEqual(ctx, collection, field, value)
}

func (f *Failing) QueryOrdered(ctx context.Context, collection string, field string, dir store.Direction) ([]store.Record, error) {
	if f.Collections[collection] {
		return nil, f.Err
	}
	return f.Store.QueryOrdered(ctx, collection, field, dir)
}

func (f *Failing) GetByKey(ctx context.Context, collection string, key string) (store.Record, bool, error) {
	if f.Collections[collection] {
		return nil, false, f.Err
	}
	return f.Store.GetByKey(ctx, collection, key)
}

// Put encodes v and upserts it under key.
func Put(ctx context.Context, s store.Store, collection string, key string, v any) error {
	rec, err := store.Encode(v)
	if err != nil {
		return err
	}
	return s.Upsert(ctx, collection, key, rec)
}
