// Package breaker fails store calls fast while the backing database keeps
// failing.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"opsledger/backend/internal/logger"
	"opsledger/backend/internal/store"
)

var ErrUnavailable = errors.New("store unavailable")

type Config struct {
	Name              string
	MaxRequests       uint32        // allowed through while half-open
	Interval          time.Duration // closed-state count reset; 0 never resets
	Timeout           time.Duration // open before trying half-open
	FailureThreshold  uint32        // consecutive failures that trip
	FailureRatio      float64
	MinRequestsToTrip uint32
}

func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		MaxRequests:       3,
		Interval:          time.Minute,
		Timeout:           30 * time.Second,
		FailureThreshold:  5,
		FailureRatio:      0.5,
		MinRequestsToTrip: 10,
	}
}

// StateObserver receives breaker transitions, e.g. a metrics gauge.
type StateObserver interface {
	SetCircuitBreakerState(name string, state int)
}

type Store struct {
	next store.Store
	cb   *gobreaker.CircuitBreaker
}

func New(next store.Store, cfg Config, log *logger.Logger, observer StateObserver) *Store {
	log = logger.OrNop(log).WithComponent("breaker")
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			if counts.Requests >= cfg.MinRequestsToTrip {
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if observer != nil {
				observer.SetCircuitBreakerState(name, int(to))
			}
		},
		IsSuccessful: isSuccessful,
	}
	return &Store{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (s *Store) State() gobreaker.State {
	return s.cb.State()
}

// Caller mistakes and cancellations say nothing about the database.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, store.ErrEmptyKey) ||
		errors.Is(err, store.ErrInvalidRecord) ||
		errors.Is(err, context.Canceled)
}

func execute[T any](s *Store, fn func() (T, error)) (T, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%w: %s: %v", ErrUnavailable, s.cb.Name(), err)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

type getResult struct {
	rec store.Record
	ok  bool
}

func (s *Store) ListAll(ctx context.Context, collection string) ([]store.Record, error) {
	return execute(s, func() ([]store.Record, error) {
		return s.next.ListAll(ctx, collection)
	})
}

func (s *Store) QueryEqual(ctx context.Context, collection string, field string, value any) ([]store.Record, error) {
	return execute(s, func() ([]store.Record, error) {
		return s.next.QueryEqual(ctx, collection, field, value)
	})
}

func (s *Store) QueryOrdered(ctx context.Context, collection string, field string, dir store.Direction) ([]store.Record, error) {
	return execute(s, func() ([]store.Record, error) {
		return s.next.QueryOrdered(ctx, collection, field, dir)
	})
}

func (s *Store) GetByKey(ctx context.Context, collection string, key string) (store.Record, bool, error) {
	res, err := execute(s, func() (getResult, error) {
		rec, ok, err := s.next.GetByKey(ctx, collection, key)
		return getResult{rec: rec, ok: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	return res.rec, res.ok, nil
}

func (s *Store) Upsert(ctx context.Context, collection string, key string, record store.Record) error {
	_, err := execute(s, func() (struct{}, error) {
		return struct{}{}, s.next.Upsert(ctx, collection, key, record)
	})
	return err
}

func (s *Store) Append(ctx context.Context, collection string, record store.Record) (string, error) {
	return execute(s, func() (string, error) {
		return s.next.Append(ctx, collection, record)
	})
}
