package recordstore

import (
	"context"
	"errors"
	"time"
)

// Observer receives one call per store operation. *metrics.Metrics
// satisfies it.
type Observer interface {
	ObserveStore(backend, op string, ms float64, err error)
}

// InstrumentedStore reports latency and outcome of every call on the
// wrapped store. ErrNotFound counts as a successful call.
type InstrumentedStore struct {
	next     Store
	backend  string
	observer Observer
}

var _ Store = (*InstrumentedStore)(nil)

func NewInstrumentedStore(next Store, backend string, observer Observer) *InstrumentedStore {
	return &InstrumentedStore{next: next, backend: backend, observer: observer}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.observer.ObserveStore(s.backend, op, float64(time.Since(start).Microseconds())/1000.0, err)
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (rec Record, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.next.Get(ctx, key)
}

func (s *InstrumentedStore) Set(ctx context.Context, key string, props Doc) (err error) {
	defer func(start time.Time) { s.observe("set", start, err) }(time.Now())
	return s.next.Set(ctx, key, props)
}

func (s *InstrumentedStore) List(ctx context.Context) (recs []Record, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())
	return s.next.List(ctx)
}

func (s *InstrumentedStore) Filter(ctx context.Context, field string, value any) (recs []Record, err error) {
	defer func(start time.Time) { s.observe("filter", start, err) }(time.Now())
	return s.next.Filter(ctx, field, value)
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())
	return s.next.Delete(ctx, key)
}

func (s *InstrumentedStore) Fragment(key, name string) Fragment {
	return &instrumentedFragment{store: s, next: s.next.Fragment(key, name)}
}

func (s *InstrumentedStore) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ping", start, err) }(time.Now())
	return s.next.Ping(ctx)
}

type instrumentedFragment struct {
	store *InstrumentedStore
	next  Fragment
}

func (f *instrumentedFragment) Get(ctx context.Context) (doc Doc, err error) {
	defer func(start time.Time) { f.store.observe("fragment_get", start, err) }(time.Now())
	return f.next.Get(ctx)
}

func (f *instrumentedFragment) Set(ctx context.Context, doc Doc) (err error) {
	defer func(start time.Time) { f.store.observe("fragment_set", start, err) }(time.Now())
	return f.next.Set(ctx, doc)
}

func (f *instrumentedFragment) Delete(ctx context.Context) (err error) {
	defer func(start time.Time) { f.store.observe("fragment_delete", start, err) }(time.Now())
	return f.next.Delete(ctx)
}
