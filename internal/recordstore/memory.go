package recordstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Used by tests and local runs.
type MemoryStore struct {
	mu         sync.RWMutex
	collection string
	records    map[string]Record
	fragments  map[string]map[string]Doc // key -> fragment name -> doc
	now        func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(collection string) *MemoryStore {
	return &MemoryStore{
		collection: collection,
		records:    make(map[string]Record),
		fragments:  make(map[string]map[string]Doc),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(rec)
}

func (s *MemoryStore) Set(ctx context.Context, key string, props Doc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	incoming, err := cloneDoc(props)
	if err != nil {
		return err
	}

	key = strings.Clone(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if !ok {
		rec = Record{
			Collection: s.collection,
			Key:        key,
			Props:      Doc{},
			Created:    now,
		}
	}
	for k, v := range incoming {
		rec.Props[k] = v
	}
	rec.Updated = now
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	return s.collect(ctx, func(Record) bool { return true })
}

func (s *MemoryStore) Filter(ctx context.Context, field string, value any) ([]Record, error) {
	return s.collect(ctx, func(rec Record) bool {
		v, ok := rec.Props[field]
		return ok && sameValue(v, value)
	})
}

func (s *MemoryStore) collect(ctx context.Context, keep func(Record) bool) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if !keep(rec) {
			continue
		}
		cp, err := copyRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	delete(s.fragments, key)
	return nil
}

func (s *MemoryStore) Fragment(key, name string) Fragment {
	return &memoryFragment{store: s, key: strings.Clone(key), name: strings.Clone(name)}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memoryFragment struct {
	store *MemoryStore
	key   string
	name  string
}

func (f *memoryFragment) Get(ctx context.Context) (Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()

	doc, ok := f.store.fragments[f.key][f.name]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(doc)
}

func (f *memoryFragment) Set(ctx context.Context, doc Doc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp, err := cloneDoc(doc)
	if err != nil {
		return err
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	byName, ok := f.store.fragments[f.key]
	if !ok {
		byName = make(map[string]Doc)
		f.store.fragments[f.key] = byName
	}
	byName[f.name] = cp
	return nil
}

func (f *memoryFragment) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	delete(f.store.fragments[f.key], f.name)
	return nil
}

func copyRecord(rec Record) (Record, error) {
	props, err := cloneDoc(rec.Props)
	if err != nil {
		return Record{}, err
	}
	rec.Props = props
	return rec, nil
}
