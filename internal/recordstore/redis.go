package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 5

// RedisStore keeps every record as a JSON string. Keys:
//
//	<collection>:keys                    set of record keys
//	<collection>:item:<key>              record envelope
//	<collection>:fragments:<key>         set of fragment names for key
//	<collection>:fragment:<key>:<name>   fragment document
//
// Filter has no server-side index; it scans the collection.
type RedisStore struct {
	client     *redis.Client
	collection string
}

var _ Store = (*RedisStore)(nil)

type redisEnvelope struct {
	Props   json.RawMessage `json:"props"`
	Created time.Time       `json:"created"`
	Updated time.Time       `json:"updated"`
}

func NewRedisStore(client *redis.Client, collection string) *RedisStore {
	return &RedisStore{client: client, collection: collection}
}

func (s *RedisStore) keysKey() string            { return s.collection + ":keys" }
func (s *RedisStore) itemKey(key string) string  { return s.collection + ":item:" + key }
func (s *RedisStore) namesKey(key string) string { return s.collection + ":fragments:" + key }

func (s *RedisStore) fragmentKey(key, name string) string {
	return s.collection + ":fragment:" + key + ":" + name
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	raw, err := s.client.Get(ctx, s.itemKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record %q: %w", key, err)
	}
	return s.decodeRecord(key, raw)
}

// Set merges props under WATCH so concurrent merges on the same key do not
// lose fields.
func (s *RedisStore) Set(ctx context.Context, key string, props Doc) error {
	itemKey := s.itemKey(key)
	merge := func(tx *redis.Tx) error {
		now := time.Now().UTC()
		rec := Record{Props: Doc{}, Created: now}

		raw, err := tx.Get(ctx, itemKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			rec, err = s.decodeRecord(key, raw)
			if err != nil {
				return err
			}
		}
		for k, v := range props {
			rec.Props[k] = v
		}
		rec.Updated = now

		encoded, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, itemKey, encoded, 0)
			pipe.SAdd(ctx, s.keysKey(), key)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, merge, itemKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("set record %q: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("set record %q: %w after %d attempts", key, redis.TxFailedErr, maxWatchRetries)
}

func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	return s.collect(ctx, func(Record) bool { return true })
}

func (s *RedisStore) Filter(ctx context.Context, field string, value any) ([]Record, error) {
	return s.collect(ctx, func(rec Record) bool {
		v, ok := rec.Props[field]
		return ok && sameValue(v, value)
	})
}

func (s *RedisStore) collect(ctx context.Context, keep func(Record) bool) ([]Record, error) {
	keys, err := s.client.SMembers(ctx, s.keysKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list record keys: %w", err)
	}
	out := make([]Record, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	sort.Strings(keys)

	itemKeys := make([]string, len(keys))
	for i, k := range keys {
		itemKeys[i] = s.itemKey(k)
	}
	values, err := s.client.MGet(ctx, itemKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// key set and item drifted apart; the item is gone
			continue
		}
		rec, err := s.decodeRecord(keys[i], []byte(str))
		if err != nil {
			return nil, err
		}
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	names, err := s.client.SMembers(ctx, s.namesKey(key)).Result()
	if err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, name := range names {
			pipe.Del(ctx, s.fragmentKey(key, name))
		}
		pipe.Del(ctx, s.namesKey(key), s.itemKey(key))
		pipe.SRem(ctx, s.keysKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Fragment(key, name string) Fragment {
	return &redisFragment{store: s, key: key, name: name}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) decodeRecord(key string, raw []byte) (Record, error) {
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Record{}, fmt.Errorf("decode record %q: %w", key, err)
	}
	props := Doc{}
	if len(env.Props) > 0 && string(env.Props) != "null" {
		doc, err := decodeDoc(env.Props)
		if err != nil {
			return Record{}, fmt.Errorf("decode record %q: %w", key, err)
		}
		props = doc
	}
	return Record{
		Collection: s.collection,
		Key:        key,
		Props:      props,
		Created:    env.Created,
		Updated:    env.Updated,
	}, nil
}

func encodeRecord(rec Record) ([]byte, error) {
	props, err := json.Marshal(rec.Props)
	if err != nil {
		return nil, err
	}
	return json.Marshal(redisEnvelope{Props: props, Created: rec.Created, Updated: rec.Updated})
}

type redisFragment struct {
	store *RedisStore
	key   string
	name  string
}

func (f *redisFragment) Get(ctx context.Context) (Doc, error) {
	raw, err := f.store.client.Get(ctx, f.store.fragmentKey(f.key, f.name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fragment %s/%s: %w", f.key, f.name, err)
	}
	return decodeDoc(raw)
}

func (f *redisFragment) Set(ctx context.Context, doc Doc) error {
	if doc == nil {
		doc = Doc{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode fragment %s/%s: %w", f.key, f.name, err)
	}
	_, err = f.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, f.store.fragmentKey(f.key, f.name), raw, 0)
		pipe.SAdd(ctx, f.store.namesKey(f.key), f.name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set fragment %s/%s: %w", f.key, f.name, err)
	}
	return nil
}

func (f *redisFragment) Delete(ctx context.Context) error {
	_, err := f.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, f.store.fragmentKey(f.key, f.name))
		pipe.SRem(ctx, f.store.namesKey(f.key), f.name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete fragment %s/%s: %w", f.key, f.name, err)
	}
	return nil
}
