package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix  = "kv:"
	rangeKeyPrefix  = "kvrange:"
	watchChanPrefix = "kvwatch:"
)

// RedisPostgres is the production Store. Rows live in Postgres and carry a
// sequence-assigned versionstamp; strong reads always hit Postgres. Eventual
// reads are served from a Redis cache whose TTL bounds their staleness.
// Watch is Redis pub/sub, one channel per key.
//
// The pgx pool and redis client are owned by the caller.
type RedisPostgres struct {
	pool     *pgxpool.Pool
	client   *redis.Client
	cacheTTL time.Duration
}

func NewRedisPostgres(pool *pgxpool.Pool, client *redis.Client, cacheTTL time.Duration) *RedisPostgres {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}
	return &RedisPostgres{pool: pool, client: client, cacheTTL: cacheTTL}
}

// Init creates the versionstamp sequence and the entries table.
func (r *RedisPostgres) Init(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `CREATE SEQUENCE IF NOT EXISTS kv_versionstamp`); err != nil {
		return fmt.Errorf("failed to create versionstamp sequence: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS kv_entries (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		versionstamp BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create entries table: %w", err)
	}
	return nil
}

// cachedEntry is the Redis representation of a row.
type cachedEntry struct {
	Value        []byte `json:"value"`
	Versionstamp string `json:"versionstamp"`
}

func (r *RedisPostgres) Get(ctx context.Context, key Key, c Consistency) (Entry, error) {
	enc := key.Encode()
	if c == Eventual {
		data, err := r.client.Get(ctx, cacheKeyPrefix+enc).Result()
		if err == nil {
			var cached cachedEntry
			if jsonErr := json.Unmarshal([]byte(data), &cached); jsonErr == nil {
				return Entry{Key: key, Value: cached.Value, Versionstamp: cached.Versionstamp}, nil
			}
		} else if err != redis.Nil {
			return Entry{}, fmt.Errorf("failed to read cache: %w", err)
		}
	}

	var value []byte
	var stamp int64
	err := r.pool.QueryRow(ctx,
		`SELECT value, versionstamp FROM kv_entries WHERE key = $1`, enc,
	).Scan(&value, &stamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get entry: %w", err)
	}
	entry := Entry{Key: key, Value: value, Versionstamp: formatStamp(stamp)}
	if c == Eventual {
		r.fillCache(ctx, cacheKeyPrefix+enc, cachedEntry{Value: entry.Value, Versionstamp: entry.Versionstamp})
	}
	return entry, nil
}

func (r *RedisPostgres) List(ctx context.Context, prefix Key, c Consistency) ([]Entry, error) {
	enc := prefix.Encode()
	if c == Eventual {
		data, err := r.client.Get(ctx, rangeKeyPrefix+enc).Result()
		if err == nil {
			var cached []cachedRangeEntry
			if jsonErr := json.Unmarshal([]byte(data), &cached); jsonErr == nil {
				return decodeRange(cached), nil
			}
		} else if err != redis.Nil {
			return nil, fmt.Errorf("failed to read range cache: %w", err)
		}
	}

	// All keys under the prefix sort between prefix+"/" and prefix+"0"
	// ("0" is the byte after "/").
	rows, err := r.pool.Query(ctx,
		`SELECT key, value, versionstamp FROM kv_entries WHERE key > $1 AND key < $2 ORDER BY key ASC`,
		enc+"/", enc+"0",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var k string
		var value []byte
		var stamp int64
		if err := rows.Scan(&k, &value, &stamp); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out = append(out, Entry{Key: decodeKey(k), Value: value, Versionstamp: formatStamp(stamp)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	if c == Eventual {
		cached := make([]cachedRangeEntry, 0, len(out))
		for _, e := range out {
			cached = append(cached, cachedRangeEntry{
				Key:          e.Key.Encode(),
				Value:        e.Value,
				Versionstamp: e.Versionstamp,
			})
		}
		r.fillCache(ctx, rangeKeyPrefix+enc, cached)
	}
	return out, nil
}

func (r *RedisPostgres) Put(ctx context.Context, key Key, value []byte) (string, error) {
	enc := key.Encode()
	var stamp int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO kv_entries (key, value, versionstamp)
		 VALUES ($1, $2, nextval('kv_versionstamp'))
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, versionstamp = nextval('kv_versionstamp')
		 RETURNING versionstamp`,
		enc, value,
	).Scan(&stamp)
	if err != nil {
		return "", fmt.Errorf("failed to put entry: %w", err)
	}
	vs := formatStamp(stamp)

	r.fillCache(ctx, cacheKeyPrefix+enc, cachedEntry{Value: value, Versionstamp: vs})

	// The row is committed; if the publish fails the caller sees an error,
	// retries the idempotent write, and watchers get their signal then.
	if err := r.client.Publish(ctx, watchChanPrefix+enc, "").Err(); err != nil {
		return vs, fmt.Errorf("failed to publish watch signal: %w", err)
	}
	return vs, nil
}

func (r *RedisPostgres) Delete(ctx context.Context, key Key) error {
	enc := key.Encode()
	if _, err := r.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, enc); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if err := r.client.Del(ctx, cacheKeyPrefix+enc).Err(); err != nil {
		return fmt.Errorf("failed to drop cache entry: %w", err)
	}
	if err := r.client.Publish(ctx, watchChanPrefix+enc, "").Err(); err != nil {
		return fmt.Errorf("failed to publish watch signal: %w", err)
	}
	return nil
}

func (r *RedisPostgres) Watch(ctx context.Context, keys ...Key) (Subscription, error) {
	channels := make([]string, 0, len(keys))
	for _, k := range keys {
		channels = append(channels, watchChanPrefix+k.Encode())
	}
	pubsub := r.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	sub := &redisSub{
		pubsub:  pubsub,
		signals: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	// Seed one signal so the subscriber sees the current state right away.
	sub.signals <- struct{}{}

	go sub.pump(ctx)
	return sub, nil
}

// Close releases nothing: the pool and client belong to the caller.
func (r *RedisPostgres) Close() error { return nil }

// fillCache is best effort; a failed cache write only costs a Postgres read.
func (r *RedisPostgres) fillCache(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, key, data, r.cacheTTL).Err()
}

type cachedRangeEntry struct {
	Key          string `json:"key"`
	Value        []byte `json:"value"`
	Versionstamp string `json:"versionstamp"`
}

func decodeRange(cached []cachedRangeEntry) []Entry {
	out := make([]Entry, 0, len(cached))
	for _, c := range cached {
		out = append(out, Entry{Key: decodeKey(c.Key), Value: c.Value, Versionstamp: c.Versionstamp})
	}
	return out
}

func formatStamp(stamp int64) string {
	return fmt.Sprintf("%020d", stamp)
}

type redisSub struct {
	pubsub  *redis.PubSub
	signals chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func (s *redisSub) pump(ctx context.Context) {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.finish(ctx.Err())
			return
		case <-s.done:
			return
		case _, ok := <-ch:
			if !ok {
				s.finish(ErrSubscriptionClosed)
				return
			}
			s.mu.Lock()
			if !s.closed {
				select {
				case s.signals <- struct{}{}:
				default:
					// A signal is already pending; this one coalesces.
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *redisSub) finish(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.signals)
	close(s.done)
	s.mu.Unlock()
	_ = s.pubsub.Close()
}

func (s *redisSub) Signals() <-chan struct{} { return s.signals }

func (s *redisSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.err, context.Canceled) {
		return nil
	}
	return s.err
}

func (s *redisSub) Close() error {
	s.finish(nil)
	return nil
}
