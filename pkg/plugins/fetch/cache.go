package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Cache names reported to a Recorder.
const (
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

// LRUCache serves repeated requests from memory, keyed by query string.
type LRUCache[T any] struct {
	source   Source[T]
	cache    *lru.LRU[string, *Result[T]]
	recorder Recorder
}

// WithLRUCache wraps src with an in-memory cache of size entries, each
// kept for at most ttl. A zero ttl keeps entries until evicted.
func WithLRUCache[T any](src Source[T], size int, ttl time.Duration, recorder Recorder) *LRUCache[T] {
	if size < 1 {
		size = 1
	}
	return &LRUCache[T]{
		source:   src,
		cache:    lru.NewLRU[string, *Result[T]](size, nil, ttl),
		recorder: recorderOrNoop(recorder),
	}
}

// Fetch returns the cached result or loads and caches it.
func (c *LRUCache[T]) Fetch(ctx context.Context, req Request) (*Result[T], error) {
	if res, ok := c.cache.Get(req.QueryString); ok {
		c.recorder.RecordCache(ctx, CacheLRU, true)
		return res, nil
	}
	c.recorder.RecordCache(ctx, CacheLRU, false)

	res, err := c.source.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	c.cache.Add(req.QueryString, res)
	return res, nil
}

// Purge drops every cached result.
func (c *LRUCache[T]) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached results.
func (c *LRUCache[T]) Len() int {
	return c.cache.Len()
}

// RedisCache shares results between processes through Redis. Values are
// stored as JSON, so T must round-trip through encoding/json.
type RedisCache[T any] struct {
	source   Source[T]
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	log      logrus.FieldLogger
	recorder Recorder
}

// RedisOptions configures WithRedisCache.
type RedisOptions struct {
	Prefix   string
	TTL      time.Duration
	Logger   logrus.FieldLogger
	Recorder Recorder
}

// WithRedisCache wraps src with a Redis-backed cache. Redis failures are
// logged and fall through to src.
func WithRedisCache[T any](src Source[T], client *redis.Client, opts RedisOptions) *RedisCache[T] {
	if opts.Prefix == "" {
		opts.Prefix = "boringtable:fetch:"
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &RedisCache[T]{
		source:   src,
		client:   client,
		prefix:   opts.Prefix,
		ttl:      opts.TTL,
		log:      opts.Logger,
		recorder: recorderOrNoop(opts.Recorder),
	}
}

func (c *RedisCache[T]) key(req Request) string {
	return c.prefix + req.QueryString
}

// Fetch returns the cached result or loads and caches it.
func (c *RedisCache[T]) Fetch(ctx context.Context, req Request) (*Result[T], error) {
	key := c.key(req)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var res Result[T]
		if err := json.Unmarshal(raw, &res); err == nil {
			c.recorder.RecordCache(ctx, CacheRedis, true)
			return &res, nil
		}
		c.log.WithField("key", key).Warn("dropping undecodable cached fetch result")
		c.client.Del(ctx, key)
	case errors.Is(err, redis.Nil):
	default:
		c.log.WithError(err).WithField("key", key).Warn("redis get failed")
	}
	c.recorder.RecordCache(ctx, CacheRedis, false)

	res, err := c.source.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fetch result: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("redis set failed")
	}
	return res, nil
}

// Invalidate removes the cached result for req.
func (c *RedisCache[T]) Invalidate(ctx context.Context, req Request) error {
	return c.client.Del(ctx, c.key(req)).Err()
}

// Singleflight collapses concurrent identical requests into one call.
type Singleflight[T any] struct {
	source Source[T]
	group  singleflight.Group
}

// WithSingleflight wraps src so that concurrent fetches with the same query
// string share one underlying call and its result.
func WithSingleflight[T any](src Source[T]) *Singleflight[T] {
	return &Singleflight[T]{source: src}
}

// Fetch joins an in-flight call for the same query string or starts one.
func (s *Singleflight[T]) Fetch(ctx context.Context, req Request) (*Result[T], error) {
	v, err, _ := s.group.Do(req.QueryString, func() (any, error) {
		return s.source.Fetch(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result[T]), nil
}
