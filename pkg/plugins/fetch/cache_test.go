package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheCounter struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

func newCacheCounter() *cacheCounter {
	return &cacheCounter{hits: map[string]int{}, misses: map[string]int{}}
}

func (c *cacheCounter) RecordFetch(context.Context, string, time.Duration, error) {}

func (c *cacheCounter) RecordCache(_ context.Context, cache string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits[cache]++
	} else {
		c.misses[cache]++
	}
}

func echoSource(calls *atomic.Int32) SourceFunc[user] {
	return func(_ context.Context, req Request) (*Result[user], error) {
		n := calls.Add(1)
		return &Result[user]{Data: []user{{ID: int(n), Name: req.QueryString}}}, nil
	}
}

func TestLRUCache_HitsAndMisses(t *testing.T) {
	var calls atomic.Int32
	counter := newCacheCounter()
	c := WithLRUCache[user](echoSource(&calls), 2, time.Minute, counter)
	ctx := context.Background()

	first, err := c.Fetch(ctx, Request{QueryString: "q=a"})
	require.NoError(t, err)
	again, err := c.Fetch(ctx, Request{QueryString: "q=a"})
	require.NoError(t, err)
	assert.Same(t, first, again)

	_, err = c.Fetch(ctx, Request{QueryString: "q=b"})
	require.NoError(t, err)
	_, err = c.Fetch(ctx, Request{QueryString: "q=c"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	// q=a was evicted
	_, err = c.Fetch(ctx, Request{QueryString: "q=a"})
	require.NoError(t, err)

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 1, counter.hits[CacheLRU])
	assert.Equal(t, 4, counter.misses[CacheLRU])

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_ErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc[user](func(context.Context, Request) (*Result[user], error) {
		calls.Add(1)
		return nil, errors.New("down")
	})
	c := WithLRUCache[user](src, 4, 0, nil)

	_, err := c.Fetch(context.Background(), Request{})
	assert.Error(t, err)
	_, err = c.Fetch(context.Background(), Request{})
	assert.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	client, mr := setupRedis(t)
	var calls atomic.Int32
	counter := newCacheCounter()
	log, _ := test.NewNullLogger()

	c := WithRedisCache[user](echoSource(&calls), client, RedisOptions{
		Prefix:   "test:",
		TTL:      time.Minute,
		Logger:   log,
		Recorder: counter,
	})
	ctx := context.Background()
	req := Request{QueryString: "q=a"}

	first, err := c.Fetch(ctx, req)
	require.NoError(t, err)
	second, err := c.Fetch(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, mr.Exists("test:q=a"))
	assert.Equal(t, time.Minute, mr.TTL("test:q=a"))
	assert.Equal(t, 1, counter.hits[CacheRedis])
	assert.Equal(t, 1, counter.misses[CacheRedis])

	require.NoError(t, c.Invalidate(ctx, req))
	_, err = c.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRedisCache_CorruptEntryIsReplaced(t *testing.T) {
	client, mr := setupRedis(t)
	var calls atomic.Int32
	log, hook := test.NewNullLogger()

	c := WithRedisCache[user](echoSource(&calls), client, RedisOptions{Logger: log})
	require.NoError(t, mr.Set("boringtable:fetch:q=a", "{not json"))

	res, err := c.Fetch(context.Background(), Request{QueryString: "q=a"})
	require.NoError(t, err)
	assert.Equal(t, "q=a", res.Data[0].Name)
	assert.Equal(t, int32(1), calls.Load())
	require.NotNil(t, hook.LastEntry())

	raw, err := mr.Get("boringtable:fetch:q=a")
	require.NoError(t, err)
	assert.Contains(t, raw, `"data"`)
}

func TestRedisCache_FallsThroughWhenRedisIsDown(t *testing.T) {
	client, mr := setupRedis(t)
	var calls atomic.Int32
	log, _ := test.NewNullLogger()
	c := WithRedisCache[user](echoSource(&calls), client, RedisOptions{Logger: log})
	mr.Close()

	res, err := c.Fetch(context.Background(), Request{QueryString: "q=a"})
	require.NoError(t, err)
	assert.Len(t, res.Data, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSingleflight_CollapsesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	src := SourceFunc[user](func(_ context.Context, req Request) (*Result[user], error) {
		calls.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return &Result[user]{Data: []user{{ID: 1}}}, nil
	})
	s := WithSingleflight[user](src)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Result[user], callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = s.Fetch(context.Background(), Request{QueryString: "q=a"})
	}()
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.Fetch(context.Background(), Request{QueryString: "q=a"})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, []user{{ID: 1}}, r.Data)
	}
}

func TestSingleflight_DifferentKeysRunSeparately(t *testing.T) {
	var calls atomic.Int32
	s := WithSingleflight[user](echoSource(&calls))

	_, err := s.Fetch(context.Background(), Request{QueryString: "a"})
	require.NoError(t, err)
	_, err = s.Fetch(context.Background(), Request{QueryString: "b"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
