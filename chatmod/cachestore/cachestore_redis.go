package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Two-tier cache: a small in-process TinyLFU in front of redis, so that several daemon instances share profile snapshots.
//
// A snapshot pushed to one instance replaces the redis copy immediately, but other instances keep serving their local copy until it expires, so the local tier is held for LocalTTL (never longer than TTL).
type RedisCacheStore struct {
	Data     *cache.Cache
	TTL      time.Duration
	LocalTTL time.Duration
}

var _ CacheStore = (*RedisCacheStore)(nil)

// A localTTL of zero disables the in-process tier, so every read goes to redis.
func NewRedisCacheStore(redisURL string, ttl, localTTL time.Duration) (*RedisCacheStore, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	localTTL = localCacheTTL(ttl, localTTL)
	opts := &cache.Options{
		Redis: rdb,
	}
	if localTTL > 0 {
		opts.LocalCache = cache.NewTinyLFU(10_000, localTTL)
	}
	return &RedisCacheStore{
		Data:     cache.New(opts),
		TTL:      ttl,
		LocalTTL: localTTL,
	}, nil
}

func localCacheTTL(ttl, localTTL time.Duration) time.Duration {
	if localTTL <= 0 {
		return 0
	}
	return min(ttl, localTTL)
}

func redisCacheKey(name, key string) string {
	return "chatmod/cache/" + name + "/" + key
}

func (s *RedisCacheStore) Get(ctx context.Context, name, key string) (string, error) {
	var val string
	err := s.Data.Get(ctx, redisCacheKey(name, key), &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		countLookup(name, false)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	countLookup(name, true)
	return val, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, name, key string, val string) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisCacheKey(name, key),
		Value: val,
		TTL:   s.TTL,
	})
}

func (s *RedisCacheStore) Purge(ctx context.Context, name, key string) error {
	err := s.Data.Delete(ctx, redisCacheKey(name, key))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
