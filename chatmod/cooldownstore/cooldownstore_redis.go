package cooldownstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisCooldownPrefix string = "cooldown/"

// Keys expire after TTL (the configured cooldown), so Prune has nothing to do.
type RedisCooldownStore struct {
	Client *redis.Client
	TTL    time.Duration
}

var _ CooldownStore = (*RedisCooldownStore)(nil)

func NewRedisCooldownStore(redisURL string, ttl time.Duration) (*RedisCooldownStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisCooldownStore{
		Client: rdb,
		TTL:    ttl,
	}, nil
}

func (s *RedisCooldownStore) LastActivation(ctx context.Context, user string) (time.Time, bool, error) {
	ms, err := s.Client.Get(ctx, redisCooldownPrefix+user).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	} else if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisCooldownStore) MarkActivation(ctx context.Context, user string, at time.Time) error {
	return s.Client.Set(ctx, redisCooldownPrefix+user, at.UnixMilli(), s.TTL).Err()
}

func (s *RedisCooldownStore) Reset(ctx context.Context, user string) error {
	return s.Client.Del(ctx, redisCooldownPrefix+user).Err()
}

func (s *RedisCooldownStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}
