package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bluesky-social/parley/chatmod/cachestore"
)

const snapshotCacheName = "profile"

// Profile snapshots pushed by the external profile store, held in a cachestore (memory or redis) with the store's TTL. An expired or missing snapshot reads as "no profile".
type SnapshotSource struct {
	Cache cachestore.CacheStore
}

var _ Source = (*SnapshotSource)(nil)

func NewSnapshotSource(cache cachestore.CacheStore) *SnapshotSource {
	return &SnapshotSource{Cache: cache}
}

func (s *SnapshotSource) Get(ctx context.Context, user string) (*BehaviorProfile, error) {
	raw, err := s.Cache.Get(ctx, snapshotCacheName, user)
	if err != nil {
		return nil, fmt.Errorf("reading profile snapshot: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var p BehaviorProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parsing profile snapshot: %w", err)
	}
	return &p, nil
}

func (s *SnapshotSource) Put(ctx context.Context, p *BehaviorProfile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("profile snapshot requires a user id")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.Cache.Set(ctx, snapshotCacheName, p.UserID, string(b))
}

func (s *SnapshotSource) Purge(ctx context.Context, user string) error {
	return s.Cache.Purge(ctx, snapshotCacheName, user)
}

// Fixed in-process profiles, mostly useful for tests.
type StaticSource struct {
	mu       sync.RWMutex
	profiles map[string]*BehaviorProfile
}

var _ Source = (*StaticSource)(nil)

func NewStaticSource(profiles ...*BehaviorProfile) *StaticSource {
	s := &StaticSource{profiles: make(map[string]*BehaviorProfile)}
	for _, p := range profiles {
		s.profiles[p.UserID] = p
	}
	return s
}

func (s *StaticSource) Get(ctx context.Context, user string) (*BehaviorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[user].Clone(), nil
}
