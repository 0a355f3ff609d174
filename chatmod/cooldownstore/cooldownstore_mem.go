package cooldownstore

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type MemCooldownStore struct {
	last *xsync.MapOf[string, time.Time]
}

var _ CooldownStore = (*MemCooldownStore)(nil)

func NewMemCooldownStore() *MemCooldownStore {
	return &MemCooldownStore{
		last: xsync.NewMapOf[string, time.Time](),
	}
}

func (s *MemCooldownStore) LastActivation(ctx context.Context, user string) (time.Time, bool, error) {
	t, ok := s.last.Load(user)
	return t, ok, nil
}

func (s *MemCooldownStore) MarkActivation(ctx context.Context, user string, at time.Time) error {
	s.last.Store(user, at)
	return nil
}

func (s *MemCooldownStore) Reset(ctx context.Context, user string) error {
	s.last.Delete(user)
	return nil
}

func (s *MemCooldownStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	s.last.Range(func(user string, t time.Time) bool {
		if t.Before(cutoff) {
			s.last.Delete(user)
			removed++
		}
		return true
	})
	return removed, nil
}
