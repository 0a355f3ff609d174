package activationstore

import (
	"context"
	"sync"
	"time"
)

// In-process store, for tests and single-node development setups. Contents are lost on restart.
type MemStore struct {
	mu      sync.Mutex
	records []ActivationRecord
	nextID  uint
}

var _ ActivationStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{nextID: 1}
}

func (s *MemStore) Insert(ctx context.Context, rec *ActivationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemStore) CountSince(ctx context.Context, user string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.records {
		if r.UserID == user && !r.ActivatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) CountTotal(ctx context.Context, user string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.records {
		if r.UserID == user {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Latest(ctx context.Context, user string) (*ActivationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *ActivationRecord
	for i := range s.records {
		r := s.records[i]
		if r.UserID != user {
			continue
		}
		if latest == nil || r.ActivatedAt.After(latest.ActivatedAt) {
			latest = &r
		}
	}
	return latest, nil
}

func (s *MemStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var n int64
	for _, r := range s.records {
		if r.ActivatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return n, nil
}
