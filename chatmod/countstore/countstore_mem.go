package countstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// In-process counters. Time buckets expire on the same schedule as the redis store; expired buckets are swept at most once per minute, during Increment.
type MemCountStore struct {
	mu        sync.Mutex
	Counts    map[string]int
	expires   map[string]time.Time
	lastSweep time.Time
	// overridable for tests
	Now func() time.Time
}

// how long each time bucket outlives its own period
var bucketTTL = map[string]time.Duration{
	PeriodMinute: 2 * time.Minute,
	PeriodHour:   2 * time.Hour,
	PeriodDay:    48 * time.Hour,
}

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		Counts:  make(map[string]int),
		expires: make(map[string]time.Time),
		Now:     time.Now,
	}
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	k := periodBucket(name, val, period, now)
	if exp, ok := s.expires[k]; ok && !exp.After(now) {
		return 0, nil
	}
	return s.Counts[k], nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	if now.Sub(s.lastSweep) >= time.Minute {
		s.sweep(now)
	}
	for _, p := range allPeriods {
		k := periodBucket(name, val, p, now)
		s.Counts[k] = s.Counts[k] + 1
		if ttl, ok := bucketTTL[p]; ok {
			s.expires[k] = now.Add(ttl)
		}
	}
	return nil
}

// caller holds the lock
func (s *MemCountStore) sweep(now time.Time) {
	for k, exp := range s.expires {
		if !exp.After(now) {
			delete(s.Counts, k)
			delete(s.expires, k)
		}
	}
	s.lastSweep = now
}

func (s *MemCountStore) Purge(ctx context.Context, name, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := name + "/" + val
	for k := range s.Counts {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			delete(s.Counts, k)
			delete(s.expires, k)
		}
	}
	return nil
}

// Number of live counter buckets, across all counters and users.
func (s *MemCountStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Counts)
}
