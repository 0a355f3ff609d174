package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/parley/chatmod/activationstore"
	"github.com/bluesky-social/parley/chatmod/cachestore"
	"github.com/bluesky-social/parley/chatmod/cooldownstore"
	"github.com/bluesky-social/parley/chatmod/countstore"
	"github.com/bluesky-social/parley/chatmod/floodguard"
	"github.com/bluesky-social/parley/chatmod/pattern"
	"github.com/bluesky-social/parley/chatmod/profile"
	"github.com/bluesky-social/parley/chatmod/quota"
	"github.com/bluesky-social/parley/chatmod/sentiment"
	"github.com/bluesky-social/parley/chatmod/setstore"
	"github.com/bluesky-social/parley/chatmod/trigger"
)

// Manually advanced time source shared by every component of a test fixture.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Engine wired entirely with in-memory stores and a fixed clock. The user "operator" is trigger-exempt, and profile snapshots can be pushed through Profiles.
func EngineTestFixture() (*Engine, *TestClock) {
	clock := NewTestClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.Default()

	flood, err := floodguard.NewFloodGuard(floodguard.DefaultConfig(), logger)
	if err != nil {
		panic(err)
	}
	flood.Now = clock.Now

	q, err := quota.NewQuota(quota.DefaultConfig(), activationstore.NewMemStore(), cooldownstore.NewMemCooldownStore(), logger)
	if err != nil {
		panic(err)
	}
	q.Now = clock.Now

	scorer, err := sentiment.NewScorer(sentiment.DefaultConfig())
	if err != nil {
		panic(err)
	}
	detector, err := pattern.NewDetector(pattern.DefaultConfig())
	if err != nil {
		panic(err)
	}
	detector.Now = clock.Now

	triggers, err := trigger.NewEngine(trigger.DefaultConfig(), scorer, detector, q, nil, logger)
	if err != nil {
		panic(err)
	}
	triggers.Now = clock.Now
	triggers.Rand = trigger.NewLockedRand(1, 2)

	counters := countstore.NewMemCountStore()
	counters.Now = clock.Now

	sets := setstore.NewMemSetStore()
	sets.Add(setstore.ExemptUsersSet, "operator")

	eng, err := NewEngine(flood, triggers, counters, logger)
	if err != nil {
		panic(err)
	}
	eng.Quota = q
	eng.Sets = sets
	eng.Profiles = profile.NewSnapshotSource(cachestore.NewMemCacheStore(100, time.Hour))
	eng.Now = clock.Now
	return eng, clock
}
