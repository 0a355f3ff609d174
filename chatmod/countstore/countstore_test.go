package countstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCountStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()
	now := time.Date(2024, 5, 1, 12, 30, 10, 0, time.UTC)
	cs.Now = func() time.Time { return now }

	c, err := cs.GetCount(ctx, "message", "alice", PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)
	assert.NoError(cs.Increment(ctx, "message", "alice"))
	assert.NoError(cs.Increment(ctx, "message", "alice"))

	for _, period := range []string{PeriodTotal, PeriodDay, PeriodHour, PeriodMinute} {
		c, err = cs.GetCount(ctx, "message", "alice", period)
		assert.NoError(err)
		assert.Equal(2, c)
	}

	// next minute starts a fresh bucket
	now = now.Add(time.Minute)
	c, err = cs.GetCount(ctx, "message", "alice", PeriodMinute)
	assert.NoError(err)
	assert.Equal(0, c)
	c, err = cs.GetCount(ctx, "message", "alice", PeriodHour)
	assert.NoError(err)
	assert.Equal(2, c)
}

func TestMemCountStorePurge(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()
	assert.NoError(cs.Increment(ctx, "message", "alice"))
	assert.NoError(cs.Increment(ctx, "message", "alicia"))
	assert.NoError(cs.Purge(ctx, "message", "alice"))

	c, err := cs.GetCount(ctx, "message", "alice", PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)
	c, err = cs.GetCount(ctx, "message", "alicia", PeriodTotal)
	assert.NoError(err)
	assert.Equal(1, c)
}

func TestMemCountStoreExpiresBuckets(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cs.Now = func() time.Time { return now }

	// one action per minute for two hours
	for i := 0; i < 120; i++ {
		assert.NoError(cs.Increment(ctx, "message", "alice"))
		now = now.Add(time.Minute)
	}
	c, err := cs.GetCount(ctx, "message", "alice", PeriodTotal)
	assert.NoError(err)
	assert.Equal(120, c)
	// two minute buckets, two hour buckets, one day, one total
	assert.LessOrEqual(cs.Size(), 6)

	// once the hour buckets have aged out, only day and total remain for alice
	now = now.Add(3 * time.Hour)
	assert.NoError(cs.Increment(ctx, "message", "bob"))
	assert.Equal(6, cs.Size())
	c, err = cs.GetCount(ctx, "message", "alice", PeriodDay)
	assert.NoError(err)
	assert.Equal(120, c)
}

func TestMemCountStoreConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	// Increment two different values from four different goroutines, and read
	// from two more (run this with `-race`!).
	var wg sync.WaitGroup
	fnInc := func(name, val string, times int) {
		for i := 0; i < times; i++ {
			assert.NoError(cs.Increment(ctx, name, val))
			time.Sleep(time.Nanosecond)
		}
		wg.Done()
	}
	fnRead := func(name, val string, times int) {
		for i := 0; i < times; i++ {
			_, err := cs.GetCount(ctx, name, val, PeriodTotal)
			assert.NoError(err)
			time.Sleep(time.Nanosecond)
		}
	}
	wg.Add(4)
	go fnInc("message", "alice", 10)
	go fnInc("message", "alice", 10)
	go fnRead("message", "alice", 10)
	go fnInc("command", "bob", 6)
	go fnInc("command", "bob", 6)
	go fnRead("command", "bob", 6)
	wg.Wait()

	c, err := cs.GetCount(ctx, "message", "alice", PeriodTotal)
	assert.NoError(err)
	assert.Equal(20, c)
	c, err = cs.GetCount(ctx, "command", "bob", PeriodTotal)
	assert.NoError(err)
	assert.Equal(12, c)
}

func TestRedisCountStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	cs, err := NewRedisCountStore("redis://localhost:6379/0")
	if err != nil {
		t.Fatal(err)
	}
	assert.NoError(cs.Purge(ctx, "message", "test-user"))
	assert.NoError(cs.Increment(ctx, "message", "test-user"))
	c, err := cs.GetCount(ctx, "message", "test-user", PeriodMinute)
	assert.NoError(err)
	assert.Equal(1, c)
}
