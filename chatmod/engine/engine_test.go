package engine

import (
	"context"
	"testing"
	"time"

	"github.com/bluesky-social/parley/chatmod/countstore"
	"github.com/bluesky-social/parley/chatmod/floodguard"
	"github.com/bluesky-social/parley/chatmod/profile"
	"github.com/bluesky-social/parley/chatmod/trigger"

	"github.com/stretchr/testify/assert"
)

func pushProfile(t *testing.T, eng *Engine, p *profile.BehaviorProfile) {
	src, ok := eng.Profiles.(*profile.SnapshotSource)
	if !ok {
		t.Fatal("fixture profile source is not a snapshot source")
	}
	if err := src.Put(context.Background(), p); err != nil {
		t.Fatal(err)
	}
}

func TestProcessMessageBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	_, err := eng.ProcessMessage(ctx, "", "hello")
	assert.Error(err)

	out, err := eng.ProcessMessage(ctx, "alice", "hello everyone")
	assert.NoError(err)
	assert.True(out.Decision.Allowed)
	assert.Equal(floodguard.ActionAllow, out.Decision.Action)
	assert.Nil(out.Trigger)
	assert.Nil(out.Response)
	assert.Equal(1, eng.TrackedUsers())

	activity := eng.CurrentActivity(ctx, "alice")
	assert.Equal(1.0, activity[MetricMessagesPerMinute])
	assert.Equal(0.0, activity[MetricCommandsPerMinute])
}

func TestProcessMessageEmotionalTrigger(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, clock := EngineTestFixture()

	out, err := eng.ProcessMessage(ctx, "alice", "I hate this terrible system")
	assert.NoError(err)
	assert.True(out.Decision.Allowed)
	if assert.NotNil(out.Trigger) && assert.NotNil(out.Response) {
		assert.Equal(trigger.TypeEmotional, out.Trigger.Type)
		assert.Equal(trigger.TypeEmotional, out.Response.Type)
		// no narrative generator in the fixture
		assert.False(out.Response.Generated)
		assert.NotEmpty(out.Response.Content)
	}

	// cooldown suppresses an immediate second trigger
	clock.Advance(5 * time.Second)
	out, err = eng.ProcessMessage(ctx, "alice", "I hate this terrible system")
	assert.NoError(err)
	assert.Nil(out.Trigger)

	stats, err := eng.Quota.GetStats(ctx, "alice")
	assert.NoError(err)
	assert.Equal(int64(1), stats.Total)

	// after the cooldown it can fire again
	clock.Advance(time.Minute)
	out, err = eng.ProcessMessage(ctx, "alice", "I hate this terrible system")
	assert.NoError(err)
	assert.NotNil(out.Trigger)
}

func TestProcessMessageExempt(t *testing.T) {
	assert := assert.New(t)
	eng, _ := EngineTestFixture()

	out, err := eng.ProcessMessage(context.Background(), "operator", "I hate this terrible system")
	assert.NoError(err)
	assert.True(out.Decision.Allowed)
	assert.Nil(out.Trigger)
}

func TestProcessMessageFlood(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, clock := EngineTestFixture()

	for i := 0; i < 10; i++ {
		out, err := eng.ProcessMessage(ctx, "bob", "spam spam")
		assert.NoError(err)
		assert.True(out.Decision.Allowed)
		clock.Advance(100 * time.Millisecond)
	}

	// denied actions never reach trigger evaluation
	out, err := eng.ProcessMessage(ctx, "bob", "I hate this terrible system")
	assert.NoError(err)
	assert.False(out.Decision.Allowed)
	assert.Equal(floodguard.ActionWarn, out.Decision.Action)
	assert.Nil(out.Trigger)

	out, _ = eng.ProcessMessage(ctx, "bob", "again")
	assert.Equal(floodguard.ActionMute, out.Decision.Action)
	out, _ = eng.ProcessMessage(ctx, "bob", "again")
	assert.Equal(floodguard.ActionMuted, out.Decision.Action)

	// disconnect clears flood state
	eng.DisconnectUser(ctx, "bob")
	assert.Equal(0, eng.TrackedUsers())
	out, _ = eng.ProcessMessage(ctx, "bob", "hello again")
	assert.True(out.Decision.Allowed)
}

func TestSystemTriggersSpam(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// off by default
	eng, clock := EngineTestFixture()
	for i := 0; i < 3; i++ {
		out, err := eng.ProcessMessage(ctx, "carol", "hello")
		assert.NoError(err)
		assert.Nil(out.Trigger)
		clock.Advance(time.Second)
	}

	eng, clock = EngineTestFixture()
	eng.SystemTriggers = true
	for i := 0; i < 2; i++ {
		out, err := eng.ProcessMessage(ctx, "carol", "hello")
		assert.NoError(err)
		assert.Nil(out.Trigger)
		clock.Advance(time.Second)
	}
	out, err := eng.ProcessMessage(ctx, "carol", "hello")
	assert.NoError(err)
	if assert.NotNil(out.Trigger) && assert.NotNil(out.Response) {
		assert.Equal(trigger.TypeSystem, out.Trigger.Type)
		assert.Equal("activity patterns: spam", out.Trigger.Reason)
		assert.Equal(trigger.TypeSystem, out.Response.Type)
	}
}

func TestSystemTriggersUnusualCommands(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	eng.SystemTriggers = true

	pushProfile(t, eng, &profile.BehaviorProfile{
		UserID:           "dave",
		ActivityBaseline: map[string]float64{MetricCommandsPerMinute: 1},
	})

	for i := 0; i < 2; i++ {
		out, err := eng.ProcessCommand(ctx, "dave", "/look")
		assert.NoError(err)
		assert.True(out.Decision.Allowed)
		assert.Nil(out.Trigger)
	}
	out, err := eng.ProcessCommand(ctx, "dave", "/look")
	assert.NoError(err)
	if assert.NotNil(out.Trigger) {
		assert.Equal("activity patterns: unusual-activity", out.Trigger.Reason)
	}

	// exempt users are never triggered
	pushProfile(t, eng, &profile.BehaviorProfile{
		UserID:           "operator",
		ActivityBaseline: map[string]float64{MetricCommandsPerMinute: 0.1},
	})
	for i := 0; i < 3; i++ {
		out, err := eng.ProcessCommand(ctx, "operator", "/kick")
		assert.NoError(err)
		assert.Nil(out.Trigger)
	}
}

func TestProcessCommandFlood(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	for i := 0; i < 5; i++ {
		out, err := eng.ProcessCommand(ctx, "erin", "/who")
		assert.NoError(err)
		assert.True(out.Decision.Allowed)
	}
	out, err := eng.ProcessCommand(ctx, "erin", "/who")
	assert.NoError(err)
	assert.False(out.Decision.Allowed)
	assert.Equal(floodguard.ActionThrottle, out.Decision.Action)

	_, err = eng.ProcessCommand(ctx, "", "/who")
	assert.Error(err)
}

func TestCleanupInactiveUsers(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	for _, u := range []string{"alice", "bob", "carol"} {
		_, err := eng.ProcessMessage(ctx, u, "hi")
		assert.NoError(err)
	}
	assert.Equal(3, eng.TrackedUsers())
	assert.Equal(2, eng.CleanupInactiveUsers(ctx, []string{"bob"}))
	assert.Equal(1, eng.TrackedUsers())
	assert.Nil(eng.snapshotRecent("alice"))
	assert.Len(eng.snapshotRecent("bob"), 1)
}

func TestCountersTornDownWithUser(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, clock := EngineTestFixture()
	counters, ok := eng.Counters.(*countstore.MemCountStore)
	if !ok {
		t.Fatal("fixture counters are not in-memory")
	}

	// a long-lived user only keeps a bounded number of buckets
	for i := 0; i < 120; i++ {
		_, err := eng.ProcessMessage(ctx, "alice", "hello everyone")
		assert.NoError(err)
		clock.Advance(time.Minute)
	}
	assert.LessOrEqual(counters.Size(), 6)

	eng.DisconnectUser(ctx, "alice")
	assert.Equal(0, counters.Size())
	assert.Equal(0, eng.TrackedUsers())

	_, err := eng.ProcessCommand(ctx, "bob", "/who")
	assert.NoError(err)
	_, err = eng.ProcessMessage(ctx, "carol", "hi")
	assert.NoError(err)
	assert.Equal(8, counters.Size())

	eng.CleanupInactiveUsers(ctx, []string{"carol"})
	assert.Equal(4, counters.Size())
	c, err := counters.GetCount(ctx, CounterCommands, "bob", countstore.PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)
	c, err = counters.GetCount(ctx, CounterMessages, "carol", countstore.PeriodTotal)
	assert.NoError(err)
	assert.Equal(1, c)
}

func TestRecentMessagesBounded(t *testing.T) {
	assert := assert.New(t)
	eng, clock := EngineTestFixture()
	eng.RecentMessages = 3

	for i := 0; i < 5; i++ {
		eng.pushRecent("alice", "msg")
		clock.Advance(time.Second)
	}
	recent := eng.snapshotRecent("alice")
	assert.Len(recent, 3)
	assert.Equal(clock.Now().Add(-time.Second), recent[2].Timestamp)
}
