package floodguard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testFloodGuard(t *testing.T) (*FloodGuard, *testClock) {
	fg, err := NewFloodGuard(DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	fg.Now = clock.Now
	return fg, clock
}

func TestConfigValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(DefaultConfig().Validate())

	fixtures := []func(c *Config){
		func(c *Config) { c.MessageLimit = 0 },
		func(c *Config) { c.MessageWindow = 0 },
		func(c *Config) { c.CommandLimit = -1 },
		func(c *Config) { c.CommandWindow = -time.Second },
		func(c *Config) { c.MuteDuration = 0 },
		func(c *Config) { c.ViolationLookback = 0 },
		func(c *Config) { c.MuteThreshold = 0 },
		func(c *Config) { c.DisconnectThreshold = c.MuteThreshold },
	}
	for _, mutate := range fixtures {
		c := DefaultConfig()
		mutate(&c)
		assert.Error(c.Validate())
		_, err := NewFloodGuard(c, nil)
		assert.Error(err)
	}
}

func TestMessageLimitThenWarning(t *testing.T) {
	assert := assert.New(t)
	fg, _ := testFloodGuard(t)

	for i := 0; i < 10; i++ {
		d := fg.CheckMessage("alice")
		assert.True(d.Allowed)
		assert.Equal(ActionAllow, d.Action)
		assert.Equal("", d.Message)
	}
	d := fg.CheckMessage("alice")
	assert.False(d.Allowed)
	assert.False(d.Disconnect)
	assert.Equal(ActionWarn, d.Action)
	assert.Contains(d.Message, "Warning: rate limit exceeded")

	// other users are tracked independently
	assert.True(fg.CheckMessage("bob").Allowed)
}

func TestWindowSlides(t *testing.T) {
	assert := assert.New(t)
	fg, clock := testFloodGuard(t)

	for i := 0; i < 10; i++ {
		assert.True(fg.CheckMessage("alice").Allowed)
		clock.Advance(500 * time.Millisecond)
	}
	// first message was 5s ago; still inside the 10s window
	assert.False(fg.CheckMessage("alice").Allowed)

	clock.Advance(6 * time.Second)
	assert.True(fg.CheckMessage("alice").Allowed)
}

func TestEscalationMuteThenDisconnect(t *testing.T) {
	assert := assert.New(t)
	fg, clock := testFloodGuard(t)

	for i := 0; i < 10; i++ {
		assert.True(fg.CheckMessage("alice").Allowed)
	}
	assert.Equal(ActionWarn, fg.CheckMessage("alice").Action)

	// second violation cycle inside 60s: mute for exactly the configured duration
	d := fg.CheckMessage("alice")
	assert.False(d.Allowed)
	assert.False(d.Disconnect)
	assert.Equal(ActionMute, d.Action)
	assert.Equal("muted for 30 seconds", d.Message)
	until := fg.MutedUntil("alice")
	if assert.NotNil(until) {
		assert.Equal(clock.Now().Add(30*time.Second), *until)
	}

	clock.Advance(10 * time.Second)
	d = fg.CheckMessage("alice")
	assert.False(d.Allowed)
	assert.Equal(ActionMuted, d.Action)
	assert.Equal("muted, 20 seconds remaining", d.Message)

	clock.Advance(20 * time.Second)
	d = fg.CheckMessage("alice")
	assert.True(d.Allowed)
	assert.Nil(fg.MutedUntil("alice"))

	clock.Advance(time.Second)
	for i := 0; i < 9; i++ {
		assert.True(fg.CheckMessage("alice").Allowed)
	}
	// third violation inside 60s
	d = fg.CheckMessage("alice")
	assert.False(d.Allowed)
	assert.True(d.Disconnect)
	assert.Equal(ActionDisconnect, d.Action)
	assert.Equal("disconnected for persistent violations", d.Message)
}

func TestWarningResetAfterMuteExpires(t *testing.T) {
	assert := assert.New(t)
	fg, clock := testFloodGuard(t)

	for i := 0; i < 10; i++ {
		fg.CheckMessage("alice")
	}
	assert.Equal(ActionWarn, fg.CheckMessage("alice").Action)
	assert.Equal(ActionMute, fg.CheckMessage("alice").Action)

	// let the mute and all violations age out
	clock.Advance(90 * time.Second)
	for i := 0; i < 10; i++ {
		assert.True(fg.CheckMessage("alice").Allowed)
	}
	// warning flag was cleared along with the mute
	assert.Equal(ActionWarn, fg.CheckMessage("alice").Action)
}

func TestWarnedUserGetsGenericThrottle(t *testing.T) {
	assert := assert.New(t)
	fg, clock := testFloodGuard(t)

	for i := 0; i < 10; i++ {
		fg.CheckMessage("alice")
	}
	assert.Equal(ActionWarn, fg.CheckMessage("alice").Action)

	// first violation ages out of the lookback, but no mute ever expired to clear the warning
	clock.Advance(61 * time.Second)
	for i := 0; i < 10; i++ {
		assert.True(fg.CheckMessage("alice").Allowed)
	}
	d := fg.CheckMessage("alice")
	assert.False(d.Allowed)
	assert.Equal(ActionThrottle, d.Action)
	assert.Equal("rate limit exceeded", d.Message)
}

func TestCommands(t *testing.T) {
	assert := assert.New(t)
	fg, clock := testFloodGuard(t)

	// put the user in a message mute
	for i := 0; i < 12; i++ {
		fg.CheckMessage("alice")
	}
	assert.NotNil(fg.MutedUntil("alice"))

	// commands are not gated by the mute
	for i := 0; i < 5; i++ {
		assert.True(fg.CheckCommand("alice").Allowed)
	}
	d := fg.CheckCommand("alice")
	assert.False(d.Allowed)
	assert.False(d.Disconnect)
	assert.Equal(ActionThrottle, d.Action)
	assert.Equal("rate limit exceeded", d.Message)

	// command violations never mute, but share the disconnect tier
	assert.Equal(ActionThrottle, fg.CheckCommand("alice").Action)
	d = fg.CheckCommand("alice")
	assert.True(d.Disconnect)

	clock.Advance(5 * time.Second)
	assert.True(fg.CheckCommand("bob").Allowed)
}

func TestResetAndCleanup(t *testing.T) {
	assert := assert.New(t)
	fg, _ := testFloodGuard(t)

	for i := 0; i < 11; i++ {
		fg.CheckMessage("alice")
	}
	fg.CheckMessage("bob")
	fg.CheckCommand("carol")
	assert.Equal(3, fg.TrackedUsers())

	fg.ResetUser("alice")
	assert.Equal(2, fg.TrackedUsers())
	// fresh state: full window available again
	assert.True(fg.CheckMessage("alice").Allowed)

	removed := fg.CleanupInactiveUsers([]string{"alice"})
	assert.Equal(2, removed)
	assert.Equal(1, fg.TrackedUsers())
	assert.Equal(0, fg.CleanupInactiveUsers([]string{"alice"}))
}

func TestConcurrentSameUser(t *testing.T) {
	assert := assert.New(t)
	fg, _ := testFloodGuard(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if fg.CheckMessage("alice").Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	// the clock is frozen, so exactly one window's worth is admitted
	assert.Equal(10, allowed)
}
