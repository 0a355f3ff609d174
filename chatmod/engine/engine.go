package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/parley/chatmod/countstore"
	"github.com/bluesky-social/parley/chatmod/floodguard"
	"github.com/bluesky-social/parley/chatmod/helpers"
	"github.com/bluesky-social/parley/chatmod/pattern"
	"github.com/bluesky-social/parley/chatmod/profile"
	"github.com/bluesky-social/parley/chatmod/quota"
	"github.com/bluesky-social/parley/chatmod/setstore"
	"github.com/bluesky-social/parley/chatmod/trigger"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	CounterMessages = "messages"
	CounterCommands = "commands"

	MetricMessagesPerMinute = "messages_per_minute"
	MetricCommandsPerMinute = "commands_per_minute"
)

// runtime for processing inbound chat actions: flood control first, then (for admitted actions) trigger evaluation and execution.
//
// Flood, Triggers and Counters must be set. The remaining collaborators are optional.
type Engine struct {
	Logger   *slog.Logger
	Flood    *floodguard.FloodGuard
	Triggers *trigger.Engine
	// used for lifecycle housekeeping only; trigger gating goes through Triggers
	Quota    *quota.Quota
	Profiles profile.Source
	Counters countstore.CountStore
	Sets     setstore.SetStore
	// also evaluate activity patterns (spam, command repetition, anomalies) for a system trigger
	SystemTriggers bool
	// number of recent messages kept per user for spam detection
	RecentMessages int
	Now            func() time.Time

	recent *xsync.MapOf[string, *recentRing]
	// users with activity counters, so roster cleanup can purge them
	counted *xsync.MapOf[string, struct{}]
}

// Result of processing one action. Trigger and Response are only set when an adversarial trigger fired.
type Outcome struct {
	Decision floodguard.Decision `json:"decision"`
	Trigger  *trigger.Trigger    `json:"trigger,omitempty"`
	Response *trigger.Response   `json:"response,omitempty"`
}

type recentRing struct {
	mu    sync.Mutex
	items []pattern.TimedText
}

func NewEngine(flood *floodguard.FloodGuard, triggers *trigger.Engine, counters countstore.CountStore, logger *slog.Logger) (*Engine, error) {
	if flood == nil || triggers == nil || counters == nil {
		return nil, fmt.Errorf("engine requires flood guard, trigger engine and counters")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Logger:         logger,
		Flood:          flood,
		Triggers:       triggers,
		Counters:       counters,
		RecentMessages: 20,
		Now:            time.Now,
		recent:         xsync.NewMapOf[string, *recentRing](),
		counted:        xsync.NewMapOf[string, struct{}](),
	}, nil
}

func (eng *Engine) ProcessMessage(ctx context.Context, user, text string) (out *Outcome, err error) {
	if user == "" {
		return nil, fmt.Errorf("empty user identifier")
	}
	// similar to an HTTP server, we want to recover any panics from trigger execution
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("chatmod message processing exception", "err", r, "user", user)
			err = fmt.Errorf("message processing panic: %v", r)
		}
	}()
	logger := eng.Logger.With("user", user, "msgHash", helpers.HashOfString(text))

	out = &Outcome{Decision: eng.Flood.CheckMessage(user)}
	actionsProcessed.WithLabelValues("message", string(out.Decision.Action)).Inc()
	if !out.Decision.Allowed {
		logger.Debug("message denied by flood guard", "action", out.Decision.Action)
		return out, nil
	}

	eng.counted.Store(user, struct{}{})
	if err := eng.Counters.Increment(ctx, CounterMessages, user); err != nil {
		logger.Warn("failed to increment message counter", "err", err)
	}
	recent := eng.pushRecent(user, text)

	if eng.exempt(ctx, user, logger) {
		return out, nil
	}
	prof := eng.loadProfile(ctx, user, logger)

	if trig := eng.Triggers.EvaluateTriggers(ctx, user, text, prof); trig != nil {
		out.Trigger = trig
		out.Response = eng.Triggers.ExecuteEmotionalTrigger(ctx, user, text, prof)
		triggersFired.WithLabelValues(string(trig.Type)).Inc()
		return out, nil
	}
	if eng.SystemTriggers {
		eng.evaluateSystem(ctx, user, prof, recent, out, logger)
	}
	return out, nil
}

func (eng *Engine) ProcessCommand(ctx context.Context, user, command string) (out *Outcome, err error) {
	if user == "" {
		return nil, fmt.Errorf("empty user identifier")
	}
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("chatmod command processing exception", "err", r, "user", user)
			err = fmt.Errorf("command processing panic: %v", r)
		}
	}()
	logger := eng.Logger.With("user", user, "command", command)

	out = &Outcome{Decision: eng.Flood.CheckCommand(user)}
	actionsProcessed.WithLabelValues("command", string(out.Decision.Action)).Inc()
	if !out.Decision.Allowed {
		logger.Debug("command denied by flood guard", "action", out.Decision.Action)
		return out, nil
	}

	eng.counted.Store(user, struct{}{})
	if err := eng.Counters.Increment(ctx, CounterCommands, user); err != nil {
		logger.Warn("failed to increment command counter", "err", err)
	}
	if !eng.SystemTriggers || eng.exempt(ctx, user, logger) {
		return out, nil
	}
	prof := eng.loadProfile(ctx, user, logger)
	eng.evaluateSystem(ctx, user, prof, eng.snapshotRecent(user), out, logger)
	return out, nil
}

func (eng *Engine) evaluateSystem(ctx context.Context, user string, prof *profile.BehaviorProfile, recent []pattern.TimedText, out *Outcome, logger *slog.Logger) {
	current := eng.CurrentActivity(ctx, user)
	trig := eng.Triggers.EvaluatePatterns(ctx, user, prof, recent, current)
	if trig == nil {
		return
	}
	out.Trigger = trig
	out.Response = eng.Triggers.ExecutePsychicGrip(ctx, user, prof)
	triggersFired.WithLabelValues(string(trig.Type)).Inc()
}

// Per-minute activity for the user, in the metric names used by behavioral baselines.
func (eng *Engine) CurrentActivity(ctx context.Context, user string) map[string]float64 {
	out := make(map[string]float64, 2)
	for metric, counter := range map[string]string{
		MetricMessagesPerMinute: CounterMessages,
		MetricCommandsPerMinute: CounterCommands,
	} {
		c, err := eng.Counters.GetCount(ctx, counter, user, countstore.PeriodMinute)
		if err != nil {
			eng.Logger.Warn("failed to read activity counter", "counter", counter, "user", user, "err", err)
			continue
		}
		out[metric] = float64(c)
	}
	return out
}

func (eng *Engine) exempt(ctx context.Context, user string, logger *slog.Logger) bool {
	if eng.Sets == nil {
		return false
	}
	ok, err := eng.Sets.InSet(ctx, setstore.ExemptUsersSet, user)
	if err != nil {
		logger.Warn("failed to check trigger exemption", "err", err)
		return false
	}
	return ok
}

func (eng *Engine) loadProfile(ctx context.Context, user string, logger *slog.Logger) *profile.BehaviorProfile {
	if eng.Profiles == nil {
		return nil
	}
	p, err := eng.Profiles.Get(ctx, user)
	if err != nil {
		logger.Warn("failed to load behavior profile", "err", err)
		return nil
	}
	return p
}

func (eng *Engine) pushRecent(user, text string) []pattern.TimedText {
	ring, _ := eng.recent.LoadOrCompute(user, func() *recentRing {
		return &recentRing{}
	})
	ring.mu.Lock()
	defer ring.mu.Unlock()
	ring.items = append(ring.items, pattern.TimedText{Text: text, Timestamp: eng.Now()})
	if over := len(ring.items) - eng.RecentMessages; over > 0 {
		ring.items = append([]pattern.TimedText(nil), ring.items[over:]...)
	}
	return append([]pattern.TimedText(nil), ring.items...)
}

func (eng *Engine) snapshotRecent(user string) []pattern.TimedText {
	ring, ok := eng.recent.Load(user)
	if !ok {
		return nil
	}
	ring.mu.Lock()
	defer ring.mu.Unlock()
	return append([]pattern.TimedText(nil), ring.items...)
}

// Tears down all volatile per-user state when the transport closes a user's connection. Activation cooldowns survive, so reconnecting does not reset them.
func (eng *Engine) DisconnectUser(ctx context.Context, user string) {
	eng.Flood.ResetUser(user)
	eng.recent.Delete(user)
	eng.purgeCounters(ctx, user)
	eng.Logger.Info("user disconnected", "user", user)
}

func (eng *Engine) purgeCounters(ctx context.Context, user string) {
	eng.counted.Delete(user)
	for _, name := range []string{CounterMessages, CounterCommands} {
		if err := eng.Counters.Purge(ctx, name, user); err != nil {
			eng.Logger.Warn("failed to purge activity counter", "counter", name, "user", user, "err", err)
		}
	}
}

// Drops per-user state (flood tracking, recent messages, activity counters) for users not in the active roster, and elapsed cooldowns. Returns the number of users removed from flood tracking.
func (eng *Engine) CleanupInactiveUsers(ctx context.Context, active []string) int {
	removed := eng.Flood.CleanupInactiveUsers(active)

	keep := make(map[string]bool, len(active))
	for _, u := range active {
		keep[u] = true
	}
	eng.recent.Range(func(user string, _ *recentRing) bool {
		if !keep[user] {
			eng.recent.Delete(user)
		}
		return true
	})
	eng.counted.Range(func(user string, _ struct{}) bool {
		if !keep[user] {
			eng.purgeCounters(ctx, user)
		}
		return true
	})

	if eng.Quota != nil {
		pruned, err := eng.Quota.PruneCooldowns(ctx)
		if err != nil {
			eng.Logger.Warn("failed to prune cooldowns", "err", err)
		} else if pruned > 0 {
			eng.Logger.Debug("pruned elapsed cooldowns", "count", pruned)
		}
	}
	eng.Logger.Info("cleaned up inactive users", "removed", removed, "active", len(active))
	return removed
}

func (eng *Engine) TrackedUsers() int {
	return eng.Flood.TrackedUsers()
}
