// Per-user sliding-window rate limiting of chat messages and slash-commands.
//
// Each user has an independent window per action kind. Exceeding a window records a violation; repeated violations inside the lookback period escalate from a warning, to a temporary mute (messages only), to a recommended disconnect.
package floodguard

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type Kind string

const (
	KindMessage Kind = "message"
	KindCommand Kind = "command"
)

type Action string

const (
	ActionAllow      Action = "allow"
	ActionWarn       Action = "warn"
	ActionThrottle   Action = "throttle"
	ActionMute       Action = "mute"
	ActionMuted      Action = "muted"
	ActionDisconnect Action = "disconnect"
)

// Outcome of a single rate-limit check, handed to the transport layer.
//
// The transport surfaces Message to the user, and closes the connection when Disconnect is true.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Message    string `json:"message"`
	Disconnect bool   `json:"disconnect"`
	Action     Action `json:"action"`
}

type Violation struct {
	User      string
	Kind      Kind
	Timestamp time.Time
}

const warningMessage = "Warning: rate limit exceeded, slow down or you will be muted"

type userState struct {
	mu         sync.Mutex
	messages   []time.Time
	commands   []time.Time
	violations []Violation
	mutedUntil *time.Time
	warned     bool
}

type FloodGuard struct {
	Config Config
	Logger *slog.Logger
	// overridable for tests
	Now func() time.Time

	users *xsync.MapOf[string, *userState]
}

func NewFloodGuard(config Config, logger *slog.Logger) (*FloodGuard, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("flood guard config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FloodGuard{
		Config: config,
		Logger: logger,
		Now:    time.Now,
		users:  xsync.NewMapOf[string, *userState](),
	}, nil
}

func (fg *FloodGuard) state(user string) *userState {
	st, _ := fg.users.LoadOrCompute(user, func() *userState {
		return &userState{}
	})
	return st
}

// Checks (and on success, counts) a chat message from the user.
func (fg *FloodGuard) CheckMessage(user string) Decision {
	st := fg.state(user)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := fg.Now()
	if st.mutedUntil != nil {
		if now.Before(*st.mutedUntil) {
			secs := int(math.Ceil(st.mutedUntil.Sub(now).Seconds()))
			return Decision{
				Allowed: false,
				Message: fmt.Sprintf("muted, %d seconds remaining", secs),
				Action:  ActionMuted,
			}
		}
		st.mutedUntil = nil
		st.warned = false
	}

	st.messages = trimWindow(st.messages, now, fg.Config.MessageWindow)
	if len(st.messages) < fg.Config.MessageLimit {
		st.messages = append(st.messages, now)
		return Decision{Allowed: true, Action: ActionAllow}
	}
	return fg.escalate(st, user, KindMessage, now)
}

// Checks (and on success, counts) a slash-command from the user. Commands are never blocked by a message mute.
func (fg *FloodGuard) CheckCommand(user string) Decision {
	st := fg.state(user)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := fg.Now()
	st.commands = trimWindow(st.commands, now, fg.Config.CommandWindow)
	if len(st.commands) < fg.Config.CommandLimit {
		st.commands = append(st.commands, now)
		return Decision{Allowed: true, Action: ActionAllow}
	}
	return fg.escalate(st, user, KindCommand, now)
}

// must be called with st.mu held
func (fg *FloodGuard) escalate(st *userState, user string, kind Kind, now time.Time) Decision {
	st.violations = append(st.violations, Violation{User: user, Kind: kind, Timestamp: now})
	recent := st.recentViolations(kind, now.Add(-fg.Config.ViolationLookback))
	logger := fg.Logger.With("user", user, "kind", kind, "recentViolations", recent)

	if recent >= fg.Config.DisconnectThreshold {
		logger.Warn("disconnecting user for persistent rate limit violations")
		return Decision{
			Allowed:    false,
			Message:    "disconnected for persistent violations",
			Disconnect: true,
			Action:     ActionDisconnect,
		}
	}
	if kind != KindMessage {
		return Decision{Allowed: false, Message: "rate limit exceeded", Action: ActionThrottle}
	}
	if recent >= fg.Config.MuteThreshold {
		until := now.Add(fg.Config.MuteDuration)
		st.mutedUntil = &until
		logger.Info("muting user", "until", until)
		return Decision{
			Allowed: false,
			Message: fmt.Sprintf("muted for %d seconds", int(fg.Config.MuteDuration.Seconds())),
			Action:  ActionMute,
		}
	}
	if recent == 1 && !st.warned {
		st.warned = true
		return Decision{Allowed: false, Message: warningMessage, Action: ActionWarn}
	}
	return Decision{Allowed: false, Message: "rate limit exceeded", Action: ActionThrottle}
}

func (st *userState) recentViolations(kind Kind, since time.Time) int {
	n := 0
	for _, v := range st.violations {
		if v.Kind == kind && !v.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

// drops timestamps older than the window; timestamps are in arrival order
func trimWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// Returns the time until which the user is muted, if a mute is currently recorded.
func (fg *FloodGuard) MutedUntil(user string) *time.Time {
	st, ok := fg.users.Load(user)
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.mutedUntil == nil {
		return nil
	}
	t := *st.mutedUntil
	return &t
}

// Deletes all state for the user; used when the user disconnects.
func (fg *FloodGuard) ResetUser(user string) {
	fg.users.Delete(user)
}

// Deletes state for every tracked user absent from the active roster. Returns the number of users removed.
func (fg *FloodGuard) CleanupInactiveUsers(active []string) int {
	live := make(map[string]bool, len(active))
	for _, u := range active {
		live[u] = true
	}
	removed := 0
	fg.users.Range(func(user string, _ *userState) bool {
		if !live[user] {
			fg.users.Delete(user)
			removed++
		}
		return true
	})
	if removed > 0 {
		fg.Logger.Info("pruned inactive flood guard users", "removed", removed, "remaining", fg.users.Size())
	}
	return removed
}

func (fg *FloodGuard) TrackedUsers() int {
	return fg.users.Size()
}
