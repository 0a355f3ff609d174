// Abuse-prevention quota gating adversarial trigger activations.
//
// Two independent stores are consulted: an in-memory (or redis) cooldown tracker keyed by user, and the durable activation log which backs the hourly cap. An activation only starts a cooldown once it has been durably recorded.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/bluesky-social/parley/chatmod/activationstore"
	"github.com/bluesky-social/parley/chatmod/cooldownstore"
)

const (
	ReasonDisabled    = "disabled by administrators"
	ReasonCooldown    = "cooldown active"
	ReasonHourlyLimit = "hourly activation limit reached"
	ReasonUnavailable = "quota check unavailable"
)

type Config struct {
	MaxPerHour int
	Cooldown   time.Duration
	Enabled    bool
}

func DefaultConfig() Config {
	return Config{
		MaxPerHour: 5,
		Cooldown:   60 * time.Second,
		Enabled:    true,
	}
}

func (c Config) Validate() error {
	if c.MaxPerHour <= 0 {
		return fmt.Errorf("invalid max activations per hour: %d", c.MaxPerHour)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("invalid activation cooldown: %s", c.Cooldown)
	}
	return nil
}

type Status struct {
	Allowed              bool   `json:"allowed"`
	Reason               string `json:"reason,omitempty"`
	ActivationsRemaining int    `json:"activationsRemaining"`
	// seconds
	CooldownRemaining int `json:"cooldownRemaining,omitempty"`
}

type Stats struct {
	User           string     `json:"user"`
	Enabled        bool       `json:"enabled"`
	Total          int64      `json:"total"`
	LastHour       int64      `json:"lastHour"`
	Remaining      int        `json:"remaining"`
	LastActivation *time.Time `json:"lastActivation,omitempty"`
	// seconds
	CooldownRemaining int `json:"cooldownRemaining"`
}

type Quota struct {
	Config    Config
	Store     activationstore.ActivationStore
	Cooldowns cooldownstore.CooldownStore
	Logger    *slog.Logger
	// overridable for tests
	Now func() time.Time

	enabled atomic.Bool
}

func NewQuota(config Config, store activationstore.ActivationStore, cooldowns cooldownstore.CooldownStore, logger *slog.Logger) (*Quota, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("activation quota config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("activation quota requires an activation store")
	}
	if cooldowns == nil {
		cooldowns = cooldownstore.NewMemCooldownStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Quota{
		Config:    config,
		Store:     store,
		Cooldowns: cooldowns,
		Logger:    logger,
		Now:       time.Now,
	}
	q.enabled.Store(config.Enabled)
	return q, nil
}

func (q *Quota) now() time.Time {
	return q.Now().UTC()
}

// Decides whether the user may receive another activation. The first failing check wins: global switch, cooldown, hourly cap.
//
// Performs a blocking read against the activation store.
func (q *Quota) CheckQuota(ctx context.Context, user string) Status {
	if !q.enabled.Load() {
		quotaChecks.WithLabelValues("disabled").Inc()
		return Status{Allowed: false, Reason: ReasonDisabled, ActivationsRemaining: 0}
	}
	now := q.now()

	last, ok, err := q.Cooldowns.LastActivation(ctx, user)
	if err != nil {
		q.Logger.Error("failed to read activation cooldown", "user", user, "err", err)
		quotaChecks.WithLabelValues("error").Inc()
		return Status{Allowed: false, Reason: ReasonUnavailable}
	}
	if ok {
		if elapsed := now.Sub(last); elapsed < q.Config.Cooldown {
			quotaChecks.WithLabelValues("cooldown").Inc()
			return Status{
				Allowed:           false,
				Reason:            ReasonCooldown,
				CooldownRemaining: ceilSeconds(q.Config.Cooldown - elapsed),
			}
		}
	}

	count, err := q.Store.CountSince(ctx, user, now.Add(-time.Hour))
	if err != nil {
		q.Logger.Error("failed to count recent activations", "user", user, "err", err)
		quotaChecks.WithLabelValues("error").Inc()
		return Status{Allowed: false, Reason: ReasonUnavailable}
	}
	if count >= int64(q.Config.MaxPerHour) {
		quotaChecks.WithLabelValues("hourly").Inc()
		return Status{Allowed: false, Reason: ReasonHourlyLimit, ActivationsRemaining: 0}
	}

	quotaChecks.WithLabelValues("allowed").Inc()
	return Status{Allowed: true, ActivationsRemaining: q.Config.MaxPerHour - int(count)}
}

// Durably records an activation, and only then starts the user's cooldown.
//
// On a persistence failure the error is logged and returned, and the cooldown is left untouched so the user is not throttled for an activation that was never recorded.
func (q *Quota) RecordActivation(ctx context.Context, user string, ttype activationstore.TriggerType, reason string, intensity float64, content string) error {
	now := q.now()
	rec := activationstore.ActivationRecord{
		UserID:          user,
		TriggerType:     ttype,
		Reason:          reason,
		Intensity:       math.Max(0, math.Min(1, intensity)),
		ResponseContent: content,
		ActivatedAt:     now,
	}
	logger := q.Logger.With("user", user, "triggerType", ttype)
	if err := q.Store.Insert(ctx, &rec); err != nil {
		logger.Error("failed to record trigger activation", "err", err)
		activationRecordFailures.Inc()
		return fmt.Errorf("recording activation: %w", err)
	}
	if err := q.Cooldowns.MarkActivation(ctx, user, now); err != nil {
		logger.Error("failed to start activation cooldown", "err", err)
		return fmt.Errorf("starting cooldown: %w", err)
	}
	activationsRecorded.WithLabelValues(string(ttype)).Inc()
	logger.Info("trigger activation recorded", "intensity", rec.Intensity)
	return nil
}

// Read-only summary of the user's activation history and quota state.
func (q *Quota) GetStats(ctx context.Context, user string) (*Stats, error) {
	now := q.now()
	total, err := q.Store.CountTotal(ctx, user)
	if err != nil {
		return nil, err
	}
	lastHour, err := q.Store.CountSince(ctx, user, now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}
	latest, err := q.Store.Latest(ctx, user)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		User:      user,
		Enabled:   q.enabled.Load(),
		Total:     total,
		LastHour:  lastHour,
		Remaining: max(0, q.Config.MaxPerHour-int(lastHour)),
	}
	if latest != nil {
		t := latest.ActivatedAt
		st.LastActivation = &t
	}
	last, ok, err := q.Cooldowns.LastActivation(ctx, user)
	if err != nil {
		return nil, err
	}
	if ok {
		if elapsed := now.Sub(last); elapsed < q.Config.Cooldown {
			st.CooldownRemaining = ceilSeconds(q.Config.Cooldown - elapsed)
		}
	}
	return st, nil
}

// Administrative override: clears the user's cooldown. The hourly cap still applies.
func (q *Quota) ResetCooldown(ctx context.Context, user string) error {
	if err := q.Cooldowns.Reset(ctx, user); err != nil {
		return err
	}
	q.Logger.Info("activation cooldown reset", "user", user)
	return nil
}

// Deletes activation records older than the given number of days. Intended for a periodic retention job, not the trigger path.
func (q *Quota) CleanupOldActivations(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("invalid retention days: %d", days)
	}
	cutoff := q.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := q.Store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old activations: %w", err)
	}
	q.Logger.Info("cleaned up old trigger activations", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// Drops cooldown entries which have already elapsed. Unexpired cooldowns are kept even for users who disconnected, so reconnecting does not skip a cooldown.
func (q *Quota) PruneCooldowns(ctx context.Context) (int, error) {
	return q.Cooldowns.Prune(ctx, q.now().Add(-q.Config.Cooldown))
}

func (q *Quota) SetEnabled(enabled bool) {
	prev := q.enabled.Swap(enabled)
	if prev != enabled {
		q.Logger.Warn("trigger activations toggled", "enabled", enabled)
	}
}

func (q *Quota) Enabled() bool {
	return q.enabled.Load()
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
