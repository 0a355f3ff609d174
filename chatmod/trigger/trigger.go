// Decides whether an adversarial trigger fires for a user action, and executes it.
//
// Nothing in this package returns an error to callers once constructed: generator failures fall back to corrupted canned text, and activation persistence failures are logged.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bluesky-social/parley/chatmod/activationstore"
	"github.com/bluesky-social/parley/chatmod/helpers"
	"github.com/bluesky-social/parley/chatmod/pattern"
	"github.com/bluesky-social/parley/chatmod/profile"
	"github.com/bluesky-social/parley/chatmod/quota"
	"github.com/bluesky-social/parley/chatmod/sentiment"

	"github.com/spaolacci/murmur3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("chatmod/trigger")

type TriggerType = activationstore.TriggerType

const (
	TypeEmotional = activationstore.TriggerEmotional
	TypeSystem    = activationstore.TriggerSystem
)

const (
	EffectScreenShake    = "screen-shake"
	EffectTextDistortion = "text-distortion"
	EffectRedPulse       = "red-pulse"
	EffectStaticOverlay  = "static-overlay"
	EffectInputFreeze    = "input-freeze"
)

var (
	emotionalEffects = []string{EffectScreenShake, EffectTextDistortion, EffectRedPulse}
	systemEffects    = []string{EffectStaticOverlay, EffectTextDistortion, EffectInputFreeze}
)

var errNoNarrator = errors.New("no narrative generator configured")

type Trigger struct {
	Type      TriggerType `json:"type"`
	Intensity float64     `json:"intensity"`
	Reason    string      `json:"reason"`
}

type Response struct {
	Type          TriggerType `json:"type"`
	Content       string      `json:"content"`
	CorruptedText string      `json:"corruptedText,omitempty"`
	// seconds the client should freeze user input
	FreezeDuration int       `json:"freezeDuration"`
	VisualEffects  []string  `json:"visualEffects"`
	Timestamp      time.Time `json:"timestamp"`
	// whether content came from the generator, as opposed to the fallback
	Generated bool `json:"generated"`
}

type Engine struct {
	Config   Config
	Scorer   *sentiment.Scorer
	Detector *pattern.Detector
	// optional; without a quota every trigger is allowed and nothing is recorded
	Quota *quota.Quota
	// optional; without a generator every execution uses the fallback
	Narrator NarrativeGenerator
	Logger   *slog.Logger
	Rand     Rand
	Now      func() time.Time

	// FallbackText corrupted once at construction; every failed narration returns this same string
	fallback string
}

func NewEngine(config Config, scorer *sentiment.Scorer, detector *pattern.Detector, q *quota.Quota, narrator NarrativeGenerator, logger *slog.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, fmt.Errorf("trigger engine requires a sentiment scorer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Config:   config,
		Scorer:   scorer,
		Detector: detector,
		Quota:    q,
		Narrator: narrator,
		Logger:   logger,
		Rand:     NewLockedRand(rand.Uint64(), rand.Uint64()),
		Now:      time.Now,
		fallback: fixedFallback(config),
	}, nil
}

// Seeded from the text itself, so the fallback is stable across restarts and daemon instances.
func fixedFallback(config Config) string {
	seed := murmur3.Sum64([]byte(config.FallbackText))
	return CorruptText(config.FallbackText, config.CorruptionLevel, NewLockedRand(seed, seed))
}

func (e *Engine) quotaAllows(ctx context.Context, user string, logger *slog.Logger) bool {
	if e.Quota == nil {
		return true
	}
	st := e.Quota.CheckQuota(ctx, user)
	if !st.Allowed {
		logger.Info("trigger suppressed by activation quota", "reason", st.Reason, "cooldownRemaining", st.CooldownRemaining)
		return false
	}
	return true
}

// Checks message content for the emotional path. Returns nil when no trigger should fire.
func (e *Engine) EvaluateTriggers(ctx context.Context, user, message string, p *profile.BehaviorProfile) *Trigger {
	logger := e.Logger.With("user", user, "msgHash", helpers.HashOfString(message))
	if !e.quotaAllows(ctx, user, logger) {
		triggersEvaluated.WithLabelValues("emotional", "quota").Inc()
		return nil
	}
	res := e.Scorer.Analyze(message)
	if !res.IsTrigger {
		triggersEvaluated.WithLabelValues("emotional", "none").Inc()
		return nil
	}
	triggersEvaluated.WithLabelValues("emotional", "fired").Inc()
	logger.Info("emotional trigger", "intensity", res.Intensity, "polarity", res.Polarity)
	return &Trigger{
		Type:      TypeEmotional,
		Intensity: res.Intensity,
		Reason:    "high-negative sentiment: " + strings.Join(res.Keywords, ", "),
	}
}

// Checks recent activity for the system path. Not called automatically; callers opt in.
func (e *Engine) EvaluatePatterns(ctx context.Context, user string, p *profile.BehaviorProfile, recent []pattern.TimedText, current map[string]float64) *Trigger {
	if e.Detector == nil {
		return nil
	}
	logger := e.Logger.With("user", user)
	if !e.quotaAllows(ctx, user, logger) {
		triggersEvaluated.WithLabelValues("system", "quota").Inc()
		return nil
	}
	f := e.Detector.Analyze(p, recent, current)
	if !f.Any() {
		triggersEvaluated.WithLabelValues("system", "none").Inc()
		return nil
	}
	triggersEvaluated.WithLabelValues("system", "fired").Inc()
	labels := f.Labels()
	logger.Info("system trigger", "patterns", labels, "maxDeviation", f.MaxDeviation)
	return &Trigger{
		Type:      TypeSystem,
		Intensity: e.Config.SystemIntensity,
		Reason:    "activity patterns: " + strings.Join(labels, ", "),
	}
}

func (e *Engine) ExecuteEmotionalTrigger(ctx context.Context, user, message string, p *profile.BehaviorProfile) *Response {
	ctx, span := tracer.Start(ctx, "ExecuteEmotionalTrigger")
	defer span.End()

	res := e.Scorer.Analyze(message)
	reason := "high-negative sentiment: " + strings.Join(res.Keywords, ", ")
	patterns := []string{"negative-sentiment"}
	return e.execute(ctx, user, TypeEmotional, reason, e.Config.EmotionalIntensity, emotionalEffects, BuildProfileContext(p, patterns))
}

func (e *Engine) ExecutePsychicGrip(ctx context.Context, user string, p *profile.BehaviorProfile) *Response {
	ctx, span := tracer.Start(ctx, "ExecutePsychicGrip")
	defer span.End()

	return e.execute(ctx, user, TypeSystem, "system escalation", e.Config.SystemIntensity, systemEffects, BuildProfileContext(p, nil))
}

func (e *Engine) execute(ctx context.Context, user string, ttype TriggerType, reason string, intensity float64, effects []string, pctx *ProfileContext) *Response {
	logger := e.Logger.With("user", user, "triggerType", ttype)

	resp := &Response{
		Type:           ttype,
		FreezeDuration: e.freezeDuration(),
		VisualEffects:  append([]string(nil), effects...),
		Timestamp:      e.Now(),
	}

	text, err := e.narrate(ctx, user, pctx)
	if err != nil {
		logger.Warn("narrative generation failed, using fallback", "err", err)
		resp.Content = e.fallback
		resp.CorruptedText = resp.Content
		triggersExecuted.WithLabelValues(string(ttype), "fallback").Inc()
	} else {
		resp.Content = e.Config.NarrativeTag + " " + text
		resp.CorruptedText = CorruptText(resp.Content, e.Config.CorruptionLevel, e.Rand)
		resp.Generated = true
		triggersExecuted.WithLabelValues(string(ttype), "generated").Inc()
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("trigger.type", string(ttype)),
		attribute.Bool("trigger.generated", resp.Generated),
		attribute.Int("trigger.freeze", resp.FreezeDuration),
	)

	if e.Quota != nil {
		// failure is already logged and counted by the quota; the response is still delivered
		_ = e.Quota.RecordActivation(ctx, user, ttype, reason, intensity, resp.Content)
	}
	logger.Info("trigger executed", "freeze", resp.FreezeDuration, "generated", resp.Generated)
	return resp
}

func (e *Engine) freezeDuration() int {
	n := e.Config.FreezeMaxSeconds - e.Config.FreezeMinSeconds + 1
	return e.Config.FreezeMinSeconds + e.Rand.IntN(n)
}

// Runs the generator in its own goroutine, bounded by the configured timeout. Panics inside the generator are converted to errors.
func (e *Engine) narrate(ctx context.Context, user string, pctx *ProfileContext) (string, error) {
	if e.Narrator == nil {
		return "", errNoNarrator
	}
	ctx, cancel := context.WithTimeout(ctx, e.Config.NarrativeTimeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	start := time.Now()
	defer func() {
		narrativeDuration.Observe(time.Since(start).Seconds())
	}()

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("narrative generator panic: %v", r)}
			}
		}()
		text, err := e.Narrator.Generate(ctx, pctx, user)
		ch <- result{text: text, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		if helpers.IsBlank(res.text) {
			return "", fmt.Errorf("narrative generator returned no text")
		}
		return strings.TrimSpace(res.text), nil
	case <-ctx.Done():
		return "", fmt.Errorf("narrative generator: %w", ctx.Err())
	}
}
