package trigger

import (
	"fmt"
	"time"
)

type Config struct {
	// inclusive range, in whole seconds, from which a freeze duration is drawn
	FreezeMinSeconds int
	FreezeMaxSeconds int
	// upper bound on a single narrative generator call
	NarrativeTimeout time.Duration
	// prefixed to generated narratives
	NarrativeTag string
	// shown (corrupted) when the narrative generator fails
	FallbackText string
	// corruption level applied to fallback and corrupted-display text
	CorruptionLevel float64
	// recorded activation intensities; fixed per trigger type
	EmotionalIntensity float64
	SystemIntensity    float64
}

func DefaultConfig() Config {
	return Config{
		FreezeMinSeconds:   5,
		FreezeMaxSeconds:   8,
		NarrativeTimeout:   10 * time.Second,
		NarrativeTag:       "[PSYCHIC GRIP]",
		FallbackText:       "I see what you are doing. I always have.",
		CorruptionLevel:    0.3,
		EmotionalIntensity: 0.8,
		SystemIntensity:    0.75,
	}
}

func (c Config) Validate() error {
	if c.FreezeMinSeconds < 0 {
		return fmt.Errorf("invalid freeze duration minimum: %d", c.FreezeMinSeconds)
	}
	if c.FreezeMaxSeconds < c.FreezeMinSeconds {
		return fmt.Errorf("invalid freeze duration range: %d-%d", c.FreezeMinSeconds, c.FreezeMaxSeconds)
	}
	if c.NarrativeTimeout <= 0 {
		return fmt.Errorf("invalid narrative timeout: %s", c.NarrativeTimeout)
	}
	if c.FallbackText == "" {
		return fmt.Errorf("fallback text must not be empty")
	}
	if c.CorruptionLevel < 0 || c.CorruptionLevel > MaxCorruptionLevel {
		return fmt.Errorf("invalid corruption level: %f", c.CorruptionLevel)
	}
	if c.EmotionalIntensity < 0 || c.EmotionalIntensity > 1 {
		return fmt.Errorf("invalid emotional trigger intensity: %f", c.EmotionalIntensity)
	}
	if c.SystemIntensity < 0 || c.SystemIntensity > 1 {
		return fmt.Errorf("invalid system trigger intensity: %f", c.SystemIntensity)
	}
	return nil
}
