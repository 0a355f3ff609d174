// Detection of spam bursts, command repetition and activity anomalies from a user's recent history.
package pattern

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bluesky-social/parley/chatmod/profile"
)

const (
	LabelSpam              = "spam"
	LabelCommandRepetition = "command-repetition"
	LabelUnusualActivity   = "unusual-activity"
)

type Config struct {
	SpamThreshold int
	SpamWindow    time.Duration

	CommandRepetitionThreshold int
	CommandRepetitionWindow    time.Duration

	// relative deviation from baseline, eg 2.0 is three times the expected value
	DeviationThreshold float64
}

func DefaultConfig() Config {
	return Config{
		SpamThreshold:              3,
		SpamWindow:                 5 * time.Second,
		CommandRepetitionThreshold: 3,
		CommandRepetitionWindow:    10 * time.Second,
		DeviationThreshold:         2.0,
	}
}

func (c Config) Validate() error {
	if c.SpamThreshold < 1 {
		return fmt.Errorf("invalid spam threshold: %d", c.SpamThreshold)
	}
	if c.SpamWindow <= 0 {
		return fmt.Errorf("invalid spam window: %s", c.SpamWindow)
	}
	if c.CommandRepetitionThreshold < 1 {
		return fmt.Errorf("invalid command repetition threshold: %d", c.CommandRepetitionThreshold)
	}
	if c.CommandRepetitionWindow <= 0 {
		return fmt.Errorf("invalid command repetition window: %s", c.CommandRepetitionWindow)
	}
	if c.DeviationThreshold <= 0 || math.IsNaN(c.DeviationThreshold) {
		return fmt.Errorf("invalid deviation threshold: %f", c.DeviationThreshold)
	}
	return nil
}

type TimedText struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type Findings struct {
	Spam              bool `json:"spam"`
	CommandRepetition bool `json:"commandRepetition"`
	UnusualActivity   bool `json:"unusualActivity"`
	// largest relative deviation seen, zero when nothing could be evaluated
	MaxDeviation float64 `json:"maxDeviation"`
}

func (f Findings) Any() bool {
	return f.Spam || f.CommandRepetition || f.UnusualActivity
}

// Labels of the positive findings, in a fixed order.
func (f Findings) Labels() []string {
	var out []string
	if f.Spam {
		out = append(out, LabelSpam)
	}
	if f.CommandRepetition {
		out = append(out, LabelCommandRepetition)
	}
	if f.UnusualActivity {
		out = append(out, LabelUnusualActivity)
	}
	return out
}

// Detector holds no per-user state and is safe for concurrent use.
type Detector struct {
	Config Config
	Now    func() time.Time
}

func NewDetector(config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		Config: config,
		Now:    time.Now,
	}, nil
}

func countSince(ts []time.Time, since time.Time) int {
	n := 0
	for _, t := range ts {
		if !t.Before(since) {
			n++
		}
	}
	return n
}

// Messages outside the spam window are ignored, however long the list is.
func (d *Detector) DetectSpam(messages []TimedText) bool {
	ts := make([]time.Time, len(messages))
	for i, m := range messages {
		ts[i] = m.Timestamp
	}
	return countSince(ts, d.Now().Add(-d.Config.SpamWindow)) >= d.Config.SpamThreshold
}

func (d *Detector) DetectCommandRepetition(p *profile.BehaviorProfile) bool {
	if p == nil {
		return false
	}
	ts := make([]time.Time, len(p.CommandHistory))
	for i, c := range p.CommandHistory {
		ts[i] = c.Timestamp
	}
	return countSince(ts, d.Now().Add(-d.Config.CommandRepetitionWindow)) >= d.Config.CommandRepetitionThreshold
}

// Largest relative deviation over metrics present in both maps with a positive baseline. The boolean is false when no metric could be evaluated.
func MaxDeviation(baseline, current map[string]float64) (float64, bool) {
	// sorted for stable results when deviations tie
	names := make([]string, 0, len(baseline))
	for name := range baseline {
		names = append(names, name)
	}
	sort.Strings(names)

	max := 0.0
	found := false
	for _, name := range names {
		base := baseline[name]
		if base <= 0 {
			continue
		}
		cur, ok := current[name]
		if !ok {
			continue
		}
		dev := (cur - base) / base
		if !found || dev > max {
			max = dev
			found = true
		}
	}
	return max, found
}

func (d *Detector) DetectUnusualActivity(baseline, current map[string]float64) bool {
	if len(baseline) == 0 {
		return false
	}
	dev, ok := MaxDeviation(baseline, current)
	return ok && dev >= d.Config.DeviationThreshold
}

// Runs all three checks. A nil profile only disables the checks that depend on it.
func (d *Detector) Analyze(p *profile.BehaviorProfile, recent []TimedText, current map[string]float64) Findings {
	f := Findings{
		Spam:              d.DetectSpam(recent),
		CommandRepetition: d.DetectCommandRepetition(p),
	}
	if p != nil {
		f.UnusualActivity = d.DetectUnusualActivity(p.ActivityBaseline, current)
		if dev, ok := MaxDeviation(p.ActivityBaseline, current); ok {
			f.MaxDeviation = dev
		}
	}
	return f
}
