// Keyword-weighted sentiment scoring of chat messages.
package sentiment

import (
	"fmt"
	"math"

	"github.com/bluesky-social/parley/chatmod/helpers"
	"github.com/bluesky-social/parley/chatmod/keyword"
)

type Config struct {
	Lexicon Lexicon
	// minimum intensity at which a negative message counts as a trigger
	IntensityThreshold float64
	// messages longer than this many words get their intensity dampened
	DampenAfterWords int
}

func DefaultConfig() Config {
	return Config{
		Lexicon:            DefaultLexicon(),
		IntensityThreshold: 0.7,
		DampenAfterWords:   5,
	}
}

func (c Config) Validate() error {
	if c.IntensityThreshold < 0 || c.IntensityThreshold > 1 {
		return fmt.Errorf("invalid sentiment intensity threshold: %f", c.IntensityThreshold)
	}
	if c.DampenAfterWords < 1 {
		return fmt.Errorf("invalid sentiment dampening word count: %d", c.DampenAfterWords)
	}
	return c.Lexicon.Validate()
}

type Result struct {
	// -1 (entirely negative) to 1 (entirely positive)
	Polarity  float64 `json:"polarity"`
	Intensity float64 `json:"intensity"`
	IsTrigger bool    `json:"isTrigger"`
	// matched negative keywords, in order of first appearance
	Keywords []string `json:"keywords,omitempty"`
}

// Scorer is stateless after construction and safe for concurrent use.
type Scorer struct {
	Config Config
}

func NewScorer(config Config) (*Scorer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{Config: config}, nil
}

func (s *Scorer) Analyze(text string) Result {
	if helpers.IsBlank(text) {
		return Result{}
	}
	tokens := keyword.TokenizeText(text)
	if len(tokens) == 0 {
		return Result{}
	}

	lex := s.Config.Lexicon
	var neg, pos float64
	var matched []string
	for i, tok := range tokens {
		factor := 1.0
		if i > 0 {
			if f, ok := lex.Intensifiers[tokens[i-1]]; ok {
				factor = f
			}
		}
		if w, ok := lex.Negative[tok]; ok {
			neg += w * factor
			matched = append(matched, tok)
		}
		if w, ok := lex.Positive[tok]; ok {
			pos += w * factor
		}
	}

	res := Result{}
	if neg+pos > 0 {
		res.Polarity = (pos - neg) / (pos + neg)
	}
	raw := math.Max(neg, pos)
	if len(tokens) > s.Config.DampenAfterWords {
		raw *= math.Sqrt(float64(s.Config.DampenAfterWords) / float64(len(tokens)))
	}
	res.Intensity = math.Min(raw, 1.0)
	res.IsTrigger = res.Polarity < 0 && res.Intensity >= s.Config.IntensityThreshold
	res.Keywords = helpers.DedupeStrings(matched)
	return res
}

func (s *Scorer) AnalyzeQuick(text string) bool {
	return s.Analyze(text).IsTrigger
}
