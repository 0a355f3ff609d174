package sentiment

import (
	"encoding/json"
	"fmt"
	"os"
)

// Keyword tables used by the scorer. Keyword weights are in (0,1]; intensifier factors multiply the weight of the directly following keyword.
type Lexicon struct {
	Negative     map[string]float64 `json:"negative"`
	Positive     map[string]float64 `json:"positive"`
	Intensifiers map[string]float64 `json:"intensifiers"`
}

func DefaultLexicon() Lexicon {
	return Lexicon{
		Negative: map[string]float64{
			"hate":         1.0,
			"despise":      1.0,
			"loathe":       1.0,
			"furious":      1.0,
			"terrible":     0.9,
			"horrible":     0.9,
			"awful":        0.9,
			"worst":        0.9,
			"disgusting":   0.9,
			"rage":         0.9,
			"angry":        0.8,
			"pathetic":     0.8,
			"miserable":    0.8,
			"worthless":    0.8,
			"idiot":        0.8,
			"stupid":       0.7,
			"useless":      0.7,
			"sucks":        0.7,
			"garbage":      0.7,
			"frustrated":   0.7,
			"frustrating":  0.7,
			"annoying":     0.6,
			"annoyed":      0.6,
			"bad":          0.6,
			"trash":        0.6,
			"upset":        0.6,
			"sad":          0.5,
			"broken":       0.5,
			"damn":         0.5,
			"boring":       0.4,
			"disappointed": 0.6,
		},
		Positive: map[string]float64{
			"love":      1.0,
			"awesome":   0.9,
			"amazing":   0.9,
			"excellent": 0.9,
			"wonderful": 0.9,
			"fantastic": 0.9,
			"great":     0.8,
			"best":      0.8,
			"happy":     0.7,
			"good":      0.6,
			"enjoy":     0.6,
			"glad":      0.6,
			"helpful":   0.6,
			"nice":      0.5,
			"cool":      0.5,
			"thanks":    0.5,
			"thank":     0.5,
			"like":      0.4,
		},
		Intensifiers: map[string]float64{
			"very":       1.3,
			"really":     1.3,
			"so":         1.2,
			"super":      1.3,
			"totally":    1.3,
			"completely": 1.3,
			"absolutely": 1.4,
			"incredibly": 1.4,
			"extremely":  1.5,
			"utterly":    1.5,
		},
	}
}

func (l Lexicon) Validate() error {
	if len(l.Negative) == 0 {
		return fmt.Errorf("sentiment lexicon has no negative keywords")
	}
	for k, w := range l.Negative {
		if w <= 0 || w > 1 {
			return fmt.Errorf("invalid weight for negative keyword %q: %f", k, w)
		}
	}
	for k, w := range l.Positive {
		if w <= 0 || w > 1 {
			return fmt.Errorf("invalid weight for positive keyword %q: %f", k, w)
		}
	}
	for k, f := range l.Intensifiers {
		if f <= 0 {
			return fmt.Errorf("invalid intensifier factor for %q: %f", k, f)
		}
	}
	return nil
}

// Reads a lexicon from a JSON file. Tables missing from the file keep their default values.
func LoadLexiconFileJSON(p string) (Lexicon, error) {
	lex := DefaultLexicon()
	b, err := os.ReadFile(p)
	if err != nil {
		return lex, err
	}
	var raw Lexicon
	if err := json.Unmarshal(b, &raw); err != nil {
		return lex, fmt.Errorf("parsing lexicon file: %w", err)
	}
	if raw.Negative != nil {
		lex.Negative = raw.Negative
	}
	if raw.Positive != nil {
		lex.Positive = raw.Positive
	}
	if raw.Intensifiers != nil {
		lex.Intensifiers = raw.Intensifiers
	}
	return lex, lex.Validate()
}
