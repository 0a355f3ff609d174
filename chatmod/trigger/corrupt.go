package trigger

import (
	"math/rand/v2"
	"sync"
)

// At most half of the letters in a string are ever corrupted.
const MaxCorruptionLevel = 0.5

var leetTable = map[byte]byte{
	'a': '@',
	'e': '3',
	'i': '1',
	'o': '0',
	's': '$',
	't': '7',
	'l': '1',
}

// Source of randomness for freeze durations and text corruption.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Wraps a math/rand generator so it can be shared between goroutines.
type LockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ Rand = (*LockedRand)(nil)

func NewLockedRand(seed1, seed2 uint64) *LockedRand {
	return &LockedRand{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func (r *LockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *LockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Distorts roughly level * (number of letters) ASCII letters of text, chosen evenly across the string. Everything else passes through in place, so the output always has the same length as the input.
//
// A selected letter is replaced from a small leet-speak table when it has an entry, otherwise has its case swapped half of the time.
func CorruptText(text string, level float64, rng Rand) string {
	if text == "" {
		return text
	}
	if level < 0 {
		level = 0
	}
	if level > MaxCorruptionLevel {
		level = MaxCorruptionLevel
	}

	out := []byte(text)
	candidates := 0
	for _, c := range out {
		if isASCIILetter(c) {
			candidates++
		}
	}
	budget := int(float64(candidates) * level)
	if budget == 0 {
		return text
	}

	for i, c := range out {
		if budget == 0 {
			break
		}
		if !isASCIILetter(c) {
			continue
		}
		// selection sampling: picks exactly the budgeted number of letters
		if rng.Float64()*float64(candidates) < float64(budget) {
			out[i] = corruptLetter(c, rng)
			budget--
		}
		candidates--
	}
	return string(out)
}

func corruptLetter(c byte, rng Rand) byte {
	lower := c | 0x20
	if sub, ok := leetTable[lower]; ok {
		return sub
	}
	if rng.Float64() < 0.5 {
		return c ^ 0x20
	}
	return c
}
