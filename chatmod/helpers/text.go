package helpers

import (
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"
)

// DedupeStrings returns the input with duplicates removed, keeping the order of first appearance.
func DedupeStrings(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range in {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}

// returns a fast, compact hash of a string
//
// current implementation uses murmur3, default seed, and hex encoding. Used to correlate chat messages in logs without recording their content.
func HashOfString(s string) string {
	val := murmur3.Sum64([]byte(s))
	return fmt.Sprintf("%016x", val)
}

// IsBlank reports whether text contains only whitespace.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
