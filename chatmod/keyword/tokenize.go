package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)
	// apostrophes inside words ("don't") are dropped instead of splitting the word
	innerApostrophe = regexp.MustCompile(`(\pL)['’](\pL)`)
)

// Splits free-form chat text in to tokens, including lower-case, unicode normalization, and some unicode folding.
//
// The intent is for this to work similarly to an NLP tokenizer, and enable fast matching against keyword lexicons.
func TokenizeTextWithRegex(text string, nonTokenCharsRegex *regexp.Regexp) []string {
	// this function needs to be re-defined in every function call to prevent a race condition
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	joined := innerApostrophe.ReplaceAllString(text, "$1$2")
	split := strings.ToLower(nonTokenCharsRegex.ReplaceAllString(joined, " "))
	normed, _, err := transform.String(normFunc, split)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		normed = split
	}
	return strings.Fields(normed)
}

func TokenizeText(text string) []string {
	return TokenizeTextWithRegex(text, nonTokenChars)
}
