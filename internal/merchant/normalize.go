package merchant

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

var (
	digitsRe     = regexp.MustCompile(`[0-9]+`)
	nonLettersRe = regexp.MustCompile(`[^A-Z\s]`)
	spacesRe     = regexp.MustCompile(`\s+`)
)

// Normalize derives a stable merchant key from a raw transaction description.
// The same raw input always yields the same key, so keys are safe to use as
// grouping and cache identifiers.
//
// Examples:
//
//	"MCDONALD'S #41147 OSHAWA"      -> "MCDONALDS"
//	"PRESTO APPL/Q8BPBPZ5Z2 TORONTO" -> "PRESTOAPPL"
//	"TST-Nest Uxbridge"             -> "TSTNEST"
func Normalize(rawDescription string) string {
	if rawDescription == "" {
		return "UNKNOWN"
	}

	key := strings.ToUpper(rawDescription)
	key = digitsRe.ReplaceAllString(key, "")
	key = nonLettersRe.ReplaceAllString(key, " ")
	key = spacesRe.ReplaceAllString(key, " ")
	key = strings.TrimSpace(key)

	// The first two words are usually the merchant; the tail is branch
	// numbers, city names and processor noise.
	words := strings.Fields(key)
	if len(words) >= 2 {
		words = words[:2]
	}
	key = strings.Join(words, "")

	if key == "" {
		return "UNKNOWN"
	}
	return key
}

// Similarity returns a 0..1 ratio between two raw descriptions, case-folded.
// 1 means identical. Used to suppress near-duplicate rows at ingest time.
func Similarity(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}
