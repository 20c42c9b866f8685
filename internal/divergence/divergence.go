// Package divergence compares decoded text with the reference text without
// looking at acoustic scores.
package divergence

import (
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// tokenBase is the first private-use rune; whitespace tokens are encoded as
// single runes so the rune-based edit distance works on whole tokens.
const tokenBase = 0xE000

var tokenOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// SimilarityRatio returns a character-level similarity in [0, 1] between the
// lowercased, trimmed strings. A substitution costs as much as a deletion
// plus an insertion, so the ratio matches the usual matching-blocks ratio
// for most inputs.
func SimilarityRatio(expected, decoded string) float64 {
	a := []rune(normalize(expected))
	b := []rune(normalize(decoded))
	if string(a) == string(b) {
		return 1
	}
	return levenshtein.RatioForStrings(a, b, levenshtein.DefaultOptions)
}

// ErrorRate returns (substitutions + insertions + deletions) / len(reference)
// over whitespace-delimited tokens, as a percentage. An empty reference
// scores 0 against an empty hypothesis and 100 otherwise.
func ErrorRate(reference, hypothesis string) float64 {
	ref := strings.Fields(normalize(reference))
	hyp := strings.Fields(normalize(hypothesis))
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 100
	}

	codes := make(map[string]rune)
	encode := func(tokens []string) []rune {
		out := make([]rune, len(tokens))
		for i, tok := range tokens {
			r, ok := codes[tok]
			if !ok {
				r = rune(tokenBase + len(codes))
				codes[tok] = r
			}
			out[i] = r
		}
		return out
	}

	dist := levenshtein.DistanceForStrings(encode(ref), encode(hyp), tokenOptions)
	return float64(dist) / float64(len(ref)) * 100
}

// MissedWords lists expected words, in order, whose closest decoded word has
// a Jaro-Winkler similarity below threshold.
func MissedWords(expected, decoded string, threshold float64) []string {
	heard := strings.Fields(normalize(decoded))

	var missed []string
	for _, w := range strings.Fields(normalize(expected)) {
		best := 0.0
		for _, h := range heard {
			if s := matchr.JaroWinkler(w, h, false); s > best {
				best = s
			}
		}
		if best < threshold {
			missed = append(missed, w)
		}
	}
	return missed
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
