package geo

import (
	"strings"

	"github.com/xrash/smetrics"
)

// jaroWinkler parameters: standard boost threshold, common-prefix bonus
// capped at 4 characters.
const (
	jwBoostThreshold = 0.7
	jwPrefixSize     = 4
)

// NameSimilarity returns a 0..1 similarity between two place/venue names.
// Exact case-insensitive equality short-circuits to 1.0; otherwise the
// Jaro-Winkler metric is applied to the lower-cased names.
func NameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return smetrics.JaroWinkler(a, b, jwBoostThreshold, jwPrefixSize)
}

// TokenOverlap returns the token-set intersection over the larger token-set
// size. Tokens are whitespace-delimited, lower-cased.
func TokenOverlap(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var common int
	for tok := range ta {
		if tb[tok] {
			common++
		}
	}

	larger := len(ta)
	if len(tb) > larger {
		larger = len(tb)
	}
	return float64(common) / float64(larger)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}
