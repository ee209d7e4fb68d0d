package geo

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripAccents decomposes unicode text and removes combining marks, so
// "Café" folds to "Cafe".
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug derives a stable place identifier from a name and coordinates:
// the slugified name plus a base-36 suffix of the coordinates rounded to
// four decimals (~11 m). The same name+location always yields the same
// slug, with no database round-trip.
func Slug(name string, lat, lng float64) string {
	s := Slugify(name)
	if s == "" {
		s = "place"
	}
	return s + "-" + coordToken(lat) + coordToken(lng)
}

// coordToken shifts a coordinate into positive range, rounds to 1e-4
// degrees and base-36 encodes it.
func coordToken(v float64) string {
	n := int64(math.Round((v + 180) * 10000))
	return strconv.FormatInt(n, 36)
}

// Slugify lower-cases, strips accents and replaces every non-alphanumeric
// run with a single hyphen.
func Slugify(s string) string {
	folded, _, err := transform.String(stripAccents, s)
	if err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// NormalizeTitle folds an event title for dedupe-key use: lower-cased,
// accent-stripped, punctuation removed, whitespace collapsed.
func NormalizeTitle(s string) string {
	folded, _, err := transform.String(stripAccents, s)
	if err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
