package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	t.Parallel()

	// Ferry Building to Coit Tower, San Francisco: ~1.1 km.
	d := Distance(37.7955, -122.3937, 37.8024, -122.4058)
	assert.InDelta(t, 1300, d, 200)

	// Same point is zero.
	assert.InDelta(t, 0, Distance(51.5, -0.1, 51.5, -0.1), 0.001)

	// ~111 m per 0.001 degree of latitude.
	assert.InDelta(t, 111, Distance(40.0, -74.0, 40.001, -74.0), 1)
}

func TestTileKey(t *testing.T) {
	t.Parallel()

	key := TileKey(57.64911, 10.40744)
	assert.Len(t, key, 6)
	assert.Equal(t, "u4pruy", key)

	// Nearby points share a tile; precision 7 splits finer.
	assert.Equal(t, TileKey(57.64911, 10.40744), TileKey(57.64912, 10.40745))
	assert.Len(t, EventCell(57.64911, 10.40744), 7)
}

func TestNameSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "Blue Bottle Coffee", "Blue Bottle Coffee", 1, 1},
		{"case insensitive exact", "BLUE BOTTLE coffee", "blue bottle COFFEE", 1, 1},
		{"near match", "Blue Bottle Coffee", "Blue Bottle Cofee", 0.9, 1},
		{"unrelated", "Blue Bottle Coffee", "Golden Gate Park", 0, 0.6},
		{"empty", "", "anything", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NameSimilarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestTokenOverlap(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, TokenOverlap("city park", "Park City"), 0.001)
	assert.InDelta(t, 0.5, TokenOverlap("city park", "city museum"), 0.001)
	assert.InDelta(t, 0, TokenOverlap("", "city"), 0.001)
	// Intersection over the larger set.
	assert.InDelta(t, 1.0/3.0, TokenOverlap("one two three", "three"), 0.001)
}

func TestSlugDeterministic(t *testing.T) {
	t.Parallel()

	a := Slug("Café Réunion", 48.8566, 2.3522)
	b := Slug("Café Réunion", 48.8566, 2.3522)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "cafe-reunion-")

	// Different location, different slug.
	c := Slug("Café Réunion", 48.8567, 2.3522)
	assert.NotEqual(t, a, c)

	// Empty name still produces an identifier.
	assert.Contains(t, Slug("", 0, 0), "place-")
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Blue Bottle Coffee", "blue-bottle-coffee"},
		{"  A&B -- Gym!  ", "a-b-gym"},
		{"Überstraße", "uberstrae"},
		{"---", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Community Run", "community run"},
		{"  Sálsa Night! (Beginners)  ", "salsa night beginners"},
		{"Open-Mic: Comedy", "openmic comedy"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTitle(tt.in), tt.in)
	}
}
