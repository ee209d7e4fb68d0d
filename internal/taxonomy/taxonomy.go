// Package taxonomy maps free-form provider categories and tags onto the
// fixed normalized category vocabulary used across the catalogue. The
// tables are process-wide immutable configuration, loaded once.
package taxonomy

import "strings"

// Category is one entry of the closed normalized vocabulary.
type Category string

// The normalized category vocabulary. Order here is the canonical order
// used when expanding wildcards.
const (
	Fitness   Category = "fitness"
	Sports    Category = "sports"
	Outdoors  Category = "outdoors"
	Wellness  Category = "wellness"
	Arts      Category = "arts"
	Music     Category = "music"
	Food      Category = "food"
	Nightlife Category = "nightlife"
	Education Category = "education"
	Community Category = "community"
	Games     Category = "games"
	Family    Category = "family"
)

// All lists every normalized category in canonical order.
var All = []Category{
	Fitness, Sports, Outdoors, Wellness, Arts, Music,
	Food, Nightlife, Education, Community, Games, Family,
}

// wildcards expand to the full vocabulary.
var wildcards = map[string]bool{
	"all": true,
	"*":   true,
	"any": true,
}

// aliases maps raw provider vocabulary (lower-cased) to exactly one
// normalized category. Multi-word aliases are matched after whitespace
// collapsing.
var aliases = map[string]Category{
	// fitness
	"gym": Fitness, "fitness": Fitness, "fitness centre": Fitness,
	"fitness center": Fitness, "crossfit": Fitness, "pilates": Fitness,
	"personal trainer": Fitness, "bootcamp": Fitness, "workout": Fitness,

	// sports
	"sports": Sports, "sport": Sports, "stadium": Sports, "pitch": Sports,
	"sports centre": Sports, "sports club": Sports, "tennis": Sports,
	"soccer": Sports, "football": Sports, "basketball": Sports,
	"swimming pool": Sports, "rock climbing": Sports, "climbing": Sports,
	"martial arts": Sports, "running": Sports, "cycling": Sports,

	// outdoors
	"outdoors": Outdoors, "park": Outdoors, "trail": Outdoors,
	"hiking": Outdoors, "garden": Outdoors, "beach": Outdoors,
	"nature reserve": Outdoors, "playground": Outdoors, "campground": Outdoors,

	// wellness
	"wellness": Wellness, "yoga": Wellness, "spa": Wellness,
	"meditation": Wellness, "massage": Wellness, "sauna": Wellness,

	// arts
	"arts": Arts, "art": Arts, "gallery": Arts, "art gallery": Arts,
	"museum": Arts, "theatre": Arts, "theater": Arts, "cinema": Arts,
	"dance": Arts, "crafts": Arts, "pottery": Arts, "photography": Arts,

	// music
	"music": Music, "concert hall": Music, "live music": Music,
	"music venue": Music, "karaoke": Music, "choir": Music,

	// food
	"food": Food, "restaurant": Food, "cafe": Food, "coffee": Food,
	"coffee shop": Food, "bakery": Food, "food court": Food,
	"farmers market": Food, "food truck": Food,

	// nightlife
	"nightlife": Nightlife, "bar": Nightlife, "pub": Nightlife,
	"nightclub": Nightlife, "club": Nightlife, "brewery": Nightlife,
	"wine bar": Nightlife, "cocktail bar": Nightlife,

	// education
	"education": Education, "library": Education, "workshop": Education,
	"class": Education, "course": Education, "lecture": Education,
	"language exchange": Education, "bookstore": Education,

	// community
	"community": Community, "community centre": Community,
	"community center": Community, "meetup": Community,
	"volunteering": Community, "social": Community, "networking": Community,
	"place of worship": Community, "town hall": Community,

	// games
	"games": Games, "board games": Games, "arcade": Games,
	"bowling": Games, "esports": Games, "trivia": Games,
	"billiards": Games, "chess": Games,

	// family
	"family": Family, "kids": Family, "children": Family,
	"zoo": Family, "aquarium": Family, "theme park": Family,
	"storytime": Family,
}

// Normalize maps raw category strings onto the normalized vocabulary.
// A wildcard input expands to every category; unknown raw values are
// dropped silently. The result is deduplicated and in canonical order.
func Normalize(raw []string) []Category {
	seen := make(map[Category]bool)
	for _, r := range raw {
		key := strings.Join(strings.Fields(strings.ToLower(r)), " ")
		if key == "" {
			continue
		}
		if wildcards[key] {
			return append([]Category(nil), All...)
		}
		if c, ok := lookup(key); ok {
			seen[c] = true
		}
	}

	var out []Category
	for _, c := range All {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// lookup resolves a collapsed lower-case key: the vocabulary itself is
// always valid input, then the alias table.
func lookup(key string) (Category, bool) {
	for _, c := range All {
		if key == string(c) {
			return c, true
		}
	}
	c, ok := aliases[key]
	return c, ok
}

// Match reports whether any of the raw tags maps to one of the wanted
// normalized categories.
func Match(raw []string, wanted []Category) bool {
	got := Normalize(raw)
	for _, g := range got {
		for _, w := range wanted {
			if g == w {
				return true
			}
		}
	}
	return false
}
