package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherly/placesync/internal/model"
	"github.com/gatherly/placesync/internal/taxonomy"
)

const (
	googleConfidence = 0.95
	// The pagetoken takes a moment to become valid server-side.
	googlePageTokenDelay = 2 * time.Second
)

// googleTypes maps normalized categories to Places API types for the
// nearby search strategy.
var googleTypes = map[taxonomy.Category][]string{
	taxonomy.Fitness:   {"gym"},
	taxonomy.Sports:    {"stadium"},
	taxonomy.Outdoors:  {"park", "campground"},
	taxonomy.Wellness:  {"spa"},
	taxonomy.Arts:      {"museum", "art_gallery", "movie_theater"},
	taxonomy.Music:     {"night_club"},
	taxonomy.Food:      {"restaurant", "cafe", "bakery"},
	taxonomy.Nightlife: {"bar", "night_club"},
	taxonomy.Education: {"library", "book_store"},
	taxonomy.Community: {"city_hall", "church"},
	taxonomy.Games:     {"bowling_alley", "amusement_park"},
	taxonomy.Family:    {"zoo", "aquarium", "amusement_park"},
}

// googleKeywords covers categories the type vocabulary serves poorly;
// these run as keyword nearby searches.
var googleKeywords = map[taxonomy.Category][]string{
	taxonomy.Fitness:   {"crossfit", "pilates studio"},
	taxonomy.Sports:    {"climbing gym", "sports club"},
	taxonomy.Wellness:  {"yoga studio"},
	taxonomy.Music:     {"live music venue"},
	taxonomy.Community: {"community center"},
	taxonomy.Games:     {"board game cafe"},
}

// googleTextQueries are targeted text searches for niches neither types
// nor keywords reach reliably.
var googleTextQueries = map[taxonomy.Category][]string{
	taxonomy.Education: {"language exchange"},
	taxonomy.Games:     {"trivia night bar"},
	taxonomy.Family:    {"indoor playground"},
}

// Google queries the Google Places API (nearby and text search). Results
// are NOT persistable: the license forbids storing them, so candidates
// are served and ranked from memory only and never written to the store.
type Google struct {
	key      string
	baseURL  string
	maxPages int
	http     *http.Client
	log      *zap.Logger

	// pageDelay is shortened in tests.
	pageDelay time.Duration
}

// NewGoogle creates the Google Places adapter. An empty key is allowed;
// searches then return no candidates.
func NewGoogle(key, baseURL string, maxPages int) *Google {
	if maxPages <= 0 {
		maxPages = 1
	}
	return &Google{
		key:       key,
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxPages:  maxPages,
		http:      newHTTPClient(20 * time.Second),
		log:       zap.L().With(zap.String("provider", "google")),
		pageDelay: googlePageTokenDelay,
	}
}

// Name implements Adapter.
func (g *Google) Name() string { return "google" }

// CanPersist implements Adapter.
func (g *Google) CanPersist() bool { return false }

type googleResponse struct {
	Status        string         `json:"status"`
	ErrorMessage  string         `json:"error_message"`
	NextPageToken string         `json:"next_page_token"`
	Results       []googleResult `json:"results"`
}

type googleResult struct {
	PlaceID  string `json:"place_id"`
	Name     string `json:"name"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	Types            []string `json:"types"`
	Vicinity         string   `json:"vicinity"`
	FormattedAddress string   `json:"formatted_address"`
	Rating           float64  `json:"rating"`
	UserRatingsTotal int      `json:"user_ratings_total"`
	PriceLevel       int      `json:"price_level"`
}

// Search implements Adapter. It fans the category selection out across
// three strategies (type nearby, keyword nearby, targeted text search),
// follows pagination up to the configured page cap per strategy call,
// and deduplicates by place_id across all of them.
func (g *Google) Search(ctx context.Context, q model.ViewportQuery) ([]model.ProviderPlace, error) {
	if g.key == "" {
		g.log.Debug("no api key configured, skipping")
		return nil, nil
	}

	cats := taxonomy.Normalize(q.Categories)
	if len(cats) == 0 {
		cats = taxonomy.All
	}

	lat, lng := q.Bounds.Center()
	location := fmt.Sprintf("%f,%f", lat, lng)
	radius := fmt.Sprintf("%d", viewportRadiusMeters(q.Bounds))

	seen := make(map[string]bool)
	var places []model.ProviderPlace

	collect := func(results []googleResult) {
		for _, r := range results {
			if r.PlaceID == "" || seen[r.PlaceID] {
				continue
			}
			seen[r.PlaceID] = true
			if p, ok := g.convert(r); ok {
				places = append(places, p)
			}
		}
	}

	for _, c := range cats {
		for _, typ := range googleTypes[c] {
			results, err := g.paginate(ctx, "/nearbysearch/json", url.Values{
				"location": {location}, "radius": {radius}, "type": {typ},
			})
			if err != nil {
				return nil, err
			}
			collect(results)
		}
		for _, kw := range googleKeywords[c] {
			results, err := g.paginate(ctx, "/nearbysearch/json", url.Values{
				"location": {location}, "radius": {radius}, "keyword": {kw},
			})
			if err != nil {
				return nil, err
			}
			collect(results)
		}
		for _, query := range googleTextQueries[c] {
			results, err := g.paginate(ctx, "/textsearch/json", url.Values{
				"location": {location}, "radius": {radius}, "query": {query},
			})
			if err != nil {
				return nil, err
			}
			collect(results)
		}
	}
	return places, nil
}

// paginate runs one search and follows next_page_token up to maxPages.
func (g *Google) paginate(ctx context.Context, endpoint string, params url.Values) ([]googleResult, error) {
	var all []googleResult
	token := ""
	for page := 0; page < g.maxPages; page++ {
		p := url.Values{}
		for k, vs := range params {
			p[k] = vs
		}
		p.Set("key", g.key)
		if token != "" {
			p.Set("pagetoken", token)
			select {
			case <-ctx.Done():
				return nil, eris.Wrap(ctx.Err(), "google: paginate")
			case <-time.After(g.pageDelay):
			}
		}

		resp, err := g.call(ctx, endpoint, p)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Results...)

		token = resp.NextPageToken
		if token == "" {
			break
		}
	}
	return all, nil
}

// call performs one request against the places API and checks the
// payload-level status field.
func (g *Google) call(ctx context.Context, endpoint string, params url.Values) (*googleResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: build request")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: places request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("google: places returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read body")
	}

	var parsed googleResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "google: parse response")
	}

	switch parsed.Status {
	case "OK", "ZERO_RESULTS":
		return &parsed, nil
	default:
		return nil, eris.Errorf("google: api status %s: %s", parsed.Status, parsed.ErrorMessage)
	}
}

func (g *Google) convert(r googleResult) (model.ProviderPlace, bool) {
	if r.Name == "" {
		return model.ProviderPlace{}, false
	}

	cats := make([]string, 0, len(r.Types))
	for _, t := range r.Types {
		switch t {
		case "point_of_interest", "establishment":
			continue
		}
		cats = append(cats, strings.ReplaceAll(t, "_", " "))
	}

	addr := model.Address{Street: r.Vicinity}
	if addr.Street == "" {
		addr.Street = r.FormattedAddress
	}

	return model.ProviderPlace{
		Provider:    g.Name(),
		ProviderID:  r.PlaceID,
		Name:        r.Name,
		Lat:         r.Geometry.Location.Lat,
		Lng:         r.Geometry.Location.Lng,
		Categories:  cats,
		Address:     addr,
		Rating:      r.Rating,
		RatingCount: r.UserRatingsTotal,
		PriceLevel:  r.PriceLevel,
		Confidence:  googleConfidence,
		CanPersist:  false,
	}, true
}
