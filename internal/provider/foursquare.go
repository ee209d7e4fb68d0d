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
	fsqConfidence = 0.9
	fsqPageLimit  = 50
)

// fsqCategoryIDs maps normalized categories to Foursquare category ids
// passed to the search endpoint.
var fsqCategoryIDs = map[taxonomy.Category][]string{
	taxonomy.Fitness:   {"18021"}, // gym and studio
	taxonomy.Sports:    {"18000"}, // sports and recreation
	taxonomy.Outdoors:  {"16000"}, // landmarks and outdoors
	taxonomy.Wellness:  {"11073", "18058"},
	taxonomy.Arts:      {"10000"}, // arts and entertainment
	taxonomy.Music:     {"10039"}, // music venue
	taxonomy.Food:      {"13000"}, // dining and drinking
	taxonomy.Nightlife: {"10032", "13003"},
	taxonomy.Education: {"12009", "12080"},
	taxonomy.Community: {"12000"}, // community and government
	taxonomy.Games:     {"10008", "10056"},
	taxonomy.Family:    {"10001", "10047", "10068"},
}

// Foursquare queries the Foursquare Places v3 search API. Results are
// persistable under the places API terms.
type Foursquare struct {
	key     string
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewFoursquare creates the Foursquare adapter. An empty key is allowed;
// searches then return no candidates.
func NewFoursquare(key, baseURL string) *Foursquare {
	return &Foursquare{
		key:     key,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(15 * time.Second),
		log:     zap.L().With(zap.String("provider", "foursquare")),
	}
}

// Name implements Adapter.
func (f *Foursquare) Name() string { return "foursquare" }

// CanPersist implements Adapter.
func (f *Foursquare) CanPersist() bool { return true }

type fsqSearchResponse struct {
	Results []fsqPlace `json:"results"`
}

type fsqPlace struct {
	FsqID      string        `json:"fsq_id"`
	Name       string        `json:"name"`
	Geocodes   fsqGeocodes   `json:"geocodes"`
	Location   fsqLocation   `json:"location"`
	Categories []fsqCategory `json:"categories"`
	Rating     float64       `json:"rating"`
	Stats      fsqStats      `json:"stats"`
	Price      int           `json:"price"`
	Tel        string        `json:"tel"`
	Website    string        `json:"website"`
	Popularity float64       `json:"popularity"`
}

type fsqGeocodes struct {
	Main struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"main"`
}

type fsqLocation struct {
	Address  string `json:"address"`
	Locality string `json:"locality"`
	Region   string `json:"region"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

type fsqCategory struct {
	Name string `json:"name"`
}

type fsqStats struct {
	TotalRatings int `json:"total_ratings"`
}

// Search implements Adapter. Without a key it returns no candidates so
// the aggregator keeps working on the remaining providers.
func (f *Foursquare) Search(ctx context.Context, q model.ViewportQuery) ([]model.ProviderPlace, error) {
	if f.key == "" {
		f.log.Debug("no api key configured, skipping")
		return nil, nil
	}

	cats := taxonomy.Normalize(q.Categories)
	if len(cats) == 0 {
		cats = taxonomy.All
	}
	catIDs := make([]string, 0, len(cats))
	for _, c := range cats {
		catIDs = append(catIDs, fsqCategoryIDs[c]...)
	}

	lat, lng := q.Bounds.Center()
	params := url.Values{
		"ll":         {fmt.Sprintf("%f,%f", lat, lng)},
		"radius":     {fmt.Sprintf("%d", viewportRadiusMeters(q.Bounds))},
		"categories": {strings.Join(catIDs, ",")},
		"limit":      {fmt.Sprintf("%d", fsqPageLimit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/places/search?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "foursquare: build request")
	}
	req.Header.Set("Authorization", f.key)
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "foursquare: search request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("foursquare: search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "foursquare: read body")
	}

	var parsed fsqSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "foursquare: parse response")
	}

	seen := make(map[string]bool, len(parsed.Results))
	var places []model.ProviderPlace
	for _, p := range parsed.Results {
		if p.FsqID == "" || seen[p.FsqID] {
			continue
		}
		seen[p.FsqID] = true

		if p.Name == "" || (p.Geocodes.Main.Latitude == 0 && p.Geocodes.Main.Longitude == 0) {
			continue
		}

		catNames := make([]string, 0, len(p.Categories))
		for _, c := range p.Categories {
			catNames = append(catNames, c.Name)
		}

		places = append(places, model.ProviderPlace{
			Provider:   f.Name(),
			ProviderID: p.FsqID,
			Name:       p.Name,
			Lat:        p.Geocodes.Main.Latitude,
			Lng:        p.Geocodes.Main.Longitude,
			Categories: catNames,
			Address: model.Address{
				Street:     p.Location.Address,
				City:       p.Location.Locality,
				State:      p.Location.Region,
				PostalCode: p.Location.Postcode,
				Country:    p.Location.Country,
			},
			Phone:       p.Tel,
			Website:     p.Website,
			Rating:      p.Rating / 2, // 0-10 scale to 0-5
			RatingCount: p.Stats.TotalRatings,
			PriceLevel:  p.Price,
			Popularity:  p.Popularity,
			Confidence:  fsqConfidence,
			CanPersist:  true,
		})
	}
	return places, nil
}
