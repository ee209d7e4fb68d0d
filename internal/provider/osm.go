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

	"github.com/gatherly/placesync/internal/model"
	"github.com/gatherly/placesync/internal/taxonomy"
)

const osmConfidence = 0.75

// osmSelectors maps normalized categories to OSM tag pairs queried via
// Overpass.
var osmSelectors = map[taxonomy.Category][][2]string{
	taxonomy.Fitness: {
		{"leisure", "fitness_centre"},
		{"leisure", "fitness_station"},
	},
	taxonomy.Sports: {
		{"leisure", "sports_centre"},
		{"leisure", "pitch"},
		{"leisure", "stadium"},
		{"leisure", "swimming_pool"},
	},
	taxonomy.Outdoors: {
		{"leisure", "park"},
		{"leisure", "nature_reserve"},
		{"tourism", "camp_site"},
	},
	taxonomy.Wellness: {
		{"leisure", "sauna"},
		{"shop", "massage"},
		{"amenity", "public_bath"},
	},
	taxonomy.Arts: {
		{"tourism", "museum"},
		{"tourism", "gallery"},
		{"amenity", "theatre"},
		{"amenity", "cinema"},
		{"amenity", "arts_centre"},
	},
	taxonomy.Music: {
		{"amenity", "concert_hall"},
		{"amenity", "music_venue"},
	},
	taxonomy.Food: {
		{"amenity", "restaurant"},
		{"amenity", "cafe"},
		{"shop", "bakery"},
	},
	taxonomy.Nightlife: {
		{"amenity", "bar"},
		{"amenity", "pub"},
		{"amenity", "nightclub"},
	},
	taxonomy.Education: {
		{"amenity", "library"},
		{"shop", "books"},
	},
	taxonomy.Community: {
		{"amenity", "community_centre"},
		{"amenity", "townhall"},
		{"amenity", "place_of_worship"},
	},
	taxonomy.Games: {
		{"leisure", "bowling_alley"},
		{"leisure", "amusement_arcade"},
		{"shop", "games"},
	},
	taxonomy.Family: {
		{"tourism", "zoo"},
		{"tourism", "aquarium"},
		{"tourism", "theme_park"},
		{"leisure", "playground"},
	},
}

// OSM queries OpenStreetMap through an Overpass endpoint. Results are
// persistable (ODbL, with attribution recorded per place).
type OSM struct {
	endpoint string
	http     *http.Client
}

// NewOSM creates the Overpass adapter.
func NewOSM(endpoint string) *OSM {
	return &OSM{
		endpoint: endpoint,
		http:     newHTTPClient(25 * time.Second),
	}
}

// Name implements Adapter.
func (o *OSM) Name() string { return "osm" }

// CanPersist implements Adapter.
func (o *OSM) CanPersist() bool { return true }

// overpassResponse is the raw Overpass JSON shape. All trust in the
// external payload stays inside this file.
type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *overpassCenter   `json:"center,omitempty"`
	Tags   map[string]string `json:"tags"`
}

type overpassCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Search implements Adapter. It unions node and way matches for every
// selector of the requested categories and deduplicates raw elements by
// (type, id) before conversion.
func (o *OSM) Search(ctx context.Context, q model.ViewportQuery) ([]model.ProviderPlace, error) {
	selectors := o.selectorsFor(q.Categories)
	if len(selectors) == 0 {
		return nil, nil
	}

	query := buildOverpassQuery(q.Bounds, selectors)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint,
		strings.NewReader(url.Values{"data": {query}}.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "osm: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "osm: overpass request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("osm: overpass returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "osm: read body")
	}

	var parsed overpassResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "osm: parse response")
	}

	// Dedupe raw elements by (type, id); Overpass unions can repeat them.
	seen := make(map[string]bool, len(parsed.Elements))
	var places []model.ProviderPlace
	for _, el := range parsed.Elements {
		key := fmt.Sprintf("%s/%d", el.Type, el.ID)
		if seen[key] {
			continue
		}
		seen[key] = true

		if p, ok := o.convert(el); ok {
			places = append(places, p)
		}
	}
	return places, nil
}

// selectorsFor resolves the query's raw category selection into OSM tag
// selectors.
func (o *OSM) selectorsFor(raw []string) [][2]string {
	cats := taxonomy.Normalize(raw)
	if len(cats) == 0 {
		cats = taxonomy.All
	}
	var out [][2]string
	for _, c := range cats {
		out = append(out, osmSelectors[c]...)
	}
	return out
}

// buildOverpassQuery renders an Overpass QL union over nodes and ways
// for the bbox.
func buildOverpassQuery(b model.Bounds, selectors [][2]string) string {
	bbox := fmt.Sprintf("(%f,%f,%f,%f)", b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)

	var sb strings.Builder
	sb.WriteString("[out:json][timeout:25];(")
	for _, sel := range selectors {
		fmt.Fprintf(&sb, `node[%q=%q]%s;`, sel[0], sel[1], bbox)
		fmt.Fprintf(&sb, `way[%q=%q]%s;`, sel[0], sel[1], bbox)
	}
	sb.WriteString(");out center 200;")
	return sb.String()
}

// convert turns a raw element into a candidate. Unnamed elements are
// dropped; ways use their computed center.
func (o *OSM) convert(el overpassElement) (model.ProviderPlace, bool) {
	name := el.Tags["name"]
	if strings.TrimSpace(name) == "" {
		return model.ProviderPlace{}, false
	}

	lat, lng := el.Lat, el.Lon
	if el.Center != nil {
		lat, lng = el.Center.Lat, el.Center.Lon
	}
	if lat == 0 && lng == 0 {
		return model.ProviderPlace{}, false
	}

	var cats []string
	for _, key := range []string{"amenity", "leisure", "tourism", "shop", "sport"} {
		if v := el.Tags[key]; v != "" {
			cats = append(cats, strings.ReplaceAll(v, "_", " "))
		}
	}

	return model.ProviderPlace{
		Provider:   o.Name(),
		ProviderID: fmt.Sprintf("%s/%d", el.Type, el.ID),
		Name:       name,
		Lat:        lat,
		Lng:        lng,
		Categories: cats,
		Address: model.Address{
			Street:     strings.TrimSpace(el.Tags["addr:housenumber"] + " " + el.Tags["addr:street"]),
			City:       el.Tags["addr:city"],
			PostalCode: el.Tags["addr:postcode"],
			Country:    el.Tags["addr:country"],
		},
		Phone:      firstTag(el.Tags, "phone", "contact:phone"),
		Website:    firstTag(el.Tags, "website", "contact:website"),
		Confidence: osmConfidence,
		CanPersist: true,
	}, true
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}
