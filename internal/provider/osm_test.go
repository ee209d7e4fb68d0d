package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/placesync/internal/model"
)

var testBounds = model.Bounds{MinLat: 52.49, MinLng: 13.37, MaxLat: 52.53, MaxLng: 13.43}

func TestOSMSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query := r.Form.Get("data")
		assert.Contains(t, query, "[out:json]")
		assert.Contains(t, query, `node["leisure"="fitness_centre"]`)
		assert.Contains(t, query, `way["leisure"="fitness_centre"]`)

		w.Write([]byte(`{"elements":[
			{"type":"node","id":101,"lat":52.52,"lon":13.40,"tags":{"name":"Iron Temple","leisure":"fitness_centre","addr:street":"Torstr.","addr:housenumber":"12","addr:city":"Berlin","phone":"+49 30 1234"}},
			{"type":"way","id":202,"center":{"lat":52.51,"lon":13.39},"tags":{"name":"Stadtbad","leisure":"swimming_pool"}},
			{"type":"node","id":303,"lat":52.50,"lon":13.41,"tags":{"leisure":"pitch"}}
		]}`))
	}))
	defer srv.Close()

	osm := NewOSM(srv.URL)
	places, err := osm.Search(context.Background(), model.ViewportQuery{
		Bounds:     testBounds,
		Categories: []string{"fitness", "sports"},
	})
	require.NoError(t, err)

	// The unnamed pitch is dropped.
	require.Len(t, places, 2)

	gym := places[0]
	assert.Equal(t, "osm", gym.Provider)
	assert.Equal(t, "node/101", gym.ProviderID)
	assert.Equal(t, "Iron Temple", gym.Name)
	assert.Equal(t, "12 Torstr.", gym.Address.Street)
	assert.Equal(t, "Berlin", gym.Address.City)
	assert.Equal(t, "+49 30 1234", gym.Phone)
	assert.True(t, gym.CanPersist)

	// Ways resolve to their computed center.
	pool := places[1]
	assert.Equal(t, "way/202", pool.ProviderID)
	assert.InDelta(t, 52.51, pool.Lat, 1e-9)
	assert.InDelta(t, 13.39, pool.Lng, 1e-9)
}

func TestOSMSearchDedupesElements(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"elements":[
			{"type":"node","id":7,"lat":52.52,"lon":13.40,"tags":{"name":"Twice","amenity":"cafe"}},
			{"type":"node","id":7,"lat":52.52,"lon":13.40,"tags":{"name":"Twice","amenity":"cafe"}}
		]}`))
	}))
	defer srv.Close()

	osm := NewOSM(srv.URL)
	places, err := osm.Search(context.Background(), model.ViewportQuery{
		Bounds:     testBounds,
		Categories: []string{"food"},
	})
	require.NoError(t, err)
	assert.Len(t, places, 1)
}

func TestOSMSearchServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	osm := NewOSM(srv.URL)
	_, err := osm.Search(context.Background(), model.ViewportQuery{
		Bounds:     testBounds,
		Categories: []string{"food"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "504")
}

func TestOSMWildcardCoversAllCategories(t *testing.T) {
	t.Parallel()

	var captured string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		captured = r.Form.Get("data")
		w.Write([]byte(`{"elements":[]}`))
	}))
	defer srv.Close()

	osm := NewOSM(srv.URL)
	_, err := osm.Search(context.Background(), model.ViewportQuery{
		Bounds:     testBounds,
		Categories: []string{"all"},
	})
	require.NoError(t, err)
	assert.Contains(t, captured, `"leisure"="fitness_centre"`)
	assert.Contains(t, captured, `"amenity"="restaurant"`)
	assert.Contains(t, captured, `"tourism"="zoo"`)
}
