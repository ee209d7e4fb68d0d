package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/placesync/internal/model"
)

func testGoogle(url string, maxPages int) *Google {
	g := NewGoogle("test-key", url, maxPages)
	g.pageDelay = 0
	return g
}

func TestGoogleSearchNearby(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nearbysearch/json", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "spa", r.URL.Query().Get("type"))

		w.Write([]byte(`{"status":"OK","results":[
			{"place_id":"g1","name":"Vabali","geometry":{"location":{"lat":52.53,"lng":13.36}},
			 "types":["spa","point_of_interest","establishment"],"vicinity":"Seydlitzstr. 6",
			 "rating":4.5,"user_ratings_total":9000,"price_level":3}
		]}`))
	}))
	defer srv.Close()

	g := testGoogle(srv.URL, 1)
	places, err := g.Search(context.Background(), model.ViewportQuery{
		Bounds:     testBounds,
		Categories: []string{"wellness"},
	})
	require.NoError(t, err)
	require.Len(t, places, 1)

	p := places[0]
	assert.Equal(t, "google", p.Provider)
	assert.Equal(t, "g1", p.ProviderID)
	assert.Equal(t, "Vabali", p.Name)
	// Filler types are stripped from the raw category list.
	assert.Equal(t, []string{"spa"}, p.Categories)
	assert.Equal(t, "Seydlitzstr. 6", p.Address.Street)
	assert.False(t, p.CanPersist, "google results must never be persisted")
}

func TestGoogleSearchPaginationCap(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		// Always hand out a next page; the cap must stop the loop.
		fmt.Fprintf(w, `{"status":"OK","next_page_token":"tok%d","results":[
			{"place_id":"p%d","name":"Place %d","geometry":{"location":{"lat":52.5,"lng":13.4}}}
		]}`, n, n, n)
	}))
	defer srv.Close()

	g := testGoogle(srv.URL, 2)
	places, err := g.Search(context.Background(), model.ViewportQuery{
		Bounds:     testBounds,
		Categories: []string{"sports"}, // one type, one keyword group of two
	})
	require.NoError(t, err)

	// sports runs 1 type search + 2 keyword searches, each capped at 2 pages.
	assert.EqualValues(t, 6, calls.Load())
	assert.Len(t, places, 6)
}

func TestGoogleSearchDedupesAcrossStrategies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every strategy returns the same place.
		w.Write([]byte(`{"status":"OK","results":[
			{"place_id":"same","name":"Boulderhalle","geometry":{"location":{"lat":52.5,"lng":13.4}}}
		]}`))
	}))
	defer srv.Close()

	g := testGoogle(srv.URL, 1)
	places, err := g.Search(context.Background(), model.ViewportQuery{
		Bounds:     testBounds,
		Categories: []string{"sports"},
	})
	require.NoError(t, err)
	assert.Len(t, places, 1)
}

func TestGoogleSearchWithoutKey(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	g := NewGoogle("", srv.URL, 3)
	places, err := g.Search(context.Background(), model.ViewportQuery{Bounds: testBounds})
	require.NoError(t, err)
	assert.Empty(t, places)
	assert.Zero(t, hits.Load())
}

func TestGoogleSearchAPIStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OVER_QUERY_LIMIT","error_message":"quota exceeded"}`))
	}))
	defer srv.Close()

	g := testGoogle(srv.URL, 1)
	_, err := g.Search(context.Background(), model.ViewportQuery{
		Bounds:     testBounds,
		Categories: []string{"food"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OVER_QUERY_LIMIT")
}
