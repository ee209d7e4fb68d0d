package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testClient() *Client {
	return NewClient(Options{
		UserAgent:  "placesync-test",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		HostRate:   rate.Limit(1000),
		HostBurst:  1000,
		RobotsTTL:  time.Minute,
	})
}

func TestGetHappyPath(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
		case "/feed.ics":
			assert.Equal(t, "placesync-test", r.Header.Get("User-Agent"))
			w.Write([]byte("BEGIN:VCALENDAR"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	body, err := testClient().Get(context.Background(), srv.URL+"/feed.ics")
	require.NoError(t, err)
	assert.Equal(t, "BEGIN:VCALENDAR", string(body))
}

func TestGetRobotsDisallowed(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		hits.Add(1)
		w.Write([]byte("secret"))
	}))
	defer srv.Close()

	_, err := testClient().Get(context.Background(), srv.URL+"/private/page")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRobotsDisallowed))
	// The disallowed path itself was never requested.
	assert.Zero(t, hits.Load())
}

func TestGetMissingRobotsAllowsAll(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := testClient().Get(context.Background(), srv.URL+"/anything")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestGetRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	body, err := testClient().Get(context.Background(), srv.URL+"/flaky")
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.EqualValues(t, 2, calls.Load())
}

func TestGetConditionalNotModified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := testClient()

	first, err := c.GetConditional(context.Background(), srv.URL+"/feed", "", "")
	require.NoError(t, err)
	assert.False(t, first.NotModified)
	assert.Equal(t, `"v1"`, first.ETag)
	assert.Equal(t, "payload", string(first.Body))

	second, err := c.GetConditional(context.Background(), srv.URL+"/feed", first.ETag, "")
	require.NoError(t, err)
	assert.True(t, second.NotModified)
	assert.Equal(t, `"v1"`, second.ETag)
	assert.Empty(t, second.Body)
}

func TestRobotsCacheExpiry(t *testing.T) {
	t.Parallel()

	var robotsFetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsFetches.Add(1)
			w.Write([]byte("User-agent: *\nAllow: /\n"))
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient()
	ctx := context.Background()

	_, err := c.Get(ctx, srv.URL+"/a")
	require.NoError(t, err)
	_, err = c.Get(ctx, srv.URL+"/b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, robotsFetches.Load(), "second fetch should hit the cache")
}
