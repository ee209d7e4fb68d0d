package fetch

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// ErrRobotsDisallowed marks a URL whose path the origin's robots.txt
// forbids for our user agent. The URL is never fetched.
var ErrRobotsDisallowed = eris.New("fetch: disallowed by robots.txt")

// robotsCache holds parsed robots.txt per origin with TTL expiry. Reads
// are lock-cheap; a miss may cause a duplicate refetch under concurrency,
// which is acceptable.
type robotsCache struct {
	client *Client
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]robotsEntry
}

type robotsEntry struct {
	group   *robotstxt.Group
	expires time.Time
}

func newRobotsCache(client *Client, ttl time.Duration) *robotsCache {
	return &robotsCache{
		client:  client,
		ttl:     ttl,
		entries: make(map[string]robotsEntry),
	}
}

// Check returns ErrRobotsDisallowed when the origin's robots.txt forbids
// the URL's path. An unreachable or unparseable robots.txt allows
// everything.
func (r *robotsCache) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}
	origin := u.Scheme + "://" + u.Host

	group, err := r.groupFor(ctx, origin)
	if err != nil {
		return err
	}
	if group == nil {
		return nil // no rules
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if !group.Test(path) {
		return eris.Wrapf(ErrRobotsDisallowed, "%s", rawURL)
	}
	return nil
}

// groupFor returns the cached rule group for our user agent, refreshing
// the origin's robots.txt when the entry is missing or expired.
func (r *robotsCache) groupFor(ctx context.Context, origin string) (*robotstxt.Group, error) {
	now := time.Now()

	r.mu.RLock()
	entry, ok := r.entries[origin]
	r.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.group, nil
	}

	group := r.fetch(ctx, origin)

	r.mu.Lock()
	r.entries[origin] = robotsEntry{group: group, expires: now.Add(r.ttl)}
	r.mu.Unlock()

	return group, nil
}

// fetch downloads and parses an origin's robots.txt. Any failure (missing
// file, transport error, parse error) yields a nil group, i.e. allow-all.
func (r *robotsCache) fetch(ctx context.Context, origin string) *robotstxt.Group {
	res, err := r.client.get(ctx, origin+"/robots.txt", "", "")
	if err != nil {
		zap.L().Debug("fetch: robots.txt unavailable, allowing all",
			zap.String("origin", origin),
			zap.Error(err),
		)
		return nil
	}

	data, err := robotstxt.FromBytes(res.Body)
	if err != nil {
		zap.L().Debug("fetch: robots.txt unparseable, allowing all",
			zap.String("origin", origin),
			zap.Error(err),
		)
		return nil
	}
	return data.FindGroup(r.client.opts.UserAgent)
}
