package places

import (
	"math/rand/v2"
	"time"
)

// ttlPolicy issues randomized expiry instants: base duration plus a
// uniform variance, so neighbouring tiles and places do not all expire in
// the same refresh cycle.
type ttlPolicy struct {
	base   time.Duration
	jitter time.Duration
}

// expiry returns a randomized expiry for the given instant.
func (p ttlPolicy) expiry(now time.Time) time.Time {
	d := p.base
	if p.jitter > 0 {
		d += rand.N(p.jitter)
	}
	return now.Add(d)
}
