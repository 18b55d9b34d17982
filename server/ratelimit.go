package server

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter tracks one rate limiter per client address. Idle clients are
// evicted so the map does not grow unbounded.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// idleEviction is how long a client may be silent before its limiter is
// dropped.
const idleEviction = 10 * time.Minute

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the client identified by remoteAddr may proceed.
func (cl *clientLimiter) Allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	entry, ok := cl.limiters[host]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(cl.rps, cl.burst)}
		cl.limiters[host] = entry
	}
	entry.lastSeen = time.Now()

	if len(cl.limiters) > 1024 {
		cl.evictIdleLocked()
	}

	return entry.limiter.Allow()
}

// evictIdleLocked drops limiters that have been idle too long. Caller holds
// cl.mu.
func (cl *clientLimiter) evictIdleLocked() {
	cutoff := time.Now().Add(-idleEviction)
	for host, entry := range cl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(cl.limiters, host)
		}
	}
}
