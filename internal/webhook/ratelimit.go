package webhook

import (
	"net"
	"sync"
	"time"
)

// RateLimiter caps webhook admissions per source address over a fixed
// window. Counters are in-process; webhook ingress runs on a single
// node in front of the provider, so no shared store is needed.
type RateLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time // swapped in tests
}

type bucket struct {
	start time.Time
	count int
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     max,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow counts one admission attempt for source and reports whether it
// fits in the current window. The source may arrive as "ip:port"; the
// bucket is keyed on the address alone so a sender cannot dodge the
// cap by reconnecting on fresh ephemeral ports.
func (l *RateLimiter) Allow(source string) bool {
	if host, _, err := net.SplitHostPort(source); err == nil {
		source = host
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	b, ok := l.buckets[source]
	if !ok || now.Sub(b.start) >= l.window {
		l.prune(now)
		l.buckets[source] = &bucket{start: now, count: 1}
		return true
	}

	b.count++
	return b.count <= l.max
}

// prune drops expired windows so the map does not grow with every
// address that ever called. Caller holds mu.
func (l *RateLimiter) prune(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, k)
		}
	}
}
