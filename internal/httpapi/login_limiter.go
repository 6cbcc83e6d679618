package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginLimiter bounds sign-in attempts per client so the local API cannot be
// used to hammer the remote token endpoint. Each client gets a token bucket
// of max attempts refilled over window.
type loginLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	clients map[string]*loginClient
}

type loginClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{
		window:  5 * time.Minute,
		max:     10,
		clients: make(map[string]*loginClient),
	}
}

func (l *loginLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(now)
	c, ok := l.clients[key]
	if !ok {
		c = &loginClient{limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.max)), l.max)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// evictLocked forgets clients idle for a whole window; their bucket is full
// again by then.
func (l *loginLimiter) evictLocked(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) >= l.window {
			delete(l.clients, key)
		}
	}
}
