package securestore

import (
	"sync"
	"time"
)

// authCache remembers when each key was last unlocked and under which
// validity window. It lives as long as the Store; nothing is persisted, so a
// restart always re-authenticates.
type authCache struct {
	mu   sync.Mutex
	last map[string]unlock
}

type unlock struct {
	at     time.Time
	window int64
}

func newAuthCache() *authCache {
	return &authCache{last: make(map[string]unlock)}
}

// valid reports whether an authentication for key is younger than both
// validitySeconds and the window it was recorded under. A window of -1 on
// either side never matches.
func (c *authCache) valid(key string, validitySeconds int64, now time.Time) bool {
	if validitySeconds <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.last[key]
	if !ok || u.window <= 0 {
		return false
	}
	age := now.Sub(u.at)
	return age >= 0 && age < time.Duration(min(validitySeconds, u.window))*time.Second
}

// record stores a success made while window was in force. Successes under
// -1 are kept out of the cache.
func (c *authCache) record(key string, at time.Time, window int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if window <= 0 {
		delete(c.last, key)
		return
	}
	c.last[key] = unlock{at: at, window: window}
}

func (c *authCache) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
}

func (c *authCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]unlock)
}
