package hwaccel

import (
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a probe result is trusted.
const DefaultCacheTTL = time.Hour

// Cache holds the last probe results. Entries are replaced wholesale; a
// reader racing a refresh sees either the old or the new list, never a mix.
type Cache struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time

	encoders   []string
	encodersAt time.Time
	methods    []string
	methodsAt  time.Time
	hasEnc     bool
	hasMethods bool
}

// NewCache returns a cache; ttl <= 0 uses DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, now: time.Now}
}

func (c *Cache) fresh(at time.Time) bool {
	return c.now().Sub(at) < c.ttl
}

// Encoders returns the cached encoder list while it is fresh.
func (c *Cache) Encoders() ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasEnc || !c.fresh(c.encodersAt) {
		return nil, false
	}
	return append([]string(nil), c.encoders...), true
}

func (c *Cache) StoreEncoders(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoders = append([]string(nil), ids...)
	c.encodersAt = c.now()
	c.hasEnc = true
}

// Methods returns the cached acceleration methods while fresh.
func (c *Cache) Methods() ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasMethods || !c.fresh(c.methodsAt) {
		return nil, false
	}
	return append([]string(nil), c.methods...), true
}

func (c *Cache) StoreMethods(methods []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods = append([]string(nil), methods...)
	c.methodsAt = c.now()
	c.hasMethods = true
}

// Invalidate forgets everything.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoders, c.methods = nil, nil
	c.hasEnc, c.hasMethods = false, false
}
