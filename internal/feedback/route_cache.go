package feedback

import (
	"sync"
	"time"
)

const cleanupInterval = 5 * time.Minute

// Route records which model version served a request, so the conversation
// reported later can be attributed to the right side of an experiment.
type Route struct {
	RequestID    string
	ModelVersion string
	Intent       string
	Confidence   float64
}

// RouteCache keeps recent routing decisions in memory with a TTL.
type RouteCache struct {
	cache map[string]*cacheEntry
	mu    sync.RWMutex
	ttl   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	route     Route
	expiresAt time.Time
}

// NewRouteCache starts a background sweep that runs until Close.
func NewRouteCache(ttl time.Duration) *RouteCache {
	rc := &RouteCache{
		cache: make(map[string]*cacheEntry),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	go rc.cleanupLoop()
	return rc
}

func (rc *RouteCache) Set(route Route) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.cache[route.RequestID] = &cacheEntry{
		route:     route,
		expiresAt: time.Now().Add(rc.ttl),
	}
}

// Get returns the route if it exists and hasn't expired
func (rc *RouteCache) Get(requestID string) (Route, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	entry, exists := rc.cache[requestID]
	if !exists || time.Now().After(entry.expiresAt) {
		return Route{}, false
	}
	return entry.route, true
}

func (rc *RouteCache) Delete(requestID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	delete(rc.cache, requestID)
}

// Close stops the sweep. It is safe to call more than once.
func (rc *RouteCache) Close() {
	rc.stopOnce.Do(func() { close(rc.stop) })
}

func (rc *RouteCache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.stop:
			return
		}
	}
}

func (rc *RouteCache) cleanup() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := time.Now()
	for requestID, entry := range rc.cache {
		if now.After(entry.expiresAt) {
			delete(rc.cache, requestID)
		}
	}
}

func (rc *RouteCache) Size() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return len(rc.cache)
}
