package cache

import (
	"sync"
	"time"
)

const (
	// DefaultTTL applies when Put is called without an override.
	DefaultTTL = 5 * time.Minute

	// RealtimeTTL is the short window used for the real-time metrics key.
	RealtimeTTL = 30 * time.Second

	// sweepThreshold bounds the store: once the entry count passes it, the
	// next Put drops every expired entry. Not an LRU.
	sweepThreshold = 1000
)

// Well-known key builders. Aggregation kind is part of the key, so campaign X
// and contact X can never collide.
const (
	KeyRealtimeMetrics = "realtime_metrics"
	KeyIntelligence    = "email_intelligence"
)

func CampaignKey(campaignID string) string { return "campaign_" + campaignID }
func ContactKey(contactID string) string   { return "contact_engagement_" + contactID }

type entry struct {
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

// Cache is a bounded, TTL-keyed memo table. The clock is injected so tests
// can control expiry; a nil clock uses time.Now.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates a cache reading time from now (time.Now when nil).
func New(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]entry),
		now:     now,
	}
}

// Get returns the cached value for key. An expired entry behaves exactly like
// a miss: it is removed and (nil, false) is returned. An optional maxAge
// overrides the entry's own TTL for this read.
func (c *Cache) Get(key string, maxAge ...time.Duration) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	ttl := e.ttl
	if len(maxAge) > 0 {
		ttl = maxAge[0]
	}
	if c.now().Sub(e.storedAt) > ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Put stores value under key with the given TTL (DefaultTTL when omitted).
func (c *Cache) Put(key string, value interface{}, ttl ...time.Duration) {
	d := DefaultTTL
	if len(ttl) > 0 {
		d = ttl[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{value: value, storedAt: c.now(), ttl: d}

	if len(c.entries) > sweepThreshold {
		now := c.now()
		for k, e := range c.entries {
			if now.Sub(e.storedAt) > e.ttl {
				delete(c.entries, k)
			}
		}
	}
}

// Invalidate drops the given keys. Missing keys are ignored.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// Len reports the current entry count, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
