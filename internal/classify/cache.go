package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// fingerprint is a stable hash of the normalized (lowercased, whitespace-
// collapsed) query.
func fingerprint(content string) string {
	normalized := whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(content)), " ")
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}

type cacheEntry struct {
	decision  gatewaytypes.RoutingDecision
	expiresAt time.Time
}

// DecisionCache is a bounded, TTL'd, exact-fingerprint cache of routing
// decisions. It is the decision-cache half of the donor semantic cache
// engine: an exact SHA-256 index with TTL and least-recently-used
// eviction, minus the
// embedding/cosine-similarity vector search, which has no role here since
// this cache keys on an exact query fingerprint rather than semantic
// similarity.
type DecisionCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*cacheEntry
	order      []string // least recently used first, for eviction
}

// NewDecisionCache builds a cache with the given TTL and capacity.
func NewDecisionCache(ttl time.Duration, maxEntries int) *DecisionCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &DecisionCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*cacheEntry),
	}
}

// Lookup returns the cached decision for content, if present and unexpired,
// and marks it as the most recently used entry.
func (c *DecisionCache) Lookup(content string) (gatewaytypes.RoutingDecision, bool) {
	key := fingerprint(content)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return gatewaytypes.RoutingDecision{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return gatewaytypes.RoutingDecision{}, false
	}
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
	d := entry.decision
	d.Cached = true
	return d, true
}

// Store caches a decision under content's fingerprint, evicting the least
// recently used entries while the cache is at capacity.
func (c *DecisionCache) Store(content string, decision gatewaytypes.RoutingDecision) {
	key := fingerprint(content)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}

	c.entries[key] = &cacheEntry{
		decision:  decision,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate removes any cached decision for content. Used when a breaker
// opens for the tier a cached decision points at, so a stale routing
// decision isn't served again once its tier's breaker has opened.
func (c *DecisionCache) Invalidate(content string) {
	key := fingerprint(content)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the current entry count, mainly for tests and health checks.
func (c *DecisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
