package permission

import (
	"sync"
	"sync/atomic"
	"time"
)

// DecisionCache is a TTL-based in-memory cache with stale-while-revalidate.
// Uses sync.Map for lock-free reads on the hot path; membership checks run on
// every deploy and automation edit.
type DecisionCache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	decision   *Decision
	expiresAt  time.Time
	refreshing atomic.Bool
}

// CacheGetResult holds the result of a cache lookup.
type CacheGetResult struct {
	Decision     *Decision
	Hit          bool
	NeedsRefresh bool
}

// NewDecisionCache creates a cache with the given TTL.
func NewDecisionCache(ttl time.Duration) *DecisionCache {
	return &DecisionCache{ttl: ttl}
}

func decisionKey(userID, targetID string) string {
	return userID + ":" + targetID
}

// Get performs a non-blocking cache lookup.
// Returns stale entries with NeedsRefresh=true when expired.
func (c *DecisionCache) Get(userID, targetID string) CacheGetResult {
	val, ok := c.store.Load(decisionKey(userID, targetID))
	if !ok {
		return CacheGetResult{Hit: false}
	}

	entry := val.(*cacheEntry)
	now := time.Now()

	if now.Before(entry.expiresAt) {
		return CacheGetResult{
			Decision: entry.decision,
			Hit:      true,
		}
	}

	// Stale hit — signal refresh needed (only one goroutine wins the CAS)
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return CacheGetResult{
		Decision:     entry.decision,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a decision with a fresh TTL.
func (c *DecisionCache) Set(userID, targetID string, d *Decision) {
	c.store.Store(decisionKey(userID, targetID), &cacheEntry{
		decision:  d,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *DecisionCache) Delete(userID, targetID string) {
	c.store.Delete(decisionKey(userID, targetID))
}
