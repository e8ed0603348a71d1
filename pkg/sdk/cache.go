package sdk

import (
	"context"
	"sync"
	"time"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// DefaultCacheTTL bounds how long a rule list is served without re-fetching
// even when no sync push arrived.
const DefaultCacheTTL = 30 * time.Second

// RuleCache keeps a local copy of the engine's rule list. The engine pushes
// SYNC_MOCK_RULES when rules change; the cache invalidates on that push and
// additionally expires by TTL as a backstop, so staleness is bounded even
// if a push is missed.
type RuleCache struct {
	client *Client
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	rules     []api.Rule
	fetchedAt time.Time
	valid     bool
}

// NewRuleCache builds a cache bound to client and subscribes it to sync
// pushes. ttl <= 0 uses DefaultCacheTTL.
func NewRuleCache(client *Client, ttl time.Duration) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &RuleCache{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
	client.OnSync(c.Invalidate)
	return c
}

// Rules returns the cached rule list, refreshing it first when the cache is
// invalid or expired.
func (c *RuleCache) Rules(ctx context.Context) ([]api.Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.rules, nil
	}
	return c.refreshLocked(ctx)
}

// Refresh forces a fetch from the engine regardless of cache state.
func (c *RuleCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.refreshLocked(ctx)
	return err
}

func (c *RuleCache) refreshLocked(ctx context.Context) ([]api.Rule, error) {
	rules, err := c.client.GetMockRules(ctx)
	if err != nil {
		// Serve the stale copy when one exists; an unreachable engine must
		// not make a previously working client error out.
		if c.rules != nil {
			return c.rules, nil
		}
		return nil, err
	}
	c.rules = rules
	c.fetchedAt = c.now()
	c.valid = true
	return c.rules, nil
}

// Invalidate marks the cache stale. The next Rules call re-fetches.
func (c *RuleCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Stale reports whether the next Rules call would re-fetch.
func (c *RuleCache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.valid || c.now().Sub(c.fetchedAt) >= c.ttl
}
