package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// Source supplies the authoritative settings and rules for a snapshot load.
type Source interface {
	RuleSnapshot(ctx context.Context) (api.Settings, []api.Rule, error)
}

// Cache keeps the engine's snapshot in step with a Source. Consumers call
// Invalidate when the source changes and Ensure before deciding; only one
// refresh runs at a time.
type Cache struct {
	source Source
	engine *Engine
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	stale       bool
	refreshedAt time.Time
}

// NewCache returns a cache that is stale until the first Refresh.
func NewCache(source Source, engine *Engine, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		source: source,
		engine: engine,
		logger: logger.With("component", "rulecache"),
		now:    time.Now,
		stale:  true,
	}
}

// Refresh pulls from the source and swaps the engine snapshot. On failure
// the previous snapshot stays live and the cache remains stale.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Cache) refreshLocked(ctx context.Context) error {
	settings, rules, err := c.source.RuleSnapshot(ctx)
	if err != nil {
		return errx.Wrap(ErrLoadSnapshot, err)
	}
	c.engine.Load(settings, rules)
	c.stale = false
	c.refreshedAt = c.now()
	return nil
}

// Invalidate marks the cached snapshot stale. The next Ensure reloads it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
	c.logger.Debug("rule snapshot invalidated")
}

// Ensure refreshes only when the snapshot is stale.
func (c *Cache) Ensure(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stale {
		return nil
	}
	return c.refreshLocked(ctx)
}

// RefreshedAt returns the time of the last successful refresh.
func (c *Cache) RefreshedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshedAt
}

// Stale reports whether an Invalidate has not yet been followed by a
// successful refresh.
func (c *Cache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Decide brings the snapshot up to date and evaluates the request.
func (c *Cache) Decide(ctx context.Context, req *api.RequestDescriptor) (Decision, error) {
	if err := c.Ensure(ctx); err != nil {
		return Decision{}, err
	}
	return c.engine.Decide(req), nil
}
