package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

type stubSource struct {
	settings api.Settings
	rules    []api.Rule
	err      error
	calls    int
}

func (s *stubSource) RuleSnapshot(context.Context) (api.Settings, []api.Rule, error) {
	s.calls++
	if s.err != nil {
		return api.Settings{}, nil, s.err
	}
	return s.settings, s.rules, nil
}

func TestCacheRefresh(t *testing.T) {
	src := &stubSource{
		settings: api.DefaultSettings(),
		rules:    []api.Rule{testRule("r1", 1, 0, wildcardMatcher("https://x.test/*"))},
	}
	engine := NewEngine(nil)
	cache := NewCache(src, engine, nil)
	cache.now = func() time.Time { return testEpoch }

	require.True(t, cache.Stale())
	require.NoError(t, cache.Refresh(context.Background()))

	assert.False(t, cache.Stale())
	assert.Equal(t, testEpoch, cache.RefreshedAt())
	assert.NotNil(t, engine.Match(getReq("https://x.test/a")))
}

func TestCacheEnsureRefreshesOnlyWhenStale(t *testing.T) {
	src := &stubSource{settings: api.DefaultSettings()}
	cache := NewCache(src, NewEngine(nil), nil)

	require.NoError(t, cache.Ensure(context.Background()))
	require.NoError(t, cache.Ensure(context.Background()))
	assert.Equal(t, 1, src.calls)

	cache.Invalidate()
	require.NoError(t, cache.Ensure(context.Background()))
	assert.Equal(t, 2, src.calls)
}

func TestCacheRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	src := &stubSource{
		settings: api.DefaultSettings(),
		rules:    []api.Rule{testRule("r1", 1, 0, wildcardMatcher("https://x.test/*"))},
	}
	engine := NewEngine(nil)
	cache := NewCache(src, engine, nil)
	require.NoError(t, cache.Refresh(context.Background()))

	src.err = errors.New("db gone")
	cache.Invalidate()

	err := cache.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadSnapshot)

	// Old snapshot still answers; cache stays stale for the next attempt.
	assert.NotNil(t, engine.Match(getReq("https://x.test/a")))
	assert.True(t, cache.Stale())
}

func TestCacheDecide(t *testing.T) {
	src := &stubSource{
		settings: api.DefaultSettings(),
		rules:    []api.Rule{testRule("blocker", 1, 0, wildcardMatcher("https://x.test/*"))},
	}
	cache := NewCache(src, NewEngine(nil), nil)

	d, err := cache.Decide(context.Background(), getReq("https://x.test/a"))
	require.NoError(t, err)
	require.True(t, d.Applied())
	assert.Equal(t, Block{}, d.Effect)
	assert.Equal(t, 1, src.calls)
}
