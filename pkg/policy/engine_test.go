package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testRule(id string, priority int, createdOffset time.Duration, matcher api.MatcherSpec) api.Rule {
	return api.Rule{
		ID:        id,
		Name:      id,
		Enabled:   true,
		Priority:  priority,
		Matcher:   matcher,
		Action:    api.Action{Kind: api.ActionBlock},
		CreatedAt: testEpoch.Add(createdOffset),
		UpdatedAt: testEpoch.Add(createdOffset),
	}
}

func wildcardMatcher(pattern string) api.MatcherSpec {
	return api.MatcherSpec{Type: api.MatchWildcard, Pattern: pattern}
}

func getReq(url string) *api.RequestDescriptor {
	return &api.RequestDescriptor{URL: url, Method: "GET"}
}

func TestEngineMatchPatternSemantics(t *testing.T) {
	tests := []struct {
		name    string
		matcher api.MatcherSpec
		url     string
		want    bool
	}{
		{
			name:    "exact full equality",
			matcher: api.MatcherSpec{Type: api.MatchExact, Pattern: "https://api.example.com/users"},
			url:     "https://api.example.com/users",
			want:    true,
		},
		{
			name:    "exact is case sensitive",
			matcher: api.MatcherSpec{Type: api.MatchExact, Pattern: "https://api.example.com/users"},
			url:     "https://api.example.com/Users",
			want:    false,
		},
		{
			name:    "exact rejects substring",
			matcher: api.MatcherSpec{Type: api.MatchExact, Pattern: "https://api.example.com/users"},
			url:     "https://api.example.com/users/42",
			want:    false,
		},
		{
			name:    "exact with star degrades to wildcard",
			matcher: api.MatcherSpec{Type: api.MatchExact, Pattern: "https://api.example.com/*"},
			url:     "https://api.example.com/users",
			want:    true,
		},
		{
			name:    "wildcard matches path suffix",
			matcher: wildcardMatcher("https://api.example.com/*"),
			url:     "https://api.example.com/users",
			want:    true,
		},
		{
			name:    "wildcard matches empty remainder",
			matcher: wildcardMatcher("https://api.example.com/*"),
			url:     "https://api.example.com/",
			want:    true,
		},
		{
			name:    "wildcard does not cross host",
			matcher: wildcardMatcher("https://api.example.com/*"),
			url:     "https://api.example.org/users",
			want:    false,
		},
		{
			name:    "wildcard is anchored at both ends",
			matcher: wildcardMatcher("example.com/*"),
			url:     "https://api.example.com/users",
			want:    false,
		},
		{
			name:    "wildcard escapes regex metacharacters",
			matcher: wildcardMatcher("https://api.example.com/search?q=*"),
			url:     "https://api.example.com/search?q=go",
			want:    true,
		},
		{
			// An unescaped ? would make the preceding h optional.
			name:    "escaped question mark is literal",
			matcher: wildcardMatcher("https://api.example.com/search?q=*"),
			url:     "https://api.example.com/searcq=go",
			want:    false,
		},
		{
			name:    "regex is unanchored",
			matcher: api.MatcherSpec{Type: api.MatchRegex, Pattern: `/v[0-9]+/users`},
			url:     "https://api.example.com/v2/users?page=1",
			want:    true,
		},
		{
			name:    "regex non-match",
			matcher: api.MatcherSpec{Type: api.MatchRegex, Pattern: `/v[0-9]+/users`},
			url:     "https://api.example.com/vX/users",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(nil)
			e.Load(api.DefaultSettings(), []api.Rule{testRule("r1", 1, 0, tt.matcher)})

			got := e.Match(getReq(tt.url))
			if tt.want {
				require.NotNil(t, got)
				assert.Equal(t, "r1", got.ID)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestEngineMatchPriorityOrdering(t *testing.T) {
	low := testRule("low-priority-value", 1, time.Hour, wildcardMatcher("https://x.test/*"))
	high := testRule("high-priority-value", 50, 0, wildcardMatcher("https://x.test/*"))

	e := NewEngine(nil)
	// Insertion order must not matter.
	e.Load(api.DefaultSettings(), []api.Rule{high, low})

	got := e.Match(getReq("https://x.test/a"))
	require.NotNil(t, got)
	assert.Equal(t, "low-priority-value", got.ID)
}

func TestEngineMatchCreatedAtTiebreak(t *testing.T) {
	older := testRule("older", 10, 0, wildcardMatcher("https://x.test/*"))
	newer := testRule("newer", 10, time.Minute, wildcardMatcher("https://x.test/*"))

	e := NewEngine(nil)
	e.Load(api.DefaultSettings(), []api.Rule{newer, older})

	got := e.Match(getReq("https://x.test/a"))
	require.NotNil(t, got)
	assert.Equal(t, "older", got.ID)
}

func TestEngineMatchSkipsDisabledRules(t *testing.T) {
	disabled := testRule("disabled", 1, 0, wildcardMatcher("https://x.test/*"))
	disabled.Enabled = false
	enabled := testRule("enabled", 99, 0, wildcardMatcher("https://x.test/*"))

	e := NewEngine(nil)
	e.Load(api.DefaultSettings(), []api.Rule{disabled, enabled})

	got := e.Match(getReq("https://x.test/a"))
	require.NotNil(t, got)
	assert.Equal(t, "enabled", got.ID)
}

func TestEngineMatchGlobalDisable(t *testing.T) {
	e := NewEngine(nil)
	settings := api.DefaultSettings()
	settings.Enabled = false
	e.Load(settings, []api.Rule{testRule("r1", 1, 0, wildcardMatcher("https://x.test/*"))})

	assert.Nil(t, e.Match(getReq("https://x.test/a")))
}

func TestEngineMatchMethodAndResourceFilters(t *testing.T) {
	rule := testRule("filtered", 1, 0, wildcardMatcher("https://x.test/*"))
	rule.Matcher.Methods = []string{"post", "PUT"}
	rule.Matcher.ResourceTypes = []api.ResourceType{api.ResourceXHR}

	e := NewEngine(nil)
	e.Load(api.DefaultSettings(), []api.Rule{rule})

	match := &api.RequestDescriptor{URL: "https://x.test/a", Method: "POST", ResourceType: api.ResourceXHR}
	assert.NotNil(t, e.Match(match))

	wrongMethod := &api.RequestDescriptor{URL: "https://x.test/a", Method: "GET", ResourceType: api.ResourceXHR}
	assert.Nil(t, e.Match(wrongMethod))

	wrongResource := &api.RequestDescriptor{URL: "https://x.test/a", Method: "PUT", ResourceType: api.ResourceImage}
	assert.Nil(t, e.Match(wrongResource))
}

func TestEngineMatchURLOnlyRequestBypassesAttributeFilters(t *testing.T) {
	rule := testRule("filtered", 1, 0, wildcardMatcher("https://x.test/*"))
	rule.Matcher.Methods = []string{"POST"}
	rule.Matcher.ResourceTypes = []api.ResourceType{api.ResourceXHR}

	e := NewEngine(nil)
	e.Load(api.DefaultSettings(), []api.Rule{rule})

	// A mock check knows only the URL; attribute filters must not veto it.
	urlOnly := &api.RequestDescriptor{URL: "https://x.test/a"}
	assert.NotNil(t, e.Match(urlOnly))
}

func TestEngineMatchAbsentFiltersMatchAnything(t *testing.T) {
	e := NewEngine(nil)
	e.Load(api.DefaultSettings(), []api.Rule{testRule("open", 1, 0, wildcardMatcher("https://x.test/*"))})

	req := &api.RequestDescriptor{URL: "https://x.test/a", Method: "DELETE", ResourceType: api.ResourceMedia}
	assert.NotNil(t, e.Match(req))
}

func TestEngineLoadSkipsBrokenMatchers(t *testing.T) {
	broken := testRule("broken", 1, 0, api.MatcherSpec{Type: api.MatchRegex, Pattern: "("})
	ok := testRule("ok", 2, 0, wildcardMatcher("https://x.test/*"))

	e := NewEngine(nil)
	e.Load(api.DefaultSettings(), []api.Rule{broken, ok})

	require.Equal(t, 1, e.Current().Len())
	got := e.Match(getReq("https://x.test/a"))
	require.NotNil(t, got)
	assert.Equal(t, "ok", got.ID)
}

func TestEngineMatchNoRules(t *testing.T) {
	e := NewEngine(nil)
	e.Load(api.DefaultSettings(), nil)
	assert.Nil(t, e.Match(getReq("https://x.test/a")))
}

func TestResolve(t *testing.T) {
	req := getReq("https://x.test/a")

	tests := []struct {
		name   string
		action api.Action
		want   Effect
	}{
		{
			name: "modify headers",
			action: api.Action{
				Kind:      api.ActionModifyHeaders,
				HeaderOps: []api.FieldOp{{Operation: api.OpAdd, Name: "X-Test", Value: "1"}},
			},
			want: ModifyHeaders{Ops: []api.FieldOp{{Operation: api.OpAdd, Name: "X-Test", Value: "1"}}},
		},
		{
			name: "modify query",
			action: api.Action{
				Kind:     api.ActionModifyQuery,
				QueryOps: []api.FieldOp{{Operation: api.OpRemove, Name: "debug"}},
			},
			want: RewriteQuery{Ops: []api.FieldOp{{Operation: api.OpRemove, Name: "debug"}}},
		},
		{
			name:   "redirect",
			action: api.Action{Kind: api.ActionRedirect, RedirectURL: "https://staging.x.test/a"},
			want:   Redirect{URL: "https://staging.x.test/a"},
		},
		{
			name:   "block",
			action: api.Action{Kind: api.ActionBlock},
			want:   Block{},
		},
		{
			name:   "mock",
			action: api.Action{Kind: api.ActionMockResponse, Mock: &api.MockResponse{StatusCode: 404, Body: "{}"}},
			want:   Mock{Response: api.MockResponse{StatusCode: 404, Body: "{}"}},
		},
		{
			name:   "inject script",
			action: api.Action{Kind: api.ActionInjectScript, Script: &api.ScriptSpec{Code: "console.log(1)", Timing: api.TimingDocumentIdle}},
			want:   InjectScript{Code: "console.log(1)", Timing: api.TimingDocumentIdle},
		},
		{
			name:   "mock without payload resolves to nothing",
			action: api.Action{Kind: api.ActionMockResponse},
			want:   nil,
		},
		{
			name:   "redirect without target resolves to nothing",
			action: api.Action{Kind: api.ActionRedirect},
			want:   nil,
		},
		{
			name:   "header action without ops resolves to nothing",
			action: api.Action{Kind: api.ActionModifyHeaders},
			want:   nil,
		},
		{
			name:   "unknown kind resolves to nothing",
			action: api.Action{Kind: "teleport"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := testRule("r1", 1, 0, wildcardMatcher("https://x.test/*"))
			rule.Action = tt.action
			assert.Equal(t, tt.want, Resolve(&rule, req))
		})
	}
}

func TestResolveNilRule(t *testing.T) {
	assert.Nil(t, Resolve(nil, getReq("https://x.test/a")))
}

func TestEngineDecide(t *testing.T) {
	blocked := testRule("blocker", 1, 0, wildcardMatcher("https://x.test/*"))

	e := NewEngine(nil)
	e.Load(api.DefaultSettings(), []api.Rule{blocked})

	d := e.Decide(getReq("https://x.test/a"))
	require.True(t, d.Applied())
	assert.Equal(t, "blocker", d.Rule.ID)
	assert.Equal(t, Block{}, d.Effect)

	miss := e.Decide(getReq("https://y.test/a"))
	assert.False(t, miss.Applied())
	assert.Nil(t, miss.Rule)
}

func TestEngineDecideUnresolvableActionPassesThrough(t *testing.T) {
	bad := testRule("bad", 1, 0, wildcardMatcher("https://x.test/*"))
	bad.Action = api.Action{Kind: api.ActionMockResponse} // no payload

	e := NewEngine(nil)
	e.Load(api.DefaultSettings(), []api.Rule{bad})

	d := e.Decide(getReq("https://x.test/a"))
	assert.False(t, d.Applied())
	require.NotNil(t, d.Rule)
	assert.Equal(t, "bad", d.Rule.ID)
}
