package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleNormalize_Defaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := Rule{
		Name:    "strip tracking header",
		Matcher: MatcherSpec{Type: MatchWildcard, Pattern: "https://*", Methods: []string{"get", " post "}},
		Action:  Action{Kind: ActionModifyHeaders, HeaderOps: []FieldOp{{Operation: OpRemove, Name: "X-Track"}}},
	}
	r.Normalize(now)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, DefaultPriority, r.Priority)
	assert.Equal(t, now, r.CreatedAt)
	assert.Equal(t, now, r.UpdatedAt)
	assert.Equal(t, []string{"GET", "POST"}, r.Matcher.Methods)
}

func TestRuleNormalize_KeepsExplicitValues(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.Add(48 * time.Hour)
	r := Rule{
		ID:        "rule-1",
		Name:      "n",
		Priority:  3,
		CreatedAt: created,
		Matcher:   MatcherSpec{Type: MatchRegex, Pattern: `^https://api\.`},
		Action:    Action{Kind: ActionBlock},
	}
	r.Normalize(now)

	assert.Equal(t, "rule-1", r.ID)
	assert.Equal(t, 3, r.Priority)
	assert.Equal(t, created, r.CreatedAt)
	assert.Equal(t, now, r.UpdatedAt)
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr error
	}{
		{
			name: "valid exact",
			rule: Rule{
				Name:    "ok",
				Matcher: MatcherSpec{Type: MatchExact, Pattern: "https://m.test/data"},
				Action:  Action{Kind: ActionBlock},
			},
		},
		{
			name: "exact with wildcard token skips url validation",
			rule: Rule{
				Name:    "ok",
				Matcher: MatcherSpec{Type: MatchExact, Pattern: "https://m.test/*"},
				Action:  Action{Kind: ActionBlock},
			},
		},
		{
			name: "empty name",
			rule: Rule{
				Matcher: MatcherSpec{Type: MatchExact, Pattern: "https://m.test/data"},
				Action:  Action{Kind: ActionBlock},
			},
			wantErr: ErrInvalidRule,
		},
		{
			name: "exact not absolute",
			rule: Rule{
				Name:    "bad",
				Matcher: MatcherSpec{Type: MatchExact, Pattern: "not a url"},
				Action:  Action{Kind: ActionBlock},
			},
			wantErr: ErrInvalidPattern,
		},
		{
			name: "regex does not compile",
			rule: Rule{
				Name:    "bad",
				Matcher: MatcherSpec{Type: MatchRegex, Pattern: "("},
				Action:  Action{Kind: ActionBlock},
			},
			wantErr: ErrInvalidPattern,
		},
		{
			name: "unknown matcher type",
			rule: Rule{
				Name:    "bad",
				Matcher: MatcherSpec{Type: "glob", Pattern: "x"},
				Action:  Action{Kind: ActionBlock},
			},
			wantErr: ErrInvalidPattern,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRuleJSONRoundTrip(t *testing.T) {
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	r := Rule{
		ID:       "abc",
		Name:     "mock users",
		Enabled:  true,
		Priority: 5,
		Matcher: MatcherSpec{
			Type:          MatchExact,
			Pattern:       "https://m.test/data",
			Methods:       []string{"GET"},
			ResourceTypes: []ResourceType{ResourceFetch, ResourceXHR},
		},
		Action: Action{
			Kind: ActionMockResponse,
			Mock: &MockResponse{StatusCode: 404, Body: "{}", DelayMS: 250},
		},
		GroupID:   "g1",
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var got Rule
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, r, got)
}

func TestMockResponseJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(MockResponse{StatusCode: 200, DelayMS: 100})
	require.NoError(t, err)
	assert.JSONEq(t, `{"statusCode":200,"delayMs":100}`, string(data))
}
