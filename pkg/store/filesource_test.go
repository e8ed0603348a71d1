package store

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileSourceBareArray(t *testing.T) {
	path := writeRulesFile(t, `[
		{"name":"block","enabled":true,"matcher":{"type":"wildcard","pattern":"https://x.test/*"},"action":{"type":"block"}}
	]`)

	src := NewFileSource(path, testLogger())
	settings, rules, err := src.RuleSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, settings.Enabled)
	require.Len(t, rules, 1)
	assert.Equal(t, "block", rules[0].Name)
	assert.NotEmpty(t, rules[0].ID)
	assert.Equal(t, api.DefaultPriority, rules[0].Priority)
}

func TestFileSourceEnvelope(t *testing.T) {
	path := writeRulesFile(t, `{
		"version": 1,
		"rules": [
			{"name":"mock","enabled":true,"matcher":{"type":"exact","pattern":"https://x.test/a"},"action":{"type":"mockResponse","mockResponse":{"statusCode":200,"body":"ok"}}}
		]
	}`)

	src := NewFileSource(path, testLogger())
	_, rules, err := src.RuleSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, api.ActionMockResponse, rules[0].Action.Kind)
}

func TestFileSourceSkipsInvalidRules(t *testing.T) {
	path := writeRulesFile(t, `[
		{"name":"good","enabled":true,"matcher":{"type":"wildcard","pattern":"https://x.test/*"},"action":{"type":"block"}},
		{"name":"bad","enabled":true,"matcher":{"type":"regex","pattern":"("},"action":{"type":"block"}}
	]`)

	src := NewFileSource(path, testLogger())
	_, rules, err := src.RuleSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "good", rules[0].Name)
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	_, _, err := src.RuleSnapshot(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadRules)
}

func TestFileSourceMalformedJSON(t *testing.T) {
	path := writeRulesFile(t, `{not json`)
	src := NewFileSource(path, testLogger())
	_, _, err := src.RuleSnapshot(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadRules)
}

func TestFileSourceWatch(t *testing.T) {
	path := writeRulesFile(t, `[]`)
	src := NewFileSource(path, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	require.NoError(t, src.Watch(ctx, func() { fired.Add(1) }))

	require.NoError(t, os.WriteFile(path, []byte(`[
		{"name":"added","enabled":true,"matcher":{"type":"wildcard","pattern":"https://x.test/*"},"action":{"type":"block"}}
	]`), 0o644))

	require.Eventually(t, func() bool { return fired.Load() > 0 },
		2*time.Second, 20*time.Millisecond)
}
