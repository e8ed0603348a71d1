package logging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONFieldNames(t *testing.T) {
	event := &Event{
		Timestamp: time.Date(2026, 2, 23, 14, 30, 0, 123000000, time.UTC),
		SessionID: "session-9f8e7d6c",
		Adapter:   AdapterProxy,
		EventType: EventHTTPRequest,
		Summary:   "POST api.example.com/v1/users",
	}
	b, err := json.Marshal(event)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))

	assert.Contains(t, m, "ts")
	assert.Contains(t, m, "session_id")
	assert.Contains(t, m, "adapter")
	assert.Contains(t, m, "event_type")
	assert.Contains(t, m, "summary")
	// Omitempty fields absent
	assert.NotContains(t, m, "rule_id")
	assert.NotContains(t, m, "tags")
	assert.NotContains(t, m, "data")
}

func TestEvent_OmitemptyPresent(t *testing.T) {
	event := &Event{
		Timestamp: time.Now().UTC(),
		SessionID: "test",
		Adapter:   "test",
		EventType: EventRuleMatch,
		Summary:   "test",
		RuleID:    "rule-1",
		Tags:      []string{"mitm"},
		Data:      json.RawMessage(`{"effect":"block"}`),
	}
	b, err := json.Marshal(event)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))

	assert.Contains(t, m, "rule_id")
	assert.Contains(t, m, "tags")
	assert.Contains(t, m, "data")
}

func TestEvent_TimestampFormat(t *testing.T) {
	ts := time.Date(2026, 2, 23, 14, 30, 0, 123456789, time.UTC)
	event := &Event{Timestamp: ts, SessionID: "r", Adapter: "a", EventType: "t", Summary: "s"}

	b, err := json.Marshal(event)
	require.NoError(t, err)

	// Verify RFC 3339 with sub-second precision
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	tsStr := m["ts"].(string)
	parsed, err := time.Parse(time.RFC3339Nano, tsStr)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestHTTPRequestData_MatchedNotOmitted(t *testing.T) {
	data := &HTTPRequestData{
		Method:  "POST",
		Host:    "api.example.com",
		Path:    "/v1/users",
		Matched: false,
	}
	b, err := json.Marshal(data)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "matched", "matched field must be present even when false")
	assert.Equal(t, false, m["matched"])
}

func TestHTTPResponseData_MockedNotOmitted(t *testing.T) {
	data := &HTTPResponseData{
		Method:     "GET",
		Host:       "example.com",
		Path:       "/",
		StatusCode: 200,
		Mocked:     false,
	}
	b, err := json.Marshal(data)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "mocked")
	assert.Equal(t, false, m["mocked"])
}

func TestEventTypeConstants(t *testing.T) {
	assert.Equal(t, "http_request", EventHTTPRequest)
	assert.Equal(t, "http_response", EventHTTPResponse)
	assert.Equal(t, "rule_match", EventRuleMatch)
	assert.Equal(t, "mock_served", EventMockServed)
	assert.Equal(t, "rule_sync", EventRuleSync)
}
