package logging

import (
	"encoding/json"
	"time"
)

// Event is one line of the structured traffic log.
// Required fields: Timestamp, SessionID, Adapter, EventType, Summary.
// Optional fields use omitempty tags.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	SessionID string          `json:"session_id"`
	Adapter   string          `json:"adapter"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	RuleID    string          `json:"rule_id,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event type constants.
const (
	EventHTTPRequest  = "http_request"
	EventHTTPResponse = "http_response"
	EventRuleMatch    = "rule_match"
	EventMockServed   = "mock_served"
	EventRuleSync     = "rule_sync"
)

// Adapter names stamped onto events.
const (
	AdapterProxy  = "proxy"
	AdapterCDP    = "cdp"
	AdapterBridge = "bridge"
	AdapterSDK    = "sdk"
)

// HTTPRequestData is the data payload for http_request events.
type HTTPRequestData struct {
	Method       string `json:"method"`
	Host         string `json:"host"`
	Path         string `json:"path"`
	ResourceType string `json:"resource_type,omitempty"`
	Matched      bool   `json:"matched"`
	Effect       string `json:"effect,omitempty"`
}

// HTTPResponseData is the data payload for http_response events.
type HTTPResponseData struct {
	Method     string `json:"method"`
	Host       string `json:"host"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	DurationMS int64  `json:"duration_ms"`
	BodyBytes  int64  `json:"body_bytes"`
	Mocked     bool   `json:"mocked"`
}

// RuleMatchData is the data payload for rule_match events.
type RuleMatchData struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Effect   string `json:"effect"`
	Pattern  string `json:"pattern,omitempty"`
}

// MockServedData is the data payload for mock_served events.
type MockServedData struct {
	RuleID     string `json:"rule_id"`
	StatusCode int    `json:"status_code"`
	DelayMS    int    `json:"delay_ms,omitempty"`
}

// RuleSyncData is the data payload for rule_sync events.
type RuleSyncData struct {
	Change string `json:"change"`
	Count  int    `json:"count"`
}
