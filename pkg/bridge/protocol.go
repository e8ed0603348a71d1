package bridge

import (
	"encoding/json"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// Message type constants. The FLOWCRAFT_* strings are the page-facing
// contract and must not change; the remaining types form the privileged
// channel between SDK clients and the engine.
const (
	TypeCheckMock    = "FLOWCRAFT_CHECK_MOCK"
	TypeMockResponse = "FLOWCRAFT_MOCK_RESPONSE"
	TypeBridgeReady  = "FLOWCRAFT_BRIDGE_READY"

	TypeFindMockRule  = "FIND_MOCK_RULE"
	TypeGetMockRules  = "GET_MOCK_RULES"
	TypeSyncMockRules = "SYNC_MOCK_RULES"
	TypeLogRequest    = "LOG_REQUEST"
	TypeLogResponse   = "LOG_RESPONSE"
)

// WireMock is the mock payload as it travels over the bridge. It differs
// from api.MockResponse in exactly one way: the delay field is named
// "delay" on the wire but "delayMs" in stored rules.
type WireMock struct {
	StatusCode int               `json:"statusCode"`
	StatusText string            `json:"statusText,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Delay      int               `json:"delay,omitempty"`
}

// WireMockFromAPI converts a stored mock payload to its wire form.
func WireMockFromAPI(m api.MockResponse) *WireMock {
	return &WireMock{
		StatusCode: m.StatusCode,
		StatusText: m.StatusText,
		Headers:    m.Headers,
		Body:       m.Body,
		Delay:      m.DelayMS,
	}
}

// ToAPI converts a wire mock back to the stored form.
func (w *WireMock) ToAPI() api.MockResponse {
	return api.MockResponse{
		StatusCode: w.StatusCode,
		StatusText: w.StatusText,
		Headers:    w.Headers,
		Body:       w.Body,
		DelayMS:    w.Delay,
	}
}

// CheckMock asks whether a mock applies to a URL. The asking side knows
// only the URL; method and resource filters do not apply to the answer.
type CheckMock struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	URL       string `json:"url"`
}

// MockDecision answers a CheckMock. Mock is explicit null when no rule
// applies; RuleID is present only alongside a mock.
type MockDecision struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId"`
	Mock      *WireMock `json:"mockResponse"`
	RuleID    string    `json:"ruleId,omitempty"`
}

// BridgeReady announces a live bridge endpoint.
type BridgeReady struct {
	Type string `json:"type"`
}

// FindMockRule is the privileged form of CheckMock; the reply echoes the
// type with Success set.
type FindMockRule struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	URL       string `json:"url"`
}

// FindMockRuleResult answers a FindMockRule.
type FindMockRuleResult struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId"`
	Success   bool      `json:"success"`
	Mock      *WireMock `json:"mockResponse,omitempty"`
	RuleID    string    `json:"ruleId,omitempty"`
}

// GetMockRules requests the full rule list.
type GetMockRules struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// GetMockRulesResult answers a GetMockRules.
type GetMockRulesResult struct {
	Type      string     `json:"type"`
	RequestID string     `json:"requestId"`
	Success   bool       `json:"success"`
	Rules     []api.Rule `json:"rules"`
}

// SyncMockRules tells clients their cached rules are stale.
type SyncMockRules struct {
	Type  string `json:"type"`
	Count int    `json:"count,omitempty"`
}

// LogEntry is a traffic observation reported by a client. Fire-and-forget;
// the engine never replies.
type LogEntry struct {
	URL        string            `json:"url"`
	Method     string            `json:"method,omitempty"`
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Mocked     bool              `json:"mocked,omitempty"`
	RuleID     string            `json:"ruleId,omitempty"`
	DurationMS int64             `json:"durationMs,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
}

// LogMessage wraps a LogEntry with its direction type.
type LogMessage struct {
	Type  string    `json:"type"`
	Entry *LogEntry `json:"entry"`
}

// probe extracts just the type field for dispatch.
type probe struct {
	Type string `json:"type"`
}

func messageType(line []byte) (string, error) {
	var p probe
	if err := json.Unmarshal(line, &p); err != nil {
		return "", err
	}
	return p.Type, nil
}
