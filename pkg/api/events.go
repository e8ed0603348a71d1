package api

// Event is a loosely typed envelope for the live event feed. Exactly one of
// the payload pointers is set, per Type.
type Event struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Intercept *InterceptEvent `json:"intercept,omitempty"`
	Rules     *RulesEvent     `json:"rules,omitempty"`
}

const (
	EventTypeIntercept = "intercept"
	EventTypeRules     = "rules"
)

// InterceptEvent reports one decided request.
type InterceptEvent struct {
	Adapter    string `json:"adapter"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	Host       string `json:"host,omitempty"`
	RuleID     string `json:"rule_id,omitempty"`
	RuleName   string `json:"rule_name,omitempty"`
	Effect     string `json:"effect,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Blocked    bool   `json:"blocked,omitempty"`
	Mocked     bool   `json:"mocked,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// RulesEvent reports a rule-set mutation (create/update/delete/toggle).
type RulesEvent struct {
	Change string `json:"change"`
	RuleID string `json:"rule_id,omitempty"`
	Count  int    `json:"count"`
}
