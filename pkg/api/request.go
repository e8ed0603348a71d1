package api

import "time"

// RequestDescriptor is the ephemeral, per-request value object matching
// operates on. It is never persisted by the matching core; the traffic log
// consumes it as an opaque sink.
type RequestDescriptor struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	ResourceType ResourceType      `json:"resourceType,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         []byte            `json:"body,omitempty"`
	ClientID     string            `json:"clientId,omitempty"`
	ReceivedAt   time.Time         `json:"receivedAt"`
}

// ResponseDescriptor summarises what actually went back to the caller.
type ResponseDescriptor struct {
	StatusCode int               `json:"statusCode"`
	StatusText string            `json:"statusText,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	BodyBytes  int64             `json:"bodyBytes,omitempty"`
	Mocked     bool              `json:"mocked,omitempty"`
	DurationMS int64             `json:"durationMs,omitempty"`
}
