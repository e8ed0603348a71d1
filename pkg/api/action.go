package api

import (
	"strings"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
)

// ActionKind discriminates the closed set of rule action variants.
type ActionKind string

const (
	ActionModifyHeaders ActionKind = "modifyHeaders"
	ActionRedirect      ActionKind = "redirect"
	ActionMockResponse  ActionKind = "mockResponse"
	ActionInjectScript  ActionKind = "injectScript"
	ActionModifyQuery   ActionKind = "modifyQuery"
	ActionBlock         ActionKind = "block"
)

// Action is the tagged variant carried by a rule. Kind selects the variant;
// only the fields belonging to that variant are populated.
type Action struct {
	Kind        ActionKind    `json:"type"`
	HeaderOps   []FieldOp     `json:"headerOps,omitempty"`
	QueryOps    []FieldOp     `json:"queryOps,omitempty"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
	Mock        *MockResponse `json:"mock,omitempty"`
	Script      *ScriptSpec   `json:"script,omitempty"`
}

// OpKind is one of the three header/query operations.
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpModify OpKind = "modify"
	OpRemove OpKind = "remove"
)

// FieldOp is a single add/modify/remove step against a named header or
// query parameter. Ops apply in rule order; a later op on the same name
// overrides an earlier one.
type FieldOp struct {
	Operation OpKind `json:"operation"`
	Name      string `json:"name"`
	Value     string `json:"value,omitempty"`
}

// MockResponse is a stored synthetic response payload.
type MockResponse struct {
	StatusCode int               `json:"statusCode"`
	StatusText string            `json:"statusText,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	DelayMS    int               `json:"delayMs,omitempty"`
}

// ScriptTiming selects when injected script code runs relative to document
// parsing.
type ScriptTiming string

const (
	TimingDocumentStart ScriptTiming = "documentStart"
	TimingDocumentEnd   ScriptTiming = "documentEnd"
	TimingDocumentIdle  ScriptTiming = "documentIdle"
)

// ScriptSpec carries injected script code and its timing. The code is never
// validated or executed by the core.
type ScriptSpec struct {
	Code   string       `json:"code"`
	Timing ScriptTiming `json:"timing,omitempty"`
}

// Validate checks the variant invariants for the action's kind.
func (a *Action) Validate() error {
	switch a.Kind {
	case ActionModifyHeaders:
		if len(a.HeaderOps) == 0 {
			return errx.With(ErrInvalidAction, ": modifyHeaders requires at least one header op")
		}
		return validateOps(a.HeaderOps, "header")
	case ActionModifyQuery:
		if len(a.QueryOps) == 0 {
			return errx.With(ErrInvalidAction, ": modifyQuery requires at least one query op")
		}
		return validateOps(a.QueryOps, "query")
	case ActionRedirect:
		if !isAbsoluteURL(a.RedirectURL) {
			return errx.With(ErrInvalidAction, ": redirect target %q is not an absolute URL", a.RedirectURL)
		}
	case ActionMockResponse:
		if a.Mock == nil {
			return errx.With(ErrInvalidAction, ": mockResponse requires a mock payload")
		}
		if a.Mock.StatusCode < 100 || a.Mock.StatusCode > 599 {
			return errx.With(ErrInvalidAction, ": mock statusCode %d out of range 100-599", a.Mock.StatusCode)
		}
		if a.Mock.DelayMS < 0 {
			return errx.With(ErrInvalidAction, ": mock delayMs must not be negative")
		}
	case ActionInjectScript:
		if a.Script == nil || strings.TrimSpace(a.Script.Code) == "" {
			return errx.With(ErrInvalidAction, ": injectScript requires script code")
		}
		switch a.Script.Timing {
		case "", TimingDocumentStart, TimingDocumentEnd, TimingDocumentIdle:
		default:
			return errx.With(ErrInvalidAction, ": unknown script timing %q", a.Script.Timing)
		}
	case ActionBlock:
		// No payload.
	default:
		return errx.With(ErrInvalidAction, ": unknown action type %q", a.Kind)
	}
	return nil
}

func validateOps(ops []FieldOp, what string) error {
	for i, op := range ops {
		if op.Name == "" {
			return errx.With(ErrInvalidAction, ": %s op %d has no name", what, i)
		}
		switch op.Operation {
		case OpAdd, OpModify, OpRemove:
		default:
			return errx.With(ErrInvalidAction, ": %s op %d has unknown operation %q", what, i, op.Operation)
		}
	}
	return nil
}
