package policy

import (
	"net/http"
	"net/url"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// Effect is the concrete mutation computed for a matched rule. The six
// variants form a closed set; adapters switch over them exhaustively.
type Effect interface {
	isEffect()
}

// ModifyHeaders applies ordered header operations to the outgoing request.
type ModifyHeaders struct {
	Ops []api.FieldOp
}

// RewriteQuery applies ordered operations to the URL's query parameters.
type RewriteQuery struct {
	Ops []api.FieldOp
}

// Redirect sends the request to a different, pre-validated absolute URL.
type Redirect struct {
	URL string
}

// Block aborts the request before it is sent.
type Block struct{}

// Mock answers the request with a stored synthetic response. DelayMS is
// honored by whichever adapter applies the effect.
type Mock struct {
	Response api.MockResponse
}

// InjectScript inserts script code into an HTML response. The code is
// carried verbatim.
type InjectScript struct {
	Code   string
	Timing api.ScriptTiming
}

func (ModifyHeaders) isEffect() {}
func (RewriteQuery) isEffect()  {}
func (Redirect) isEffect()      {}
func (Block) isEffect()         {}
func (Mock) isEffect()          {}
func (InjectScript) isEffect()  {}

// Name returns the effect's short name for logs and events.
func Name(e Effect) string {
	switch e.(type) {
	case ModifyHeaders:
		return "modify_headers"
	case RewriteQuery:
		return "rewrite_query"
	case Redirect:
		return "redirect"
	case Block:
		return "block"
	case Mock:
		return "mock"
	case InjectScript:
		return "inject_script"
	default:
		return "none"
	}
}

// ApplyHeaderOps applies ops to h in order. Add appends when the header is
// absent and otherwise overwrites; modify overwrites when present and
// otherwise adds; remove deletes when present and is a no-op otherwise.
// Both add and modify therefore land on "set"; the last op on a name wins.
func ApplyHeaderOps(h http.Header, ops []api.FieldOp) {
	for _, op := range ops {
		switch op.Operation {
		case api.OpAdd:
			h.Set(op.Name, op.Value)
		case api.OpModify:
			h.Set(op.Name, op.Value)
		case api.OpRemove:
			h.Del(op.Name)
		}
	}
}

// ApplyQueryOps applies ops to u's query string in place, with the same
// add/modify/remove semantics as headers. An absent value on add/modify
// means empty string.
func ApplyQueryOps(u *url.URL, ops []api.FieldOp) {
	q := u.Query()
	for _, op := range ops {
		switch op.Operation {
		case api.OpAdd:
			q.Set(op.Name, op.Value)
		case api.OpModify:
			q.Set(op.Name, op.Value)
		case api.OpRemove:
			q.Del(op.Name)
		}
	}
	u.RawQuery = q.Encode()
}
