package api

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/imerljak/flow-craft-sub001/internal/errx"
)

// DefaultPriority is applied when a rule omits its priority.
// Lower values take precedence over higher ones.
const DefaultPriority = 100

// WildcardToken is the single wildcard character recognised in exact and
// wildcard patterns.
const WildcardToken = "*"

// MatchType selects how a rule's pattern is evaluated against request URLs.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchWildcard MatchType = "wildcard"
	MatchRegex    MatchType = "regex"
)

// ResourceType classifies what an intercepted request is fetching.
type ResourceType string

const (
	ResourceDocument   ResourceType = "document"
	ResourceStylesheet ResourceType = "stylesheet"
	ResourceScript     ResourceType = "script"
	ResourceImage      ResourceType = "image"
	ResourceFont       ResourceType = "font"
	ResourceMedia      ResourceType = "media"
	ResourceXHR        ResourceType = "xhr"
	ResourceFetch      ResourceType = "fetch"
	ResourceWebSocket  ResourceType = "websocket"
	ResourceOther      ResourceType = "other"
)

// Rule is one user-authored intercept directive: a matcher over request
// URL/method/resource type plus exactly one action to apply.
type Rule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Enabled     bool        `json:"enabled"`
	Priority    int         `json:"priority,omitempty"`
	Matcher     MatcherSpec `json:"matcher"`
	Action      Action      `json:"action"`
	GroupID     string      `json:"groupId,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// MatcherSpec is the URL/method/resource-type predicate attached to a rule.
// Empty Methods or ResourceTypes means "match any".
type MatcherSpec struct {
	Type          MatchType      `json:"type"`
	Pattern       string         `json:"pattern"`
	Methods       []string       `json:"methods,omitempty"`
	ResourceTypes []ResourceType `json:"resourceTypes,omitempty"`
}

// RuleGroup is a label-only organizational entity. Group membership never
// influences matching.
type RuleGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewRuleID returns a fresh opaque rule identifier.
func NewRuleID() string {
	return uuid.New().String()
}

// Normalize fills derived defaults in place: id, priority, timestamps,
// uppercased methods, script timing. Safe to call repeatedly.
func (r *Rule) Normalize(now time.Time) {
	if r.ID == "" {
		r.ID = NewRuleID()
	}
	if r.Priority <= 0 {
		r.Priority = DefaultPriority
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	for i, m := range r.Matcher.Methods {
		r.Matcher.Methods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	if r.Action.Kind == ActionInjectScript && r.Action.Script != nil && r.Action.Script.Timing == "" {
		r.Action.Script.Timing = TimingDocumentIdle
	}
}

// Validate checks the rule's structural invariants. Matching skips invalid
// rules at decision time; this is the save-time gate that should keep them
// out of the store in the first place.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errx.With(ErrInvalidRule, ": name must not be empty")
	}
	if err := r.Matcher.Validate(); err != nil {
		return err
	}
	return r.Action.Validate()
}

// Validate checks pattern invariants for the matcher type:
// regex patterns must compile, exact patterns must be absolute URLs unless
// they carry a wildcard token.
func (m *MatcherSpec) Validate() error {
	if m.Pattern == "" {
		return errx.With(ErrInvalidPattern, ": pattern must not be empty")
	}
	switch m.Type {
	case MatchExact:
		if strings.Contains(m.Pattern, WildcardToken) {
			return nil
		}
		if !isAbsoluteURL(m.Pattern) {
			return errx.With(ErrInvalidPattern, ": exact pattern %q is not an absolute URL", m.Pattern)
		}
	case MatchWildcard:
		// Any string compiles once metacharacters are escaped.
	case MatchRegex:
		if _, err := regexp.Compile(m.Pattern); err != nil {
			return errx.With(ErrInvalidPattern, ": regex %q: %v", m.Pattern, err)
		}
	default:
		return errx.With(ErrInvalidPattern, ": unknown matcher type %q", m.Type)
	}
	return nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
