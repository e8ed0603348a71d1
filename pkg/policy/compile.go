package policy

import (
	"regexp"
	"strings"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// compiledRule is one rule with its matcher lowered to either a literal
// comparison or a compiled regular expression.
type compiledRule struct {
	rule api.Rule

	// literal is set for exact patterns without a wildcard token;
	// re covers everything else.
	literal string
	re      *regexp.Regexp

	methods       map[string]struct{}
	resourceTypes map[api.ResourceType]struct{}
}

// compileRule lowers a rule's matcher. Exact patterns containing a wildcard
// token degrade to wildcard semantics.
func compileRule(r api.Rule) (compiledRule, error) {
	cr := compiledRule{rule: r}

	switch r.Matcher.Type {
	case api.MatchExact:
		if strings.Contains(r.Matcher.Pattern, api.WildcardToken) {
			re, err := compileWildcard(r.Matcher.Pattern)
			if err != nil {
				return compiledRule{}, err
			}
			cr.re = re
		} else {
			cr.literal = r.Matcher.Pattern
		}
	case api.MatchWildcard:
		re, err := compileWildcard(r.Matcher.Pattern)
		if err != nil {
			return compiledRule{}, err
		}
		cr.re = re
	case api.MatchRegex:
		re, err := regexp.Compile(r.Matcher.Pattern)
		if err != nil {
			return compiledRule{}, err
		}
		cr.re = re
	default:
		return compiledRule{}, api.ErrInvalidPattern
	}

	if len(r.Matcher.Methods) > 0 {
		cr.methods = make(map[string]struct{}, len(r.Matcher.Methods))
		for _, m := range r.Matcher.Methods {
			m = strings.ToUpper(strings.TrimSpace(m))
			if m != "" {
				cr.methods[m] = struct{}{}
			}
		}
	}
	if len(r.Matcher.ResourceTypes) > 0 {
		cr.resourceTypes = make(map[api.ResourceType]struct{}, len(r.Matcher.ResourceTypes))
		for _, rt := range r.Matcher.ResourceTypes {
			cr.resourceTypes[rt] = struct{}{}
		}
	}

	return cr, nil
}

// compileWildcard escapes every regex metacharacter except the wildcard
// token, substitutes it with ".*" and anchors the expression at both ends.
func compileWildcard(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	expr := "^" + strings.ReplaceAll(quoted, `\*`, ".*") + "$"
	return regexp.Compile(expr)
}

// matches reports whether the compiled matcher and its method/resource-type
// constraints accept the request. Absent constraints match anything.
func (c *compiledRule) matches(req *api.RequestDescriptor) bool {
	// Attribute filters only apply when the request carries the attribute.
	// A bridge mock check knows the URL alone, so method and resource type
	// arrive empty there.
	if len(c.methods) > 0 && req.Method != "" {
		if _, ok := c.methods[strings.ToUpper(req.Method)]; !ok {
			return false
		}
	}
	if len(c.resourceTypes) > 0 && req.ResourceType != "" {
		if _, ok := c.resourceTypes[req.ResourceType]; !ok {
			return false
		}
	}
	if c.re != nil {
		// Regex rules match unanchored; wildcard and degraded exact rules
		// carry their own anchors from compileWildcard.
		return c.re.MatchString(req.URL)
	}
	return c.literal == req.URL
}
