package policy

import (
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// Engine evaluates intercepted requests against an immutable rule snapshot.
// Load swaps the snapshot atomically; Match and Decide always read exactly
// one snapshot, so a decision never mixes two rule-set generations.
type Engine struct {
	logger *slog.Logger
	snap   atomic.Pointer[Snapshot]
}

// Snapshot is one compiled generation of settings plus rules, ordered by
// ascending priority with createdAt as the tiebreak.
type Snapshot struct {
	settings api.Settings
	rules    []compiledRule
	loadedAt time.Time
}

// Decision is the outcome for one request. A nil Effect means passthrough.
type Decision struct {
	Rule   *api.Rule
	Effect Effect
}

// Applied reports whether the decision carries an effect.
func (d Decision) Applied() bool { return d.Effect != nil }

// NewEngine returns an engine with an empty, enabled snapshot.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger.With("component", "policy")}
	e.snap.Store(&Snapshot{settings: api.DefaultSettings(), loadedAt: time.Now()})
	return e
}

// Load compiles rules into a fresh snapshot and swaps it in. Disabled rules
// and rules whose matcher fails to compile are left out; a broken rule must
// never take the whole rule set down with it.
func (e *Engine) Load(settings api.Settings, rules []api.Rule) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		cr, err := compileRule(r)
		if err != nil {
			e.logger.Warn("rule skipped: matcher failed to compile",
				"rule_id", r.ID, "rule_name", r.Name, "error", err)
			continue
		}
		compiled = append(compiled, cr)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		a, b := compiled[i].rule, compiled[j].rule
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	e.snap.Store(&Snapshot{
		settings: settings,
		rules:    compiled,
		loadedAt: time.Now(),
	})
	e.logger.Debug("rule snapshot loaded", "rules", len(compiled), "enabled", settings.Enabled)
}

// Current returns the live snapshot.
func (e *Engine) Current() *Snapshot { return e.snap.Load() }

// Settings returns the settings of the live snapshot.
func (e *Engine) Settings() api.Settings { return e.snap.Load().settings }

// Match evaluates against the live snapshot.
func (e *Engine) Match(req *api.RequestDescriptor) *api.Rule {
	return e.snap.Load().Match(req)
}

// Decide matches against one snapshot and resolves the winner into an
// effect. An unresolvable action degrades to passthrough.
func (e *Engine) Decide(req *api.RequestDescriptor) Decision {
	snap := e.snap.Load()
	rule := snap.Match(req)
	if rule == nil {
		return Decision{}
	}
	eff := Resolve(rule, req)
	if eff == nil {
		e.logger.Warn("rule skipped: action did not resolve",
			"rule_id", rule.ID, "rule_name", rule.Name, "action", rule.Action.Kind)
		return Decision{Rule: rule}
	}
	return Decision{Rule: rule, Effect: eff}
}

// Match returns the single applicable rule: the matching candidate with the
// lowest priority value, ties broken by earliest createdAt. Returns nil when
// no rule matches or the global enable toggle is off. Deterministic for a
// given snapshot and request; no side effects.
func (s *Snapshot) Match(req *api.RequestDescriptor) *api.Rule {
	if !s.settings.Enabled {
		return nil
	}
	for i := range s.rules {
		if s.rules[i].matches(req) {
			rule := s.rules[i].rule
			return &rule
		}
	}
	return nil
}

// Settings returns the snapshot's settings.
func (s *Snapshot) Settings() api.Settings { return s.settings }

// Len returns the number of compiled rules.
func (s *Snapshot) Len() int { return len(s.rules) }

// LoadedAt returns when the snapshot was compiled.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Resolve turns a matched rule into its effect. A structurally invalid rule
// resolves to nil so the request passes through unmodified; the request
// descriptor is accepted for interface symmetry but effects are computed
// from the rule alone.
func Resolve(rule *api.Rule, _ *api.RequestDescriptor) Effect {
	if rule == nil {
		return nil
	}
	switch rule.Action.Kind {
	case api.ActionModifyHeaders:
		if len(rule.Action.HeaderOps) == 0 {
			return nil
		}
		return ModifyHeaders{Ops: rule.Action.HeaderOps}
	case api.ActionModifyQuery:
		if len(rule.Action.QueryOps) == 0 {
			return nil
		}
		return RewriteQuery{Ops: rule.Action.QueryOps}
	case api.ActionRedirect:
		if rule.Action.RedirectURL == "" {
			return nil
		}
		return Redirect{URL: rule.Action.RedirectURL}
	case api.ActionMockResponse:
		if rule.Action.Mock == nil {
			return nil
		}
		return Mock{Response: *rule.Action.Mock}
	case api.ActionInjectScript:
		if rule.Action.Script == nil || rule.Action.Script.Code == "" {
			return nil
		}
		return InjectScript{Code: rule.Action.Script.Code, Timing: rule.Action.Script.Timing}
	case api.ActionBlock:
		return Block{}
	default:
		return nil
	}
}
