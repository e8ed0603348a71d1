package api

import "time"

// ExportVersion is the current export envelope version.
const ExportVersion = 1

// ExportEnvelope is the versioned JSON document produced by rule export and
// consumed by import. Import regenerates ids and preserves
// name/matcher/action/priority for every rule.
type ExportEnvelope struct {
	Version    int         `json:"version"`
	ExportedAt time.Time   `json:"exportedAt"`
	Rules      []Rule      `json:"rules"`
	Groups     []RuleGroup `json:"groups,omitempty"`
}
