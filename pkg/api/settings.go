package api

import "time"

// DefaultMaxBodyBytes caps per-request body capture in the traffic log.
const DefaultMaxBodyBytes = 64 * 1024

// Settings is the process-wide configuration consulted once per decision.
// Changes take effect on the next intercepted request, never retroactively.
type Settings struct {
	// Enabled is the global kill switch. When false the matcher returns
	// no rule for every request.
	Enabled            bool            `json:"enabled"`
	AutoEnableNewRules bool            `json:"autoEnableNewRules"`
	Notifications      bool            `json:"notifications"`
	Logging            LoggingSettings `json:"logging"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// LoggingSettings configures the traffic log collaborator.
type LoggingSettings struct {
	Enabled       bool `json:"enabled"`
	CaptureBodies bool `json:"captureBodies"`
	MaxBodyBytes  int  `json:"maxBodyBytes,omitempty"`
}

// DefaultSettings returns the settings applied on first run.
func DefaultSettings() Settings {
	return Settings{
		Enabled:            true,
		AutoEnableNewRules: true,
		Notifications:      true,
		Logging: LoggingSettings{
			Enabled:      true,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
	}
}

// GetMaxBodyBytes returns the configured capture cap or the default.
func (l *LoggingSettings) GetMaxBodyBytes() int {
	if l != nil && l.MaxBodyBytes > 0 {
		return l.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}
