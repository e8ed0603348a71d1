package store

import (
	"encoding/json"
	"time"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// RuleRecord is the persisted form of api.Rule. Matcher and Action are
// stored as JSON text so the schema does not chase every rule field.
type RuleRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:255;not null"`
	Description string
	Enabled     bool   `gorm:"index"`
	Priority    int    `gorm:"index"`
	GroupID     string `gorm:"index;size:64"`
	Matcher     string `gorm:"type:text;not null"`
	Action      string `gorm:"type:text;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (RuleRecord) TableName() string { return "rules" }

func ruleToRecord(r api.Rule) (RuleRecord, error) {
	matcher, err := json.Marshal(r.Matcher)
	if err != nil {
		return RuleRecord{}, errx.Wrap(ErrEncodeRule, err)
	}
	action, err := json.Marshal(r.Action)
	if err != nil {
		return RuleRecord{}, errx.Wrap(ErrEncodeRule, err)
	}
	return RuleRecord{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Enabled:     r.Enabled,
		Priority:    r.Priority,
		GroupID:     r.GroupID,
		Matcher:     string(matcher),
		Action:      string(action),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func (rec RuleRecord) toRule() (api.Rule, error) {
	rule := api.Rule{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		Enabled:     rec.Enabled,
		Priority:    rec.Priority,
		GroupID:     rec.GroupID,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(rec.Matcher), &rule.Matcher); err != nil {
		return api.Rule{}, errx.Wrap(ErrDecodeRule, err)
	}
	if err := json.Unmarshal([]byte(rec.Action), &rule.Action); err != nil {
		return api.Rule{}, errx.Wrap(ErrDecodeRule, err)
	}
	return rule, nil
}

// GroupRecord is the persisted form of api.RuleGroup.
type GroupRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:255;not null"`
	Description string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (GroupRecord) TableName() string { return "rule_groups" }

func (rec GroupRecord) toGroup() api.RuleGroup {
	return api.RuleGroup{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		Enabled:     rec.Enabled,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func groupToRecord(g api.RuleGroup) GroupRecord {
	return GroupRecord{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Enabled:     g.Enabled,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

// SettingsRecord is a single-row table holding the settings document.
type SettingsRecord struct {
	ID        int64  `gorm:"primaryKey"`
	Doc       string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (SettingsRecord) TableName() string { return "settings" }

const settingsRowID = 1

// TrafficRecord is one logged request/response pair.
type TrafficRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	At          time.Time `gorm:"index"`
	Adapter     string    `gorm:"size:32"`
	Method      string    `gorm:"size:16"`
	URL         string    `gorm:"type:text"`
	Host        string    `gorm:"index;size:255"`
	StatusCode  int
	RuleID      string `gorm:"index;size:64"`
	RuleName    string
	Effect      string `gorm:"size:32"`
	Blocked     bool
	Mocked      bool
	DurationMS  int64
	ReqHeaders  string `gorm:"type:text"`
	RespHeaders string `gorm:"type:text"`
	ReqBody     string `gorm:"type:text"`
	RespBody    string `gorm:"type:text"`
}

func (TrafficRecord) TableName() string { return "traffic_log" }
