package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

const (
	ChangeCreated  = "created"
	ChangeUpdated  = "updated"
	ChangeDeleted  = "deleted"
	ChangeToggled  = "toggled"
	ChangeImported = "imported"
	ChangeSettings = "settings"
)

// Store is the sqlite-backed source of truth for rules, groups, settings
// and the traffic log. Mutations fan out change events to subscribers so
// callers can invalidate caches and push sync messages.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	subMu   sync.Mutex
	subs    map[int]chan api.Event
	nextSub int
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, errx.Wrap(ErrOpenStore, err)
	}
	if err := db.AutoMigrate(&RuleRecord{}, &GroupRecord{}, &SettingsRecord{}, &TrafficRecord{}); err != nil {
		return nil, errx.Wrap(ErrMigrate, err)
	}
	s := &Store{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
		subs:   make(map[int]chan api.Event),
	}
	if err := s.seedSettings(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) seedSettings() error {
	var rec SettingsRecord
	err := s.db.First(&rec, settingsRowID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return errx.Wrap(ErrOpenStore, err)
	}
	doc, err := json.Marshal(api.DefaultSettings())
	if err != nil {
		return errx.Wrap(ErrOpenStore, err)
	}
	rec = SettingsRecord{ID: settingsRowID, Doc: string(doc), UpdatedAt: s.now()}
	return s.db.Create(&rec).Error
}

// CreateRule normalizes, validates and inserts the rule. The rule's ID and
// timestamps are filled in when absent, and fresh rules come up enabled
// when the auto-enable setting is on.
func (s *Store) CreateRule(ctx context.Context, rule *api.Rule) error {
	if rule.ID == "" && !rule.Enabled {
		if settings, err := s.Settings(ctx); err == nil && settings.AutoEnableNewRules {
			rule.Enabled = true
		}
	}
	rule.Normalize(s.now())
	if err := rule.Validate(); err != nil {
		return err
	}
	rec, err := ruleToRecord(*rule)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	s.notifyRules(ctx, ChangeCreated, rule.ID)
	return nil
}

// GetRule returns the rule with the given ID.
func (s *Store) GetRule(ctx context.Context, id string) (api.Rule, error) {
	var rec RuleRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return api.Rule{}, errx.With(api.ErrRuleNotFound, ": %s", id)
		}
		return api.Rule{}, err
	}
	return rec.toRule()
}

// ListRules returns all rules ordered by priority, then creation time.
// Records that fail to decode are skipped so one bad row cannot hide the
// rest of the table.
func (s *Store) ListRules(ctx context.Context) ([]api.Rule, error) {
	var recs []RuleRecord
	err := s.db.WithContext(ctx).
		Order("priority asc, created_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	rules := make([]api.Rule, 0, len(recs))
	for _, rec := range recs {
		rule, err := rec.toRule()
		if err != nil {
			s.logger.Warn("skipping undecodable rule record", "rule_id", rec.ID, "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// UpdateRule replaces the stored rule, preserving its creation time.
func (s *Store) UpdateRule(ctx context.Context, rule api.Rule) (api.Rule, error) {
	existing, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		return api.Rule{}, err
	}
	now := s.now()
	rule.CreatedAt = existing.CreatedAt
	rule.Normalize(now)
	rule.UpdatedAt = now
	if err := rule.Validate(); err != nil {
		return api.Rule{}, err
	}
	rec, err := ruleToRecord(rule)
	if err != nil {
		return api.Rule{}, err
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return api.Rule{}, err
	}
	s.notifyRules(ctx, ChangeUpdated, rule.ID)
	return rule, nil
}

// DeleteRule removes the rule with the given ID.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&RuleRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errx.With(api.ErrRuleNotFound, ": %s", id)
	}
	s.notifyRules(ctx, ChangeDeleted, id)
	return nil
}

// SetRuleEnabled toggles a single rule.
func (s *Store) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).
		Model(&RuleRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"enabled": enabled, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errx.With(api.ErrRuleNotFound, ": %s", id)
	}
	s.notifyRules(ctx, ChangeToggled, id)
	return nil
}

// CountRules returns the number of stored rules.
func (s *Store) CountRules(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RuleRecord{}).Count(&n).Error
	return n, err
}

// CreateGroup inserts a rule group, filling in ID and timestamps.
func (s *Store) CreateGroup(ctx context.Context, group *api.RuleGroup) error {
	if group.ID == "" {
		group.ID = api.NewRuleID()
	}
	if group.Name == "" {
		return errx.With(api.ErrInvalidRule, ": group name is required")
	}
	now := s.now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	rec := groupToRecord(*group)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	s.notifyRules(ctx, ChangeUpdated, "")
	return nil
}

// GetGroup returns the group with the given ID.
func (s *Store) GetGroup(ctx context.Context, id string) (api.RuleGroup, error) {
	var rec GroupRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return api.RuleGroup{}, errx.With(api.ErrGroupNotFound, ": %s", id)
		}
		return api.RuleGroup{}, err
	}
	return rec.toGroup(), nil
}

// ListGroups returns all groups by name.
func (s *Store) ListGroups(ctx context.Context) ([]api.RuleGroup, error) {
	var recs []GroupRecord
	if err := s.db.WithContext(ctx).Order("name asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	groups := make([]api.RuleGroup, 0, len(recs))
	for _, rec := range recs {
		groups = append(groups, rec.toGroup())
	}
	return groups, nil
}

// SetGroupEnabled toggles the group and every rule in it.
func (s *Store) SetGroupEnabled(ctx context.Context, id string, enabled bool) error {
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&GroupRecord{}).
			Where("id = ?", id).
			Updates(map[string]any{"enabled": enabled, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errx.With(api.ErrGroupNotFound, ": %s", id)
		}
		return tx.Model(&RuleRecord{}).
			Where("group_id = ?", id).
			Updates(map[string]any{"enabled": enabled, "updated_at": now}).Error
	})
	if err != nil {
		return err
	}
	s.notifyRules(ctx, ChangeToggled, "")
	return nil
}

// DeleteGroup removes the group; member rules keep running ungrouped.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&GroupRecord{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errx.With(api.ErrGroupNotFound, ": %s", id)
		}
		return tx.Model(&RuleRecord{}).
			Where("group_id = ?", id).
			Updates(map[string]any{"group_id": "", "updated_at": s.now()}).Error
	})
	if err != nil {
		return err
	}
	s.notifyRules(ctx, ChangeDeleted, "")
	return nil
}

// Settings returns the persisted settings document.
func (s *Store) Settings(ctx context.Context) (api.Settings, error) {
	var rec SettingsRecord
	if err := s.db.WithContext(ctx).First(&rec, settingsRowID).Error; err != nil {
		return api.Settings{}, err
	}
	var settings api.Settings
	if err := json.Unmarshal([]byte(rec.Doc), &settings); err != nil {
		return api.Settings{}, err
	}
	return settings, nil
}

// SaveSettings replaces the settings document.
func (s *Store) SaveSettings(ctx context.Context, settings api.Settings) error {
	settings.UpdatedAt = s.now()
	doc, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	rec := SettingsRecord{ID: settingsRowID, Doc: string(doc), UpdatedAt: settings.UpdatedAt}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return err
	}
	s.notifyRules(ctx, ChangeSettings, "")
	return nil
}

// RuleSnapshot returns the settings plus all rules for a policy snapshot
// load, in evaluation order.
func (s *Store) RuleSnapshot(ctx context.Context) (api.Settings, []api.Rule, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return api.Settings{}, nil, err
	}
	rules, err := s.ListRules(ctx)
	if err != nil {
		return api.Settings{}, nil, err
	}
	return settings, rules, nil
}

// Subscribe registers a change listener. Events are dropped rather than
// block a slow subscriber; cancel removes the subscription and closes the
// channel.
func (s *Store) Subscribe(buffer int) (<-chan api.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan api.Event, buffer)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *Store) notifyRules(ctx context.Context, change, ruleID string) {
	count, err := s.CountRules(ctx)
	if err != nil {
		s.logger.Debug("rule count unavailable for change event", "error", err)
	}
	s.publish(api.Event{
		Type:      api.EventTypeRules,
		Timestamp: s.now().UnixMilli(),
		Rules:     &api.RulesEvent{Change: change, RuleID: ruleID, Count: int(count)},
	})
}

// PublishIntercept puts an interception outcome on the event feed.
func (s *Store) PublishIntercept(ev api.InterceptEvent) {
	s.publish(api.Event{
		Type:      api.EventTypeIntercept,
		Timestamp: s.now().UnixMilli(),
		Intercept: &ev,
	})
}

func (s *Store) publish(ev api.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
