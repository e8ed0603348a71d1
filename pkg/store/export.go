package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

// Export snapshots every rule and group into a portable envelope.
func (s *Store) Export(ctx context.Context) (api.ExportEnvelope, error) {
	rules, err := s.ListRules(ctx)
	if err != nil {
		return api.ExportEnvelope{}, err
	}
	groups, err := s.ListGroups(ctx)
	if err != nil {
		return api.ExportEnvelope{}, err
	}
	return api.ExportEnvelope{
		Version:    api.ExportVersion,
		ExportedAt: s.now(),
		Rules:      rules,
		Groups:     groups,
	}, nil
}

// Import loads an envelope into the store. Every imported rule gets a fresh
// ID so an import can never collide with existing rules; invalid rules are
// skipped. Disabled rules are switched on when the auto-enable setting is
// active, same as freshly created ones. With replace set, existing rules and
// groups are dropped first.
// Returns the number of rules imported.
func (s *Store) Import(ctx context.Context, env api.ExportEnvelope, replace bool) (int, error) {
	if env.Version != api.ExportVersion {
		return 0, errx.With(api.ErrInvalidExport, ": unsupported version %d", env.Version)
	}

	settings, err := s.Settings(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	imported := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if replace {
			if err := tx.Where("1 = 1").Delete(&RuleRecord{}).Error; err != nil {
				return err
			}
			if err := tx.Where("1 = 1").Delete(&GroupRecord{}).Error; err != nil {
				return err
			}
		}

		// Old group IDs map to fresh ones so rule membership survives.
		groupIDs := make(map[string]string, len(env.Groups))
		for _, group := range env.Groups {
			oldID := group.ID
			group.ID = api.NewRuleID()
			group.CreatedAt = now
			group.UpdatedAt = now
			rec := groupToRecord(group)
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			if oldID != "" {
				groupIDs[oldID] = group.ID
			}
		}

		for _, rule := range env.Rules {
			rule.ID = api.NewRuleID()
			if !rule.Enabled && settings.AutoEnableNewRules {
				rule.Enabled = true
			}
			rule.GroupID = groupIDs[rule.GroupID]
			rule.CreatedAt = now
			rule.UpdatedAt = now
			rule.Normalize(now)
			if err := rule.Validate(); err != nil {
				s.logger.Warn("skipping invalid rule on import", "rule_name", rule.Name, "error", err)
				continue
			}
			rec, err := ruleToRecord(rule)
			if err != nil {
				return err
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.notifyRules(ctx, ChangeImported, "")
	return imported, nil
}
