package store

import (
	"context"
	"time"
)

// TrafficQuery narrows a traffic log listing. Zero values mean "no filter".
type TrafficQuery struct {
	Host    string
	RuleID  string
	Method  string
	Since   time.Time
	Mocked  *bool
	Blocked *bool
	Limit   int
	Offset  int
}

const defaultTrafficLimit = 100

// AppendTraffic records one request/response pair.
func (s *Store) AppendTraffic(ctx context.Context, rec *TrafficRecord) error {
	if rec.At.IsZero() {
		rec.At = s.now()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// ListTraffic returns matching entries, newest first.
func (s *Store) ListTraffic(ctx context.Context, q TrafficQuery) ([]TrafficRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultTrafficLimit
	}
	tx := s.db.WithContext(ctx).Model(&TrafficRecord{})
	if q.Host != "" {
		tx = tx.Where("host = ?", q.Host)
	}
	if q.RuleID != "" {
		tx = tx.Where("rule_id = ?", q.RuleID)
	}
	if q.Method != "" {
		tx = tx.Where("method = ?", q.Method)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("at >= ?", q.Since)
	}
	if q.Mocked != nil {
		tx = tx.Where("mocked = ?", *q.Mocked)
	}
	if q.Blocked != nil {
		tx = tx.Where("blocked = ?", *q.Blocked)
	}
	var recs []TrafficRecord
	err := tx.Order("id desc").Limit(limit).Offset(q.Offset).Find(&recs).Error
	return recs, err
}

// GetTraffic returns a single entry by row ID.
func (s *Store) GetTraffic(ctx context.Context, id uint) (TrafficRecord, error) {
	var rec TrafficRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	return rec, err
}

// ClearTraffic drops the whole traffic log.
func (s *Store) ClearTraffic(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&TrafficRecord{}).Error
}

// PruneTraffic keeps only the newest keep entries.
func (s *Store) PruneTraffic(ctx context.Context, keep int) error {
	if keep <= 0 {
		return s.ClearTraffic(ctx)
	}
	sub := s.db.Model(&TrafficRecord{}).Select("id").Order("id desc").Limit(keep)
	return s.db.WithContext(ctx).
		Where("id NOT IN (?)", sub).
		Delete(&TrafficRecord{}).Error
}
