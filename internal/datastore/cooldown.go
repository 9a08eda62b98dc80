package datastore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TryCooldown atomically claims the cooldown slot for key. It returns true
// when no mark exists or the last mark is at least window old, recording
// now as the new mark. Concurrent callers cannot both succeed: the refresh
// is a conditional single-row UPDATE and the first claim is an insert that
// ignores duplicates.
func (ds *DataStore) TryCooldown(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	nowNs := now.UnixNano()
	cutoff := now.Add(-window).UnixNano()

	res := ds.db(ctx).Model(&CooldownMark{}).
		Where("mark_key = ? AND fired_at <= ?", key, cutoff).
		Update("fired_at", nowNs)
	if res.Error != nil {
		return false, dbError(res.Error, "cooldown-refresh")
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = ds.db(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&CooldownMark{MarkKey: key, FiredAt: nowNs})
	if res.Error != nil {
		return false, dbError(res.Error, "cooldown-claim")
	}
	return res.RowsAffected == 1, nil
}

// PruneCooldowns deletes marks older than before
func (ds *DataStore) PruneCooldowns(ctx context.Context, before time.Time) (int64, error) {
	res := ds.db(ctx).Where("fired_at < ?", before.UnixNano()).Delete(&CooldownMark{})
	if res.Error != nil {
		return 0, dbError(res.Error, "cooldown-prune")
	}
	return res.RowsAffected, nil
}

// CooldownFiredAt returns the last mark for key, if any
func (ds *DataStore) CooldownFiredAt(ctx context.Context, key string) (time.Time, bool, error) {
	var mark CooldownMark
	err := ds.db(ctx).Where("mark_key = ?", key).First(&mark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, dbError(err, "cooldown-read")
	}
	return time.Unix(0, mark.FiredAt), true, nil
}

// RecordCooldown unconditionally stores now as the mark for key
func (ds *DataStore) RecordCooldown(ctx context.Context, key string, now time.Time) error {
	err := ds.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mark_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"fired_at"}),
	}).Create(&CooldownMark{MarkKey: key, FiredAt: now.UnixNano()}).Error
	if err != nil {
		return dbError(err, "cooldown-record")
	}
	return nil
}

// ReleaseCooldown deletes the mark for key if it still holds firedAt. A mark
// refreshed by a later claim survives.
func (ds *DataStore) ReleaseCooldown(ctx context.Context, key string, firedAt time.Time) error {
	res := ds.db(ctx).Where("mark_key = ? AND fired_at = ?", key, firedAt.UnixNano()).Delete(&CooldownMark{})
	if res.Error != nil {
		return dbError(res.Error, "cooldown-release")
	}
	return nil
}
