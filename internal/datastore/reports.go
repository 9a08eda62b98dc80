package datastore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatusChange describes a report status transition and the reply shown to
// the report's owner.
type StatusChange struct {
	ReportID  uint
	To        string
	Reply     string
	ChangedBy *uint
}

// allowedTransitions is the report lifecycle
var allowedTransitions = map[string][]string{
	StatusChecking: {StatusOnHold, StatusCompleted},
	StatusOnHold:   {StatusCompleted},
}

// CanTransition reports whether a report may move from one status to another
func CanTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateReport inserts the report and upserts its notification in one
// transaction. Either both rows become visible or neither does. A nil
// notification creates only the report.
func (ds *DataStore) CreateReport(ctx context.Context, report *Report, notification *Notification) error {
	if report.Status == "" {
		report.Status = StatusChecking
	}
	err := ds.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(report).Error; err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		if notification == nil {
			return nil
		}
		notification.ReportID = &report.ID
		return upsertNotification(tx, notification)
	})
	if err != nil {
		return dbError(err, "create-report")
	}
	return nil
}

// GetReport returns a report or ErrReportNotFound
func (ds *DataStore) GetReport(ctx context.Context, id uint) (*Report, error) {
	var report Report
	err := ds.db(ctx).First(&report, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(ErrReportNotFound, "report_id", id)
	}
	if err != nil {
		return nil, dbError(err, "get-report")
	}
	return &report, nil
}

// ChangeReportStatus moves a report along its lifecycle, records the
// transition and upserts the notification for the report's owner (or the
// group notification for ownerless reports) in one transaction. The report
// row is locked first so concurrent changes to the same report serialize.
func (ds *DataStore) ChangeReportStatus(ctx context.Context, change StatusChange) (*Report, *Notification, error) {
	var report Report
	var notification *Notification

	err := ds.db(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&report, change.ReportID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(ErrReportNotFound, "report_id", change.ReportID)
		}
		if err != nil {
			return err
		}
		if !CanTransition(report.Status, change.To) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, report.Status, change.To)
		}

		from := report.Status
		if err := tx.Model(&report).Update("status", change.To).Error; err != nil {
			return err
		}
		report.Status = change.To
		if err := tx.Create(&ReportStatusChange{
			ReportID:   report.ID,
			FromStatus: from,
			ToStatus:   change.To,
			ChangedBy:  change.ChangedBy,
		}).Error; err != nil {
			return err
		}

		notification = &Notification{
			Type:         NotificationIndividual,
			UserID:       report.UserID,
			ReportID:     &report.ID,
			Reply:        change.Reply,
			StatusChange: change.To,
		}
		if report.UserID == nil {
			notification.Type = NotificationGroup
		}
		return upsertNotification(tx, notification)
	})
	if err != nil {
		if errors.Is(err, ErrReportNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, nil, err
		}
		return nil, nil, dbError(err, "change-report-status")
	}
	return &report, notification, nil
}

// NotificationsFor lists the individual notifications of a user for a
// report; a nil user lists group notifications.
func (ds *DataStore) NotificationsFor(ctx context.Context, userID *uint, reportID uint) ([]Notification, error) {
	var out []Notification
	q := ds.db(ctx).Where("report_id = ?", reportID)
	if userID == nil {
		q = q.Where("type = ? AND user_id IS NULL", NotificationGroup)
	} else {
		q = q.Where("type = ? AND user_id = ?", NotificationIndividual, *userID)
	}
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, dbError(err, "list-notifications")
	}
	return out, nil
}

// upsertNotification keeps at most one notification per (type, user,
// report): it mutates the existing row in place or creates the first one.
// Must run inside a transaction that already serializes on the report.
func upsertNotification(tx *gorm.DB, n *Notification) error {
	q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("type = ? AND report_id = ?", n.Type, n.ReportID)
	if n.UserID == nil {
		q = q.Where("user_id IS NULL")
	} else {
		q = q.Where("user_id = ?", *n.UserID)
	}

	var existing Notification
	err := q.Order("id").First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := tx.Create(n).Error; err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("find notification: %w", err)
	}

	if err := tx.Model(&existing).Updates(map[string]any{
		"reply":         n.Reply,
		"status_change": n.StatusChange,
	}).Error; err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	n.ID = existing.ID
	n.CreatedAt = existing.CreatedAt
	return nil
}
