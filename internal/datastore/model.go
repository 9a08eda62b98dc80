package datastore

import (
	"time"
)

// Report sources
const (
	SourceApp  = "app"
	SourceCCTV = "cctv"
)

// Report statuses. A report starts in checking and moves one way to
// on_hold or completed; on_hold may still reach completed.
const (
	StatusChecking  = "checking"
	StatusOnHold    = "on_hold"
	StatusCompleted = "completed"
)

// Notification types
const (
	NotificationIndividual = "individual"
	NotificationGroup      = "group"
)

// Animal is a catalog entry owned by administrators. The pipeline only
// reads it.
type Animal struct {
	ID          uint     `gorm:"primaryKey"`
	NameEN      string   `gorm:"size:128;index"`
	NameLocal   string   `gorm:"size:128;index"`
	Aliases     []string `gorm:"serializer:json"`
	ParentGroup string   `gorm:"size:64"`
}

// DisplayName prefers the localized name
func (a *Animal) DisplayName() string {
	if a.NameLocal != "" {
		return a.NameLocal
	}
	return a.NameEN
}

// Device is a registered producer, a CCTV camera or an app installation
type Device struct {
	ID            string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"size:128"`
	Latitude      *float64
	Longitude     *float64
	LastHeartbeat *time.Time
	CreatedAt     time.Time
}

// Online reports whether the device heartbeated within timeout of now
func (d *Device) Online(now time.Time, timeout time.Duration) bool {
	if d.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*d.LastHeartbeat) <= timeout
}

// Coordinates returns the registered location, if both parts are set
func (d *Device) Coordinates() (lat, lng float64, ok bool) {
	if d.Latitude == nil || d.Longitude == nil {
		return 0, 0, false
	}
	return *d.Latitude, *d.Longitude, true
}

// Report is a persisted sighting
type Report struct {
	ID          uint      `gorm:"primaryKey"`
	AnimalID    *uint     `gorm:"index"`
	UserID      *uint     `gorm:"index"`
	DeviceID    *string   `gorm:"size:64;index"`
	Label       string    `gorm:"size:128"`
	Latitude    *float64
	Longitude   *float64
	CellToken   string    `gorm:"size:16;index"`
	Probability *float64
	Source      string    `gorm:"size:8;index"`
	Status      string    `gorm:"size:16;index"`
	Heuristic   bool      // label came from the filename-hint fallback
	ImageSHA256 string    `gorm:"size:64"`
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}

// ImageRef returns the content address of the submitted image, or ""
func (r *Report) ImageRef() string {
	return r.ImageSHA256
}

// ReportStatusChange records one status transition
type ReportStatusChange struct {
	ID         uint   `gorm:"primaryKey"`
	ReportID   uint   `gorm:"index"`
	FromStatus string `gorm:"size:16"`
	ToStatus   string `gorm:"size:16"`
	ChangedBy  *uint
	CreatedAt  time.Time
}

// Notification is a message for a user about a report. At most one
// individual notification exists per (user, report); see upsertNotification.
type Notification struct {
	ID           uint   `gorm:"primaryKey"`
	Type         string `gorm:"size:16;index:idx_notification_target"`
	UserID       *uint  `gorm:"index:idx_notification_target"`
	ReportID     *uint  `gorm:"index:idx_notification_target"`
	Reply        string `gorm:"type:text"`
	StatusChange string `gorm:"size:32"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PushToken is a registered mobile push target
type PushToken struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index"`
	Token     string `gorm:"size:255;uniqueIndex"`
	Platform  string `gorm:"size:16"`
	Admin     bool   `gorm:"index"`
	UpdatedAt time.Time
}

// CooldownMark is the shared-store cooldown entry keyed by device and species
type CooldownMark struct {
	MarkKey string `gorm:"primaryKey;size:191"`
	FiredAt int64  // unix nanoseconds
}

// allModels lists the tables managed by AutoMigrate
func allModels() []any {
	return []any{
		&Animal{}, &Device{}, &Report{}, &ReportStatusChange{},
		&Notification{}, &PushToken{}, &CooldownMark{},
	}
}
