// Package datastore persists the catalog, devices, reports and their
// notifications through gorm.
package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/logger"
)

// Interface is the store used by the pipeline
type Interface interface {
	Open() error
	Close() error
	Ping(ctx context.Context) error

	ListAnimals(ctx context.Context) ([]Animal, error)
	SaveAnimal(ctx context.Context, animal *Animal) error

	GetDevice(ctx context.Context, id string) (*Device, error)
	SaveDevice(ctx context.Context, device *Device) error
	MarkHeartbeat(ctx context.Context, id string, at time.Time) (*Device, error)

	CreateReport(ctx context.Context, report *Report, notification *Notification) error
	GetReport(ctx context.Context, id uint) (*Report, error)
	ChangeReportStatus(ctx context.Context, change StatusChange) (*Report, *Notification, error)
	NotificationsFor(ctx context.Context, userID *uint, reportID uint) ([]Notification, error)

	SavePushToken(ctx context.Context, token *PushToken) error
	PushTokensForUsers(ctx context.Context, userIDs []uint) ([]string, error)
	AdminPushTokens(ctx context.Context) ([]string, error)
	DeletePushTokens(ctx context.Context, tokens []string) (int64, error)

	TryCooldown(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
	CooldownFiredAt(ctx context.Context, key string) (time.Time, bool, error)
	RecordCooldown(ctx context.Context, key string, now time.Time) error
	ReleaseCooldown(ctx context.Context, key string, firedAt time.Time) error
	PruneCooldowns(ctx context.Context, before time.Time) (int64, error)
}

// DataStore implements Interface on top of a gorm connection
type DataStore struct {
	DB  *gorm.DB
	log logger.Logger
}

// NewFromDB wraps an already opened gorm connection
func NewFromDB(db *gorm.DB) *DataStore {
	return &DataStore{DB: db, log: GetLogger()}
}

// New returns the store selected by settings.Database.Driver
func New(settings *conf.Settings) (Interface, error) {
	switch settings.Database.Driver {
	case conf.DriverSQLite:
		return &SQLiteStore{Settings: settings}, nil
	case conf.DriverMySQL:
		return &MySQLStore{Settings: settings}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", settings.Database.Driver)
	}
}

// Migrate creates or updates the schema
func (ds *DataStore) Migrate() error {
	if ds.DB == nil {
		return ErrNotInitialized
	}
	start := time.Now()
	if err := ds.DB.AutoMigrate(allModels()...); err != nil {
		return dbError(err, "auto-migrate")
	}
	ds.logger().Debug("database migration completed", logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Close closes the underlying sql.DB
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable
func (ds *DataStore) Ping(ctx context.Context) error {
	if ds.DB == nil {
		return ErrNotInitialized
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "ping")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping")
	}
	return nil
}

// Open is a no-op for stores built with NewFromDB
func (ds *DataStore) Open() error {
	if ds.DB == nil {
		return ErrNotInitialized
	}
	return nil
}

func (ds *DataStore) db(ctx context.Context) *gorm.DB {
	return ds.DB.WithContext(ctx)
}

func (ds *DataStore) logger() logger.Logger {
	if ds.log == nil {
		ds.log = GetLogger()
	}
	return ds.log
}

func gormConfig(log logger.Logger, slowThreshold time.Duration) *gorm.Config {
	return &gorm.Config{
		Logger:                 logger.NewGormLoggerAdapter(log, slowThreshold),
		SkipDefaultTransaction: true,
	}
}
