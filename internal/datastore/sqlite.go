package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/logger"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open opens the SQLite database and migrates the schema. SQLite serializes
// writers, so the pool is limited to one connection and transactions queue
// instead of failing with SQLITE_BUSY.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Database.SQLite.Path
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return dbError(err, "create-directory")
		}
	}

	db, err := OpenSQLite(path+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		GetLogger().Module("sqlite"), store.Settings.Database.SlowQueryThreshold)
	if err != nil {
		return err
	}

	store.DB = db
	store.log = GetLogger()
	store.log.Info("sqlite database opened", logger.String("path", path))
	return store.Migrate()
}

// OpenSQLite opens a SQLite connection limited to a single writer
func OpenSQLite(dsn string, log logger.Logger, slowThreshold time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(log, slowThreshold))
	if err != nil {
		return nil, dbError(fmt.Errorf("failed to open SQLite database: %w", err), "open")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open")
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
