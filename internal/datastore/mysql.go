package datastore

import (
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/logger"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// MySQLDSN builds the connection string from settings
func MySQLDSN(s conf.MySQLSettings) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = s.Username
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", s.Host, s.Port)
	cfg.DBName = s.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to MySQL and migrates the schema
func (store *MySQLStore) Open() error {
	mysqlLogger := GetLogger().Module("mysql")
	s := store.Settings.Database.MySQL

	db, err := OpenMySQL(MySQLDSN(s), mysqlLogger, store.Settings.Database.SlowQueryThreshold)
	if err != nil {
		mysqlLogger.Error("failed to open MySQL database",
			logger.String("host", s.Host),
			logger.Int("port", s.Port),
			logger.String("database", s.Database),
			logger.Error(err))
		return err
	}

	store.DB = db
	store.log = GetLogger()
	return store.Migrate()
}

// OpenMySQL opens a MySQL connection with a bounded pool
func OpenMySQL(dsn string, log logger.Logger, slowThreshold time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), gormConfig(log, slowThreshold))
	if err != nil {
		return nil, dbError(fmt.Errorf("failed to open MySQL database: %w", err), "open")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open")
	}
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}
