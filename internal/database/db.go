// Package database stores the feed configuration in SQLite.
package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Config holds database configuration
type Config struct {
	Path string // Path to SQLite database file
}

// DB wraps the GORM database instance
type DB struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDB opens the database with the pure Go SQLite driver and migrates the
// schema
func NewDB(config Config, log *zap.Logger) (*DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	var gormLog logger.Interface
	if log != nil {
		gormLog = logger.New(
			zap.NewStdLog(log.Named("gorm")),
			logger.Config{
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	} else {
		log = zap.NewNop()
		gormLog = logger.Default.LogMode(logger.Silent)
	}

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", config.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if err := configureSQLite(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	if err := db.AutoMigrate(&ReceiverRecord{}, &MergedFeedRecord{}, &RebroadcastRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating %s: %w", config.Path, err)
	}

	log.Info("database initialised", zap.String("path", config.Path))
	return &DB{db: db, logger: log}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmaSettings := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=memory",
	}

	for _, pragma := range pragmaSettings {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// GetDB returns the underlying GORM database instance
func (db *DB) GetDB() *gorm.DB {
	return db.db
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database connection is healthy
func (db *DB) Health() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
