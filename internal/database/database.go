package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codyseavey/card-pricing/internal/config"
	"github.com/codyseavey/card-pricing/internal/models"
)

// Open connects to the configured database and migrates the schema
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.URL)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	log.Info("database connected", zap.String("driver", driverName(cfg.Driver)))

	if err := Migrate(db, log); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenMemory opens a private in-memory sqlite database with the schema
// applied. Used by tests and dry runs.
func OpenMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// every connection would get its own empty :memory: database
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, zap.NewNop()); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate cleans legacy data that would violate new constraints, then
// auto-migrates the schema
func Migrate(db *gorm.DB, log *zap.Logger) error {
	if err := cleanupDuplicateArchivePrices(db, log); err != nil {
		return fmt.Errorf("failed to clean archive duplicates: %w", err)
	}
	if err := db.AutoMigrate(&models.Card{}, &models.ArchivePrice{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Debug("database migration completed")
	return nil
}

func driverName(driver string) string {
	if driver == "" {
		return "sqlite"
	}
	return driver
}
