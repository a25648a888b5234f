package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codyseavey/card-pricing/internal/config"
	"github.com/codyseavey/card-pricing/internal/models"
)

func TestOpenMemoryMigratesSchema(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&models.Card{}))
	assert.True(t, db.Migrator().HasTable("price_history"))
	assert.True(t, db.Migrator().HasIndex(&models.ArchivePrice{}, "idx_product_variant_date"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestMigrateRemovesDuplicateArchiveRows(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	// legacy table without the unique index
	require.NoError(t, db.Exec(`CREATE TABLE price_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id TEXT NOT NULL,
		sub_type_name TEXT NOT NULL DEFAULT 'Normal',
		date VARCHAR(10) NOT NULL,
		mid_price DECIMAL(12,2)
	)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO price_history (product_id, sub_type_name, date, mid_price) VALUES
		('1', 'Normal', '2025-01-01', 1.00),
		('1', '', '2025-01-01', 1.50),
		('1', 'Holofoil', '2025-01-01', 4.00),
		('2', 'Normal', '2025-01-01', 2.00)`).Error)

	require.NoError(t, Migrate(db, zap.NewNop()))

	var rows []models.ArchivePrice
	require.NoError(t, db.Order("product_id, sub_type_name").Find(&rows).Error)
	require.Len(t, rows, 3)
	assert.Equal(t, models.PrintingHolofoil, rows[0].SubTypeName)
	assert.Equal(t, models.PrintingNormal, rows[1].SubTypeName)
	assert.Equal(t, "1.5", rows[1].MidPrice.Decimal.String(), "newest duplicate is kept")
	assert.Equal(t, "2", rows[2].ProductID)
}
