package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// cleanupDuplicateArchivePrices removes duplicate price_history rows before
// the (product_id, sub_type_name, date) unique index is created. Archive
// imports from before the index could insert the same day twice.
func cleanupDuplicateArchivePrices(db *gorm.DB, log *zap.Logger) error {
	if !db.Migrator().HasTable("price_history") {
		return nil
	}
	if db.Migrator().HasIndex("price_history", "idx_product_variant_date") {
		return nil
	}

	groupBy := "product_id, date"
	if db.Migrator().HasColumn("price_history", "sub_type_name") {
		groupBy = "product_id, sub_type_name, date"
		result := db.Exec(`UPDATE price_history SET sub_type_name = 'Normal' WHERE sub_type_name IS NULL OR sub_type_name = ''`)
		if result.Error != nil {
			log.Warn("failed to normalize sub_type_name values", zap.Error(result.Error))
		}
	}

	// Keep the newest row of each group
	result := db.Exec(`
		DELETE FROM price_history
		WHERE id NOT IN (
			SELECT MAX(id)
			FROM price_history
			GROUP BY ` + groupBy + `
		)
	`)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Info("removed duplicate price_history rows", zap.Int64("rows", result.RowsAffected))
	}
	return nil
}
