package db

import (
	"fmt"

	"github.com/zulandar/mailslot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.UserIdentity{},
		&models.Counter{},
		&models.ConversationSession{},
	}
}

// AutoMigrate creates or updates all tables and seeds the counter row.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return SeedCounters(db)
}

// SeedCounters inserts the single Counter row if it does not exist yet.
// Existing counter values are never touched.
func SeedCounters(db *gorm.DB) error {
	row := models.Counter{ID: models.CounterRowID}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("db: seed counters: %w", result.Error)
	}
	return nil
}
