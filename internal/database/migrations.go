package database

import (
	"gorm.io/gorm"

	"github.com/deskwise/deskwise/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Notification{},
		&models.PushSubscription{},
		&models.CacheEntry{},
	)
}
