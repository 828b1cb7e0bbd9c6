package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"my-room-spaces/internal/domain"
)

// MigrateDB 迁移全部表结构。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	err := db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.WorldObject{},
		&domain.ChatMessage{},
		&domain.UploadedModel{},
	)
	if err != nil {
		return fmt.Errorf("setup: auto-migrate tables: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
