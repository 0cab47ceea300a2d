/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/grimnir_automation/internal/models"
	"gorm.io/gorm"
)

// Models lists every table the service owns.
func Models() []any {
	return []any{
		// Library
		&models.MediaItem{},
		&models.PlaylistItem{},

		// Schedule source
		&models.ScheduledEvent{},
		&models.FillRule{},
		&models.FillCursor{},

		// Automation
		&models.AutomationState{},
		&models.LogEntry{},
	}
}

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
