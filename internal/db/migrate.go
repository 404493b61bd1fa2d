/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/timegate/internal/models"
	"gorm.io/gorm"
)

// Models lists every persisted type, in migration order.
func Models() []any {
	return []any{
		&models.AvailabilitySlot{},
		&models.ServiceOffering{},
		&models.Booking{},
		&models.ScheduledItem{},
		&models.ContentPost{},
		&models.EventFlyer{},
	}
}

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
