/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"testing"

	"github.com/friendsincode/timegate/internal/config"
	"github.com/friendsincode/timegate/internal/models"
)

func TestConnectMigrateSQLite(t *testing.T) {
	cfg := &config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       "file::memory:",
	}

	database, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	for _, m := range Models() {
		if !database.Migrator().HasTable(m) {
			t.Fatalf("expected table for %T", m)
		}
	}

	// Unique (date, label) index must reject duplicates.
	slot := models.AvailabilitySlot{ID: "a", Date: "2026-02-10", Label: "9:00 AM", Minutes: 540}
	if err := database.Create(&slot).Error; err != nil {
		t.Fatalf("create slot: %v", err)
	}
	dup := models.AvailabilitySlot{ID: "b", Date: "2026-02-10", Label: "9:00 AM", Minutes: 540}
	if err := database.Create(&dup).Error; err == nil {
		t.Fatal("expected duplicate (date, label) to fail")
	}

	UpdateConnectionMetrics(database)
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{DBBackend: "oracle", DBDSN: "x"}
	if _, err := Connect(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
