/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"gorm.io/gorm"
)

func TestConnectAndMigrateSQLite(t *testing.T) {
	cfg := &config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       ":memory:",
	}
	database, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, m := range Models() {
		if !database.Migrator().HasTable(m) {
			t.Errorf("table for %T missing", m)
		}
	}

	// callbacks must not interfere with ordinary queries
	entry := models.LogEntry{URL: "song:1", Name: "first"}
	if err := database.Create(&entry).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	var got models.LogEntry
	if err := database.First(&got, entry.ID).Error; err != nil {
		t.Fatalf("first: %v", err)
	}
	if got.Name != "first" {
		t.Fatalf("name = %q", got.Name)
	}
	UpdateConnectionMetrics(database)
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	if _, err := Connect(&config.Config{DBBackend: "oracle"}); err == nil {
		t.Fatal("unknown backend accepted")
	}
}

func TestErrorKind(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"nil":       {nil, ""},
		"not found": {fmt.Errorf("cursor: %w", gorm.ErrRecordNotFound), ""},
		"duplicate": {gorm.ErrDuplicatedKey, "duplicate_key"},
		"fk":        {gorm.ErrForeignKeyViolated, "foreign_key"},
		"busy":      {errors.New("database is locked"), "locked"},
		"other":     {errors.New("syntax error"), "query_error"},
	}
	for name, tc := range cases {
		if got := errorKind(tc.err); got != tc.want {
			t.Errorf("%s: errorKind = %q, want %q", name, got, tc.want)
		}
	}
}
