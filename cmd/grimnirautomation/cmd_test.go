/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_automation/internal/auth"
	"github.com/friendsincode/grimnir_automation/internal/db"
	"github.com/friendsincode/grimnir_automation/internal/models"
)

func TestConfirmReset(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"yes\n", true},
		{" YES \n", true},
		{"y\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirmReset(strings.NewReader(tt.input), &out, true)
		if err != nil {
			t.Fatalf("%q: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "scheduled events") {
			t.Errorf("library warning missing: %s", out.String())
		}
	}
}

func TestResetTables(t *testing.T) {
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	database.Create(&models.LogEntry{URL: "song:a"})
	database.Create(&models.LogEntry{URL: "song:b"})
	database.Create(&models.MediaItem{URL: "song:a", Duration: 10})

	counts, err := resetTables(database, resetTargets(false))
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	var logs, media int64
	database.Model(&models.LogEntry{}).Count(&logs)
	database.Model(&models.MediaItem{}).Count(&media)
	if logs != 0 || media != 1 {
		t.Fatalf("logs=%d media=%d after reset", logs, media)
	}
	var cleared int64
	for _, n := range counts {
		cleared += n
	}
	if cleared != 2 {
		t.Fatalf("counts = %v", counts)
	}

	if _, err := resetTables(database, resetTargets(true)); err != nil {
		t.Fatalf("reset library: %v", err)
	}
	database.Model(&models.MediaItem{}).Count(&media)
	if media != 0 {
		t.Fatalf("media = %d after library reset", media)
	}
}

func TestSimulateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	scenario := `start: 2026-03-02T09:00:00Z
passes: 3
items:
  - url: song:a
    duration: 180
`
	if err := os.WriteFile(path, []byte(scenario), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"simulate", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "song:a") {
		t.Fatalf("output = %s", out.String())
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("GRIMNIR_DB_DSN", "file::memory:")
	t.Setenv("GRIMNIR_DB_BACKEND", "sqlite")
	t.Setenv("GRIMNIR_ENV", "test")
	t.Setenv("GRIMNIR_JWT_SIGNING_KEY", "cli-secret")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"token", "--user", "studio-a", "--role", "observer", "--ttl", "1h"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}

	claims, err := auth.Parse([]byte("cli-secret"), strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("parse issued token %q: %v", out.String(), err)
	}
	if claims.UserID != "studio-a" || !claims.HasRole(auth.RoleObserver) || claims.HasRole(auth.RoleOperator) {
		t.Fatalf("claims = %+v", claims)
	}
}
