/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logstore

import (
	"context"
	"errors"
	"testing"

	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*Store, *events.Bus) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.LogEntry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	bus := events.NewBus()
	return New(db, bus, zerolog.Nop()), bus
}

func TestPendingPublishesAndSkipsNoLog(t *testing.T) {
	s, bus := newTestStore(t)
	sub := bus.Subscribe(events.EventLogEntryCreated)
	ctx := context.Background()

	id, err := s.Pending(ctx, metadata.Item{URL: "file:///a.flac", Name: "A", Owner: "desk"})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if id == 0 {
		t.Fatal("no id assigned")
	}
	select {
	case p := <-sub:
		if p["id"] != id || p["status"] != string(models.LogQueued) {
			t.Fatalf("payload = %v", p)
		}
	default:
		t.Fatal("log.entry_created not published")
	}

	skipped, err := s.Pending(ctx, metadata.Item{URL: "file:///b.flac", NoLog: true})
	if err != nil || skipped != 0 {
		t.Fatalf("NoLog item logged: id=%d err=%v", skipped, err)
	}
}

func TestMarkPlayedAndDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	played, _ := s.Pending(ctx, metadata.Item{URL: "a"})
	dropped, _ := s.Pending(ctx, metadata.Item{URL: "b"})

	if err := s.MarkPlayed(ctx, played); err != nil {
		t.Fatalf("mark played: %v", err)
	}
	if err := s.MarkPlayed(ctx, played); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second mark = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, played); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleting a played row = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, dropped); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rows, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != played || rows[0].Status != models.LogPlayed || rows[0].PlayedAt == nil {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestMarkerAndRecentOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, _ := s.Marker(ctx, "list started")
	second, _ := s.Pending(ctx, metadata.Item{URL: "a"})
	third, _ := s.Marker(ctx, "list stopped")

	rows, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != third || rows[1].ID != second {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Status != models.LogMarker || rows[0].Message != "list stopped" {
		t.Fatalf("marker row = %+v", rows[0])
	}
	if first == 0 {
		t.Fatal("marker got no id")
	}
}
