/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	if err := db.AutoMigrate(&models.ScheduledEvent{}, &models.FillRule{}, &models.PlaylistItem{}, &models.MediaItem{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestNextScheduledWindowIsStrict(t *testing.T) {
	db := newTestDB(t)
	for _, ev := range []models.ScheduledEvent{
		{URL: "at-from", TargetTime: 1000, Priority: 1},
		{URL: "inside-1", TargetTime: 1200, Priority: 1},
		{URL: "inside-2", TargetTime: 1200, Priority: 9},
		{URL: "inside-3", TargetTime: 1500, Priority: 2},
		{URL: "at-to", TargetTime: 2000, Priority: 1},
	} {
		if err := db.Create(&ev).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	src := NewSource(db, nil, zerolog.Nop())
	ctx := context.Background()

	var got []string
	cursor := ""
	for {
		ev, next, err := src.NextScheduled(ctx, 1000, 2000, false, cursor)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if ev == nil {
			break
		}
		got = append(got, ev.URL)
		cursor = next
	}
	want := []string{"inside-1", "inside-2", "inside-3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	ev, _, err := src.NextScheduled(ctx, 1000, 2000, true, "")
	if err != nil || ev == nil || ev.URL != "inside-2" {
		t.Fatalf("high priority query = %+v, %v", ev, err)
	}

	if _, _, err := src.NextScheduled(ctx, 1000, 2000, false, "%%%"); !errors.Is(err, ErrBadCursor) {
		t.Fatalf("err = %v, want ErrBadCursor", err)
	}
}

func TestFillCandidate(t *testing.T) {
	db := newTestDB(t)
	rules := []models.FillRule{
		{URL: "anyday", Weekday: -1, StartMinute: 0, EndMinute: 1440, Weight: 1},
		{URL: "monday-morning", Weekday: int(time.Monday), StartMinute: 6 * 60, EndMinute: 10 * 60, Weight: 5},
	}
	for _, r := range rules {
		if err := db.Create(&r).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	src := NewSource(db, nil, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 10, 12, 7, 30, 0, 0, time.UTC), "monday-morning"},
		{time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC), "anyday"},
		{time.Date(2026, 10, 13, 7, 30, 0, 0, time.UTC), "anyday"},
	}
	for _, tt := range tests {
		got, err := src.FillCandidate(ctx, tt.at)
		if err != nil {
			t.Fatalf("FillCandidate(%v): %v", tt.at, err)
		}
		if got != tt.want {
			t.Errorf("FillCandidate(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}

	db.Where("1 = 1").Delete(&models.FillRule{})
	if _, err := src.FillCandidate(ctx, tests[0].at); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("err = %v, want ErrNoCandidate", err)
	}
}

func TestPlaylistItemsInPositionOrder(t *testing.T) {
	db := newTestDB(t)
	for _, it := range []models.PlaylistItem{
		{PlaylistURL: "pl", Position: 2, ItemURL: "c"},
		{PlaylistURL: "pl", Position: 0, ItemURL: "a"},
		{PlaylistURL: "other", Position: 0, ItemURL: "x"},
		{PlaylistURL: "pl", Position: 1, ItemURL: "b"},
	} {
		if err := db.Create(&it).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	items, err := NewSource(db, nil, zerolog.Nop()).PlaylistItems(context.Background(), "pl")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 3 || items[0] != "a" || items[1] != "b" || items[2] != "c" {
		t.Fatalf("items = %v", items)
	}
}

func TestResolver(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&models.MediaItem{
		URL: "file:///news.flac", Type: "FILE", Name: "News", Duration: 180, SegIn: 1.5, SegOut: 178,
	}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Create(&models.MediaItem{URL: "file:///gone.flac", Type: "file", Missing: true}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := NewResolver(db, nil, zerolog.Nop())
	store := metadata.NewMemStore()
	ctx := context.Background()

	tests := []struct {
		url      string
		wantType metadata.ItemType
		check    func(t *testing.T, it metadata.Item)
	}{
		{"file:///news.flac", metadata.TypeFile, func(t *testing.T, it metadata.Item) {
			if it.Duration != 180 || it.SegIn != 1.5 || it.SegOut != 178 || it.Name != "News" {
				t.Errorf("item = %+v", it)
			}
		}},
		{"file:///gone.flac", metadata.TypeMissing, nil},
		{"file:///unknown.flac", metadata.TypeMissing, nil},
		{"stop", metadata.TypeStop, nil},
		{"task: /usr/local/bin/rotate-logs --now", metadata.TypeTask, func(t *testing.T, it metadata.Item) {
			if it.Name != "/usr/local/bin/rotate-logs --now" {
				t.Errorf("task name = %q", it.Name)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			ref := store.Create(tt.url)
			defer store.Release(ref)
			if err := r.Resolve(ctx, store, ref); err != nil {
				t.Fatalf("resolve: %v", err)
			}
			it, err := metadata.Load(store, ref)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if it.EffectiveType() != tt.wantType {
				t.Fatalf("type = %q, want %q", it.EffectiveType(), tt.wantType)
			}
			if tt.check != nil {
				tt.check(t, it)
			}
		})
	}
}
