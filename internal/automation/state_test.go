/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T, tables ...any) *gorm.DB {
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
	if err := db.AutoMigrate(tables...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestStateGates(t *testing.T) {
	all := Flags{Fill: true, Schedule: true, Stop: true, TargetAdjust: true}
	tests := []struct {
		name  string
		state State
		want  [4]bool
	}{
		{"unattended ignores flags", State{Mode: models.AutomationUnattended}, [4]bool{true, true, true, true}},
		{"off ignores flags", State{Mode: models.AutomationOff, Flags: all}, [4]bool{}},
		{"live assist none", State{Mode: models.AutomationLiveAssist}, [4]bool{}},
		{"live assist fill and stop", State{Mode: models.AutomationLiveAssist, Flags: Flags{Fill: true, Stop: true}}, [4]bool{true, false, true, false}},
		{"live assist all", State{Mode: models.AutomationLiveAssist, Flags: all}, [4]bool{true, true, true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := [4]bool{tt.state.FillEnabled(), tt.state.ScheduleEnabled(), tt.state.StopAtEmpty(), tt.state.TargetAdjustEnabled()}
			if got != tt.want {
				t.Fatalf("gates = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLiveAssistTimesOut(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventAutomationState)
	sm := NewStateMachine(nil, bus, nil, zerolog.Nop())
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	sm.clock = func() time.Time { return now }
	ctx := context.Background()

	if err := sm.Set(ctx, models.AutomationLiveAssist, Flags{Fill: true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	<-sub

	if sm.Tick(ctx, now.Add(1200*time.Second)) {
		t.Fatal("demoted at exactly the timeout")
	}

	now = now.Add(10 * time.Minute)
	if err := sm.LiveAction(ctx); err != nil {
		t.Fatalf("live action: %v", err)
	}
	if sm.Tick(ctx, now.Add(15*time.Minute)) {
		t.Fatal("live action did not postpone the timeout")
	}

	if !sm.Tick(ctx, now.Add(21*time.Minute)) {
		t.Fatal("live assist not demoted after the timeout")
	}
	if got := sm.Current().Mode; got != models.AutomationUnattended {
		t.Fatalf("mode = %s, want unattended", got)
	}
	select {
	case p := <-sub:
		if p["reason"] != "live_assist_timeout" || p["previous"] != string(models.AutomationLiveAssist) {
			t.Fatalf("payload = %v", p)
		}
	default:
		t.Fatal("state change not published")
	}
	if sm.Tick(ctx, now.Add(time.Hour)) {
		t.Fatal("unattended should not tick over")
	}
}

func TestSetRejectsUnknownMode(t *testing.T) {
	sm := NewStateMachine(nil, nil, nil, zerolog.Nop())
	err := sm.Set(context.Background(), models.AutomationMode("autopilot"), Flags{})
	if !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}
	if sm.Current().Mode != models.AutomationUnattended {
		t.Fatal("mode changed on a rejected set")
	}
}

func TestStatePersists(t *testing.T) {
	db := openTestDB(t, &models.AutomationState{})
	ctx := context.Background()

	first := NewStateMachine(db, nil, nil, zerolog.Nop())
	if err := first.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	var count int64
	db.Model(&models.AutomationState{}).Count(&count)
	if count != 1 {
		t.Fatalf("rows = %d, want 1 after first load", count)
	}

	flags := Flags{Schedule: true, TargetAdjust: true}
	if err := first.Set(ctx, models.AutomationLiveAssist, flags); err != nil {
		t.Fatalf("set: %v", err)
	}

	second := NewStateMachine(db, nil, nil, zerolog.Nop())
	if err := second.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := second.Current()
	if got.Mode != models.AutomationLiveAssist || got.Flags != flags {
		t.Fatalf("reloaded state = %+v", got)
	}
	if got.LastLiveAction.IsZero() {
		t.Fatal("last live action not persisted")
	}
}
