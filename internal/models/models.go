/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// LogStatus is the lifecycle state of a play log row.
type LogStatus string

const (
	LogQueued LogStatus = "queued"
	LogPlayed LogStatus = "played"
	LogMarker LogStatus = "marker"
)

// LogEntry is one row of the play log. Rows are created queued when an
// item enters the list and flipped to played when it goes on air.
type LogEntry struct {
	ID       uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	URL      string     `json:"url"`
	Name     string     `json:"name"`
	Artist   string     `json:"artist"`
	Owner    string     `gorm:"index" json:"owner"`
	Status   LogStatus  `gorm:"type:varchar(16);index" json:"status"`
	Message  string     `gorm:"type:text" json:"message,omitempty"`
	AddedAt  time.Time  `gorm:"index" json:"added_at"`
	PlayedAt *time.Time `json:"played_at,omitempty"`
}

// TableName returns the table name for GORM.
func (LogEntry) TableName() string {
	return "play_log"
}

// ScheduledEvent is an item that must air at a target time.
type ScheduledEvent struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement"`
	URL        string  `gorm:"not null"`
	TargetTime float64 `gorm:"index"` // unix seconds
	Priority   int
	CreatedAt  time.Time
}

// FillRule picks filler content for a weekday and minute-of-day window.
// Weekday -1 matches every day.
type FillRule struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	URL         string `gorm:"not null"`
	Weekday     int    `gorm:"index"`
	StartMinute int
	EndMinute   int
	Weight      int
	CreatedAt   time.Time
}

// PlaylistItem is one position of a sub-playlist.
type PlaylistItem struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	PlaylistURL string `gorm:"index:idx_playlist_position,priority:1"`
	Position    int    `gorm:"index:idx_playlist_position,priority:2"`
	ItemURL     string
}

// MediaItem is the library entry an item URL resolves to.
type MediaItem struct {
	URL       string `gorm:"primaryKey"`
	Type      string `gorm:"type:varchar(16)"`
	Name      string
	Artist    string
	Duration  float64
	SegIn     float64
	SegOut    float64
	FadeOut   float64
	Together  string
	Missing   bool
	UpdatedAt time.Time
}

// AutomationMode is the persisted automation state.
type AutomationMode string

const (
	AutomationOff        AutomationMode = "off"
	AutomationLiveAssist AutomationMode = "live_assist"
	AutomationUnattended AutomationMode = "unattended"
)

// AutomationState persists the automation mode and live-assist flags so a
// restart resumes where the service left off.
type AutomationState struct {
	Name           string         `gorm:"primaryKey;type:varchar(64)"`
	Mode           AutomationMode `gorm:"type:varchar(16)"`
	Fill           bool
	Schedule       bool
	Stop           bool
	TargetAdjust   bool
	LastLiveAction time.Time
	UpdatedAt      time.Time
}

// FillCursor remembers the next position to play from a fill playlist.
type FillCursor struct {
	PlaylistURL string `gorm:"primaryKey"`
	Position    int
	UpdatedAt   time.Time
}
