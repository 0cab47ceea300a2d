/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logstore keeps the play log: one row per queued item, flipped to
// played when it airs, plus free-text markers for list transitions.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a log row does not exist.
var ErrNotFound = errors.New("log entry not found")

// Store writes play log rows through gorm.
type Store struct {
	db     *gorm.DB
	bus    events.Publisher
	logger zerolog.Logger
	clock  func() time.Time
}

// New creates a log store.
func New(db *gorm.DB, bus events.Publisher, logger zerolog.Logger) *Store {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Store{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "logstore").Logger(),
		clock:  time.Now,
	}
}

// Pending records a queued row for item and returns its id. Items flagged
// NoLog get no row and id 0.
func (s *Store) Pending(ctx context.Context, item metadata.Item) (uint64, error) {
	if item.NoLog {
		return 0, nil
	}
	row := models.LogEntry{
		URL:     item.URL,
		Name:    item.Name,
		Artist:  item.Artist,
		Owner:   item.Owner,
		Status:  models.LogQueued,
		AddedAt: s.clock().UTC(),
	}
	if err := s.create(ctx, &row); err != nil {
		return 0, err
	}
	return row.ID, nil
}

// Marker records a free-text marker row such as a list start or stop.
func (s *Store) Marker(ctx context.Context, message string) (uint64, error) {
	row := models.LogEntry{
		Status:  models.LogMarker,
		Message: message,
		AddedAt: s.clock().UTC(),
	}
	if err := s.create(ctx, &row); err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (s *Store) create(ctx context.Context, row *models.LogEntry) error {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create log entry: %w", err)
	}
	s.bus.Publish(events.EventLogEntryCreated, events.Payload{
		"id":     row.ID,
		"url":    row.URL,
		"status": string(row.Status),
	})
	s.logger.Debug().Uint64("id", row.ID).Str("status", string(row.Status)).Msg("log entry created")
	return nil
}

// MarkPlayed flips a queued row to played.
func (s *Store) MarkPlayed(ctx context.Context, id uint64) error {
	now := s.clock().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.LogEntry{}).
		Where("id = ? AND status = ?", id, models.LogQueued).
		Updates(map[string]any{"status": models.LogPlayed, "played_at": now})
	if res.Error != nil {
		return fmt.Errorf("mark log entry %d played: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark log entry %d played: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes a row that never aired. Played rows are kept.
func (s *Store) Delete(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, models.LogQueued).
		Delete(&models.LogEntry{})
	if res.Error != nil {
		return fmt.Errorf("delete log entry %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete log entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.LogEntry
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	return rows, nil
}
