/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule answers the automation's questions about what should air:
// scheduled events with target times, fill candidates and sub-playlist
// contents, and resolves item URLs against the media library.
package schedule

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/cache"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// HighPriority is the lowest priority returned by a high-priority-only query.
const HighPriority = 8

var (
	ErrNoCandidate = errors.New("no fill candidate")
	ErrBadCursor   = errors.New("malformed schedule cursor")
)

// Scheduled is one event due between two times.
type Scheduled struct {
	ID         uint64
	URL        string
	TargetTime float64
	Priority   int
}

// Source reads the schedule tables.
type Source struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewSource creates a schedule source. A nil cache disables caching.
func NewSource(db *gorm.DB, c *cache.Cache, logger zerolog.Logger) *Source {
	if c == nil {
		c = cache.Disabled(logger)
	}
	return &Source{
		db:     db,
		cache:  c,
		logger: logger.With().Str("component", "schedule").Logger(),
	}
}

// NextScheduled returns the first event strictly between from and to that
// sorts after cursor, and the cursor to continue from. A nil event means
// there is nothing more in the window.
func (s *Source) NextScheduled(ctx context.Context, from, to float64, highPriorityOnly bool, cursor string) (*Scheduled, string, error) {
	q := s.db.WithContext(ctx).
		Model(&models.ScheduledEvent{}).
		Where("target_time > ? AND target_time < ?", from, to)
	if highPriorityOnly {
		q = q.Where("priority >= ?", HighPriority)
	}
	if cursor != "" {
		ct, cid, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		q = q.Where("(target_time > ? OR (target_time = ? AND id > ?))", ct, ct, cid)
	}

	var ev models.ScheduledEvent
	err := q.Order("target_time ASC, id ASC").First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("query scheduled events: %w", err)
	}
	return &Scheduled{
		ID:         ev.ID,
		URL:        ev.URL,
		TargetTime: ev.TargetTime,
		Priority:   ev.Priority,
	}, encodeCursor(ev.TargetTime, ev.ID), nil
}

func encodeCursor(target float64, id uint64) string {
	raw := strconv.FormatFloat(target, 'f', -1, 64) + ":" + strconv.FormatUint(id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (float64, uint64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	target, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return 0, 0, ErrBadCursor
	}
	t, err := strconv.ParseFloat(target, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	return t, n, nil
}

// FillCandidate returns the URL of the heaviest fill rule covering at.
func (s *Source) FillCandidate(ctx context.Context, at time.Time) (string, error) {
	weekday := int(at.Weekday())
	minute := at.Hour()*60 + at.Minute()

	var rule models.FillRule
	err := s.db.WithContext(ctx).
		Where("(weekday = ? OR weekday = -1) AND start_minute <= ? AND end_minute > ?", weekday, minute, minute).
		Order("weight DESC, id ASC").
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%s: %w", at.Format(time.RFC3339), ErrNoCandidate)
	}
	if err != nil {
		return "", fmt.Errorf("query fill rules: %w", err)
	}
	return rule.URL, nil
}

// PlaylistItems returns the item URLs of a sub-playlist in position order.
func (s *Source) PlaylistItems(ctx context.Context, url string) ([]string, error) {
	if items, ok := s.cache.GetPlaylist(ctx, url); ok {
		return items, nil
	}

	var rows []models.PlaylistItem
	if err := s.db.WithContext(ctx).
		Where("playlist_url = ?", url).
		Order("position ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query playlist %q: %w", url, err)
	}
	items := lo.Map(rows, func(r models.PlaylistItem, _ int) string { return r.ItemURL })

	if err := s.cache.SetPlaylist(ctx, url, items); err != nil {
		s.logger.Debug().Err(err).Str("url", url).Msg("failed to cache playlist")
	}
	return items, nil
}
