/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/friendsincode/grimnir_automation/internal/queue"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEmptyPlaylist is returned when a fill playlist has no items.
var ErrEmptyPlaylist = errors.New("fill playlist is empty")

// FillSource proposes filler content.
type FillSource interface {
	FillCandidate(ctx context.Context, at time.Time) (string, error)
	PlaylistItems(ctx context.Context, url string) ([]string, error)
}

// CursorStore keeps the next position per fill playlist.
type CursorStore interface {
	Cursor(ctx context.Context, playlistURL string) (int, error)
	SetCursor(ctx context.Context, playlistURL string, position int) error
}

// MemCursors is an in-memory CursorStore.
type MemCursors struct {
	mu  sync.Mutex
	pos map[string]int
}

// NewMemCursors creates an empty cursor store.
func NewMemCursors() *MemCursors {
	return &MemCursors{pos: make(map[string]int)}
}

func (c *MemCursors) Cursor(_ context.Context, url string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos[url], nil
}

func (c *MemCursors) SetCursor(_ context.Context, url string, position int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos[url] = position
	return nil
}

// DBCursors persists cursors in the fill_cursors table.
type DBCursors struct {
	db *gorm.DB
}

// NewDBCursors creates a gorm-backed cursor store.
func NewDBCursors(db *gorm.DB) *DBCursors {
	return &DBCursors{db: db}
}

func (c *DBCursors) Cursor(ctx context.Context, url string) (int, error) {
	var row models.FillCursor
	err := c.db.WithContext(ctx).Where("playlist_url = ?", url).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query fill cursor: %w", err)
	}
	return row.Position, nil
}

func (c *DBCursors) SetCursor(ctx context.Context, url string, position int) error {
	row := models.FillCursor{PlaylistURL: url, Position: position, UpdatedAt: time.Now()}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "playlist_url"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save fill cursor: %w", err)
	}
	return nil
}

// advanceCursor returns the position after pos in a list of n items. On
// exhaustion it wraps to 1, or 0 for a single-item list.
func advanceCursor(pos, n int) int {
	pos++
	if pos >= n {
		pos = 1
		if pos >= n {
			pos = 0
		}
	}
	return pos
}

// Filler keeps the queue topped up with fill content.
type Filler struct {
	q        *queue.Queue
	src      FillSource
	store    metadata.Store
	resolver queue.Resolver
	cursors  CursorStore
	policy   config.PolicySource
	logger   zerolog.Logger
	clock    func() time.Time

	mu sync.Mutex
}

// NewFiller creates a filler. store and resolver classify candidates; a nil
// cursor store keeps cursors in memory.
func NewFiller(q *queue.Queue, src FillSource, store metadata.Store, resolver queue.Resolver, cursors CursorStore, policy config.PolicySource, logger zerolog.Logger) *Filler {
	if cursors == nil {
		cursors = NewMemCursors()
	}
	if policy == nil {
		policy = config.StaticPolicy(config.DefaultPolicy())
	}
	return &Filler{
		q:        q,
		src:      src,
		store:    store,
		resolver: resolver,
		cursors:  cursors,
		policy:   policy,
		logger:   logger.With().Str("component", "filler").Logger(),
		clock:    time.Now,
	}
}

// Fill appends one fill item stamped with the time it was picked for. It
// returns the new entry id, or "" when the queue is already full enough.
func (f *Filler) Fill(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.q.Count() >= f.policy.Current().FillThreshold {
		return "", nil
	}

	now := f.clock()
	at := now
	if end := f.q.EndTime(); end > queue.Seconds(now) {
		at = time.Unix(0, int64(end*float64(time.Second)))
	}

	url, err := f.src.FillCandidate(ctx, at)
	if err != nil {
		return "", fmt.Errorf("fill candidate: %w", err)
	}

	typ, err := f.classify(ctx, url)
	if err != nil {
		return "", err
	}
	if typ == metadata.TypePlaylist {
		url, err = f.nextFromPlaylist(ctx, url)
		if err != nil {
			return "", err
		}
	}

	id, err := f.q.AddWith(ctx, -1, url, map[string]string{
		metadata.KeyFillTime: metadata.FormatFloat(queue.Seconds(at)),
	})
	if err != nil {
		return "", fmt.Errorf("queue fill item %q: %w", url, err)
	}
	telemetry.FillInsertsTotal.WithLabelValues("fill").Inc()
	f.logger.Debug().Str("url", url).Str("id", id).Time("at", at).Msg("fill item queued")
	return id, nil
}

func (f *Filler) classify(ctx context.Context, url string) (metadata.ItemType, error) {
	ref := f.store.Create(url)
	defer f.store.Release(ref)
	if err := f.resolver.Resolve(ctx, f.store, ref); err != nil {
		return "", fmt.Errorf("resolve fill candidate %q: %w", url, err)
	}
	item, _ := metadata.Load(f.store, ref)
	return item.EffectiveType(), nil
}

func (f *Filler) nextFromPlaylist(ctx context.Context, playlist string) (string, error) {
	items, err := f.src.PlaylistItems(ctx, playlist)
	if err != nil {
		return "", fmt.Errorf("fill playlist %q: %w", playlist, err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("%q: %w", playlist, ErrEmptyPlaylist)
	}
	pos, err := f.cursors.Cursor(ctx, playlist)
	if err != nil {
		return "", err
	}
	if pos < 0 || pos >= len(items) {
		pos = 0
	}
	if err := f.cursors.SetCursor(ctx, playlist, advanceCursor(pos, len(items))); err != nil {
		f.logger.Warn().Err(err).Str("playlist", playlist).Msg("failed to store fill cursor")
	}
	return items[pos], nil
}
