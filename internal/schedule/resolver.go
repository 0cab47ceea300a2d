/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/friendsincode/grimnir_automation/internal/cache"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Built-in URLs that resolve without a library lookup.
const (
	StopURL    = "stop"
	TaskPrefix = "task:"
)

// Resolver fills metadata records from the media library.
type Resolver struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewResolver creates a library resolver. A nil cache disables caching.
func NewResolver(db *gorm.DB, c *cache.Cache, logger zerolog.Logger) *Resolver {
	if c == nil {
		c = cache.Disabled(logger)
	}
	return &Resolver{
		db:     db,
		cache:  c,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve sets the library properties of ref from its URL. Unknown URLs are
// marked Missing; only storage failures return an error.
func (r *Resolver) Resolve(ctx context.Context, store metadata.Store, ref metadata.Ref) error {
	url, _ := store.Get(ref, metadata.KeyURL)

	switch {
	case url == StopURL:
		store.Set(ref, metadata.KeyType, string(metadata.TypeStop))
		return nil
	case strings.HasPrefix(url, TaskPrefix):
		store.Set(ref, metadata.KeyType, string(metadata.TypeTask))
		store.Set(ref, metadata.KeyName, strings.TrimSpace(strings.TrimPrefix(url, TaskPrefix)))
		return nil
	}

	m, err := r.lookup(ctx, url)
	if err != nil {
		return err
	}
	if m == nil || m.Missing {
		r.logger.Info().Str("url", url).Msg("item not in library, marking missing")
		store.Set(ref, metadata.KeyMissing, "1")
		return nil
	}

	store.Set(ref, metadata.KeyType, strings.ToLower(m.Type))
	if m.Name != "" {
		store.Set(ref, metadata.KeyName, m.Name)
	}
	if m.Artist != "" {
		store.Set(ref, metadata.KeyArtist, m.Artist)
	}
	if m.Together != "" {
		store.Set(ref, metadata.KeyTogether, m.Together)
	}
	for key, v := range map[string]float64{
		metadata.KeyDuration: m.Duration,
		metadata.KeySegIn:    m.SegIn,
		metadata.KeySegOut:   m.SegOut,
		metadata.KeyFadeOut:  m.FadeOut,
	} {
		if v > 0 {
			metadata.SetFloat(store, ref, key, v)
		}
	}
	return nil
}

// lookup returns the library record of url, nil when unknown.
func (r *Resolver) lookup(ctx context.Context, url string) (*cache.CachedMedia, error) {
	if m, ok := r.cache.GetMedia(ctx, url); ok {
		return m, nil
	}

	var item models.MediaItem
	err := r.db.WithContext(ctx).Where("url = ?", url).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query media %q: %w", url, err)
	}

	m := &cache.CachedMedia{
		URL:      item.URL,
		Type:     item.Type,
		Name:     item.Name,
		Artist:   item.Artist,
		Duration: item.Duration,
		SegIn:    item.SegIn,
		SegOut:   item.SegOut,
		FadeOut:  item.FadeOut,
		Together: item.Together,
		Missing:  item.Missing,
	}
	if err := r.cache.SetMedia(ctx, m); err != nil {
		r.logger.Debug().Err(err).Str("url", url).Msg("failed to cache media")
	}
	return m, nil
}
