/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps resolved library records in Redis so the resolver and
// fill source skip the database on hot URLs.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyMedia    = "grimnir:cache:media:"    // + url
	keyPlaylist = "grimnir:cache:playlist:" // + playlist url
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MediaTTL    time.Duration
	MissingTTL  time.Duration // missing URLs are rechecked sooner
	PlaylistTTL time.Duration

	// Cooldown is how long lookups bypass Redis after a failed call.
	Cooldown time.Duration
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:   "localhost:6379",
		MediaTTL:    time.Hour,
		MissingTTL:  time.Minute,
		PlaylistTTL: 10 * time.Minute,
		Cooldown:    30 * time.Second,
	}
}

// Cache is a Redis read-through cache. Every failure degrades to a miss.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config
	now    func() time.Time

	mu      sync.Mutex
	retryAt time.Time
}

// New connects to Redis. An unreachable server yields a disabled cache
// rather than an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	logger = logger.With().Str("component", "cache").Logger()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return Disabled(logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return newCache(client, cfg, logger), nil
}

func newCache(client *redis.Client, cfg Config, logger zerolog.Logger) *Cache {
	return &Cache{client: client, logger: logger, config: cfg, now: time.Now}
}

// Disabled returns a cache that misses every lookup.
func Disabled(logger zerolog.Logger) *Cache {
	return newCache(nil, DefaultConfig(), logger.With().Str("component", "cache").Logger())
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable reports whether lookups currently reach Redis.
func (c *Cache) IsAvailable() bool {
	if c.client == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now().Before(c.retryAt)
}

// trip bypasses Redis for the configured cooldown.
func (c *Cache) trip(err error, op string) {
	c.mu.Lock()
	wasOpen := !c.now().Before(c.retryAt)
	c.retryAt = c.now().Add(c.config.Cooldown)
	c.mu.Unlock()
	if wasOpen {
		c.logger.Warn().Err(err).Str("operation", op).Dur("cooldown", c.config.Cooldown).Msg("cache bypassed after Redis error")
	}
}

func lookup[T any](ctx context.Context, c *Cache, kind, key string) (T, bool) {
	var out T
	if !c.IsAvailable() {
		telemetry.CacheRequestsTotal.WithLabelValues(kind, "disabled").Inc()
		return out, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		telemetry.CacheRequestsTotal.WithLabelValues(kind, "miss").Inc()
		return out, false
	case err != nil:
		c.trip(err, "get")
		telemetry.CacheRequestsTotal.WithLabelValues(kind, "error").Inc()
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		// stale layout from an older release; drop it
		_ = c.client.Del(ctx, key).Err()
		telemetry.CacheRequestsTotal.WithLabelValues(kind, "error").Inc()
		return out, false
	}
	telemetry.CacheRequestsTotal.WithLabelValues(kind, "hit").Inc()
	return out, true
}

func (c *Cache) store(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() || ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.trip(err, "set")
		return err
	}
	return nil
}

func (c *Cache) drop(ctx context.Context, keys ...string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.trip(err, "del")
		return err
	}
	return nil
}

// CachedMedia is the cached library record of one URL.
type CachedMedia struct {
	URL      string  `json:"url"`
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Artist   string  `json:"artist"`
	Duration float64 `json:"duration"`
	SegIn    float64 `json:"seg_in"`
	SegOut   float64 `json:"seg_out"`
	FadeOut  float64 `json:"fade_out"`
	Together string  `json:"together"`
	Missing  bool    `json:"missing"`
}

// GetMedia retrieves a cached media record by URL.
func (c *Cache) GetMedia(ctx context.Context, url string) (*CachedMedia, bool) {
	m, ok := lookup[CachedMedia](ctx, c, "media", keyMedia+url)
	if !ok {
		return nil, false
	}
	return &m, true
}

// SetMedia caches a media record.
func (c *Cache) SetMedia(ctx context.Context, m *CachedMedia) error {
	ttl := c.config.MediaTTL
	if m.Missing {
		ttl = c.config.MissingTTL
	}
	return c.store(ctx, keyMedia+m.URL, m, ttl)
}

// GetPlaylist retrieves the cached item URLs of a sub-playlist.
func (c *Cache) GetPlaylist(ctx context.Context, url string) ([]string, bool) {
	return lookup[[]string](ctx, c, "playlist", keyPlaylist+url)
}

// SetPlaylist caches the item URLs of a sub-playlist.
func (c *Cache) SetPlaylist(ctx context.Context, url string, items []string) error {
	return c.store(ctx, keyPlaylist+url, items, c.config.PlaylistTTL)
}

// Invalidate forgets everything cached for url. A URL can name both a media
// item and a playlist.
func (c *Cache) Invalidate(ctx context.Context, url string) error {
	return c.drop(ctx, keyMedia+url, keyPlaylist+url)
}

// Watch invalidates cached records when library change events arrive, until
// ctx is done.
func (c *Cache) Watch(ctx context.Context, bus events.SubscribePublisher) {
	updated := bus.Subscribe(events.EventMediaUpdated)
	deleted := bus.Subscribe(events.EventMediaDeleted)
	defer bus.Unsubscribe(events.EventMediaUpdated, updated)
	defer bus.Unsubscribe(events.EventMediaDeleted, deleted)

	for {
		var payload events.Payload
		var ok bool
		select {
		case <-ctx.Done():
			return
		case payload, ok = <-updated:
		case payload, ok = <-deleted:
		}
		if !ok {
			return
		}
		if url, _ := payload["url"].(string); url != "" {
			if err := c.Invalidate(ctx, url); err != nil {
				c.logger.Debug().Err(err).Str("url", url).Msg("cache invalidation failed")
			}
		}
	}
}
