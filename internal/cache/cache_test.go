/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestDisabledCacheMissesAndAcceptsWrites(t *testing.T) {
	c := Disabled(zerolog.Nop())
	ctx := context.Background()

	if c.IsAvailable() {
		t.Fatal("disabled cache reports available")
	}
	if err := c.SetMedia(ctx, &CachedMedia{URL: "file:///a.flac", Duration: 10}); err != nil {
		t.Fatalf("set on disabled cache: %v", err)
	}
	if _, ok := c.GetMedia(ctx, "file:///a.flac"); ok {
		t.Fatal("disabled cache returned a hit")
	}
	if _, ok := c.GetPlaylist(ctx, "pl"); ok {
		t.Fatal("disabled cache returned a playlist")
	}
	if err := c.Invalidate(ctx, "file:///a.flac"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestCooldownAfterRedisError(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	cfg := DefaultConfig()
	cfg.Cooldown = 10 * time.Second
	c := newCache(client, cfg, zerolog.Nop())
	c.now = func() time.Time { return now }
	defer c.Close()

	if !c.IsAvailable() {
		t.Fatal("fresh cache unavailable")
	}
	if _, ok := c.GetMedia(context.Background(), "file:///a.flac"); ok {
		t.Fatal("hit from unreachable Redis")
	}
	if c.IsAvailable() {
		t.Fatal("cache still available after error")
	}

	now = now.Add(9 * time.Second)
	if c.IsAvailable() {
		t.Fatal("cooldown ended early")
	}
	now = now.Add(time.Second)
	if !c.IsAvailable() {
		t.Fatal("cache not retried after cooldown")
	}
}

func TestWatchStopsWithContext(t *testing.T) {
	c := Disabled(zerolog.Nop())
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Watch(ctx, bus)
		close(done)
	}()
	bus.Publish(events.EventMediaUpdated, events.Payload{"url": "file:///a.flac"})
	bus.Publish(events.EventMediaDeleted, events.Payload{})
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
