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

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/friendsincode/grimnir_automation/internal/queue"
	"github.com/rs/zerolog"
)

type fakeFill struct {
	candidate string
	err       error
	playlists map[string][]string
	asked     []time.Time
}

func (f *fakeFill) FillCandidate(_ context.Context, at time.Time) (string, error) {
	f.asked = append(f.asked, at)
	return f.candidate, f.err
}

func (f *fakeFill) PlaylistItems(_ context.Context, url string) ([]string, error) {
	return f.playlists[url], nil
}

func TestAdvanceCursor(t *testing.T) {
	tests := []struct {
		pos, n, want int
	}{
		{0, 3, 1},
		{1, 3, 2},
		{2, 3, 1},
		{0, 2, 1},
		{1, 2, 1},
		{0, 1, 0},
	}
	for _, tt := range tests {
		if got := advanceCursor(tt.pos, tt.n); got != tt.want {
			t.Errorf("advanceCursor(%d, %d) = %d, want %d", tt.pos, tt.n, got, tt.want)
		}
	}
}

func TestFillerWalksPlaylistCursor(t *testing.T) {
	f := newManagerFixture(t, 4, catalog{
		"playlist:rock": {metadata.KeyType: "playlist"},
		"a":             song(180),
		"b":             song(200),
		"c":             song(220),
	})
	src := &fakeFill{
		candidate: "playlist:rock",
		playlists: map[string][]string{"playlist:rock": {"a", "b", "c"}},
	}
	filler := NewFiller(f.q, src, f.store, f.cat, nil, nil, zerolog.Nop())
	filler.clock = f.clock
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := filler.Fill(ctx); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
	}

	want := []string{"a", "b", "c", "b"}
	got := f.urls()
	if len(got) != len(want) {
		t.Fatalf("queued %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queued %v, want %v", got, want)
		}
	}

	item := f.item(0)
	if item.FillTime != queue.Seconds(f.now) {
		t.Fatalf("FillTime = %v, want %v", item.FillTime, queue.Seconds(f.now))
	}
	if f.store.Len() != 4 {
		t.Fatalf("store holds %d records, scratch records leaked", f.store.Len())
	}
}

func TestFillerDBCursor(t *testing.T) {
	db := openTestDB(t, &models.FillCursor{})
	cursors := NewDBCursors(db)
	ctx := context.Background()

	pos, err := cursors.Cursor(ctx, "playlist:jazz")
	if err != nil || pos != 0 {
		t.Fatalf("fresh cursor = %d, %v", pos, err)
	}
	for _, p := range []int{1, 2} {
		if err := cursors.SetCursor(ctx, "playlist:jazz", p); err != nil {
			t.Fatalf("set cursor: %v", err)
		}
	}
	pos, err = cursors.Cursor(ctx, "playlist:jazz")
	if err != nil || pos != 2 {
		t.Fatalf("cursor = %d, %v, want 2", pos, err)
	}
}

func TestFillerSkipsWhenFull(t *testing.T) {
	f := newManagerFixture(t, 4, catalog{"a": song(60)})
	policy := config.DefaultPolicy()
	policy.FillThreshold = 1
	src := &fakeFill{candidate: "a"}
	filler := NewFiller(f.q, src, f.store, f.cat, nil, config.StaticPolicy(policy), zerolog.Nop())
	ctx := context.Background()

	if id, err := filler.Fill(ctx); err != nil || id == "" {
		t.Fatalf("first fill = %q, %v", id, err)
	}
	if id, err := filler.Fill(ctx); err != nil || id != "" {
		t.Fatalf("fill above threshold = %q, %v", id, err)
	}
	if len(src.asked) != 1 {
		t.Fatalf("source asked %d times, want 1", len(src.asked))
	}
}

func TestFillerErrors(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeFill
		want error
	}{
		{"no candidate", &fakeFill{err: errors.New("no rule")}, nil},
		{"empty playlist", &fakeFill{candidate: "playlist:empty"}, ErrEmptyPlaylist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t, 2, catalog{"playlist:empty": {metadata.KeyType: "playlist"}})
			filler := NewFiller(f.q, tt.src, f.store, f.cat, nil, nil, zerolog.Nop())
			_, err := filler.Fill(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if f.q.Count() != 0 {
				t.Fatal("failed fill queued something")
			}
		})
	}
}

func TestFillerPicksBehindEstimatedTail(t *testing.T) {
	f := newManagerFixture(t, 4, catalog{"a": song(180), "b": song(200), "c": song(220), "d": song(60)})
	f.add("a")
	f.add("b")
	f.q.UpdateEndTimes(f.nowSec(), false)
	// not yet estimated
	f.add("c")

	src := &fakeFill{candidate: "d"}
	filler := NewFiller(f.q, src, f.store, f.cat, nil, nil, zerolog.Nop())
	filler.clock = f.clock
	if _, err := filler.Fill(context.Background()); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if len(src.asked) != 1 {
		t.Fatalf("asked %d times", len(src.asked))
	}
	if want := f.now.Add(380 * time.Second); !src.asked[0].Equal(want) {
		t.Fatalf("fill picked for %v, want %v", src.asked[0], want)
	}
}
