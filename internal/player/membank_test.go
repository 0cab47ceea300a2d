/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"errors"
	"testing"

	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/rs/zerolog"
)

func newItem(s *metadata.MemStore, url, typ string, dur float64) metadata.Ref {
	ref := s.Create(url)
	s.Set(ref, metadata.KeyType, typ)
	metadata.SetFloat(s, ref, metadata.KeyDuration, dur)
	return ref
}

func TestMemBankLoadRejectsUnplayable(t *testing.T) {
	store := metadata.NewMemStore()
	bank := NewMemBank(2, store, zerolog.Nop())

	tests := []struct {
		name string
		typ  string
	}{
		{"stop sentinel", "stop"},
		{"playlist", "playlist"},
		{"untyped", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := newItem(store, tt.name, tt.typ, 10)
			if _, err := bank.Load(context.Background(), ref, true); !errors.Is(err, ErrItemMissing) {
				t.Fatalf("err = %v, want ErrItemMissing", err)
			}
		})
	}
}

func TestMemBankLoadFillsSlotsThenReportsFull(t *testing.T) {
	store := metadata.NewMemStore()
	bank := NewMemBank(1, store, zerolog.Nop())

	a := newItem(store, "a", "file", 10)
	slot, err := bank.Load(context.Background(), a, true)
	if err != nil || slot != 0 {
		t.Fatalf("load a: slot=%d err=%v", slot, err)
	}
	if store.Holders(a) != 2 {
		t.Fatalf("bank should hold the record, holders=%d", store.Holders(a))
	}

	b := newItem(store, "b", "file", 10)
	if _, err := bank.Load(context.Background(), b, true); !errors.Is(err, ErrNoFreeSlot) {
		t.Fatalf("err = %v, want ErrNoFreeSlot", err)
	}

	if err := bank.Unload(slot); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if store.Holders(a) != 1 {
		t.Fatalf("unload should release the record, holders=%d", store.Holders(a))
	}
}

func TestMemBankAdvanceFiresSegue(t *testing.T) {
	store := metadata.NewMemStore()
	bank := NewMemBank(2, store, zerolog.Nop())
	ctx := context.Background()

	cur, _ := bank.Load(ctx, newItem(store, "a", "file", 30), true)
	next, _ := bank.Load(ctx, newItem(store, "b", "file", 30), true)
	if err := bank.Play(cur); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := bank.SetSegue(cur, Segue{Next: next, PosSeg: 25}); err != nil {
		t.Fatalf("set segue: %v", err)
	}

	bank.Advance(20)
	s, _ := bank.Snapshot(next)
	if s.Status.Has(StatusPlaying) {
		t.Fatal("successor started before segue position")
	}

	bank.Advance(6)
	s, _ = bank.Snapshot(next)
	if !s.Status.Has(StatusPlaying) {
		t.Fatalf("successor status = %v, want playing", s.Status)
	}
	c, _ := bank.Snapshot(cur)
	if !c.Status.Has(StatusFinished) || c.Status.Has(StatusPlaying) {
		t.Fatalf("outgoing status = %v, want finished", c.Status)
	}
}

func TestMemBankAdvanceFinishesAtDuration(t *testing.T) {
	store := metadata.NewMemStore()
	bank := NewMemBank(1, store, zerolog.Nop())
	slot, _ := bank.Load(context.Background(), newItem(store, "a", "stream", 5), false)
	_ = bank.Play(slot)
	bank.Advance(5)

	s, _ := bank.Snapshot(slot)
	if !s.Status.Has(StatusFinished | StatusHasPlayed) {
		t.Fatalf("status = %v, want finished|hasPlayed", s.Status)
	}
	if s.Managed {
		t.Fatal("manual load reported as managed")
	}
}
