/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/rs/zerolog"
)

// MemBank is an in-process player array. Positions only move when Advance
// is called, which makes it usable as a simulation clock.
type MemBank struct {
	store  metadata.Store
	logger zerolog.Logger

	mu    sync.Mutex
	slots []Slot
	dur   []float64
}

// NewMemBank creates a bank with n slots.
func NewMemBank(n int, store metadata.Store, logger zerolog.Logger) *MemBank {
	b := &MemBank{
		store:  store,
		logger: logger.With().Str("component", "membank").Logger(),
		slots:  make([]Slot, n),
		dur:    make([]float64, n),
	}
	for i := range b.slots {
		b.slots[i] = emptySlot(i)
	}
	return b
}

func emptySlot(i int) Slot {
	return Slot{Index: i, SegNext: NoSlot}
}

// Len returns the number of slots.
func (b *MemBank) Len() int {
	return len(b.slots)
}

// Snapshot copies a slot.
func (b *MemBank) Snapshot(slot int) (Slot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot < 0 || slot >= len(b.slots) {
		return Slot{}, false
	}
	return b.slots[slot], true
}

// Load places ref into the first free slot.
func (b *MemBank) Load(ctx context.Context, ref metadata.Ref, managed bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return NoSlot, err
	}
	item, err := metadata.Load(b.store, ref)
	if err != nil {
		b.logger.Debug().Err(err).Uint32("ref", uint32(ref)).Msg("malformed metadata on load")
	}
	if !item.EffectiveType().Playable() {
		return NoSlot, fmt.Errorf("load %q: %w", item.URL, ErrItemMissing)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.slots {
		if b.slots[i].Ref != 0 {
			continue
		}
		b.store.Retain(ref)
		b.slots[i] = Slot{
			Index:   i,
			Ref:     ref,
			Status:  StatusStandby,
			SegNext: NoSlot,
			Managed: managed,
			Changed: ChangeLoad | ChangeStatus,
		}
		b.dur[i] = item.Duration
		return i, nil
	}
	return NoSlot, ErrNoFreeSlot
}

// Unload frees a slot and drops its metadata hold.
func (b *MemBank) Unload(slot int) error {
	b.mu.Lock()
	if slot < 0 || slot >= len(b.slots) {
		b.mu.Unlock()
		return ErrNoSuchSlot
	}
	ref := b.slots[slot].Ref
	b.slots[slot] = emptySlot(slot)
	b.dur[slot] = 0
	for i := range b.slots {
		if b.slots[i].SegNext == slot {
			b.slots[i].SegNext = NoSlot
		}
	}
	b.mu.Unlock()

	if ref != 0 {
		b.store.Release(ref)
	}
	return nil
}

// Play starts a standing-by slot.
func (b *MemBank) Play(slot int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playLocked(slot)
}

func (b *MemBank) playLocked(slot int) error {
	if slot < 0 || slot >= len(b.slots) || b.slots[slot].Ref == 0 {
		return ErrNoSuchSlot
	}
	s := &b.slots[slot]
	if s.Status.Has(StatusPlaying) {
		return nil
	}
	s.Status = (s.Status &^ StatusStandby) | StatusPlaying | StatusHasPlayed
	s.Changed |= ChangeStatus
	return nil
}

// SetSegue writes a segue hookup onto slot.
func (b *MemBank) SetSegue(slot int, sg Segue) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot < 0 || slot >= len(b.slots) || b.slots[slot].Ref == 0 {
		return ErrNoSuchSlot
	}
	s := &b.slots[slot]
	s.SegNext = sg.Next
	s.PosSeg = sg.PosSeg
	s.FadePos = sg.FadePos
	s.FadeTime = sg.FadeTime
	s.SegLevel = sg.SegLevel
	s.SegRev = sg.Revision
	s.Changed |= ChangeSegue
	return nil
}

// ClearSegue removes any segue hookup from slot.
func (b *MemBank) ClearSegue(slot int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot < 0 || slot >= len(b.slots) {
		return ErrNoSuchSlot
	}
	s := &b.slots[slot]
	s.SegNext = NoSlot
	s.PosSeg, s.FadePos, s.FadeTime, s.SegLevel, s.SegRev = 0, 0, 0, 0, 0
	s.Changed |= ChangeSegue
	return nil
}

// Advance moves every playing slot dt seconds forward, firing segues and
// finishing items that reach their duration.
func (b *MemBank) Advance(dt float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var segues []int
	for i := range b.slots {
		s := &b.slots[i]
		if !s.Status.Has(StatusPlaying) {
			continue
		}
		s.Pos += dt
		if s.SegNext != NoSlot && (s.FadeTime < 0 || (s.PosSeg > 0 && s.Pos >= s.PosSeg)) {
			segues = append(segues, i)
			continue
		}
		if b.dur[i] > 0 && s.Pos >= b.dur[i] {
			s.Status = (s.Status &^ StatusPlaying) | StatusFinished
			s.Changed |= ChangeStatus
		}
	}

	for _, i := range segues {
		s := &b.slots[i]
		next := s.SegNext
		s.Status = (s.Status &^ StatusPlaying) | StatusFinished
		s.SegNext = NoSlot
		s.Changed |= ChangeStatus
		if next >= 0 && next < len(b.slots) && b.slots[next].Status.Has(StatusStandby) {
			_ = b.playLocked(next)
		}
	}
}

// Acknowledge clears the change flags of a slot.
func (b *MemBank) Acknowledge(slot int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot >= 0 && slot < len(b.slots) {
		b.slots[slot].Changed = 0
		b.slots[slot].Requested = 0
	}
}
