/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player is the boundary to the real-time player bank that the
// scheduler loads items into.
package player

import (
	"context"
	"errors"

	"github.com/friendsincode/grimnir_automation/internal/metadata"
)

var (
	// ErrNoFreeSlot is transient: the load is retried on the next pass.
	ErrNoFreeSlot = errors.New("no free player slot")
	// ErrItemMissing means the item can never be loaded.
	ErrItemMissing = errors.New("item missing")
	ErrNoSuchSlot  = errors.New("no such player slot")
)

// NoSlot marks an entry or segue without a player slot.
const NoSlot = -1

// Status is the per-slot status bit field.
type Status uint32

const (
	StatusStandby Status = 1 << iota
	StatusPlaying
	StatusHasPlayed
	StatusFinished
	StatusCueing
	StatusRemove
	StatusLoading
)

// Has reports whether every bit of f is set.
func (s Status) Has(f Status) bool {
	return s&f == f
}

func (s Status) String() string {
	names := []struct {
		bit  Status
		name string
	}{
		{StatusStandby, "standby"},
		{StatusPlaying, "playing"},
		{StatusHasPlayed, "hasPlayed"},
		{StatusFinished, "finished"},
		{StatusCueing, "cueing"},
		{StatusRemove, "remove"},
		{StatusLoading, "loading"},
	}
	out := ""
	for _, n := range names {
		if s&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// Change flags raised on a slot for the mixer.
const (
	ChangeStatus uint32 = 1 << iota
	ChangeSegue
	ChangeLoad
)

// Slot is a point-in-time copy of one player slot.
type Slot struct {
	Index     int
	Ref       metadata.Ref
	Status    Status
	Pos       float64 // seconds played
	Busses    uint32
	SegNext   int // successor slot, NoSlot when unset
	PosSeg    float64
	FadePos   float64
	FadeTime  float64
	SegLevel  float64
	SegRev    uint32 // item revision the segue was computed for
	Managed   bool
	Requested uint32
	Changed   uint32
}

// Loaded reports whether the slot holds an item.
func (s Slot) Loaded() bool {
	return s.Ref != 0
}

// Segue is the crossfade hookup written onto the outgoing slot.
type Segue struct {
	Next     int
	PosSeg   float64
	FadePos  float64 // zero when no explicit fade trigger
	FadeTime float64 // negative means segue immediately
	SegLevel float64 // zero disables level based segue
	Revision uint32
}

// Bank is the contract of the player array. Snapshots are best effort and
// never coupled to the queue lock.
type Bank interface {
	Snapshot(slot int) (Slot, bool)
	Load(ctx context.Context, ref metadata.Ref, managed bool) (int, error)
	Unload(slot int) error
	Play(slot int) error
	SetSegue(slot int, s Segue) error
	ClearSegue(slot int) error
	Len() int
}
