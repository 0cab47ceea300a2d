/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"sync/atomic"

	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/player"
	"github.com/google/uuid"
)

// Entry is one queue position. Fields other than ID and Ref are guarded by
// the queue lock.
type Entry struct {
	ID  string
	Ref metadata.Ref

	slot      int
	status    player.Status // used while no slot is attached
	start     float64
	end       float64
	terr      float64
	expanding bool

	holders atomic.Int32
}

func newEntry(ref metadata.Ref) *Entry {
	e := &Entry{
		ID:   uuid.NewString(),
		Ref:  ref,
		slot: player.NoSlot,
	}
	e.holders.Store(1)
	return e
}

// Holders returns the number of outstanding holds.
func (e *Entry) Holders() int {
	return int(e.holders.Load())
}

// EntryInfo is a read-only listing row.
type EntryInfo struct {
	ID          string            `json:"id"`
	Ref         metadata.Ref      `json:"ref"`
	URL         string            `json:"url"`
	Name        string            `json:"name,omitempty"`
	Artist      string            `json:"artist,omitempty"`
	Type        metadata.ItemType `json:"type"`
	Duration    float64           `json:"duration"`
	Priority    int               `json:"priority,omitempty"`
	TargetTime  float64           `json:"target_time,omitempty"`
	Slot        int               `json:"slot"`
	Status      string            `json:"status"`
	Start       float64           `json:"start"`
	End         float64           `json:"end"`
	TargetError float64           `json:"target_error,omitempty"`
}
