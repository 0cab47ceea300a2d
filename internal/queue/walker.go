/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/player"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
)

// PassOptions controls one scheduling pass.
type PassOptions struct {
	Now     time.Time // zero means the queue clock
	Running bool      // the list is running, segues are hooked up
	Sort    bool      // reorder groups and drop stale items
}

// PassResult summarises what a pass did.
type PassResult struct {
	Halted   bool // a stop sentinel reached the head
	Playing  bool
	Loaded   int
	Deleted  int
	Expanded int
	Segues   int
	Swaps    int
	Revision uint64
	EndTime  float64
}

type actionKind int

const (
	actLoad actionKind = iota
	actDelete
	actExpand
	actPlayed
	actSegue
	actClearSegue
	actSwap
)

func (k actionKind) String() string {
	switch k {
	case actLoad:
		return "load"
	case actDelete:
		return "delete"
	case actExpand:
		return "expand"
	case actPlayed:
		return "played"
	case actSegue:
		return "segue"
	case actClearSegue:
		return "clear_segue"
	case actSwap:
		return "swap"
	}
	return "unknown"
}

type action struct {
	kind  actionKind
	entry *Entry
	other *Entry
	item  metadata.Item
	slot  int
	segue player.Segue
}

type plan struct {
	actions []action
	halted  bool
	playing bool
}

func (p *plan) add(a action) {
	p.actions = append(p.actions, a)
}

// Pass recomputes times and decides, under the exclusive lock, what to
// load, delete, expand, segue or swap. The decisions are applied after the
// lock is released; structural edits re-take it briefly.
func (q *Queue) Pass(ctx context.Context, opts PassOptions) PassResult {
	ctx, span := telemetry.StartSpan(ctx, "queue", "queue.pass")
	defer span.End()

	now := opts.Now
	if now.IsZero() {
		now = q.clock()
	}
	nowSec := Seconds(now)
	policy := q.policy.Current()

	q.mu.Lock()
	rev := q.revision
	views := q.buildViewsLocked()
	views, swaps := q.updateEndTimesLocked(views, nowSec, opts.Sort, policy)
	p := q.planLocked(views, nowSec, opts.Running, policy)
	for _, a := range p.actions {
		a.entry.holders.Add(1)
		if a.other != nil {
			a.other.holders.Add(1)
		}
	}
	changed := q.revision != rev
	newRev := q.revision
	q.mu.Unlock()

	if changed {
		q.published(newRev)
	}

	res := q.apply(ctx, p)
	for _, a := range p.actions {
		q.Release(a.entry)
		if a.other != nil {
			q.Release(a.other)
		}
	}

	res.Halted = p.halted
	res.Playing = p.playing
	res.Swaps += swaps
	res.Revision = q.Revision()
	res.EndTime = q.EndTime()

	telemetry.AddSpanAttributes(span, map[string]any{
		"queue.length":  len(views),
		"queue.loaded":  res.Loaded,
		"queue.deleted": res.Deleted,
		"queue.swaps":   res.Swaps,
		"queue.running": opts.Running,
	})
	return res
}

// planLocked walks the snapshot forward for load and retire decisions and
// backward for segue hookups and dead-air swaps.
func (q *Queue) planLocked(views []view, now float64, running bool, policy config.Policy) plan {
	var p plan
	n := len(views)
	if n == 0 {
		return p
	}

	if running {
		for i := 0; i < n && i < 2; i++ {
			if views[i].item.EffectiveType() == metadata.TypeStop {
				p.halted = true
				p.add(action{kind: actDelete, entry: views[i].e})
				return p
			}
		}
	}

	skip := make([]bool, n)
	buffered := 0.0
	standby := 0
	last := n - 1

forward:
	for i := 0; i < n; i++ {
		v := &views[i]
		typ := v.item.EffectiveType()

		if i+1 < n && !v.playing() {
			nv := &views[i+1]
			if nv.hasSlot && nv.playing() && !nv.status.Has(player.StatusCueing) && !nv.slot.Managed {
				p.add(action{kind: actDelete, entry: v.e})
				skip[i] = true
				continue
			}
		}

		if !v.hasSlot {
			if v.status.Has(player.StatusHasPlayed | player.StatusFinished) {
				p.add(action{kind: actDelete, entry: v.e})
				skip[i] = true
				continue
			}
			if typ == metadata.TypeTask {
				continue
			}
			force := v.item.Priority > 9 && v.item.HasTarget() && standby > 0
			if !force && buffered >= policy.StandbyBuffer {
				continue
			}
			switch typ {
			case metadata.TypeStop, metadata.TypeEmpty:
				continue
			case metadata.TypePlaylist:
				if !v.e.expanding {
					v.e.expanding = true
					p.add(action{kind: actExpand, entry: v.e, item: v.item})
				}
				continue
			case metadata.TypeMissing:
				p.add(action{kind: actDelete, entry: v.e})
				skip[i] = true
				continue
			}
			p.add(action{kind: actLoad, entry: v.e, item: v.item})
			last = i
			break forward
		}

		if v.played() && (v.status.Has(player.StatusFinished) || v.item.Duration == 0) && !v.playing() {
			p.add(action{kind: actDelete, entry: v.e})
			skip[i] = true
			continue
		}
		if v.playing() {
			p.playing = true
			if v.item.LogID != 0 {
				p.add(action{kind: actPlayed, entry: v.e, item: v.item})
			}
		}
		if !v.played() {
			buffered += v.item.SegOutOrDuration()
			if v.status.Has(player.StatusStandby) {
				standby++
			}
		}
	}

	var next *view
	for i := last; i >= 0; i-- {
		v := &views[i]
		if skip[i] {
			continue
		}
		if !v.hasSlot && v.item.EffectiveType() == metadata.TypeTask {
			continue
		}
		if v.hasSlot {
			planSegue(&p, v, next, running, policy)
			if running && v.playing() {
				planDeadAirSwap(&p, views, i, skip, now, policy)
			}
		}
		next = v
	}
	return p
}

// planSegue hooks cur up to its successor, or clears a hookup that no
// longer applies.
func planSegue(p *plan, cur, next *view, running bool, policy config.Policy) {
	hooked := cur.slot.SegNext != player.NoSlot
	if !running || next == nil || !next.hasSlot {
		if hooked {
			p.add(action{kind: actClearSegue, entry: cur.e, slot: cur.slot.Index})
		}
		return
	}
	if !next.status.Has(player.StatusStandby) || next.playing() {
		return
	}
	forced := forcedExact(cur.item, next.item)
	stale := cur.slot.SegNext != next.slot.Index || cur.slot.SegRev != cur.item.Revision
	if !forced && !stale {
		return
	}
	p.add(action{
		kind:  actSegue,
		entry: cur.e,
		slot:  cur.slot.Index,
		segue: computeSegue(cur, next, policy),
	})
}

// planDeadAirSwap pulls a loaded item ahead of an unloaded one when the
// playing item is about to run out.
func planDeadAirSwap(p *plan, views []view, i int, skip []bool, now float64, policy config.Policy) {
	if views[i].e.end-now >= policy.LeadTime || i+2 >= len(views) {
		return
	}
	a, b := &views[i+1], &views[i+2]
	if skip[i+1] || skip[i+2] {
		return
	}
	if a.hasSlot || a.item.EffectiveType() == metadata.TypeStop {
		return
	}
	if !b.hasSlot || !b.slot.Managed || !b.status.Has(player.StatusStandby) || b.playing() {
		return
	}
	p.add(action{kind: actSwap, entry: a.e, other: b.e})
}

func (q *Queue) apply(ctx context.Context, p plan) PassResult {
	var res PassResult
	for _, a := range p.actions {
		switch a.kind {
		case actLoad:
			slot, err := q.bank.Load(ctx, a.entry.Ref, true)
			switch {
			case err == nil:
				if q.attach(a.entry, slot) {
					res.Loaded++
				} else if uerr := q.bank.Unload(slot); uerr != nil {
					q.logger.Debug().Err(uerr).Int("slot", slot).Msg("unload of orphaned load")
				}
			case errors.Is(err, player.ErrItemMissing):
				q.logger.Warn().Err(err).Str("id", a.entry.ID).Str("url", a.item.URL).Msg("dropping unplayable item")
				telemetry.QueueLoadFailuresTotal.WithLabelValues("missing").Inc()
				if q.Delete(a.entry.ID, false) {
					res.Deleted++
				}
			default:
				q.logger.Debug().Err(err).Str("id", a.entry.ID).Msg("load deferred to next pass")
				telemetry.QueueLoadFailuresTotal.WithLabelValues("unavailable").Inc()
			}
		case actDelete:
			if q.Delete(a.entry.ID, false) {
				res.Deleted++
			}
		case actExpand:
			q.hooks.ExpandPlaylist(a.entry, a.item)
			res.Expanded++
		case actPlayed:
			q.store.Delete(a.item.Ref, metadata.KeyLogID)
			q.hooks.ItemPlayed(a.entry, a.item)
		case actSegue:
			if err := q.bank.SetSegue(a.slot, a.segue); err != nil {
				q.logger.Debug().Err(err).Int("slot", a.slot).Msg("segue hookup failed")
				continue
			}
			res.Segues++
		case actClearSegue:
			if err := q.bank.ClearSegue(a.slot); err != nil {
				q.logger.Debug().Err(err).Int("slot", a.slot).Msg("segue clear failed")
				continue
			}
		case actSwap:
			if q.swapAdjacent(a.entry, a.other) {
				res.Swaps++
			}
		}
		telemetry.QueueActionsTotal.WithLabelValues(a.kind.String()).Inc()
	}
	return res
}

// attach binds a freshly loaded slot to e if e is still queued and unloaded.
func (q *Queue) attach(e *Entry, slot int) bool {
	q.mu.Lock()
	if q.indexOfLocked(e) < 0 || e.slot != player.NoSlot {
		q.mu.Unlock()
		return false
	}
	e.slot = slot
	rev := q.bumpLocked()
	q.mu.Unlock()

	q.published(rev)
	return true
}

// swapAdjacent exchanges a and b if b still directly follows a and a is
// still unloaded.
func (q *Queue) swapAdjacent(a, b *Entry) bool {
	q.mu.Lock()
	ia := q.indexOfLocked(a)
	if ia < 0 || ia+1 >= len(q.entries) || q.entries[ia+1] != b || a.slot != player.NoSlot {
		q.mu.Unlock()
		return false
	}
	q.entries[ia], q.entries[ia+1] = b, a
	rev := q.bumpLocked()
	q.mu.Unlock()

	q.logger.Info().Str("loaded", b.ID).Str("unloaded", a.ID).Msg("swapped entries to avoid dead air")
	q.published(rev)
	return true
}
