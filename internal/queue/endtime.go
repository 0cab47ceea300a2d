/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/player"
)

// view is the per-pass typed snapshot of one entry.
type view struct {
	e       *Entry
	item    metadata.Item
	slot    player.Slot
	hasSlot bool
	status  player.Status
	segOut  float64 // segue-out offset before the successor's SegIn lead
}

func (v *view) played() bool {
	return v.status.Has(player.StatusHasPlayed)
}

func (v *view) playing() bool {
	return v.status.Has(player.StatusPlaying)
}

// ItemGroup is a run of entries that reorder as one unit, together with the
// target bookkeeping of its highest-priority member.
type ItemGroup struct {
	FirstIndex int
	FirstStart float64
	LastIndex  int
	LastEnd    float64

	Priority    int
	TargetTime  float64
	TargetError float64
	StartTime   float64

	inTime float64 // running time when the group was entered
}

// Duration is the play length of the whole group.
func (g ItemGroup) Duration() float64 {
	return g.LastEnd - g.FirstStart
}

// buildViewsLocked snapshots entries, metadata and player slots. Entries
// whose slot was unloaded or reused behind the scheduler's back are retired.
func (q *Queue) buildViewsLocked() []view {
	views := make([]view, len(q.entries))
	for i, e := range q.entries {
		v := view{e: e, status: e.status}
		ref := e.Ref
		if e.slot != player.NoSlot {
			s, ok := q.bank.Snapshot(e.slot)
			if ok && s.Loaded() && (e.Ref == 0 || s.Ref == e.Ref) {
				v.slot = s
				v.hasSlot = true
				v.status = s.Status
				if ref == 0 {
					ref = s.Ref
				}
			} else {
				q.logger.Debug().Str("id", e.ID).Int("slot", e.slot).Msg("player slot lost, retiring entry")
				e.slot = player.NoSlot
				e.status = player.StatusHasPlayed | player.StatusFinished
				v.status = e.status
			}
		}
		item, err := metadata.Load(q.store, ref)
		if err != nil {
			q.logger.Debug().Err(err).Str("id", e.ID).Msg("malformed item metadata")
		}
		v.item = item
		views[i] = v
	}
	return views
}

// UpdateEndTimes recomputes projected start and end times. With sort set
// it also reorders groups and drops stale items.
func (q *Queue) UpdateEndTimes(now float64, sort bool) {
	q.mu.Lock()
	rev := q.revision
	views := q.buildViewsLocked()
	q.updateEndTimesLocked(views, now, sort, q.policy.Current())
	changed := q.revision != rev
	newRev := q.revision
	q.mu.Unlock()

	if changed {
		q.published(newRev)
	}
}

// updateEndTimesLocked returns the views matching the list after any
// reorder or cleanup, and the number of swaps committed.
func (q *Queue) updateEndTimesLocked(views []view, now float64, sort bool, policy config.Policy) ([]view, int) {
	est := &estimator{q: q, views: views, now: now, policy: policy}
	swaps := est.run(sort)
	if swaps > 0 {
		q.bumpLocked()
	}
	if !sort {
		return est.views, swaps
	}
	if removed := q.cleanupLocked(est.views, now, policy); removed > 0 {
		q.bumpLocked()
		est = &estimator{q: q, views: q.buildViewsLocked(), now: now, policy: policy}
		est.run(false)
	}
	return est.views, swaps
}

type estimator struct {
	q      *Queue
	views  []view
	now    float64
	policy config.Policy
}

// run walks the list group by group. Adjacent groups are offered to the
// reorder check when sort is set.
func (est *estimator) run(sort bool) int {
	swaps := 0
	t := est.now
	var prev *ItemGroup
	i := 0
	for {
		g, next, end, ok := est.nextMovableGroup(i, t)
		t = end
		if !ok {
			break
		}
		if sort && prev != nil && prev.LastIndex+1 == g.FirstIndex && est.checkSwapReorder(prev, g) {
			swaps++
			t = g.LastEnd
		}
		prev = g
		i = next
	}
	return swaps
}

// nextMovableGroup folds already played entries, and entries glued to them
// by their Together tag, into the running time, then gathers the next group.
func (est *estimator) nextMovableGroup(i int, t float64) (*ItemGroup, int, float64, bool) {
	n := len(est.views)
	skipTag := ""
	for i < n {
		v := &est.views[i]
		glued := skipTag != "" && v.item.Together == skipTag
		if !v.played() && !glued {
			break
		}
		t = est.itemEndTime(i, t)
		if v.played() {
			skipTag = v.item.Together
		}
		i++
	}
	if i >= n {
		return nil, n, t, false
	}

	g := &ItemGroup{FirstIndex: i, inTime: t}
	tag := est.views[i].item.Together
	for i < n {
		if i > g.FirstIndex && (tag == "" || est.views[i].item.Together != tag) {
			break
		}
		t = est.itemEndTime(i, t)
		est.absorb(g, i, t)
		i++
	}
	return g, i, t, true
}

// absorb adds entry i, which ends at end, to g.
func (est *estimator) absorb(g *ItemGroup, i int, end float64) {
	v := &est.views[i]
	if i == g.FirstIndex {
		g.FirstStart = v.e.start
		g.Priority = v.item.Priority
		g.TargetTime = v.item.TargetTime
		g.TargetError = v.e.terr
		g.StartTime = v.e.start
	} else if v.item.Priority > g.Priority {
		g.Priority = v.item.Priority
		g.TargetTime = v.item.TargetTime
		g.TargetError = v.e.terr
		g.StartTime = v.e.start
	}
	g.LastIndex = i
	g.LastEnd = end
}

// segOut returns the segue-out offset of v from its own properties.
func (est *estimator) segOut(v *view) float64 {
	it := v.item
	dur := it.Duration
	so := it.SegOut
	if so <= 0 {
		def := est.policy.DefaultSegOut
		if it.DefSegOut > 0 {
			def = it.DefSegOut
		}
		so = dur - def
	}
	if dur > 0 && so > dur {
		so = dur
	}
	if so < 0 {
		so = 0
	}
	if it.FadeOut > 0 && it.FadeOut < so {
		so = it.FadeOut
	}
	return so
}

// itemEndTime computes the start, end and target error of entry i entered
// at running time start, and returns its end.
func (est *estimator) itemEndTime(i int, start float64) float64 {
	v := &est.views[i]
	in := start
	if v.playing() && v.hasSlot {
		start = est.now - v.slot.Pos
	}

	v.segOut = est.segOut(v)
	length := v.segOut
	if v.hasSlot && v.slot.FadePos > 0 && v.slot.FadePos < length {
		length = v.slot.FadePos
	}
	if i+1 < len(est.views) {
		length -= est.views[i+1].item.SegIn
	}
	if length < 0 {
		length = 0
	}
	if v.status.Has(player.StatusRemove) || (v.played() && !v.playing()) {
		length = 0
	}

	terr := 0.0
	it := v.item
	if it.HasTarget() && !v.played() {
		if it.Priority > 9 && start <= it.TargetTime {
			start = it.TargetTime
		} else {
			terr = start - it.TargetTime
		}
	}

	end := start + length
	if end < in {
		end = in
	}
	v.e.start, v.e.end, v.e.terr = start, end, terr
	return end
}

// cleanupLocked walks tail to head dropping unplayed items whose target is
// long past and fill items superseded by a later fill marker.
func (q *Queue) cleanupLocked(views []view, now float64, policy config.Policy) int {
	removed := 0
	latestFill := 0.0
	for i := len(views) - 1; i >= 0; i-- {
		v := &views[i]
		it := v.item
		active := v.played() || v.playing()

		if !active && it.HasTarget() && it.TargetTime < now-policy.StaleTargetAge {
			if q.deleteLocked(i, false) {
				q.logger.Info().Str("id", v.e.ID).Str("url", it.URL).Float64("target", it.TargetTime).Msg("dropped item with stale target time")
				removed++
				continue
			}
		}

		if it.FillTime <= 0 {
			continue
		}
		if !active && !v.hasSlot && latestFill >= it.FillTime && latestFill < v.e.start {
			if q.deleteLocked(i, false) {
				q.logger.Info().Str("id", v.e.ID).Str("url", it.URL).Float64("fill_time", it.FillTime).Msg("dropped superseded fill item")
				removed++
				continue
			}
		}
		if it.FillTime > latestFill {
			latestFill = it.FillTime
		}
	}
	return removed
}
