/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"math"

	"github.com/friendsincode/grimnir_automation/internal/telemetry"
)

const (
	// reorderGain is the weighted error, in seconds, a swap must save.
	reorderGain = 10.0
	// priorityBase scales target error by 1.5^priority.
	priorityBase = 1.5
)

func weightedError(priority int, err float64) float64 {
	return math.Abs(math.Pow(priorityBase, float64(priority)) * err)
}

// swapCost returns the worse weighted error of two adjacent groups as they
// stand and as it would be with b played before a.
func swapCost(a, b ItemGroup) (baseline, counterfactual float64) {
	baseline = max(weightedError(a.Priority, a.TargetError), weightedError(b.Priority, b.TargetError))

	errA, errB := a.TargetError, b.TargetError
	if a.TargetTime > 0 {
		errA += b.Duration()
	}
	if b.TargetTime > 0 {
		errB -= a.Duration()
	}
	counterfactual = max(weightedError(a.Priority, errA), weightedError(b.Priority, errB))
	return baseline, counterfactual
}

// checkSwapReorder swaps adjacent groups a and b when that improves target
// accuracy enough. On commit the list, the span's times and both groups are
// updated in place, so a then describes the front group and b the back one.
func (est *estimator) checkSwapReorder(a, b *ItemGroup) bool {
	baseline, counterfactual := swapCost(*a, *b)
	if counterfactual+reorderGain >= baseline {
		return false
	}

	lenB := b.LastIndex - b.FirstIndex + 1
	first := a.FirstIndex
	for k := 0; k < lenB; k++ {
		est.move(b.FirstIndex+k, first+k)
	}

	t := a.inTime
	front := &ItemGroup{FirstIndex: first, inTime: t}
	for i := first; i < first+lenB; i++ {
		t = est.itemEndTime(i, t)
		est.absorb(front, i, t)
	}
	back := &ItemGroup{FirstIndex: first + lenB, inTime: t}
	for i := first + lenB; i <= b.LastIndex; i++ {
		t = est.itemEndTime(i, t)
		est.absorb(back, i, t)
	}
	*a, *b = *front, *back

	est.q.logger.Debug().
		Int("first", a.FirstIndex).
		Int("last", b.LastIndex).
		Float64("baseline", baseline).
		Float64("counterfactual", counterfactual).
		Msg("reordered groups for target accuracy")
	telemetry.QueueReorderSwapsTotal.Inc()
	return true
}

// move shifts one entry by single-step swaps, keeping the views aligned
// with the list.
func (est *estimator) move(from, to int) {
	entries := est.q.entries
	for from > to {
		entries[from], entries[from-1] = entries[from-1], entries[from]
		est.views[from], est.views[from-1] = est.views[from-1], est.views[from]
		from--
	}
	for from < to {
		entries[from], entries[from+1] = entries[from+1], entries[from]
		est.views[from], est.views[from+1] = est.views[from+1], est.views[from]
		from++
	}
}
