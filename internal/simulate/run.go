/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package simulate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/player"
	"github.com/friendsincode/grimnir_automation/internal/queue"
)

// Step is the outcome of one pass.
type Step struct {
	Index   int
	At      time.Time
	Playing string
	Length  int
	Result  queue.PassResult
}

// Report is the projection before the first pass, every pass, and the
// queue left at the end.
type Report struct {
	Start   time.Time
	Initial []queue.EntryInfo
	Steps   []Step
	Final   []queue.EntryInfo
}

// Run replays sc. Items that cannot be queued are skipped and reported in
// the joined error alongside a usable report.
func Run(ctx context.Context, sc *Scenario, logger zerolog.Logger) (*Report, error) {
	now := sc.Start
	clock := func() time.Time { return now }

	store := metadata.NewMemStore()
	bank := player.NewMemBank(sc.Slots, store, logger)
	q := queue.New(queue.Options{
		Store:    store,
		Bank:     bank,
		Resolver: newCatalog(sc.Items),
		Policy:   config.StaticPolicy(sc.Policy),
		Logger:   logger,
		Clock:    clock,
	})

	var errs []error
	for _, it := range sc.Items {
		var props map[string]string
		if it.Target > 0 || it.Priority != 0 {
			props = make(map[string]string, 2)
			if it.Target > 0 {
				props[metadata.KeyTargetTime] = metadata.FormatFloat(queue.Seconds(sc.Start.Add(it.Target)))
			}
			if it.Priority != 0 {
				props[metadata.KeyPriority] = fmt.Sprint(it.Priority)
			}
		}
		if _, err := q.AddWith(ctx, -1, it.URL, props); err != nil {
			errs = append(errs, fmt.Errorf("add %s: %w", it.URL, err))
		}
	}

	q.UpdateEndTimes(queue.Seconds(now), sc.Sort)
	report := &Report{Start: sc.Start, Initial: q.Snapshot()}

	running := !sc.Stopped
	for i := 0; i < sc.Passes; i++ {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res := q.Pass(ctx, queue.PassOptions{Now: now, Running: running, Sort: sc.Sort})
		if running && !res.Halted {
			q.EnsurePlaying()
		}
		if res.Halted {
			running = false
		}

		snap := q.Snapshot()
		report.Steps = append(report.Steps, Step{
			Index:   i + 1,
			At:      now,
			Playing: playing(snap),
			Length:  len(snap),
			Result:  res,
		})

		bank.Advance(sc.Step.Seconds())
		now = now.Add(sc.Step)
	}

	report.Final = q.Snapshot()
	return report, errors.Join(errs...)
}

func playing(snap []queue.EntryInfo) string {
	for _, e := range snap {
		if strings.Contains(e.Status, player.StatusPlaying.String()) {
			return e.URL
		}
	}
	return ""
}
