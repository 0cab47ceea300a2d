/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package automation

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/queue"
	"github.com/friendsincode/grimnir_automation/internal/schedule"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
	"github.com/rs/zerolog"
)

// ScheduleSource pages through scheduled events.
type ScheduleSource interface {
	NextScheduled(ctx context.Context, from, to float64, highPriorityOnly bool, cursor string) (*schedule.Scheduled, string, error)
}

// Inserter moves scheduled events into the queue as the projected end of
// the queue reaches them.
type Inserter struct {
	q      *queue.Queue
	src    ScheduleSource
	logger zerolog.Logger

	mu          sync.Mutex
	lastChecked float64
}

// NewInserter creates a schedule inserter.
func NewInserter(q *queue.Queue, src ScheduleSource, logger zerolog.Logger) *Inserter {
	return &Inserter{
		q:      q,
		src:    src,
		logger: logger.With().Str("component", "inserter").Logger(),
	}
}

func minuteBucket(t float64) int64 {
	return int64(math.Floor(t / 60))
}

// horizon is the time up to which the schedule must be in the queue.
func (in *Inserter) horizon(now float64) float64 {
	return max(in.q.EndTime(), now)
}

// Due reports whether the horizon entered a new minute since the last check.
func (in *Inserter) Due(now float64) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.lastChecked == 0 {
		return true
	}
	return minuteBucket(in.lastChecked) != minuteBucket(in.horizon(now))
}

// LastChecked returns the end of the last window inserted.
func (in *Inserter) LastChecked() float64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastChecked
}

// Insert queues every event strictly between the last checked time and the
// horizon. It returns the number of entries added.
func (in *Inserter) Insert(ctx context.Context, now float64, highPriorityOnly bool) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.lastChecked == 0 {
		in.lastChecked = now
	}
	// the window never moves back, or events already queued come round again
	to := max(in.horizon(now), in.lastChecked)
	if minuteBucket(in.lastChecked) == minuteBucket(to) {
		return 0, nil
	}

	var due []schedule.Scheduled
	cursor := ""
	for {
		ev, next, err := in.src.NextScheduled(ctx, in.lastChecked, to, highPriorityOnly, cursor)
		if err != nil {
			return 0, fmt.Errorf("next scheduled: %w", err)
		}
		if ev == nil {
			break
		}
		due = append(due, *ev)
		cursor = next
	}

	// a priority >= 8 event owns its target time
	top := make(map[float64]int)
	for _, ev := range due {
		if ev.Priority > top[ev.TargetTime] {
			top[ev.TargetTime] = ev.Priority
		}
	}

	added := 0
	for _, ev := range due {
		if p := top[ev.TargetTime]; p >= schedule.HighPriority && ev.Priority < p {
			in.logger.Info().Str("url", ev.URL).Int("priority", ev.Priority).Int("suppressed_by", p).Msg("scheduled item suppressed")
			continue
		}
		id, err := in.q.AddWith(ctx, in.q.PositionFor(ev.TargetTime), ev.URL, map[string]string{
			metadata.KeyTargetTime: metadata.FormatFloat(ev.TargetTime),
			metadata.KeyPriority:   strconv.Itoa(ev.Priority),
		})
		if err != nil {
			in.logger.Warn().Err(err).Str("url", ev.URL).Msg("failed to queue scheduled item")
			continue
		}
		added++
		telemetry.FillInsertsTotal.WithLabelValues("schedule").Inc()
		in.logger.Debug().Str("url", ev.URL).Str("id", id).Float64("target", ev.TargetTime).Msg("scheduled item queued")
	}

	in.lastChecked = to
	return added, nil
}
