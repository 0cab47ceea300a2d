/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package automation drives the queue: the automation mode, the filler and
// schedule inserter, and the manager loop that ties them to the scheduling
// pass.
package automation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/logstore"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/friendsincode/grimnir_automation/internal/queue"
	"github.com/friendsincode/grimnir_automation/internal/recorders"
	"github.com/friendsincode/grimnir_automation/internal/tasks"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
	"github.com/rs/zerolog"
)

const tracerName = "automation"

// Options wires a manager to its collaborators. Queue, Store and Resolver
// are required; nil sources disable filling or schedule insertion.
type Options struct {
	Queue     *queue.Queue
	Store     metadata.Store
	Resolver  queue.Resolver
	Schedule  ScheduleSource
	Fill      FillSource
	Cursors   CursorStore
	Logs      *logstore.Store
	State     *StateMachine
	Recorders *recorders.Registry
	Runner    *tasks.Runner
	Bus       events.Publisher
	Policy    config.PolicySource
	Logger    zerolog.Logger
	Clock     func() time.Time
}

// Manager runs the queue manager loop.
type Manager struct {
	q         *queue.Queue
	state     *StateMachine
	filler    *Filler
	inserter  *Inserter
	logs      *logstore.Store
	recorders *recorders.Registry
	runner    *tasks.Runner
	bus       events.Publisher
	policy    config.PolicySource
	logger    zerolog.Logger
	clock     func() time.Time

	wake      chan struct{}
	heartbeat atomic.Int64

	mu       sync.Mutex
	running  bool
	halted   bool
	lastMode models.AutomationMode
}

// NewManager builds a manager and installs its hooks on the queue.
func NewManager(opts Options) *Manager {
	if opts.Bus == nil {
		opts.Bus = events.Discard{}
	}
	if opts.Policy == nil {
		opts.Policy = config.StaticPolicy(config.DefaultPolicy())
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Runner == nil {
		opts.Runner = tasks.NewRunner(opts.Logger)
	}
	if opts.State == nil {
		opts.State = NewStateMachine(nil, opts.Bus, opts.Policy, opts.Logger)
	}
	// live actions and the live assist timeout share the loop's clock
	opts.State.clock = opts.Clock
	if opts.Recorders == nil {
		opts.Recorders = recorders.NewRegistry(opts.Policy.Current().RecorderTTL, opts.Bus, opts.Logger)
	}

	m := &Manager{
		q:         opts.Queue,
		state:     opts.State,
		logs:      opts.Logs,
		recorders: opts.Recorders,
		runner:    opts.Runner,
		bus:       opts.Bus,
		policy:    opts.Policy,
		logger:    opts.Logger.With().Str("component", "manager").Logger(),
		clock:     opts.Clock,
		wake:      make(chan struct{}, 1),
		lastMode:  opts.State.Current().Mode,
	}
	if opts.Fill != nil {
		m.filler = NewFiller(opts.Queue, opts.Fill, opts.Store, opts.Resolver, opts.Cursors, opts.Policy, opts.Logger)
		m.filler.clock = opts.Clock
	}
	if opts.Schedule != nil {
		m.inserter = NewInserter(opts.Queue, opts.Schedule, opts.Logger)
	}

	var playlists PlaylistSource = noPlaylists{}
	if opts.Fill != nil {
		playlists = opts.Fill
	}
	opts.Queue.SetHooks(&hooks{
		q:         opts.Queue,
		runner:    opts.Runner,
		logs:      opts.Logs,
		store:     opts.Store,
		playlists: playlists,
		policy:    opts.Policy,
		wake:      m.Wake,
		logger:    opts.Logger.With().Str("component", "queue_hooks").Logger(),
	})
	return m
}

type noPlaylists struct{}

func (noPlaylists) PlaylistItems(context.Context, string) ([]string, error) {
	return nil, nil
}

// Queue returns the managed queue.
func (m *Manager) Queue() *queue.Queue { return m.q }

// State returns the automation state machine.
func (m *Manager) State() *StateMachine { return m.state }

// Recorders returns the recorder registry.
func (m *Manager) Recorders() *recorders.Registry { return m.recorders }

// Logs returns the play log, nil when disabled.
func (m *Manager) Logs() *logstore.Store { return m.logs }

// Wake ends the current wait early so the next cycle starts now.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Running reports whether the list is running.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastHeartbeat returns the time of the last cycle start.
func (m *Manager) LastHeartbeat() time.Time {
	ns := m.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// StartList starts the list and clears a previous stop-item halt.
func (m *Manager) StartList(ctx context.Context) {
	m.mu.Lock()
	m.halted = false
	m.mu.Unlock()
	m.setRunning(ctx, true, "operator")
	m.Wake()
}

// StopList stops the list. Playing items keep playing but nothing segues.
func (m *Manager) StopList(ctx context.Context) {
	m.setRunning(ctx, false, "operator")
	m.Wake()
}

func (m *Manager) setRunning(ctx context.Context, running bool, reason string) bool {
	m.mu.Lock()
	if m.running == running {
		m.mu.Unlock()
		return false
	}
	m.running = running
	m.mu.Unlock()

	eventType, msg := events.EventListStopped, "list stopped"
	if running {
		eventType, msg = events.EventListStarted, "list started"
		telemetry.AutomationRunning.Set(1)
	} else {
		telemetry.AutomationRunning.Set(0)
	}
	m.logger.Info().Str("reason", reason).Msg(msg)
	if m.logs != nil {
		if _, err := m.logs.Marker(ctx, msg); err != nil {
			m.logger.Warn().Err(err).Msg("failed to write list marker")
		}
	}
	m.bus.Publish(eventType, events.Payload{"reason": reason})
	return true
}

// Run cycles until ctx is cancelled, then cancels outstanding tasks.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info().Msg("manager loop started")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.runner.Shutdown(shutdownCtx); err != nil {
			m.logger.Warn().Err(err).Msg("tasks still running at shutdown")
		}
		m.logger.Info().Msg("manager loop stopped")
	}()

	for {
		m.Cycle(ctx)

		timer := time.NewTimer(m.policy.Current().CycleTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Cycle runs one manager iteration.
func (m *Manager) Cycle(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "automation.cycle")
	defer span.End()

	start := m.clock()
	m.heartbeat.Store(start.UnixNano())
	telemetry.ManagerHeartbeat.Set(float64(start.Unix()))

	m.runner.Reap()

	if m.state.Tick(ctx, start) {
		m.clearHalt()
	}
	st := m.state.Current()
	if st.Mode != m.lastMode {
		m.lastMode = st.Mode
		m.clearHalt()
	}

	res := m.q.Pass(ctx, queue.PassOptions{
		Now:     start,
		Running: m.Running(),
		Sort:    st.TargetAdjustEnabled(),
	})
	if res.Halted {
		m.mu.Lock()
		m.halted = true
		m.mu.Unlock()
		m.setRunning(ctx, false, "stop item")
	}

	m.pick(ctx, st, start)
	m.flipRunning(ctx, st)

	if m.Running() {
		m.q.EnsurePlaying()
	}

	for _, t := range m.runner.Sweep(m.clock()) {
		m.bus.Publish(events.EventTaskTimedOut, events.Payload{
			"task": t.Signature(),
			"kind": t.Kind.String(),
		})
	}
	m.recorders.Sweep(m.clock())

	elapsed := m.clock().Sub(start)
	telemetry.ManagerCyclesTotal.Inc()
	telemetry.ManagerCycleDuration.Observe(elapsed.Seconds())
	telemetry.AddSpanAttributes(span, map[string]any{
		"automation.mode":    string(st.Mode),
		"automation.running": m.Running(),
		"queue.revision":     res.Revision,
		"queue.loaded":       res.Loaded,
	})
}

func (m *Manager) clearHalt() {
	m.mu.Lock()
	m.halted = false
	m.mu.Unlock()
}

// pick spawns schedule and fill pick tasks within the outstanding limit.
func (m *Manager) pick(ctx context.Context, st State, now time.Time) {
	policy := m.policy.Current()
	nowSec := queue.Seconds(now)

	if m.inserter != nil && (st.ScheduleEnabled() || st.TargetAdjustEnabled()) &&
		m.runner.Count(tasks.KindSchedulePick) == 0 &&
		m.runner.Count(tasks.KindFillPick, tasks.KindSchedulePick) < policy.PickTaskLimit &&
		m.inserter.Due(nowSec) {
		highPriorityOnly := !st.ScheduleEnabled()
		m.runner.Spawn(tasks.Spec{
			Name:    "schedule pick",
			Kind:    tasks.KindSchedulePick,
			Timeout: policy.TaskTimeout,
			Run: func(ctx context.Context, t *tasks.Task) error {
				n, err := m.inserter.Insert(ctx, nowSec, highPriorityOnly)
				if err != nil {
					telemetry.ManagerErrorsTotal.WithLabelValues("schedule").Inc()
					return err
				}
				if n > 0 {
					m.Wake()
				}
				return nil
			},
		})
	}

	if m.filler != nil && st.FillEnabled() &&
		m.q.Count() < policy.FillThreshold &&
		m.runner.Count(tasks.KindFillPick, tasks.KindSchedulePick) < policy.PickTaskLimit {
		m.runner.Spawn(tasks.Spec{
			Name:    "fill pick",
			Kind:    tasks.KindFillPick,
			Timeout: policy.TaskTimeout,
			Run: func(ctx context.Context, t *tasks.Task) error {
				id, err := m.filler.Fill(ctx)
				if err != nil {
					telemetry.ManagerErrorsTotal.WithLabelValues("fill").Inc()
					return err
				}
				if id != "" {
					m.Wake()
				}
				return nil
			},
		})
	}
}

// flipRunning starts an unattended list that has something to play and
// stops a list that ran dry when stop-at-empty applies.
func (m *Manager) flipRunning(ctx context.Context, st State) {
	count := m.q.Count()
	m.mu.Lock()
	running, halted := m.running, m.halted
	m.mu.Unlock()

	switch {
	case !running && count > 0 && !halted && st.Mode == models.AutomationUnattended:
		m.setRunning(ctx, true, "unattended")
	case running && count == 0 && st.StopAtEmpty():
		m.setRunning(ctx, false, "queue empty")
	}
}

// Drain waits for outstanding tasks; used by tests and the simulator.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.runner.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.runner.Reap()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain tasks: %w", ctx.Err())
	}
}
