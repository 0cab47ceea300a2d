/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tasks runs the background work the scheduler defers: log row
// writes and cleanups, playlist expansion, pick queries and external
// commands. Tasks are cooperatively cancelled; timed-out process-backed
// tasks have their whole process tree killed.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrTimedOut is the error of a task cancelled by Sweep.
var ErrTimedOut = errors.New("task timed out")

// Kind tags what a task does.
type Kind int

const (
	KindLogCreate Kind = iota
	KindLogCleanup
	KindPlaylistExpand
	KindFillPick
	KindSchedulePick
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindLogCreate:
		return "log_create"
	case KindLogCleanup:
		return "log_cleanup"
	case KindPlaylistExpand:
		return "playlist_expand"
	case KindFillPick:
		return "fill_pick"
	case KindSchedulePick:
		return "schedule_pick"
	case KindCommand:
		return "command"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Spec describes a task to spawn.
type Spec struct {
	Name    string
	Kind    Kind
	Owner   metadata.Ref  // record the task works on, 0 for none
	Timeout time.Duration // zero disables the sweep
	Run     func(ctx context.Context, t *Task) error
}

// Task is a handle on one spawned task.
type Task struct {
	ID       string
	Name     string
	Kind     Kind
	Owner    metadata.Ref
	Started  time.Time
	Deadline time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	timedOut  atomic.Bool
	done      chan struct{}
	err       error

	mu  sync.Mutex
	pid int
}

// Cancelled reports whether the task was asked to stop. Long running task
// bodies check it between steps.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load() || t.ctx.Err() != nil
}

// Cancel asks the task to stop.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// TimedOut reports whether Sweep cancelled the task.
func (t *Task) TimedOut() bool {
	return t.timedOut.Load()
}

// Done is closed when the task body has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task result once Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Signature identifies the task in logs.
func (t *Task) Signature() string {
	return fmt.Sprintf("%s[%s] %s owner=%d", t.Name, t.Kind, t.ID[:8], t.Owner)
}

// Command runs an external process as part of the task and waits for it.
// Its pid is tracked so a timeout kills the process and its children.
func (t *Task) Command(name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(t.ctx, name, args...)
	var out safeBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	t.mu.Lock()
	t.pid = cmd.Process.Pid
	t.mu.Unlock()

	err := cmd.Wait()

	t.mu.Lock()
	t.pid = 0
	t.mu.Unlock()
	if err != nil {
		if t.TimedOut() {
			return out.Bytes(), ErrTimedOut
		}
		return out.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return out.Bytes(), nil
}

func (t *Task) currentPID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pid
}

type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

// Runner owns every spawned task until it is reaped.
type Runner struct {
	logger zerolog.Logger
	clock  func() time.Time
	base   context.Context
	stop   context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

// NewRunner creates a task runner.
func NewRunner(logger zerolog.Logger) *Runner {
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		logger: logger.With().Str("component", "tasks").Logger(),
		clock:  time.Now,
		base:   base,
		stop:   stop,
		tasks:  make(map[string]*Task),
	}
}

// Spawn starts spec.Run on its own goroutine.
func (r *Runner) Spawn(spec Spec) *Task {
	r.mu.Lock()
	base := r.base
	r.mu.Unlock()
	ctx, cancel := context.WithCancel(base)
	now := r.clock()
	t := &Task{
		ID:      uuid.NewString(),
		Name:    spec.Name,
		Kind:    spec.Kind,
		Owner:   spec.Owner,
		Started: now,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if spec.Timeout > 0 {
		t.Deadline = now.Add(spec.Timeout)
	}

	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()

	kind := spec.Kind.String()
	telemetry.TasksRunning.WithLabelValues(kind).Inc()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(t.done)
		defer telemetry.TasksRunning.WithLabelValues(kind).Dec()
		defer func() {
			if p := recover(); p != nil {
				t.err = fmt.Errorf("task panicked: %v", p)
			}
		}()
		err := spec.Run(ctx, t)
		if err != nil && t.TimedOut() && !errors.Is(err, ErrTimedOut) {
			err = fmt.Errorf("%w: %v", ErrTimedOut, err)
		}
		t.err = err
	}()

	r.logger.Debug().Str("task", t.Signature()).Msg("task spawned")
	return t
}

// Count returns how many unfinished tasks have one of kinds, or all
// unfinished tasks when no kind is given.
func (r *Runner) Count(kinds ...Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tasks {
		select {
		case <-t.done:
			continue
		default:
		}
		if len(kinds) == 0 {
			n++
			continue
		}
		for _, k := range kinds {
			if t.Kind == k {
				n++
				break
			}
		}
	}
	return n
}

// Sweep cancels every task past its deadline and kills the process tree
// behind it. It returns the tasks it timed out.
func (r *Runner) Sweep(now time.Time) []*Task {
	r.mu.Lock()
	var expired []*Task
	for _, t := range r.tasks {
		if t.Deadline.IsZero() || now.Before(t.Deadline) || t.timedOut.Load() {
			continue
		}
		select {
		case <-t.done:
			continue
		default:
		}
		expired = append(expired, t)
	}
	r.mu.Unlock()

	for _, t := range expired {
		t.timedOut.Store(true)
		t.Cancel()
		if pid := t.currentPID(); pid > 0 {
			if err := killTree(int32(pid)); err != nil {
				r.logger.Warn().Err(err).Int("pid", pid).Str("task", t.Signature()).Msg("failed to kill task process")
			}
		}
		telemetry.TasksTimedOutTotal.WithLabelValues(t.Kind.String()).Inc()
		r.logger.Warn().
			Str("task", t.Signature()).
			Dur("runtime", now.Sub(t.Started)).
			Msg("task timed out, cancelled")
	}
	return expired
}

// Reap drops finished tasks and logs the failed ones. It returns how many
// tasks were collected.
func (r *Runner) Reap() int {
	r.mu.Lock()
	var finished []*Task
	for id, t := range r.tasks {
		select {
		case <-t.done:
			finished = append(finished, t)
			delete(r.tasks, id)
		default:
		}
	}
	r.mu.Unlock()

	for _, t := range finished {
		if t.err == nil || (errors.Is(t.err, context.Canceled) && !t.TimedOut()) {
			continue
		}
		telemetry.TasksFailedTotal.WithLabelValues(t.Kind.String()).Inc()
		r.logger.Error().Err(t.err).Str("task", t.Signature()).Msg("task failed")
	}
	return len(finished)
}

// Wait blocks until every spawned task has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown cancels all tasks and waits for them until ctx ends. Tasks
// spawned afterwards run normally.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stop()
	r.base, r.stop = context.WithCancel(context.Background())
	for _, t := range r.tasks {
		t.cancelled.Store(true)
		if pid := t.currentPID(); pid > 0 {
			_ = killTree(int32(pid))
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.Reap()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks still running at shutdown: %w", ctx.Err())
	}
}

// killTree kills pid after its descendants.
func killTree(pid int32) error {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	children, _ := proc.Children()
	for _, child := range children {
		_ = killTree(child.Pid)
	}
	return proc.Kill()
}
