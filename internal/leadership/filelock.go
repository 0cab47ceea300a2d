/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
)

// FileLock elects a single manager per host with an advisory file lock.
type FileLock struct {
	path     string
	lock     *flock.Flock
	retry    time.Duration
	bus      events.Publisher
	logger   zerolog.Logger
	leaderCh chan bool

	mu       sync.Mutex
	isLeader bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewFileLock creates a lock on path, retried every retry until held.
func NewFileLock(path string, retry time.Duration, bus events.Publisher, logger zerolog.Logger) *FileLock {
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &FileLock{
		path:     path,
		lock:     flock.New(path),
		retry:    retry,
		bus:      bus,
		logger:   logger.With().Str("component", "leader_filelock").Str("lock", path).Logger(),
		leaderCh: make(chan bool, 1),
	}
}

// Start tries the lock now and keeps retrying in the background.
func (l *FileLock) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := l.try(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.mu.Lock()
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.retry)
		defer ticker.Stop()
		for !l.IsLeader() {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.try(); err != nil {
					l.logger.Error().Err(err).Msg("failed to acquire lock")
				}
			}
		}
	}()
	return nil
}

func (l *FileLock) try() error {
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if ok {
		l.setLeader(true)
	}
	return nil
}

// Stop ends the retry loop and releases the lock.
func (l *FileLock) Stop() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	if !l.IsLeader() {
		return nil
	}
	l.setLeader(false)
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// IsLeader reports whether this process holds the lock.
func (l *FileLock) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLeader
}

// LeaderCh receives leadership changes.
func (l *FileLock) LeaderCh() <-chan bool {
	return l.leaderCh
}

func (l *FileLock) setLeader(v bool) {
	l.mu.Lock()
	if l.isLeader == v {
		l.mu.Unlock()
		return
	}
	l.isLeader = v
	l.mu.Unlock()

	host, _ := os.Hostname()
	if v {
		telemetry.LeaderElectionStatus.WithLabelValues(host).Set(1)
		l.logger.Info().Msg("acquired manager lock")
	} else {
		telemetry.LeaderElectionStatus.WithLabelValues(host).Set(0)
		l.logger.Info().Msg("released manager lock")
	}
	l.bus.Publish(events.EventLeadershipChange, events.Payload{
		"instance_id": host,
		"leader":      v,
	})
	notify(l.leaderCh, v)
}
