/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package automation

import (
	"context"
	"errors"
	"sync"

	"github.com/friendsincode/grimnir_automation/internal/leadership"
	"github.com/rs/zerolog"
)

// LeaderAwareManager runs the manager loop only while this instance leads.
type LeaderAwareManager struct {
	manager *Manager
	leader  leadership.Leader
	logger  zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLeaderAware wraps m so that it follows leader.
func NewLeaderAware(m *Manager, leader leadership.Leader, logger zerolog.Logger) *LeaderAwareManager {
	return &LeaderAwareManager{
		manager: m,
		leader:  leader,
		logger:  logger.With().Str("component", "leader_aware_manager").Logger(),
	}
}

// Run campaigns for leadership and starts or stops the manager loop as it
// changes, until ctx ends.
func (l *LeaderAwareManager) Run(ctx context.Context) error {
	l.ctx = ctx
	if err := l.leader.Start(ctx); err != nil {
		return err
	}
	defer func() {
		l.stopManager()
		if err := l.leader.Stop(); err != nil {
			l.logger.Warn().Err(err).Msg("failed to stop leadership")
		}
	}()

	if l.leader.IsLeader() {
		l.startManager()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case isLeader := <-l.leader.LeaderCh():
			if isLeader {
				l.logger.Info().Msg("became leader, starting manager")
				l.startManager()
			} else {
				l.logger.Warn().Msg("lost leadership, stopping manager")
				l.stopManager()
			}
		}
	}
}

// IsLeader reports whether this instance runs the manager loop.
func (l *LeaderAwareManager) IsLeader() bool {
	return l.leader.IsLeader()
}

func (l *LeaderAwareManager) startManager() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(l.ctx)
	stopped := make(chan struct{})
	l.cancel = cancel
	l.stopped = stopped

	go func() {
		defer close(stopped)
		if err := l.manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("manager loop error")
		}
	}()
}

func (l *LeaderAwareManager) stopManager() {
	l.mu.Lock()
	cancel, stopped := l.cancel, l.stopped
	l.cancel, l.stopped = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}
