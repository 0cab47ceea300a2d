/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrInvalidMode indicates an unknown automation mode.
var ErrInvalidMode = errors.New("invalid automation mode")

// Flags gate the automatic behaviours while in live assist.
type Flags struct {
	Fill         bool `json:"fill"`
	Schedule     bool `json:"schedule"`
	Stop         bool `json:"stop"`
	TargetAdjust bool `json:"target_adjust"`
}

// State is a snapshot of the automation state.
type State struct {
	Mode           models.AutomationMode `json:"mode"`
	Flags          Flags                 `json:"flags"`
	LastLiveAction time.Time             `json:"last_live_action"`
}

func (s State) gate(flag bool) bool {
	switch s.Mode {
	case models.AutomationUnattended:
		return true
	case models.AutomationLiveAssist:
		return flag
	}
	return false
}

// FillEnabled reports whether the filler runs.
func (s State) FillEnabled() bool { return s.gate(s.Flags.Fill) }

// ScheduleEnabled reports whether scheduled items are inserted.
func (s State) ScheduleEnabled() bool { return s.gate(s.Flags.Schedule) }

// StopAtEmpty reports whether the list stops when the queue runs dry.
func (s State) StopAtEmpty() bool { return s.gate(s.Flags.Stop) }

// TargetAdjustEnabled reports whether groups are reordered for target times.
func (s State) TargetAdjustEnabled() bool { return s.gate(s.Flags.TargetAdjust) }

func modeValue(m models.AutomationMode) float64 {
	switch m {
	case models.AutomationLiveAssist:
		return 1
	case models.AutomationUnattended:
		return 2
	}
	return 0
}

func validMode(m models.AutomationMode) bool {
	switch m {
	case models.AutomationOff, models.AutomationLiveAssist, models.AutomationUnattended:
		return true
	}
	return false
}

// StateMachine holds the automation mode, persists it and demotes an idle
// live assist session to unattended.
type StateMachine struct {
	name   string
	db     *gorm.DB
	bus    events.Publisher
	policy config.PolicySource
	logger zerolog.Logger
	clock  func() time.Time

	mu    sync.RWMutex
	state State
}

// NewStateMachine creates a state machine starting in unattended mode. A nil
// db keeps the state in memory only.
func NewStateMachine(db *gorm.DB, bus events.Publisher, policy config.PolicySource, logger zerolog.Logger) *StateMachine {
	if bus == nil {
		bus = events.Discard{}
	}
	if policy == nil {
		policy = config.StaticPolicy(config.DefaultPolicy())
	}
	return &StateMachine{
		name:   "default",
		db:     db,
		bus:    bus,
		policy: policy,
		logger: logger.With().Str("component", "automation_state").Logger(),
		clock:  time.Now,
		state:  State{Mode: models.AutomationUnattended},
	}
}

// Load restores the persisted state, creating the row on first start.
func (m *StateMachine) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	var row models.AutomationState
	err := m.db.WithContext(ctx).Where("name = ?", m.name).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("query automation state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return m.persistLocked(ctx)
	}
	if !validMode(row.Mode) {
		m.logger.Warn().Str("mode", string(row.Mode)).Msg("ignoring persisted state with unknown mode")
		return nil
	}
	m.state = State{
		Mode:           row.Mode,
		Flags:          Flags{Fill: row.Fill, Schedule: row.Schedule, Stop: row.Stop, TargetAdjust: row.TargetAdjust},
		LastLiveAction: row.LastLiveAction,
	}
	telemetry.AutomationMode.Set(modeValue(m.state.Mode))
	return nil
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Set changes mode and flags. Entering live assist counts as a live action.
func (m *StateMachine) Set(ctx context.Context, mode models.AutomationMode, flags Flags) error {
	if !validMode(mode) {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	m.mu.Lock()
	prev := m.state
	m.state.Mode = mode
	m.state.Flags = flags
	if mode == models.AutomationLiveAssist && prev.Mode != models.AutomationLiveAssist {
		m.state.LastLiveAction = m.clock()
	}
	err := m.persistLocked(ctx)
	next := m.state
	m.mu.Unlock()

	m.announce(prev, next, "set")
	return err
}

// LiveAction records operator activity, postponing the live assist timeout.
func (m *StateMachine) LiveAction(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastLiveAction = m.clock()
	return m.persistLocked(ctx)
}

// Tick demotes live assist to unattended once no live action happened for
// the policy timeout. It reports whether the mode changed.
func (m *StateMachine) Tick(ctx context.Context, now time.Time) bool {
	timeout := m.policy.Current().LiveAssistTimeout
	m.mu.Lock()
	prev := m.state
	if prev.Mode != models.AutomationLiveAssist || timeout <= 0 || now.Sub(prev.LastLiveAction) <= timeout {
		m.mu.Unlock()
		return false
	}
	m.state.Mode = models.AutomationUnattended
	if err := m.persistLocked(ctx); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist automation state")
	}
	next := m.state
	m.mu.Unlock()

	m.logger.Info().Dur("idle", now.Sub(prev.LastLiveAction)).Msg("live assist timed out, switching to unattended")
	m.announce(prev, next, "live_assist_timeout")
	return true
}

func (m *StateMachine) persistLocked(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	row := models.AutomationState{
		Name:           m.name,
		Mode:           m.state.Mode,
		Fill:           m.state.Flags.Fill,
		Schedule:       m.state.Flags.Schedule,
		Stop:           m.state.Flags.Stop,
		TargetAdjust:   m.state.Flags.TargetAdjust,
		LastLiveAction: m.state.LastLiveAction,
	}
	if err := m.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save automation state: %w", err)
	}
	return nil
}

func (m *StateMachine) announce(prev, next State, reason string) {
	telemetry.AutomationMode.Set(modeValue(next.Mode))
	if prev.Mode == next.Mode && prev.Flags == next.Flags {
		return
	}
	m.logger.Info().
		Str("from", string(prev.Mode)).
		Str("to", string(next.Mode)).
		Str("reason", reason).
		Msg("automation state change")
	m.bus.Publish(events.EventAutomationState, events.Payload{
		"mode":          string(next.Mode),
		"previous":      string(prev.Mode),
		"fill":          next.Flags.Fill,
		"schedule":      next.Flags.Schedule,
		"stop":          next.Flags.Stop,
		"target_adjust": next.Flags.TargetAdjust,
		"reason":        reason,
	})
}
