/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Policy holds automation tuning. Times measured on the queue clock are in
// seconds; process timeouts are durations.
type Policy struct {
	DefaultSegOut   float64 `yaml:"default_segout"`   // seconds before the end when no SegOut is set
	DefaultSegLevel float64 `yaml:"default_seglevel"` // level-based segue threshold (dB)
	DefaultFadeTime float64 `yaml:"default_fadetime"`

	FillThreshold  int     `yaml:"fill_threshold"`
	PickTaskLimit  int     `yaml:"pick_task_limit"`
	StandbyBuffer  float64 `yaml:"standby_buffer"`
	LeadTime       float64 `yaml:"lead_time"`
	StaleTargetAge float64 `yaml:"stale_target_age"`

	LiveAssistTimeout time.Duration `yaml:"live_assist_timeout"`
	CycleTimeout      time.Duration `yaml:"cycle_timeout"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`
	LogCleanupTimeout time.Duration `yaml:"log_cleanup_timeout"`
	RecorderTTL       time.Duration `yaml:"recorder_ttl"`
}

// DefaultPolicy returns the built-in automation tuning.
func DefaultPolicy() Policy {
	return Policy{
		DefaultSegOut:     0,
		DefaultSegLevel:   -20,
		DefaultFadeTime:   0,
		FillThreshold:     8,
		PickTaskLimit:     3,
		StandbyBuffer:     60,
		LeadTime:          30,
		StaleTargetAge:    600,
		LiveAssistTimeout: 1200 * time.Second,
		CycleTimeout:      2 * time.Second,
		TaskTimeout:       60 * time.Second,
		LogCleanupTimeout: 30 * time.Second,
		RecorderTTL:       90 * time.Second,
	}
}

// Validate rejects values the scheduler cannot run with.
func (p Policy) Validate() error {
	if p.FillThreshold < 0 {
		return fmt.Errorf("fill_threshold must not be negative")
	}
	if p.PickTaskLimit <= 0 {
		return fmt.Errorf("pick_task_limit must be positive")
	}
	if p.CycleTimeout <= 0 {
		return fmt.Errorf("cycle_timeout must be positive")
	}
	if p.DefaultSegOut < 0 || p.StandbyBuffer < 0 || p.LeadTime < 0 {
		return fmt.Errorf("segout, standby buffer and lead time must not be negative")
	}
	return nil
}

// LoadPolicy reads a YAML policy file on top of the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// PolicySource hands out the current policy.
type PolicySource interface {
	Current() Policy
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy Policy

// Current returns the policy.
func (s StaticPolicy) Current() Policy { return Policy(s) }

// PolicyWatcher keeps the policy in sync with its file.
type PolicyWatcher struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	policy   Policy
	onChange []func(Policy)
}

// NewPolicyWatcher loads path and returns a watcher serving it.
func NewPolicyWatcher(path string, logger zerolog.Logger) (*PolicyWatcher, error) {
	p, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	return &PolicyWatcher{
		path:   path,
		policy: p,
		logger: logger.With().Str("component", "policy").Logger(),
	}, nil
}

// Current returns the active policy.
func (w *PolicyWatcher) Current() Policy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.policy
}

// OnChange registers fn to be called after each successful reload.
func (w *PolicyWatcher) OnChange(fn func(Policy)) {
	w.mu.Lock()
	w.onChange = append(w.onChange, fn)
	w.mu.Unlock()
}

// Reload re-reads the file. A bad file keeps the previous policy.
func (w *PolicyWatcher) Reload() error {
	p, err := LoadPolicy(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.policy = p
	hooks := append([]func(Policy){}, w.onChange...)
	w.mu.Unlock()

	for _, fn := range hooks {
		fn(p)
	}
	return nil
}

// Run watches the policy file until ctx is cancelled. The parent directory
// is watched so editors that replace the file are picked up.
func (w *PolicyWatcher) Run(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch policy dir: %w", err)
	}
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn().Err(err).Str("path", w.path).Msg("policy reload failed, keeping previous policy")
				continue
			}
			w.logger.Info().Str("path", w.path).Msg("policy reloaded")
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("policy watcher error")
		}
	}
}
