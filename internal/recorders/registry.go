/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recorders tracks external recorders that announce themselves and
// must keep heartbeating to stay registered.
package recorders

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
	"github.com/rs/zerolog"
)

// ErrUnknown is returned for a heartbeat from an unregistered recorder.
var ErrUnknown = errors.New("recorder not registered")

// Recorder is one registration.
type Recorder struct {
	Name         string        `json:"name"`
	TTL          time.Duration `json:"ttl"`
	RegisteredAt time.Time     `json:"registered_at"`
	LastSeen     time.Time     `json:"last_seen"`
}

// Expired reports whether r has missed its TTL at now.
func (r Recorder) Expired(now time.Time) bool {
	return now.Sub(r.LastSeen) > r.TTL
}

// Registry holds recorder registrations.
type Registry struct {
	bus        events.Publisher
	logger     zerolog.Logger
	clock      func() time.Time
	defaultTTL time.Duration

	mu        sync.Mutex
	recorders map[string]*Recorder
}

// NewRegistry creates a registry; registrations without a TTL get defaultTTL.
func NewRegistry(defaultTTL time.Duration, bus events.Publisher, logger zerolog.Logger) *Registry {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Registry{
		bus:        bus,
		logger:     logger.With().Str("component", "recorders").Logger(),
		clock:      time.Now,
		defaultTTL: defaultTTL,
		recorders:  make(map[string]*Recorder),
	}
}

// Register adds or refreshes a recorder.
func (r *Registry) Register(name string, ttl time.Duration) Recorder {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	now := r.clock()

	r.mu.Lock()
	rec, ok := r.recorders[name]
	if !ok {
		rec = &Recorder{Name: name, RegisteredAt: now}
		r.recorders[name] = rec
	}
	rec.TTL = ttl
	rec.LastSeen = now
	out := *rec
	count := len(r.recorders)
	r.mu.Unlock()

	telemetry.RecordersRegistered.Set(float64(count))
	if !ok {
		r.logger.Info().Str("recorder", name).Dur("ttl", ttl).Msg("recorder registered")
	}
	return out
}

// Heartbeat refreshes a recorder's last-seen time.
func (r *Registry) Heartbeat(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recorders[name]
	if !ok {
		return ErrUnknown
	}
	rec.LastSeen = r.clock()
	return nil
}

// Sweep drops recorders that missed their TTL at now and returns their names.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	var expired []string
	for name, rec := range r.recorders {
		if rec.Expired(now) {
			expired = append(expired, name)
			delete(r.recorders, name)
		}
	}
	count := len(r.recorders)
	r.mu.Unlock()

	sort.Strings(expired)
	for _, name := range expired {
		r.logger.Warn().Str("recorder", name).Msg("recorder registration expired")
		r.bus.Publish(events.EventRecorderExpired, events.Payload{"name": name})
	}
	telemetry.RecordersRegistered.Set(float64(count))
	return expired
}

// List returns the registrations sorted by name.
func (r *Registry) List() []Recorder {
	r.mu.Lock()
	out := make([]Recorder, 0, len(r.recorders))
	for _, rec := range r.recorders {
		out = append(out, *rec)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
