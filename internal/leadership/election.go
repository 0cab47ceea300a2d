/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership decides which process runs the queue manager loop.
package leadership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
)

const (
	defaultElectionKey   = "grimnir_automation:leader:manager"
	defaultLeaseDuration = 15 * time.Second
	defaultRetryInterval = 2 * time.Second
)

// Leader is a leadership source the manager loop follows.
type Leader interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// claimScript takes a free lease or extends one this instance holds.
// Returns 1 when the caller holds the lease afterwards.
var claimScript = redis.NewScript(`
local holder = redis.call("get", KEYS[1])
if holder == false then
	redis.call("set", KEYS[1], ARGV[1], "px", ARGV[2])
	return 1
end
if holder == ARGV[1] then
	redis.call("pexpire", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes the lease only if this instance still holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ElectionConfig configures the Redis lease.
type ElectionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ElectionKey   string
	LeaseDuration time.Duration // lease TTL; renewed every RetryInterval
	RetryInterval time.Duration
	InstanceID    string // generated when empty
}

func (c *ElectionConfig) applyDefaults() {
	if c.ElectionKey == "" {
		c.ElectionKey = defaultElectionKey
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.New().String()
	}
}

// Election holds a Redis lease so one manager runs across hosts. A Redis
// error does not drop leadership until the last granted lease has run out,
// since no other instance can claim the key before then.
type Election struct {
	client *redis.Client
	bus    events.Publisher
	logger zerolog.Logger
	config ElectionConfig
	now    func() time.Time

	mu         sync.Mutex
	isLeader   bool
	leaseUntil time.Time
	cancel     context.CancelFunc
	done       chan struct{}
	leaderCh   chan bool
}

// NewElection connects to Redis and prepares an election.
func NewElection(config ElectionConfig, bus events.Publisher, logger zerolog.Logger) (*Election, error) {
	config.applyDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	return newElection(client, config, bus, logger), nil
}

func newElection(client *redis.Client, config ElectionConfig, bus events.Publisher, logger zerolog.Logger) *Election {
	config.applyDefaults()
	if bus == nil {
		bus = events.Discard{}
	}
	return &Election{
		client: client,
		bus:    bus,
		logger: logger.With().
			Str("component", "leader_election").
			Str("instance_id", config.InstanceID).
			Logger(),
		config:   config,
		now:      time.Now,
		leaderCh: make(chan bool, 1),
	}
}

// Start claims the lease once and keeps campaigning in the background.
func (e *Election) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("election already started")
	}
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	e.logger.Info().Dur("lease", e.config.LeaseDuration).Str("key", e.config.ElectionKey).Msg("starting leader election")
	e.campaign(ctx)
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.config.RetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.campaign(ctx)
			}
		}
	}()
	return nil
}

// Stop ends the campaign, hands the lease back and closes the client.
func (e *Election) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	if e.IsLeader() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, e.client, []string{e.config.ElectionKey}, e.config.InstanceID).Err(); err != nil {
			e.logger.Error().Err(err).Msg("failed to release leadership lease")
		}
		e.setLeader(false, time.Time{})
	}
	return e.client.Close()
}

// IsLeader returns whether this instance is currently the leader.
func (e *Election) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// LeaderCh returns a channel that receives leadership status changes.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// InstanceID returns this instance's election identity.
func (e *Election) InstanceID() string {
	return e.config.InstanceID
}

func (e *Election) campaign(ctx context.Context) {
	started := e.now()
	held, err := claimScript.Run(ctx, e.client, []string{e.config.ElectionKey},
		e.config.InstanceID, e.config.LeaseDuration.Milliseconds()).Bool()
	if err != nil {
		e.mu.Lock()
		covered := e.isLeader && e.now().Before(e.leaseUntil)
		e.mu.Unlock()
		if covered {
			e.logger.Warn().Err(err).Msg("lease renewal failed, holding until expiry")
			return
		}
		e.logger.Error().Err(err).Msg("lease claim failed")
		e.setLeader(false, time.Time{})
		return
	}
	if !held {
		e.setLeader(false, time.Time{})
		return
	}
	// measured from before the call so the local view never outlives Redis
	e.setLeader(true, started.Add(e.config.LeaseDuration))
}

func (e *Election) setLeader(leader bool, until time.Time) {
	e.mu.Lock()
	e.leaseUntil = until
	changed := e.isLeader != leader
	e.isLeader = leader
	e.mu.Unlock()
	if !changed {
		return
	}

	id := e.config.InstanceID
	change := "lost"
	if leader {
		change = "acquired"
		telemetry.LeaderElectionStatus.WithLabelValues(id).Set(1)
		e.logger.Info().Msg("acquired leadership")
	} else {
		telemetry.LeaderElectionStatus.WithLabelValues(id).Set(0)
		e.logger.Warn().Msg("lost leadership")
	}
	telemetry.LeaderElectionChanges.WithLabelValues(id, change).Inc()
	e.bus.Publish(events.EventLeadershipChange, events.Payload{
		"instance_id": id,
		"leader":      leader,
	})
	notify(e.leaderCh, leader)
}

// notify replaces any unread status with the latest one.
func notify(ch chan bool, v bool) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
