/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func unreachableElection(t *testing.T) *Election {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return newElection(client, ElectionConfig{LeaseDuration: 10 * time.Second}, nil, zerolog.Nop())
}

func TestElectionDefaults(t *testing.T) {
	e := unreachableElection(t)
	if e.InstanceID() == "" {
		t.Fatal("instance id not generated")
	}
	if e.config.ElectionKey != defaultElectionKey || e.config.RetryInterval != defaultRetryInterval {
		t.Fatalf("config = %+v", e.config)
	}
}

func TestElectionHoldsLeaseThroughRedisOutage(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := unreachableElection(t)
	e.now = func() time.Time { return now }
	e.setLeader(true, now.Add(10*time.Second))
	<-e.LeaderCh()

	e.campaign(context.Background())
	if !e.IsLeader() {
		t.Fatal("leadership dropped while lease still valid")
	}

	now = now.Add(11 * time.Second)
	e.campaign(context.Background())
	if e.IsLeader() {
		t.Fatal("leadership kept after lease expiry")
	}
	select {
	case v := <-e.LeaderCh():
		if v {
			t.Fatal("leader channel reported acquisition")
		}
	default:
		t.Fatal("loss not reported on leader channel")
	}
}

func TestElectionFollowerStaysFollower(t *testing.T) {
	e := unreachableElection(t)
	e.campaign(context.Background())
	if e.IsLeader() {
		t.Fatal("follower became leader without Redis")
	}
	select {
	case v := <-e.LeaderCh():
		t.Fatalf("unexpected status %v", v)
	default:
	}
}
