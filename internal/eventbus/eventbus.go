/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"fmt"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/rs/zerolog"
)

// Bus is a notification bus that needs closing.
type Bus interface {
	events.SubscribePublisher
	Close() error
}

type memoryBus struct {
	*events.Bus
}

func (memoryBus) Close() error { return nil }

// New selects the bus named by cfg.EventBus.
func New(cfg *config.Config, logger zerolog.Logger) (Bus, error) {
	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = NodeID()
	}

	switch cfg.EventBus {
	case config.EventBusMemory, "":
		return memoryBus{events.NewBus()}, nil
	case config.EventBusRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		return NewRedisBus(rc, nodeID, logger), nil
	case config.EventBusNATS:
		nc := DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		return NewNATSBus(nc, nodeID, logger)
	}
	return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
}
