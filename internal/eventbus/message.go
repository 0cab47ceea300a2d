/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards scheduler notifications between nodes over
// Redis pub/sub or NATS. Every bus also delivers locally through an
// in-process events.Bus.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/google/uuid"
)

const subjectPrefix = "grimnir_automation.events."

// message is the wire envelope shared by every backend.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func subject(eventType events.EventType) string {
	return subjectPrefix + string(eventType)
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("event message without type")
	}
	return &msg, nil
}

// NodeID returns hostname-uuid, identifying this process on the bus.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return strings.ToLower(host) + "-" + uuid.NewString()[:8]
}

// deliver hands a remote message to local subscribers, dropping echoes of
// this node's own publishes. It reports whether the message was delivered.
func deliver(local *events.Bus, nodeID string, data []byte) (bool, error) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		return false, err
	}
	if msg.NodeID == nodeID {
		return false, nil
	}
	local.Publish(msg.EventType, msg.Payload)
	return true, nil
}
