/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventQueueChanged     EventType = "queue.changed"
	EventItemChanged      EventType = "queue.item_changed"
	EventLogEntryCreated  EventType = "log.entry_created"
	EventAutomationState  EventType = "automation.state"
	EventListStarted      EventType = "automation.list_started"
	EventListStopped      EventType = "automation.list_stopped"
	EventRecorderExpired  EventType = "recorder.expired"
	EventTaskTimedOut     EventType = "task.timed_out"
	EventLeadershipChange EventType = "leadership.change"

	// Cache invalidation events
	EventMediaUpdated EventType = "cache.media_updated"
	EventMediaDeleted EventType = "cache.media_deleted"
)

// AllTypes lists the event types forwarded across nodes and streamed to clients.
var AllTypes = []EventType{
	EventQueueChanged,
	EventItemChanged,
	EventLogEntryCreated,
	EventAutomationState,
	EventListStarted,
	EventListStopped,
	EventRecorderExpired,
	EventTaskTimedOut,
	EventLeadershipChange,
	EventMediaUpdated,
	EventMediaDeleted,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is what producers depend on.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// SubscribePublisher is implemented by every bus.
type SubscribePublisher interface {
	Publisher
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers miss events rather
// than stall the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(EventType, Payload) {}
