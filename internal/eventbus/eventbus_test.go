/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"strings"
	"testing"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/rs/zerolog"
)

func TestDeliverSkipsEcho(t *testing.T) {
	local := events.NewBus()
	sub := local.Subscribe(events.EventQueueChanged)

	data, err := marshalMessage(events.EventQueueChanged, events.Payload{"revision": 7}, "node-a")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if ok, err := deliver(local, "node-a", data); ok || err != nil {
		t.Fatalf("own message delivered = %v, %v", ok, err)
	}
	select {
	case p := <-sub:
		t.Fatalf("echo reached subscriber: %v", p)
	default:
	}

	if ok, err := deliver(local, "node-b", data); !ok || err != nil {
		t.Fatalf("remote message delivered = %v, %v", ok, err)
	}
	p := <-sub
	// JSON numbers decode as float64
	if p["revision"] != float64(7) {
		t.Fatalf("payload = %v", p)
	}
}

func TestDeliverRejectsGarbage(t *testing.T) {
	local := events.NewBus()
	for _, data := range []string{"not json", `{"payload":{}}`} {
		if _, err := deliver(local, "node", []byte(data)); err == nil {
			t.Errorf("deliver(%q) succeeded", data)
		}
	}
}

func TestSubject(t *testing.T) {
	if got := subject(events.EventLogEntryCreated); got != "grimnir_automation.events.log.entry_created" {
		t.Fatalf("subject = %q", got)
	}
	if id := NodeID(); !strings.Contains(id, "-") {
		t.Fatalf("node id = %q", id)
	}
}

func TestNewMemoryBus(t *testing.T) {
	bus, err := New(&config.Config{EventBus: config.EventBusMemory}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer bus.Close()

	sub := bus.Subscribe(events.EventListStarted)
	bus.Publish(events.EventListStarted, events.Payload{"reason": "operator"})
	if p := <-sub; p["reason"] != "operator" {
		t.Fatalf("payload = %v", p)
	}

	if _, err := New(&config.Config{EventBus: "carrier-pigeon"}, zerolog.Nop()); err == nil {
		t.Fatal("unknown bus accepted")
	}
}
