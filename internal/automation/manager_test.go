/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package automation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/logstore"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/friendsincode/grimnir_automation/internal/player"
	"github.com/friendsincode/grimnir_automation/internal/queue"
	"github.com/friendsincode/grimnir_automation/internal/tasks"
	"github.com/rs/zerolog"
)

// catalog resolves urls from a fixed table; unknown urls resolve missing.
type catalog map[string]map[string]string

func (c catalog) Resolve(_ context.Context, s metadata.Store, ref metadata.Ref) error {
	url, _ := s.Get(ref, metadata.KeyURL)
	props, ok := c[url]
	if !ok {
		s.Set(ref, metadata.KeyMissing, "1")
		return nil
	}
	for k, v := range props {
		s.Set(ref, k, v)
	}
	return nil
}

func song(dur float64) map[string]string {
	return map[string]string{
		metadata.KeyType:     "file",
		metadata.KeyDuration: metadata.FormatFloat(dur),
	}
}

type managerFixture struct {
	t     *testing.T
	store *metadata.MemStore
	bank  *player.MemBank
	cat   catalog
	bus   *events.Bus
	q     *queue.Queue
	now   time.Time
}

func newManagerFixture(t *testing.T, slots int, cat catalog) *managerFixture {
	t.Helper()
	f := &managerFixture{
		t:     t,
		store: metadata.NewMemStore(),
		cat:   cat,
		bus:   events.NewBus(),
		// minute aligned
		now: time.Unix(1_699_999_980, 0),
	}
	f.bank = player.NewMemBank(slots, f.store, zerolog.Nop())
	f.q = queue.New(queue.Options{
		Store:    f.store,
		Bank:     f.bank,
		Resolver: cat,
		Bus:      f.bus,
		Logger:   zerolog.Nop(),
		Clock:    f.clock,
	})
	return f
}

func (f *managerFixture) clock() time.Time { return f.now }

func (f *managerFixture) nowSec() float64 { return queue.Seconds(f.now) }

func (f *managerFixture) add(url string) string {
	f.t.Helper()
	id, err := f.q.Add(context.Background(), -1, url)
	if err != nil {
		f.t.Fatalf("add %s: %v", url, err)
	}
	return id
}

func (f *managerFixture) urls() []string {
	var out []string
	for _, e := range f.q.Snapshot() {
		out = append(out, e.URL)
	}
	return out
}

func (f *managerFixture) item(i int) metadata.Item {
	f.t.Helper()
	snap := f.q.Snapshot()
	if i >= len(snap) {
		f.t.Fatalf("no entry %d in %d", i, len(snap))
	}
	item, _ := metadata.Load(f.store, snap[i].Ref)
	return item
}

func (f *managerFixture) manager(opts Options) *Manager {
	opts.Queue = f.q
	opts.Store = f.store
	opts.Resolver = f.cat
	opts.Bus = f.bus
	opts.Logger = zerolog.Nop()
	if opts.Clock == nil {
		opts.Clock = f.clock
	}
	return NewManager(opts)
}

func drain(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func expectEvent(t *testing.T, sub events.Subscriber, key string, want any) {
	t.Helper()
	select {
	case p := <-sub:
		if p[key] != want {
			t.Fatalf("payload %v: %s = %v, want %v", p, key, p[key], want)
		}
	default:
		t.Fatal("event not published")
	}
}

func TestManagerUnattendedStartsAndPlays(t *testing.T) {
	f := newManagerFixture(t, 4, catalog{"a": song(180), "b": song(200)})
	started := f.bus.Subscribe(events.EventListStarted)
	f.add("a")
	f.add("b")
	m := f.manager(Options{})

	m.Cycle(context.Background())

	if !m.Running() {
		t.Fatal("unattended list with items did not start")
	}
	expectEvent(t, started, "reason", "unattended")
	head := f.q.Snapshot()[0]
	s, ok := f.bank.Snapshot(head.Slot)
	if !ok || !s.Status.Has(player.StatusPlaying) {
		t.Fatalf("head slot %d not playing: %+v", head.Slot, s)
	}
	if hb := m.LastHeartbeat(); !hb.Equal(f.now) {
		t.Fatalf("heartbeat = %v, want %v", hb, f.now)
	}
}

func TestManagerLiveAssistWaitsForOperator(t *testing.T) {
	f := newManagerFixture(t, 4, catalog{"a": song(180)})
	f.add("a")
	m := f.manager(Options{})
	ctx := context.Background()
	if err := m.State().Set(ctx, models.AutomationLiveAssist, Flags{}); err != nil {
		t.Fatalf("set: %v", err)
	}

	m.Cycle(ctx)
	if m.Running() {
		t.Fatal("live assist started the list on its own")
	}

	m.StartList(ctx)
	m.Cycle(ctx)
	if !m.Running() {
		t.Fatal("operator start did not stick")
	}
	select {
	case <-m.wake:
	default:
		t.Fatal("start did not wake the loop")
	}
}

func TestManagerStopItemHalts(t *testing.T) {
	f := newManagerFixture(t, 4, catalog{"stop": {metadata.KeyType: "stop"}, "a": song(180)})
	stopped := f.bus.Subscribe(events.EventListStopped)
	f.add("stop")
	f.add("a")
	m := f.manager(Options{})
	ctx := context.Background()
	m.StartList(ctx)

	m.Cycle(ctx)
	if m.Running() {
		t.Fatal("stop item did not halt the list")
	}
	expectEvent(t, stopped, "reason", "stop item")
	if got := f.urls(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("queue = %v, want [a]", got)
	}

	m.Cycle(ctx)
	if m.Running() {
		t.Fatal("unattended restarted a halted list")
	}

	m.StartList(ctx)
	m.Cycle(ctx)
	if !m.Running() {
		t.Fatal("explicit start did not clear the halt")
	}
}

func TestManagerStopsWhenEmpty(t *testing.T) {
	f := newManagerFixture(t, 2, catalog{})
	stopped := f.bus.Subscribe(events.EventListStopped)
	db := openTestDB(t, &models.LogEntry{})
	logs := logstore.New(db, f.bus, zerolog.Nop())
	m := f.manager(Options{Logs: logs})
	ctx := context.Background()

	m.StartList(ctx)
	m.Cycle(ctx)
	if m.Running() {
		t.Fatal("empty list kept running with stop-at-empty")
	}
	expectEvent(t, stopped, "reason", "queue empty")

	rows, err := logs.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 || rows[0].Message != "list stopped" || rows[1].Message != "list started" {
		t.Fatalf("markers = %+v", rows)
	}
}

func TestManagerFillsAndLogs(t *testing.T) {
	f := newManagerFixture(t, 4, catalog{"jingle": song(30)})
	db := openTestDB(t, &models.LogEntry{})
	logs := logstore.New(db, f.bus, zerolog.Nop())
	src := &fakeFill{candidate: "jingle"}
	m := f.manager(Options{Fill: src, Logs: logs})
	ctx := context.Background()
	if err := m.State().Set(ctx, models.AutomationLiveAssist, Flags{Fill: true}); err != nil {
		t.Fatalf("set: %v", err)
	}

	m.Cycle(ctx)
	drain(t, m)

	if got := f.urls(); len(got) != 1 || got[0] != "jingle" {
		t.Fatalf("queue = %v, want [jingle]", got)
	}
	if f.item(0).LogID == 0 {
		t.Fatal("log id not recorded on the filled item")
	}
	rows, err := logs.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != models.LogQueued || rows[0].URL != "jingle" {
		t.Fatalf("log rows = %+v", rows)
	}
	select {
	case <-m.wake:
	default:
		t.Fatal("fill did not wake the loop")
	}
}

func TestManagerExpandsPlaylist(t *testing.T) {
	f := newManagerFixture(t, 4, catalog{
		"playlist:set": {metadata.KeyType: "playlist"},
		"a":            song(60),
		"b":            song(60),
	})
	src := &fakeFill{playlists: map[string][]string{"playlist:set": {"a", "b"}}}
	f.add("playlist:set")
	m := f.manager(Options{Fill: src})
	ctx := context.Background()
	if err := m.State().Set(ctx, models.AutomationOff, Flags{}); err != nil {
		t.Fatalf("set: %v", err)
	}

	m.Cycle(ctx)
	drain(t, m)

	got := f.urls()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("queue = %v, want [a b]", got)
	}
}

func TestManagerReportsTimedOutTasks(t *testing.T) {
	f := newManagerFixture(t, 2, catalog{})
	timedOut := f.bus.Subscribe(events.EventTaskTimedOut)
	m := f.manager(Options{Clock: time.Now})
	ctx := context.Background()
	if err := m.State().Set(ctx, models.AutomationOff, Flags{}); err != nil {
		t.Fatalf("set: %v", err)
	}

	task := m.runner.Spawn(tasks.Spec{
		Name:    "stuck pick",
		Kind:    tasks.KindFillPick,
		Timeout: time.Millisecond,
		Run: func(ctx context.Context, t *tasks.Task) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	time.Sleep(5 * time.Millisecond)

	m.Cycle(ctx)
	expectEvent(t, timedOut, "kind", "fill_pick")
	<-task.Done()
	if !task.TimedOut() {
		t.Fatal("task not flagged as timed out")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunWakesEarlyAndStopsOnCancel(t *testing.T) {
	f := newManagerFixture(t, 2, catalog{})
	policy := config.DefaultPolicy()
	// only a wake can start the next cycle within the test
	policy.CycleTimeout = time.Hour

	var tick atomic.Int64
	runner := tasks.NewRunner(zerolog.Nop())
	m := f.manager(Options{
		Policy: config.StaticPolicy(policy),
		Runner: runner,
		Clock:  func() time.Time { return f.now.Add(time.Duration(tick.Add(1)) * time.Second) },
	})

	blocked := runner.Spawn(tasks.Spec{
		Name: "blocked",
		Kind: tasks.KindCommand,
		Run: func(ctx context.Context, _ *tasks.Task) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, "first cycle", func() bool { return !m.LastHeartbeat().IsZero() })
	first := m.LastHeartbeat()
	m.Wake()
	waitFor(t, "woken cycle", func() bool { return m.LastHeartbeat().After(first) })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	select {
	case <-blocked.Done():
	default:
		t.Fatal("outstanding task not cancelled on shutdown")
	}
}
