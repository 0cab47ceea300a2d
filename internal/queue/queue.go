/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue owns the ordered list of upcoming items and the scheduling
// pass that loads, segues, reorders and retires them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/player"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound     = errors.New("queue entry not found")
	ErrBadPosition  = errors.New("bad queue position")
	ErrItemMissing  = errors.New("item resolves to missing")
	ErrTaskStart    = errors.New("task failed to start")
	ErrSlotInUse    = errors.New("player slot already attached")
	ErrEntryPlaying = errors.New("entry is playing")
)

// inheritKeys are copied from a split parent to its child.
var inheritKeys = []string{
	metadata.KeyOwner,
	metadata.KeyFadeOut,
	metadata.KeyFadeTime,
	metadata.KeySegLevel,
	metadata.KeyDefSegLevel,
	metadata.KeyDefSegOut,
	metadata.KeyEffects,
	metadata.KeyTargetTime,
	metadata.KeyFillTime,
	metadata.KeyPriority,
	metadata.KeyNoPost,
	metadata.KeyNoLog,
}

// Resolver fills a fresh metadata record from the media library.
type Resolver interface {
	Resolve(ctx context.Context, store metadata.Store, ref metadata.Ref) error
}

// Hooks receive the work the queue hands to background tasks. They are
// called without the queue lock held unless noted.
type Hooks interface {
	// ItemAdded runs after an item entered the list.
	ItemAdded(e *Entry, item metadata.Item)
	// StartTask starts the process behind a task item; an error rejects the
	// add. stop cancels the task when the entry is not queued after all.
	StartTask(ctx context.Context, e *Entry, item metadata.Item) (stop func(), err error)
	ExpandPlaylist(e *Entry, item metadata.Item)
	ItemPlayed(e *Entry, item metadata.Item)
	// CleanupLog is called with the queue lock held and must not block.
	CleanupLog(logID uint64)
}

type nopHooks struct{}

func (nopHooks) ItemAdded(*Entry, metadata.Item)                                  {}
func (nopHooks) StartTask(context.Context, *Entry, metadata.Item) (func(), error) { return func() {}, nil }
func (nopHooks) ExpandPlaylist(*Entry, metadata.Item)                             {}
func (nopHooks) ItemPlayed(*Entry, metadata.Item)                                 {}
func (nopHooks) CleanupLog(uint64)                                                {}

// Options wires a queue to its collaborators.
type Options struct {
	Store    metadata.Store
	Bank     player.Bank
	Resolver Resolver
	Hooks    Hooks
	Bus      events.Publisher
	Policy   config.PolicySource
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// Queue is the ordered play list guarded by one read-write lock.
type Queue struct {
	store    metadata.Store
	bank     player.Bank
	resolver Resolver
	hooks    Hooks
	bus      events.Publisher
	policy   config.PolicySource
	logger   zerolog.Logger
	clock    func() time.Time

	mu       sync.RWMutex
	entries  []*Entry
	revision uint64
}

// New creates an empty queue.
func New(opts Options) *Queue {
	q := &Queue{
		store:    opts.Store,
		bank:     opts.Bank,
		resolver: opts.Resolver,
		hooks:    opts.Hooks,
		bus:      opts.Bus,
		policy:   opts.Policy,
		logger:   opts.Logger.With().Str("component", "queue").Logger(),
		clock:    opts.Clock,
	}
	if q.hooks == nil {
		q.hooks = nopHooks{}
	}
	if q.bus == nil {
		q.bus = events.Discard{}
	}
	if q.policy == nil {
		q.policy = config.StaticPolicy(config.DefaultPolicy())
	}
	if q.clock == nil {
		q.clock = time.Now
	}
	if n, ok := q.store.(metadata.Notifier); ok {
		n.OnChange(func(ref metadata.Ref) {
			q.bus.Publish(events.EventItemChanged, events.Payload{"ref": uint32(ref)})
		})
	}
	return q
}

// SetHooks replaces the background work hooks.
func (q *Queue) SetHooks(h Hooks) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if h == nil {
		h = nopHooks{}
	}
	q.hooks = h
}

// Seconds converts a wall clock time into queue time.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func (q *Queue) now() float64 {
	return Seconds(q.clock())
}

// prepare creates and resolves a record for url outside the lock.
func (q *Queue) prepare(ctx context.Context, url string) (metadata.Ref, metadata.Item, error) {
	ref := q.store.Create(url)
	if q.resolver != nil {
		if err := q.resolver.Resolve(ctx, q.store, ref); err != nil {
			q.store.Release(ref)
			return 0, metadata.Item{}, fmt.Errorf("resolve %q: %w", url, err)
		}
	}
	item, err := metadata.Load(q.store, ref)
	if err != nil {
		q.logger.Warn().Err(err).Str("url", url).Msg("malformed item metadata")
	}
	if item.EffectiveType() == metadata.TypeMissing {
		q.store.Release(ref)
		return 0, item, fmt.Errorf("%q: %w", url, ErrItemMissing)
	}
	return ref, item, nil
}

// Add resolves url and inserts it at position; a negative or out of range
// position appends.
func (q *Queue) Add(ctx context.Context, position int, url string) (string, error) {
	return q.AddWith(ctx, position, url, nil)
}

// AddWith is Add with extra metadata set on the record before insertion.
func (q *Queue) AddWith(ctx context.Context, position int, url string, props map[string]string) (string, error) {
	ref, item, err := q.prepare(ctx, url)
	if err != nil {
		return "", err
	}
	if len(props) > 0 {
		for k, v := range props {
			q.store.Set(ref, k, v)
		}
		item, _ = metadata.Load(q.store, ref)
	}
	e := newEntry(ref)

	if item.EffectiveType() == metadata.TypeTask {
		if _, err := q.hooks.StartTask(ctx, e, item); err != nil {
			q.store.Release(ref)
			return "", fmt.Errorf("%w: %v", ErrTaskStart, err)
		}
	}

	q.mu.Lock()
	q.insertLocked(position, e)
	rev := q.bumpLocked()
	q.mu.Unlock()

	q.published(rev)
	q.hooks.ItemAdded(e, item)
	return e.ID, nil
}

// AddPlayerAttachment inserts an entry bound to a slot loaded outside the
// scheduler.
func (q *Queue) AddPlayerAttachment(position, slot int) (string, error) {
	if _, ok := q.bank.Snapshot(slot); !ok {
		return "", fmt.Errorf("slot %d: %w", slot, player.ErrNoSuchSlot)
	}

	q.mu.Lock()
	for _, other := range q.entries {
		if other.slot == slot {
			q.mu.Unlock()
			return "", fmt.Errorf("slot %d: %w", slot, ErrSlotInUse)
		}
	}
	e := newEntry(0)
	e.slot = slot
	q.insertLocked(position, e)
	rev := q.bumpLocked()
	q.mu.Unlock()

	q.published(rev)
	return e.ID, nil
}

// Split inserts url immediately before parentID, handing it the parent's
// inherited properties and target time.
func (q *Queue) Split(ctx context.Context, parentID, url string, isLast bool) (string, error) {
	ref, item, err := q.prepare(ctx, url)
	if err != nil {
		return "", err
	}
	child := newEntry(ref)

	q.mu.RLock()
	_, err = q.splitParentLocked(parentID)
	q.mu.RUnlock()
	if err != nil {
		q.store.Release(ref)
		return "", err
	}

	stop := func() {}
	if item.EffectiveType() == metadata.TypeTask {
		if stop, err = q.hooks.StartTask(ctx, child, item); err != nil {
			q.store.Release(ref)
			return "", fmt.Errorf("%w: %v", ErrTaskStart, err)
		}
	}

	q.mu.Lock()
	// the parent may have gone while the task started
	idx, err := q.splitParentLocked(parentID)
	if err != nil {
		q.mu.Unlock()
		stop()
		q.store.Release(ref)
		return "", err
	}
	parent := q.entries[idx]

	metadata.Copy(q.store, parent.Ref, ref, inheritKeys...)
	q.store.Delete(parent.Ref, metadata.KeyTargetTime)

	parentItem, _ := metadata.Load(q.store, parent.Ref)
	if isLast {
		metadata.SetInt(q.store, parent.Ref, metadata.KeyPriority, 0)
		metadata.SetFloat(q.store, parent.Ref, metadata.KeyDuration, 0)
		q.store.Delete(parent.Ref, metadata.KeySegOut)
	} else {
		metadata.SetFloat(q.store, parent.Ref, metadata.KeyDuration, max(0, parentItem.Duration-item.Duration))
	}

	q.insertLocked(idx, child)
	rev := q.bumpLocked()
	q.mu.Unlock()

	q.published(rev)
	childItem, _ := metadata.Load(q.store, ref)
	q.hooks.ItemAdded(child, childItem)
	return child.ID, nil
}

// splitParentLocked returns the index of a parent that can take a split.
func (q *Queue) splitParentLocked(parentID string) (int, error) {
	idx := q.indexLocked(parentID)
	if idx < 0 {
		return -1, fmt.Errorf("split parent %s: %w", parentID, ErrNotFound)
	}
	if q.entries[idx].Ref == 0 {
		return -1, fmt.Errorf("split parent %s has no metadata: %w", parentID, ErrBadPosition)
	}
	return idx, nil
}

// Move relocates the entry at from to index to. Clearing the schedule
// flags drops the moved item's target time, fill time and priority.
func (q *Queue) Move(from, to int, clearScheduleFlags bool) error {
	q.mu.Lock()
	n := len(q.entries)
	if from < 0 || from >= n || to < 0 || to >= n {
		q.mu.Unlock()
		return fmt.Errorf("move %d -> %d in %d entries: %w", from, to, n, ErrBadPosition)
	}
	e := q.entries[from]
	q.moveLocked(from, to)
	if clearScheduleFlags && e.Ref != 0 {
		q.store.Delete(e.Ref, metadata.KeyTargetTime)
		q.store.Delete(e.Ref, metadata.KeyFillTime)
		q.store.Delete(e.Ref, metadata.KeyPriority)
	}
	rev := q.bumpLocked()
	q.mu.Unlock()

	q.published(rev)
	return nil
}

// Delete removes the entry with id. A playing entry is only removed when
// force is set.
func (q *Queue) Delete(id string, force bool) bool {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	ok := q.deleteLocked(idx, force)
	var rev uint64
	if ok {
		rev = q.bumpLocked()
	}
	q.mu.Unlock()

	if ok {
		q.published(rev)
	}
	return ok
}

// DeleteAt removes the entry at index.
func (q *Queue) DeleteAt(index int, force bool) bool {
	q.mu.Lock()
	if index < 0 || index >= len(q.entries) {
		q.mu.Unlock()
		return false
	}
	ok := q.deleteLocked(index, force)
	var rev uint64
	if ok {
		rev = q.bumpLocked()
	}
	q.mu.Unlock()

	if ok {
		q.published(rev)
	}
	return ok
}

// deleteLocked unlinks entry idx. The caller holds the exclusive lock and
// bumps the revision.
func (q *Queue) deleteLocked(idx int, force bool) bool {
	e := q.entries[idx]
	if !force && q.playingLocked(e) {
		return false
	}

	item, _ := metadata.Load(q.store, e.Ref)
	if item.LogID != 0 {
		q.hooks.CleanupLog(item.LogID)
	}

	if e.slot != player.NoSlot {
		if err := q.bank.Unload(e.slot); err != nil {
			q.logger.Debug().Err(err).Int("slot", e.slot).Msg("unload on delete")
		}
	}
	e.slot = player.NoSlot

	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	q.Release(e)
	telemetry.QueueActionsTotal.WithLabelValues("delete").Inc()
	return true
}

func (q *Queue) playingLocked(e *Entry) bool {
	if e.slot == player.NoSlot {
		return e.status.Has(player.StatusPlaying)
	}
	s, ok := q.bank.Snapshot(e.slot)
	return ok && s.Status.Has(player.StatusPlaying)
}

// Retain adds a hold on the entry with id so it outlives removal.
func (q *Queue) Retain(id string) (*Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return nil, fmt.Errorf("retain %s: %w", id, ErrNotFound)
	}
	e := q.entries[idx]
	e.holders.Add(1)
	return e, nil
}

// Release drops a hold; the metadata record goes with the last one.
func (q *Queue) Release(e *Entry) {
	if e == nil {
		return
	}
	if e.holders.Add(-1) == 0 && e.Ref != 0 {
		q.store.Release(e.Ref)
	}
}

// MarkDone flags an entry without a player slot (a task) as played out, so
// the next pass retires it.
func (q *Queue) MarkDone(e *Entry) {
	q.mu.Lock()
	e.status |= player.StatusHasPlayed | player.StatusFinished
	e.status &^= player.StatusPlaying
	q.mu.Unlock()
}

// MarkExpanded clears the pending expansion flag of a playlist entry.
func (q *Queue) MarkExpanded(e *Entry) {
	q.mu.Lock()
	e.expanding = false
	q.mu.Unlock()
}

// PositionFor returns the index before the first unplayed entry projected
// to start at or after t, or -1 to append.
func (q *Queue) PositionFor(t float64) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for i, e := range q.entries {
		if i == 0 || q.playingLocked(e) || e.status.Has(player.StatusHasPlayed) {
			continue
		}
		if e.start >= t {
			return i
		}
	}
	return -1
}

// Count returns the number of entries.
func (q *Queue) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// FindPosition returns the index of id.
func (q *Queue) FindPosition(id string) (int, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	idx := q.indexLocked(id)
	return idx, idx >= 0
}

// Revision returns the monotonic queue revision.
func (q *Queue) Revision() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.revision
}

// EndTime returns the latest projected end in the queue, zero when nothing
// has been estimated yet. Entries appended since the last estimate carry no
// end and are skipped.
func (q *Queue) EndTime() float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var end float64
	for _, e := range q.entries {
		end = max(end, e.end)
	}
	return end
}

// Snapshot lists the queue under the shared lock.
func (q *Queue) Snapshot() []EntryInfo {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]EntryInfo, 0, len(q.entries))
	for _, e := range q.entries {
		ref := e.Ref
		status := e.status
		if e.slot != player.NoSlot {
			if s, ok := q.bank.Snapshot(e.slot); ok {
				status = s.Status
				if ref == 0 {
					ref = s.Ref
				}
			}
		}
		item, _ := metadata.Load(q.store, ref)
		out = append(out, EntryInfo{
			ID:          e.ID,
			Ref:         ref,
			URL:         item.URL,
			Name:        item.Name,
			Artist:      item.Artist,
			Type:        item.EffectiveType(),
			Duration:    item.Duration,
			Priority:    item.Priority,
			TargetTime:  item.TargetTime,
			Slot:        e.slot,
			Status:      status.String(),
			Start:       e.start,
			End:         e.end,
			TargetError: e.terr,
		})
	}
	return out
}

// EnsurePlaying starts the head entry when it is loaded and standing by
// while nothing plays. It reports whether it started something.
func (q *Queue) EnsurePlaying() bool {
	q.mu.RLock()
	head := player.NoSlot
	for _, e := range q.entries {
		if e.slot == player.NoSlot {
			if e.status.Has(player.StatusHasPlayed) {
				continue
			}
			item, _ := metadata.Load(q.store, e.Ref)
			if item.EffectiveType() == metadata.TypeTask {
				continue
			}
			break
		}
		s, ok := q.bank.Snapshot(e.slot)
		if !ok {
			break
		}
		if s.Status.Has(player.StatusPlaying) {
			q.mu.RUnlock()
			return false
		}
		if s.Status.Has(player.StatusHasPlayed) {
			continue
		}
		if s.Status.Has(player.StatusStandby) {
			head = e.slot
		}
		break
	}
	q.mu.RUnlock()

	if head == player.NoSlot {
		return false
	}
	if err := q.bank.Play(head); err != nil {
		q.logger.Warn().Err(err).Int("slot", head).Msg("failed to start head entry")
		return false
	}
	telemetry.QueueActionsTotal.WithLabelValues("play").Inc()
	return true
}

func (q *Queue) indexLocked(id string) int {
	for i, e := range q.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) indexOfLocked(e *Entry) int {
	for i, other := range q.entries {
		if other == e {
			return i
		}
	}
	return -1
}

func (q *Queue) insertLocked(position int, e *Entry) {
	if position < 0 || position >= len(q.entries) {
		q.entries = append(q.entries, e)
		return
	}
	q.entries = append(q.entries, nil)
	copy(q.entries[position+1:], q.entries[position:])
	q.entries[position] = e
}

// moveLocked shifts one entry with successive single-step swaps.
func (q *Queue) moveLocked(from, to int) {
	for from < to {
		q.entries[from], q.entries[from+1] = q.entries[from+1], q.entries[from]
		from++
	}
	for from > to {
		q.entries[from], q.entries[from-1] = q.entries[from-1], q.entries[from]
		from--
	}
}

func (q *Queue) bumpLocked() uint64 {
	q.revision++
	telemetry.QueueRevision.Set(float64(q.revision))
	telemetry.QueueLength.Set(float64(len(q.entries)))
	return q.revision
}

func (q *Queue) published(rev uint64) {
	q.bus.Publish(events.EventQueueChanged, events.Payload{"revision": rev})
}
