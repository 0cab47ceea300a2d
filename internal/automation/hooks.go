/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/logstore"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/queue"
	"github.com/friendsincode/grimnir_automation/internal/tasks"
	"github.com/rs/zerolog"
)

// ErrEmptyCommand is returned for a task item without a command line.
var ErrEmptyCommand = errors.New("task item has no command")

// PlaylistSource lists the items of a playlist.
type PlaylistSource interface {
	PlaylistItems(ctx context.Context, url string) ([]string, error)
}

// hooks hands queue work to the task runner.
type hooks struct {
	q         *queue.Queue
	runner    *tasks.Runner
	logs      *logstore.Store // nil disables the play log
	store     metadata.Store
	playlists PlaylistSource
	policy    config.PolicySource
	wake      func()
	logger    zerolog.Logger
}

var _ queue.Hooks = (*hooks)(nil)

func (h *hooks) ItemAdded(e *queue.Entry, item metadata.Item) {
	if h.logs == nil || item.NoLog {
		return
	}
	h.runner.Spawn(tasks.Spec{
		Name:  "log create " + item.URL,
		Kind:  tasks.KindLogCreate,
		Owner: e.Ref,
		Run: func(ctx context.Context, t *tasks.Task) error {
			id, err := h.logs.Pending(ctx, item)
			if err != nil || id == 0 {
				return err
			}
			if _, ok := h.q.FindPosition(e.ID); !ok {
				// removed while the row was written
				if err := h.logs.Delete(ctx, id); err != nil && !errors.Is(err, logstore.ErrNotFound) {
					return err
				}
				return nil
			}
			metadata.SetInt(h.store, e.Ref, metadata.KeyLogID, int(id))
			return nil
		},
	})
}

func (h *hooks) StartTask(_ context.Context, e *queue.Entry, item metadata.Item) (func(), error) {
	args := strings.Fields(item.Name)
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	t := h.runner.Spawn(tasks.Spec{
		Name:    item.Name,
		Kind:    tasks.KindCommand,
		Owner:   e.Ref,
		Timeout: h.policy.Current().TaskTimeout,
		Run: func(ctx context.Context, t *tasks.Task) error {
			if t.Cancelled() {
				return ctx.Err()
			}
			defer func() {
				h.q.MarkDone(e)
				h.wake()
			}()
			out, err := t.Command(args[0], args[1:]...)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			h.logger.Debug().Str("command", item.Name).Int("output_bytes", len(out)).Msg("task command finished")
			return nil
		},
	})
	return t.Cancel, nil
}

func (h *hooks) ExpandPlaylist(e *queue.Entry, item metadata.Item) {
	h.runner.Spawn(tasks.Spec{
		Name:  "expand " + item.URL,
		Kind:  tasks.KindPlaylistExpand,
		Owner: e.Ref,
		Run: func(ctx context.Context, t *tasks.Task) error {
			urls, err := h.playlists.PlaylistItems(ctx, item.URL)
			if err != nil {
				h.q.MarkExpanded(e)
				return err
			}
			for i, url := range urls {
				if t.Cancelled() {
					h.q.MarkExpanded(e)
					return ctx.Err()
				}
				if _, err := h.q.Split(ctx, e.ID, url, i == len(urls)-1); err != nil {
					if errors.Is(err, queue.ErrNotFound) {
						return nil
					}
					h.logger.Warn().Err(err).Str("playlist", item.URL).Str("url", url).Msg("failed to expand playlist item")
				}
			}
			h.q.Delete(e.ID, true)
			h.wake()
			return nil
		},
	})
}

func (h *hooks) ItemPlayed(e *queue.Entry, item metadata.Item) {
	if h.logs == nil || item.LogID == 0 {
		return
	}
	id := item.LogID
	h.runner.Spawn(tasks.Spec{
		Name:  "log played " + item.URL,
		Kind:  tasks.KindLogCreate,
		Owner: e.Ref,
		Run: func(ctx context.Context, t *tasks.Task) error {
			return h.logs.MarkPlayed(ctx, id)
		},
	})
}

func (h *hooks) CleanupLog(id uint64) {
	if h.logs == nil || id == 0 {
		return
	}
	h.runner.Spawn(tasks.Spec{
		Name:    fmt.Sprintf("log cleanup %d", id),
		Kind:    tasks.KindLogCleanup,
		Timeout: h.policy.Current().LogCleanupTimeout,
		Run: func(ctx context.Context, t *tasks.Task) error {
			if err := h.logs.Delete(ctx, id); err != nil && !errors.Is(err, logstore.ErrNotFound) {
				return err
			}
			return nil
		},
	})
}
