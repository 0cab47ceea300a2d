/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/friendsincode/grimnir_automation/internal/automation"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/player"
	"github.com/friendsincode/grimnir_automation/internal/queue"
	"github.com/friendsincode/grimnir_automation/internal/recorders"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{queue.ErrNotFound, http.StatusNotFound},
	{recorders.ErrUnknown, http.StatusNotFound},
	{player.ErrNoSuchSlot, http.StatusNotFound},
	{queue.ErrBadPosition, http.StatusBadRequest},
	{automation.ErrInvalidMode, http.StatusBadRequest},
	{queue.ErrItemMissing, http.StatusUnprocessableEntity},
	{queue.ErrTaskStart, http.StatusUnprocessableEntity},
	{queue.ErrEntryPlaying, http.StatusConflict},
	{queue.ErrSlotInUse, http.StatusConflict},
}

// operatorProps are the record keys a client may set when queueing. Type,
// Name and URL decide what runs; the rest is scheduler bookkeeping.
var operatorProps = []string{
	metadata.KeyArtist,
	metadata.KeyDuration,
	metadata.KeyPriority,
	metadata.KeyTargetTime,
	metadata.KeySegIn,
	metadata.KeySegOut,
	metadata.KeySegLevel,
	metadata.KeyFadeOut,
	metadata.KeyFadeTime,
	metadata.KeyTogether,
	metadata.KeyNoPost,
	metadata.KeyNoLog,
	metadata.KeyOwner,
	metadata.KeyEffects,
}

type queueResponse struct {
	Revision uint64            `json:"revision"`
	Running  bool              `json:"running"`
	EndTime  float64           `json:"end_time"`
	Entries  []queue.EntryInfo `json:"entries"`
}

type queueAddRequest struct {
	URL      string            `json:"url"`
	Position *int              `json:"position,omitempty"`
	Props    map[string]string `json:"props,omitempty"`
}

type queueAttachRequest struct {
	Slot     int  `json:"slot"`
	Position *int `json:"position,omitempty"`
}

type queueSplitRequest struct {
	URL  string `json:"url"`
	Last bool   `json:"last"`
}

type queueMoveRequest struct {
	From          int  `json:"from"`
	To            int  `json:"to"`
	ClearSchedule bool `json:"clear_schedule"`
}

func (a *API) handleQueueList(w http.ResponseWriter, r *http.Request) {
	q := a.manager.Queue()
	writeJSON(w, http.StatusOK, queueResponse{
		Revision: q.Revision(),
		Running:  a.manager.Running(),
		EndTime:  q.EndTime(),
		Entries:  q.Snapshot(),
	})
}

func (a *API) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req queueAddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}
	if denied := lo.Without(lo.Keys(req.Props), operatorProps...); len(denied) > 0 {
		slices.Sort(denied)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "prop_not_allowed", "props": denied})
		return
	}
	position := -1
	if req.Position != nil {
		position = *req.Position
	}

	id, err := a.manager.Queue().AddWith(r.Context(), position, req.URL, req.Props)
	if err != nil {
		a.writeServiceError(w, err, "queue_add_failed")
		return
	}
	pos, _ := a.manager.Queue().FindPosition(id)
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "position": pos})
}

// handleQueueAttach queues a player slot loaded outside the scheduler.
func (a *API) handleQueueAttach(w http.ResponseWriter, r *http.Request) {
	var req queueAttachRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	position := -1
	if req.Position != nil {
		position = *req.Position
	}

	q := a.manager.Queue()
	id, err := q.AddPlayerAttachment(position, req.Slot)
	if err != nil {
		a.writeServiceError(w, err, "queue_attach_failed")
		return
	}
	pos, _ := q.FindPosition(id)
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "position": pos})
}

func (a *API) handleQueueSplit(w http.ResponseWriter, r *http.Request) {
	var req queueSplitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}

	id, err := a.manager.Queue().Split(r.Context(), chi.URLParam(r, "id"), req.URL, req.Last)
	if err != nil {
		a.writeServiceError(w, err, "queue_split_failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *API) handleQueueMove(w http.ResponseWriter, r *http.Request) {
	var req queueMoveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := a.manager.Queue().Move(req.From, req.To, req.ClearSchedule); err != nil {
		a.writeServiceError(w, err, "queue_move_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": a.manager.Queue().Revision()})
}

func (a *API) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	q := a.manager.Queue()
	if q.Delete(id, force) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if _, ok := q.FindPosition(id); ok {
		a.writeServiceError(w, queue.ErrEntryPlaying, "queue_delete_failed")
		return
	}
	a.writeServiceError(w, queue.ErrNotFound, "queue_delete_failed")
}
