/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_automation/internal/auth"
	"github.com/friendsincode/grimnir_automation/internal/automation"
	"github.com/friendsincode/grimnir_automation/internal/models"
)

const defaultLogLimit = 50

type automationResponse struct {
	automation.State
	Running bool `json:"running"`
}

type automationUpdateRequest struct {
	Mode    models.AutomationMode `json:"mode"`
	Flags   *automation.Flags     `json:"flags,omitempty"`
	Running *bool                 `json:"running,omitempty"`
}

type recorderRequest struct {
	TTLSeconds int `json:"ttl_seconds"`
}

func (a *API) automationStatus() automationResponse {
	return automationResponse{
		State:   a.manager.State().Current(),
		Running: a.manager.Running(),
	}
}

func (a *API) handleAutomationGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.automationStatus())
}

func (a *API) handleAutomationUpdate(w http.ResponseWriter, r *http.Request) {
	var req automationUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	ctx := r.Context()
	if req.Mode != "" {
		current := a.manager.State().Current()
		flags := current.Flags
		if req.Flags != nil {
			flags = *req.Flags
		}
		if err := a.manager.State().Set(ctx, req.Mode, flags); err != nil {
			a.writeServiceError(w, err, "automation_update_failed")
			return
		}
		a.logger.Info().
			Str("user", auth.Subject(ctx)).
			Str("mode", string(req.Mode)).
			Msg("automation mode changed")
	}

	if req.Running != nil {
		if *req.Running {
			a.manager.StartList(ctx)
		} else {
			a.manager.StopList(ctx)
		}
	}
	writeJSON(w, http.StatusOK, a.automationStatus())
}

func (a *API) handleAutomationLive(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.State().LiveAction(r.Context()); err != nil {
		a.writeServiceError(w, err, "live_action_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.automationStatus())
}

func (a *API) handleRecordersList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Recorders().List())
}

func (a *API) handleRecorderRegister(w http.ResponseWriter, r *http.Request) {
	var req recorderRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
	}
	if req.TTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_ttl")
		return
	}
	rec := a.manager.Recorders().Register(chi.URLParam(r, "name"), time.Duration(req.TTLSeconds)*time.Second)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleLogList(w http.ResponseWriter, r *http.Request) {
	logs := a.manager.Logs()
	if logs == nil {
		writeError(w, http.StatusServiceUnavailable, "log_unavailable")
		return
	}

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}

	rows, err := logs.Recent(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err, "log_query_failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
