/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the queue and automation control surface over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_automation/internal/auth"
	"github.com/friendsincode/grimnir_automation/internal/automation"
	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/models"
	"github.com/friendsincode/grimnir_automation/internal/schedule"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// LeaderStatus reports whether this instance runs the manager loop.
type LeaderStatus interface {
	IsLeader() bool
}

// Options wires the API to the running service.
type Options struct {
	Manager   *automation.Manager
	Bus       events.SubscribePublisher
	Policy    config.PolicySource
	Leader    LeaderStatus
	Library   *schedule.LibraryService
	JWTSecret []byte
	Logger    zerolog.Logger
	Clock     func() time.Time
}

// API exposes HTTP handlers.
type API struct {
	manager   *automation.Manager
	bus       events.SubscribePublisher
	policy    config.PolicySource
	leader    LeaderStatus
	library   *schedule.LibraryService
	jwtSecret []byte
	logger    zerolog.Logger
	clock     func() time.Time
}

// New creates the API router wrapper.
func New(opts Options) *API {
	if opts.Policy == nil {
		opts.Policy = config.StaticPolicy(config.DefaultPolicy())
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	return &API{
		manager:   opts.Manager,
		bus:       opts.Bus,
		policy:    opts.Policy,
		leader:    opts.Leader,
		library:   opts.Library,
		jwtSecret: opts.JWTSecret,
		logger:    opts.Logger.With().Str("component", "api").Logger(),
		clock:     opts.Clock,
	}
}

// Routes mounts every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// Readers
		r.Get("/queue", a.handleQueueList)
		r.Get("/automation", a.handleAutomationGet)
		r.Get("/recorders", a.handleRecordersList)
		r.Get("/log", a.handleLogList)
		if a.library != nil {
			r.Get("/schedule.ics", a.handleScheduleICal)
		}
		r.With(a.authMiddleware()).Get("/events", a.handleEvents)

		// Mutations
		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())
			pr.Use(auth.RequireRole(auth.RoleOperator, auth.RoleAdmin))
			pr.Use(a.operatorAction)

			pr.Post("/queue", a.handleQueueAdd)
			pr.Post("/queue/move", a.handleQueueMove)
			pr.Post("/queue/attach", a.handleQueueAttach)
			pr.Post("/queue/{id}/split", a.handleQueueSplit)
			pr.Delete("/queue/{id}", a.handleQueueDelete)

			pr.Put("/automation", a.handleAutomationUpdate)
			pr.Post("/automation/live", a.handleAutomationLive)

			pr.Post("/recorders/{name}", a.handleRecorderRegister)
		})
	})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.jwtSecret)
}

// operatorAction wakes the manager after every mutation. In live assist
// any mutation counts as operator activity.
func (a *API) operatorAction(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if a.manager.State().Current().Mode == models.AutomationLiveAssist {
			if err := a.manager.State().LiveAction(r.Context()); err != nil {
				a.logger.Warn().Err(err).Msg("failed to record live action")
			}
		}
		a.manager.Wake()
	})
}

type healthResponse struct {
	Status        string    `json:"status"`
	Leader        bool      `json:"leader"`
	Running       bool      `json:"running"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	leader := a.leader == nil || a.leader.IsLeader()
	resp := healthResponse{
		Status:        "ok",
		Leader:        leader,
		Running:       a.manager.Running(),
		LastHeartbeat: a.manager.LastHeartbeat(),
		QueueLength:   a.manager.Queue().Count(),
	}

	if !leader {
		resp.Status = "standby"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// A leader whose loop missed several cycles is stuck.
	stale := 5 * a.policy.Current().CycleTimeout
	if resp.LastHeartbeat.IsZero() || a.clock().Sub(resp.LastHeartbeat) > stale {
		resp.Status = "stalled"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeServiceError maps domain errors onto status codes.
func (a *API) writeServiceError(w http.ResponseWriter, err error, code string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("code", code).Msg("request failed")
	} else {
		a.logger.Debug().Err(err).Str("code", code).Msg("request rejected")
	}
	writeJSON(w, status, map[string]string{"error": code, "detail": err.Error()})
}

func statusFor(err error) int {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
