/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_automation/internal/api"
	"github.com/friendsincode/grimnir_automation/internal/automation"
	"github.com/friendsincode/grimnir_automation/internal/cache"
	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/db"
	"github.com/friendsincode/grimnir_automation/internal/eventbus"
	"github.com/friendsincode/grimnir_automation/internal/leadership"
	"github.com/friendsincode/grimnir_automation/internal/logstore"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/player"
	"github.com/friendsincode/grimnir_automation/internal/queue"
	"github.com/friendsincode/grimnir_automation/internal/recorders"
	"github.com/friendsincode/grimnir_automation/internal/schedule"
	"github.com/friendsincode/grimnir_automation/internal/tasks"
	"github.com/friendsincode/grimnir_automation/internal/telemetry"
)

const (
	electionKey   = "grimnir:leader:automation"
	lockRetry     = 2 * time.Second
	taskDrainWait = 5 * time.Second
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db      *gorm.DB
	cache   *cache.Cache
	bus     eventbus.Bus
	policy  *config.PolicyWatcher
	runner  *tasks.Runner
	manager *automation.Manager
	leader  *automation.LeaderAwareManager
	api     *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("grimnir-automation-api"))
	router.Use(telemetry.MetricsMiddleware)
	// The event stream is long lived.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		// Release whatever was opened before the failure.
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// The event stream manages its own write deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	bus, err := eventbus.New(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	s.bus = bus
	s.DeferClose(bus.Close)

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	libraryCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		libraryCache = cache.Disabled(s.logger)
	}
	s.cache = libraryCache
	s.DeferClose(libraryCache.Close)

	policy, err := config.NewPolicyWatcher(s.cfg.PolicyFile, s.logger)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	s.policy = policy

	store := metadata.NewMemStore()
	bank := player.NewMemBank(s.cfg.PlayerSlots, store, s.logger)
	resolver := schedule.NewResolver(database, libraryCache, s.logger)
	source := schedule.NewSource(database, libraryCache, s.logger)

	state := automation.NewStateMachine(database, bus, policy, s.logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := state.Load(ctx); err != nil {
		return fmt.Errorf("load automation state: %w", err)
	}

	s.runner = tasks.NewRunner(s.logger)
	q := queue.New(queue.Options{
		Store:    store,
		Bank:     bank,
		Resolver: resolver,
		Bus:      bus,
		Policy:   policy,
		Logger:   s.logger,
	})
	s.manager = automation.NewManager(automation.Options{
		Queue:     q,
		Store:     store,
		Resolver:  resolver,
		Schedule:  source,
		Fill:      source,
		Cursors:   automation.NewDBCursors(database),
		Logs:      logstore.New(database, bus, s.logger),
		State:     state,
		Recorders: recorders.NewRegistry(policy.Current().RecorderTTL, bus, s.logger),
		Runner:    s.runner,
		Bus:       bus,
		Policy:    policy,
		Logger:    s.logger,
	})

	leader, err := s.newLeader(bus)
	if err != nil {
		return err
	}
	s.leader = automation.NewLeaderAware(s.manager, leader, s.logger)

	s.api = api.New(api.Options{
		Manager:   s.manager,
		Bus:       bus,
		Policy:    policy,
		Leader:    s.leader,
		Library:   schedule.NewLibraryService(database, bus, s.logger),
		JWTSecret: []byte(s.cfg.JWTSigningKey),
		Logger:    s.logger,
	})
	return nil
}

// newLeader picks Redis election across hosts, or a host file lock.
func (s *Server) newLeader(bus eventbus.Bus) (leadership.Leader, error) {
	if s.cfg.LeaderElectionEnabled {
		election, err := leadership.NewElection(leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			ElectionKey:   electionKey,
			InstanceID:    s.cfg.InstanceID,
		}, bus, s.logger)
		if err != nil {
			return nil, fmt.Errorf("create leader election: %w", err)
		}
		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", election.InstanceID()).
			Msg("leader election enabled for automation manager")
		return election, nil
	}
	s.logger.Info().Str("path", s.cfg.LockFile).Msg("using host lock for automation manager")
	return leadership.NewFileLock(s.cfg.LockFile, lockRetry, bus, s.logger), nil
}

// HTTPServer returns the configured http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router returns the mounted routes.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close stops background work and releases resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	if s.runner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), taskDrainWait)
		if err := s.runner.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("tasks still running at shutdown")
		}
		cancel()
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers fn to run on Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.goBackground("automation manager", func() error { return s.leader.Run(ctx) })
	s.goBackground("policy watcher", func() error { return s.policy.Run(ctx) })
	s.goBackground("cache invalidation", func() error {
		s.cache.Watch(ctx, s.bus)
		return nil
	})

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
}

func (s *Server) goBackground(name string, fn func() error) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("worker", name).Msg("background worker exited")
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}
