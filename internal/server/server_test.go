/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_automation/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Environment: "test",
		HTTPBind:    "127.0.0.1",
		HTTPPort:    0,
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       filepath.Join(dir, "automation.db"),
		PlayerSlots: 4,
		RedisAddr:   "127.0.0.1:1",
		LockFile:    filepath.Join(dir, "automation.lock"),
		EventBus:    config.EventBusMemory,
	}
}

func TestServerWiresRoutes(t *testing.T) {
	srv, err := New(testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/queue", http.StatusOK},
		{"/api/v1/automation", http.StatusOK},
		{"/api/v1/log", http.StatusOK},
		{"/api/v1/schedule.ics", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
				t.Fatalf("X-Frame-Options = %q", got)
			}
		})
	}

	if !strings.HasSuffix(srv.HTTPServer().Addr, ":0") {
		t.Fatalf("addr = %q", srv.HTTPServer().Addr)
	}
}

func TestServerRejectsUnknownBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventBus = "carrier-pigeon"
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown event bus")
	}
}
