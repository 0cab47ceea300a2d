/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		level zerolog.Level
	}{
		{"development", Options{Environment: "development"}, zerolog.DebugLevel},
		{"production", Options{Environment: "production"}, zerolog.InfoLevel},
		{"staging", Options{Environment: "staging"}, zerolog.InfoLevel},
		{"override", Options{Environment: "development", Level: "WARN"}, zerolog.WarnLevel},
		{"bad override", Options{Environment: "production", Level: "loud"}, zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.opts).GetLevel(); got != tt.level {
				t.Fatalf("level = %v, want %v", got, tt.level)
			}
		})
	}
}

func TestNewProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Environment: "production", Out: &buf})
	logger.Info().Str("component", "test").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("output %q: %v", buf.String(), err)
	}
	if line["message"] != "hello" || line["component"] != "test" {
		t.Fatalf("line = %v", line)
	}
}

func TestNewConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Environment: "development", Out: &buf})
	logger.Info().Msg("hello")
	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "hello") {
		t.Fatalf("console output = %q", out)
	}
}
