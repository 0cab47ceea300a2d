/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the log format and destination.
type Options struct {
	Environment string
	Level       string    // overrides the environment default when set
	Out         io.Writer // defaults to stdout
	JSON        bool      // forced in production
}

// Setup configures zerolog for the process from the environment name.
func Setup(environment, level string) zerolog.Logger {
	logger := New(Options{Environment: environment, Level: level})
	log.Logger = logger
	return logger
}

// New builds a logger without touching the global one. CLI commands that
// write documents to stdout use it with Out set to stderr.
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if !opts.JSON && !strings.EqualFold(opts.Environment, "production") {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(levelFor(opts))
}

func levelFor(opts Options) zerolog.Level {
	if opts.Level != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level)); err == nil && lvl != zerolog.NoLevel {
			return lvl
		}
	}
	if strings.EqualFold(opts.Environment, "development") {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
