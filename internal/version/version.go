/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the current version of Grimnir Automation.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/grimnir_automation/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the VCS revision, set via ldflags or read from build info.
var Commit = ""

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Current returns build information for this binary.
func Current() Info {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	return Info{
		Version:   Version,
		Commit:    commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the info on one line.
func (i Info) String() string {
	s := "grimnirautomation " + i.Version
	if i.Commit != "" {
		s += fmt.Sprintf(" (%s)", shortCommit(i.Commit))
	}
	return s + " " + i.GoVersion + " " + i.Platform
}

// UserAgent identifies outbound connections such as NATS clients.
func UserAgent() string {
	return "Grimnir-Automation/" + Version
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
