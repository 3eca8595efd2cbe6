// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging wraps the process-wide structured logger.
package logging

import (
	"fmt"
	"io"

	clog "github.com/charmbracelet/log"
)

// ParseLevel resolves a level name ("debug", "info", "warn", "error").
func ParseLevel(level string) (clog.Level, error) {
	lvl, err := clog.ParseLevel(level)
	if err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// SetLevel sets the minimum level by name. An empty name keeps the current
// level.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	L.SetLevel(lvl)
	return nil
}

// SetDebug enables or disables debug output.
func SetDebug(enabled bool) {
	if enabled {
		L.SetLevel(clog.DebugLevel)
		return
	}
	L.SetLevel(clog.InfoLevel)
}

// SetOutput redirects log output, mainly for tests and --quiet runs.
func SetOutput(w io.Writer) {
	L.SetOutput(w)
}
