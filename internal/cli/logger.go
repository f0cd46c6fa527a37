// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli carries the helpers shared by the stride command-line
// tools.
package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the structured logger of a command-line tool.
// When stderr is a terminal it uses slog.TextHandler for human-readable
// output; when stderr is piped or redirected (CI, scripts) it uses
// slog.JSONHandler for machine-parseable output.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
