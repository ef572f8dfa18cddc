// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// dash_cmd.go - The interactive dashboard.
//
// Command: dash (default)
// Aliases: dashboard, tui

package cli

import (
	"context"

	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/ui/dashboard"
)

// HandleDash runs the dashboard until the user quits.
func HandleDash(ctx context.Context, args Args) error {
	if !IsStdoutTTY() {
		return &TTYRequiredError{Operation: "run the dashboard", Stream: "stdout"}
	}

	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	store, err := app.OpenStore()
	if err != nil {
		// History is optional for the dashboard.
		app.Log.Warn("run history disabled", zap.Error(err))
		store = nil
	}

	sess, asm := app.NewSession(store)
	defer sess.Close()

	live := dashboard.Live{ConfigPath: app.ConfigPath}
	if app.Config.Telemetry.Enabled {
		live.Monitor = app.Monitor()
	}

	return dashboard.Run(ctx, dashboard.Options{
		Session:   sess,
		Fragments: asm,
		Exports:   app.Exports(),
		Final:     app.Client,
		Config:    app.Config,
		Logger:    app.Log,
	}, live)
}
