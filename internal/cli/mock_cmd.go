// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// mock_cmd.go - Run a local fake backend.
//
// Command: mock [--addr :8100] [--step 3s] [--auth]
//
// Serves the job, auth and metrics endpoints so the dashboard can be tried
// without the analysis cluster. Stops on Ctrl+C.

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/billdash/internal/logging"
	"github.com/jeranaias/billdash/internal/mockserver"
	"github.com/jeranaias/billdash/internal/stages"
)

// HandleMock serves the fake backend until ctx is cancelled.
func HandleMock(ctx context.Context, args Args) error {
	applyColorFlag(args)
	p := NewArgParser(args.Raw, "auth")

	def := mockserver.DefaultOptions()
	step, err := p.FlagDuration("step", def.Step)
	if err != nil {
		return err
	}
	delay, err := p.FlagDuration("replica-delay", def.ReplicaDelay)
	if err != nil {
		return err
	}
	if step <= 0 {
		return NewValidationErrorWithExample("step", step.String(), "must be positive", "--step 2s")
	}
	addr := p.FlagOrDefault("addr", ":8100")

	// The mock is a foreground server: log to stderr, not the dashboard file.
	log, closeLog, err := logging.New(logging.Options{Level: "info", File: "-", Verbose: true})
	if err != nil {
		return err
	}
	defer closeLog()

	srv := mockserver.New(mockserver.Options{
		Step:         step,
		ReplicaDelay: delay,
		RequireAuth:  p.BoolFlag("auth"),
		Logger:       log,
	})

	if !args.JSON && !args.Quiet {
		fmt.Fprintf(args.out(), "%s Mock backend on %s (stage step %s, about %s per bill)\n",
			SuccessStyle.Render("[OK]"), addr, step, (time.Duration(stages.Default().Len())*step + delay).Round(time.Second))
		fmt.Fprintln(args.out(), DimStyle.Render("Point billdash at it with: BILLDASH_HOST=localhost billdash"))
	}
	return srv.Run(ctx, addr)
}
