// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history_cmd.go - List past runs.
//
// Command: history [--limit N]
// Aliases: runs

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/storage"
)

// HandleHistory lists stored runs, newest first.
func HandleHistory(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)
	limit, err := p.FlagInt("limit", 20)
	if err != nil {
		return err
	}
	if limit < 0 {
		return NewValidationError("limit", fmt.Sprint(limit), "must not be negative")
	}

	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	store, err := app.OpenStore()
	if err != nil {
		return err
	}
	runs, err := store.List(ctx, limit)
	if err != nil {
		return err
	}

	if args.JSON {
		if runs == nil {
			runs = []*storage.Run{}
		}
		return writeJSON(args, HistoryData{Path: store.Path(), Runs: runs})
	}

	w := args.out()
	if args.Quiet {
		for _, r := range runs {
			fmt.Fprintln(w, r.ID)
		}
		return nil
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No runs yet. Submit a bill with: billdash submit <bill.pdf>"))
		return nil
	}

	total := app.Table.Len()
	now := time.Now()
	fmt.Fprintf(w, "%-10s %-28s %-9s %-10s %s\n", "RUN", "BILL", "STAGES", "STATE", "UPDATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%-10s %-28s %-9s %-10s %s\n",
			shortID(r.ID),
			truncate(r.BillName, 28),
			fmt.Sprintf("%d/%d", len(r.Completed), total),
			runState(r),
			formatAge(r.UpdatedAt, now))
	}
	return nil
}

func runState(r *storage.Run) string {
	switch {
	case r.TimedOut:
		return "timed out"
	case r.State == poller.StateAllComplete:
		return "complete"
	case r.State == poller.StateIdle:
		if r.LastError != "" {
			return "failed"
		}
		return "stopped"
	}
	return "running"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}
