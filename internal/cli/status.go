// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Stage progress of a submitted job.
//
// Command: status <flow-run-id>
// Aliases: s
//
// Examples:
//   billdash status 3f2a9c1e               One-shot stage listing
//   billdash status 3f2a9c1e --report      Also print the report so far
//   billdash status 3f2a9c1e --watch       Poll until every stage completes
//
// The first replica (in key order) is the one whose status is shown, the
// same worker the dashboard follows.

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/billdash/internal/report"
	"github.com/jeranaias/billdash/internal/stages"
)

// HandleStatus prints the stage progress of a flow run.
func HandleStatus(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, "report", "watch")
	jobID := p.Positional(0)
	if jobID == "" {
		return ErrMissingArgument("flow-run-id", "billdash status 3f2a9c1e --report")
	}

	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	if p.BoolFlag("watch") {
		return watchStatus(ctx, app, args, jobID, p.BoolFlag("report"))
	}

	workers, err := app.Client.ListWorkers(ctx, jobID)
	if err != nil {
		return err
	}
	if len(workers) == 0 {
		return &NotFoundError{Resource: "workers for flow run", ID: jobID}
	}

	raw, err := app.Client.GetStatus(ctx, workers[0].ID)
	if err != nil {
		return err
	}
	res, err := stages.Aggregate(app.Table, stages.NewSet(), raw)
	if err != nil {
		return NewCommandError("status", "decode", "worker returned a malformed status", err)
	}

	data := StatusData{
		FlowRunID: jobID,
		WorkerID:  workers[0].ID,
		Workers:   len(workers),
		Complete:  res.AllComplete(),
		Stages:    stageStates(app.Table, res.Completed.Sorted(), res.Active),
	}
	if p.BoolFlag("report") {
		data.Report = assembleReport(ctx, app, res.Completed.Sorted())
	}

	if args.JSON {
		return writeJSON(args, data)
	}
	printStatus(args, data)
	return nil
}

// assembleReport fetches the outputs of the completed stages and joins them
// in stage order.
func assembleReport(ctx context.Context, app *App, completed []int) string {
	asm := report.NewAssembler(app.Table, app.Client, app.Log)
	defer asm.Close()
	asm.Advance(ctx, completed)
	asm.Wait()
	asm.Flush()
	return asm.Markdown()
}

func watchStatus(ctx context.Context, app *App, args Args, jobID string, withReport bool) error {
	sess, _ := app.NewSession(nil)
	defer sess.Close()

	w := args.out()
	if !args.JSON && !args.Quiet {
		sess.OnUpdate(newProgressPrinter(w, app.Table).print)
	}
	if err := sess.Attach(jobID, "", 0); err != nil {
		return err
	}
	snap, err := sess.Wait(ctx)
	if err != nil {
		return err
	}

	data := StatusData{
		FlowRunID: jobID,
		WorkerID:  snap.WorkerID,
		Complete:  len(snap.Completed) == app.Table.Len(),
		Stages:    stageStates(app.Table, snap.Completed, snap.Active),
	}
	if withReport {
		data.Report = snap.Report
	}
	if snap.TimedOut {
		if args.JSON {
			_ = writeJSON(args, data)
		}
		return NewCommandError("status", "watch", "stage timed out", context.DeadlineExceeded)
	}

	if args.JSON {
		return writeJSON(args, data)
	}
	printStatus(args, data)
	return nil
}

func printStatus(args Args, data StatusData) {
	w := args.out()
	if args.Quiet {
		done := 0
		for _, st := range data.Stages {
			if st.Status == "done" {
				done++
			}
		}
		fmt.Fprintf(w, "%d/%d\n", done, len(data.Stages))
		return
	}

	fmt.Fprintln(w, TitleStyle.Render("Flow run "+data.FlowRunID))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Worker:"), ValueStyle.Render(data.WorkerID))
	if data.Workers > 1 {
		fmt.Fprintf(w, "%s%d\n", RenderLabel("Replicas:"), data.Workers)
	}
	fmt.Fprintln(w)
	for _, st := range data.Stages {
		fmt.Fprintf(w, "  %s %s\n", RenderStatus(st.Status), st.Name)
	}
	if data.Complete {
		fmt.Fprintf(w, "\n%s\n", SuccessStyle.Render("All stages complete"))
	}

	if strings.TrimSpace(data.Report) != "" {
		fmt.Fprintln(w, SectionStyle.Render("Report"))
		fmt.Fprintln(w, renderMarkdown(data.Report))
	}
}
