// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// submit_cmd.go - Submit a bill from the command line.
//
// Command: submit <bill.pdf>
// Aliases: run
//
// Examples:
//   billdash submit hb-101.pdf                        Upload and print the flow run ID
//   billdash submit hb-101.pdf --wait                 Follow every stage to completion
//   billdash submit hb-101.pdf --export --format md   Also export the report
//
// Flags:
//   --replicas N        Replica flow runs, 0-100 (default: 1)
//   --wait              Block until all stages complete
//   --export            Export when complete (implies --wait)
//   --format FMT        pdf, md, html or json

package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/stages"
)

var supportedFormats = []string{"pdf", "md", "html", "json"}

// HandleSubmit uploads a bill and optionally follows and exports it.
func HandleSubmit(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, "wait", "export")

	path := p.Positional(0)
	if path == "" {
		return ErrMissingArgument("bill", "billdash submit hb-101.pdf --replicas 2")
	}
	replicas, err := p.FlagInt("replicas", 1)
	if err != nil {
		return err
	}
	doExport := p.BoolFlag("export")
	wait := doExport || p.BoolFlag("wait")

	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	var exporter export.Exporter
	if doExport {
		format := p.Flag("format")
		if exporter, err = app.Config.Exporter(format); err != nil {
			return ErrUnsupportedFormat(format, supportedFormats)
		}
	}

	store, err := app.OpenStore()
	if err != nil {
		app.Log.Warn("run history disabled", zap.Error(err))
		store = nil
	}

	sess, asm := app.NewSession(store)
	defer sess.Close()

	w := args.out()
	human := !args.JSON && !args.Quiet
	if human && wait {
		sess.OnUpdate(newProgressPrinter(w, app.Table).print)
	}

	if err := sess.Submit(ctx, poller.SubmitRequest{Path: path, Replicas: replicas}); err != nil {
		return err
	}
	snap := sess.Snapshot()
	if human {
		fmt.Fprintf(w, "%s Submitted %s (flow run %s)\n",
			SuccessStyle.Render("[OK]"), snap.BillName, snap.JobID)
	}

	if wait {
		if snap, err = sess.Wait(ctx); err != nil {
			return err
		}
	}

	data := SubmitData{
		RunID:     snap.RunID,
		FlowRunID: snap.JobID,
		Bill:      snap.BillName,
		Replicas:  snap.Replicas,
		State:     snap.State.String(),
		TimedOut:  snap.TimedOut,
	}
	if wait {
		data.Stages = stageStates(app.Table, snap.Completed, snap.Active)
	}

	if snap.TimedOut {
		if human {
			fmt.Fprintf(w, "%s No stage completed within %s; stopped polling\n",
				WarningStyle.Render("[WARN]"), app.Config.Poll.StageTimeout.Duration)
		}
		if args.JSON {
			_ = writeJSON(args, data)
		}
		return NewCommandError("submit", "wait", "stage timed out", context.DeadlineExceeded)
	}

	if doExport {
		doc := &export.Document{
			BillName:    snap.BillName,
			JobID:       snap.JobID,
			RunID:       snap.RunID,
			Replicas:    snap.Replicas,
			Fragments:   asm.Fragments(),
			Markdown:    snap.Report,
			GeneratedAt: time.Now(),
		}
		out, err := app.Exports().Export(ctx, doc, exporter, app.Client, app.Table.FinalKey())
		if err != nil {
			return NewCommandError("submit", "export", "could not write report", err)
		}
		data.ExportPath = out
		if human {
			fmt.Fprintf(w, "%s Report exported to %s\n", SuccessStyle.Render("[OK]"), out)
		}
	}

	switch {
	case args.JSON:
		return writeJSON(args, data)
	case args.Quiet:
		fmt.Fprintln(w, snap.JobID)
	case !wait:
		fmt.Fprintf(w, "%s\n", DimStyle.Render("Follow it with: billdash status "+snap.JobID+" --watch"))
	}
	return nil
}

// =============================================================================
// PROGRESS
// =============================================================================

// progressPrinter prints one line per state change and per completed stage.
type progressPrinter struct {
	w     io.Writer
	table *stages.Table

	mu    sync.Mutex
	state poller.State
	done  stages.Set
}

func newProgressPrinter(w io.Writer, table *stages.Table) *progressPrinter {
	return &progressPrinter{w: w, table: table, done: stages.NewSet()}
}

func (p *progressPrinter) print(snap poller.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.State != p.state {
		p.state = snap.State
		switch snap.State {
		case poller.StateAwaitingWorkers:
			fmt.Fprintf(p.w, "%s Waiting for workers\n", RenderStatus("running"))
		case poller.StatePollingStatus:
			fmt.Fprintf(p.w, "%s Polling worker %s\n", RenderStatus("running"), snap.WorkerID)
		}
	}

	for _, idx := range snap.Completed {
		if p.done.Has(idx) {
			continue
		}
		p.done[idx] = struct{}{}
		name := fmt.Sprintf("stage %d", idx)
		if st, ok := p.table.Stage(idx); ok {
			name = st.Name
		}
		fmt.Fprintf(p.w, "%s [%d/%d] %s\n", RenderStatus("done"), len(p.done), p.table.Len(), name)
	}
}
