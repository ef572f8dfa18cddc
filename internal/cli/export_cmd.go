// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// export_cmd.go - Export a report from run history.
//
// Command: export
//
// Examples:
//   billdash export                                  Latest run, export.format
//   billdash export --run 7c1e --format md            A specific run
//   billdash export --latest --source final -o out/   Final artifact only
//
// Flags:
//   --run ID            Run ID from "billdash history"
//   --latest            Most recent run (default)
//   --format FMT        pdf, md, html or json
//   --source SRC        buffer or final
//   -o, --output DIR    Output directory

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/storage"
)

// HandleExport writes a stored run's report to a file.
func HandleExport(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, "latest")
	if p.BoolFlag("latest") && p.Flag("run") != "" {
		return NewValidationError("run", p.Flag("run"), "--run and --latest are mutually exclusive")
	}

	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	format := p.Flag("format", "f")
	if format == "" {
		format = app.Config.Export.Format
	}
	exporter, err := app.Config.Exporter(format)
	if err != nil {
		return ErrUnsupportedFormat(format, supportedFormats)
	}

	if src := p.Flag("source"); src != "" {
		parsed, err := export.ParseSource(src)
		if err != nil {
			return NewValidationErrorWithExample("source", src, "must be buffer or final", "--source final")
		}
		app.Config.Export.Source = string(parsed)
	}
	if dir := p.Flag("output", "o"); dir != "" {
		app.Config.Export.OutputDir = dir
	}

	store, err := app.OpenStore()
	if err != nil {
		return err
	}

	run, err := findRun(ctx, store, p.Flag("run"))
	if err != nil {
		return err
	}

	doc := &export.Document{
		BillName:    run.BillName,
		JobID:       run.FlowRunID,
		RunID:       run.ID,
		Replicas:    run.Replicas,
		Markdown:    run.Report,
		GeneratedAt: time.Now(),
	}
	path, err := app.Exports().Export(ctx, doc, exporter, app.Client, app.Table.FinalKey())
	if err != nil {
		if errors.Is(err, export.ErrEmptyReport) {
			return NewCommandError("export", "render", "run "+shortID(run.ID)+" has no report text", err)
		}
		return err
	}

	if args.JSON {
		return writeJSON(args, ExportData{
			RunID:  run.ID,
			Path:   path,
			Format: strings.TrimPrefix(exporter.FileExtension(), "."),
		})
	}
	if args.Quiet {
		fmt.Fprintln(args.out(), path)
		return nil
	}
	fmt.Fprintf(args.out(), "%s Report for %s exported to %s\n",
		SuccessStyle.Render("[OK]"), run.BillName, path)
	return nil
}

// findRun returns the run with id, or the latest run when id is empty.
// A unique ID prefix of at least four characters is accepted.
func findRun(ctx context.Context, store *storage.RunStore, id string) (*storage.Run, error) {
	if id == "" {
		run, err := store.Latest(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Resource: "run", ID: "latest (history is empty)"}
		}
		return run, err
	}

	run, err := store.Get(ctx, id)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, storage.ErrNotFound) || len(id) < 4 {
		return nil, err
	}

	runs, err := store.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	var match *storage.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			if match != nil {
				return nil, NewValidationError("run", id, "prefix matches more than one run")
			}
			match = r
		}
	}
	if match == nil {
		return nil, &NotFoundError{Resource: "run", ID: id}
	}
	return match, nil
}
