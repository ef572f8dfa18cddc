// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Shared wiring for commands that talk to the job service.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/auth"
	"github.com/jeranaias/billdash/internal/config"
	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/jobclient"
	"github.com/jeranaias/billdash/internal/logging"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/report"
	"github.com/jeranaias/billdash/internal/stages"
	"github.com/jeranaias/billdash/internal/storage"
	"github.com/jeranaias/billdash/internal/telemetry"
)

// App holds the configuration, logger and clients of one invocation.
type App struct {
	Config     *config.Config
	ConfigPath string
	Log        *zap.Logger
	Client     *jobclient.Client
	Tokens     *auth.TokenStore
	Table      *stages.Table

	store    *storage.RunStore
	closeLog func()
}

// NewApp loads configuration and builds the service clients. A config file
// that fails to load is fatal unless it is the implicit default file, in
// which case defaults are used with a warning.
func NewApp(args Args) (*App, error) {
	applyColorFlag(args)

	cfg, path, err := loadConfig(args)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Verbose: args.Verbose,
	})
	if err != nil {
		return nil, config.ValidationError{Field: "logging", Message: err.Error()}
	}

	table, err := cfg.StageTable()
	if err != nil {
		closeLog()
		return nil, config.ValidationError{Field: "stages", Message: err.Error()}
	}

	tokens, err := auth.NewTokenStore(cfg.Server.TokenFile)
	if err != nil {
		closeLog()
		return nil, err
	}
	if cfg.Server.Token == "" {
		switch tok, err := tokens.Load(); {
		case err == nil:
			cfg.Server.Token = tok
		case !errors.Is(err, auth.ErrNoToken):
			log.Warn("stored token unreadable", zap.String("path", tokens.Path()), zap.Error(err))
		}
	}

	return &App{
		Config:     cfg,
		ConfigPath: path,
		Log:        log,
		Client:     jobclient.NewClientWithConfig(cfg.JobClientConfig(log)),
		Tokens:     tokens,
		Table:      table,
		closeLog:   closeLog,
	}, nil
}

func loadConfig(args Args) (*config.Config, string, error) {
	if args.ConfigPath != "" {
		cfg, err := config.LoadFromPath(args.ConfigPath)
		if err != nil {
			return nil, "", err
		}
		return cfg, args.ConfigPath, nil
	}

	path, _ := config.ActivePath()
	cfg, err := config.Load()
	if cfg == nil {
		return nil, "", err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v (using defaults)\n", WarningStyle.Render("[WARN]"), err)
	}
	return cfg, path, nil
}

// NewSession builds a polling session whose report fragments are fetched
// through the job client. A non-nil store records every snapshot.
func (a *App) NewSession(store *storage.RunStore) (*poller.Session, *report.Assembler) {
	asm := report.NewAssembler(a.Table, a.Client, a.Log)
	opts := []poller.Option{poller.WithLogger(a.Log)}
	if store != nil {
		opts = append(opts, poller.WithRecorder(store))
	}
	return poller.NewSession(a.Config.PollerConfig(), a.Client, a.Table, asm, opts...), asm
}

// OpenStore opens run history once and returns the same store afterwards.
func (a *App) OpenStore() (*storage.RunStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := storage.Open(a.Config.Storage.Path, storage.WithLogger(a.Log))
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	a.store = store
	return store, nil
}

// Exports returns an export service using the configured options.
func (a *App) Exports() *export.Service {
	return export.NewService(a.Config.ExportOptions(), a.Log)
}

// Monitor returns a telemetry monitor for the metrics proxy.
func (a *App) Monitor() *telemetry.Monitor {
	tc := a.Config.TelemetryConfig()
	return telemetry.NewMonitor(telemetry.NewClient(tc, a.Log), tc, a.Log)
}

// Close prunes history to storage.keep_runs, closes the store and flushes
// the log.
func (a *App) Close() {
	if a.store != nil {
		if keep := a.Config.Storage.KeepRuns; keep > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if n, err := a.store.Prune(ctx, keep); err != nil {
				a.Log.Warn("prune run history", zap.Error(err))
			} else if n > 0 {
				a.Log.Debug("pruned run history", zap.Int64("removed", n))
			}
			cancel()
		}
		_ = a.store.Close()
		a.store = nil
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

// stageStates lists every stage as done, active or pending.
func stageStates(t *stages.Table, completed []int, active int) []StageState {
	done := stages.NewSet(completed...)
	out := make([]StageState, 0, t.Len())
	for _, st := range t.Stages() {
		status := "pending"
		switch {
		case done.Has(st.Index):
			status = "done"
		case st.Index == active:
			status = "active"
		}
		out = append(out, StageState{Index: st.Index, Name: st.Name, Status: status})
	}
	return out
}
