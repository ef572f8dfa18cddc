// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/config"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/telemetry"
)

// =============================================================================
// PROGRAM
// =============================================================================

// Live holds the background sources that feed a running dashboard.
type Live struct {
	// Monitor refreshes the telemetry panels. Nil hides them.
	Monitor *telemetry.Monitor
	// ConfigPath is watched for changes. Empty disables hot reload.
	ConfigPath string
}

// observable is implemented by *poller.Session.
type observable interface {
	OnUpdate(fn func(poller.Snapshot))
}

// Run starts the dashboard and blocks until the user quits or ctx is done.
// Session, monitor and config events are delivered through Program.Send.
func Run(ctx context.Context, opts Options, live Live) error {
	if opts.Session == nil {
		return errors.New("dashboard: no session")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := New(ctx, opts)
	if live.Monitor == nil {
		m.telemetry.Enabled = false
	} else {
		m.applyPanels(live.Monitor.Panels())
	}

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	if obs, ok := opts.Session.(observable); ok {
		obs.OnUpdate(func(snap poller.Snapshot) {
			if live.Monitor != nil {
				live.Monitor.SetJobs(snap.Replicas)
			}
			p.Send(SnapshotMsg{Snapshot: snap})
		})
	}

	if live.Monitor != nil {
		live.Monitor.OnUpdate(func(panels telemetry.Panels) {
			p.Send(PanelsMsg{Panels: panels})
		})
		go live.Monitor.Run(ctx)
	}

	if live.ConfigPath != "" {
		w, err := config.NewWatcher(live.ConfigPath, func(cfg *config.Config, err error) {
			if err == nil && cfg != nil && live.Monitor != nil {
				t := cfg.Telemetry
				live.Monitor.SetQueries(t.PowerQuery, t.CPUQuery, t.ThroughputQuery)
			}
			p.Send(ConfigMsg{Config: cfg, Err: err})
		}, logger)
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		} else if err := w.Watch(); err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
			_ = w.Close()
		} else {
			defer w.Close()
		}
	}

	logger.Info("dashboard started")
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	logger.Info("dashboard stopped")
	return nil
}
