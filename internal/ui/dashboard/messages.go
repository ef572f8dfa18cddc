// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"github.com/jeranaias/billdash/internal/config"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/telemetry"
)

// =============================================================================
// MESSAGES
// =============================================================================

// SnapshotMsg delivers a session snapshot. Sent from the session's observer
// callback through tea.Program.Send.
type SnapshotMsg struct {
	Snapshot poller.Snapshot
}

// PanelsMsg delivers refreshed telemetry panels.
type PanelsMsg struct {
	Panels telemetry.Panels
}

// ConfigMsg delivers a hot-reloaded config, or the error that kept the old
// one in place.
type ConfigMsg struct {
	Config *config.Config
	Err    error
}

// submitResultMsg reports the outcome of an upload.
type submitResultMsg struct {
	err error
}

// exportResultMsg reports the outcome of an export.
type exportResultMsg struct {
	path   string
	format string
	err    error
}
