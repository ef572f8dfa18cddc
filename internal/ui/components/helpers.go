// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"time"

	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/ui/styles"
)

// =============================================================================
// SHARED HELPER FUNCTIONS
// =============================================================================

// formatDuration formats elapsed time as 45s, 3m07s or 1h02m.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// StateLabel is the human form of a session state.
func StateLabel(s poller.State) string {
	switch s {
	case poller.StateIdle:
		return "Idle"
	case poller.StateAwaitingWorkers:
		return "Waiting for workers"
	case poller.StatePollingStatus:
		return "Analyzing"
	case poller.StateAllComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// stateIndicator pairs a state with its ASCII indicator.
func stateIndicator(s poller.State) string {
	switch s {
	case poller.StateAwaitingWorkers, poller.StatePollingStatus:
		return styles.StatusIndicators.Active
	case poller.StateAllComplete:
		return styles.StatusIndicators.Success
	default:
		return styles.StatusIndicators.Pending
	}
}
