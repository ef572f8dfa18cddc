// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package components provides the pieces the billdash dashboard is built from.

Each component holds plain fields that the dashboard model sets from session
snapshots or telemetry panels, plus a View method. None of them start
goroutines or timers of their own.

# Components

  - Header (header.go) - brand, bill name, job id and a state badge
  - Stepper (stepper.go) - pipeline stages with done, active and pending
    markers, the active stage's detail text and overall progress
  - TelemetryPanel (telemetry.go) - power gauge, CPU split, throughput
    sparkline and the hardware table
  - ReportView (report_view.go) - glamour-rendered report in a viewport that
    follows new content
  - StatusBar (statusbar.go) - session state, poll errors and export state
  - Spinner (spinner.go) - bubbles spinner with message and timer
  - ToastManager (error_toast.go) - auto-dismissing notices
  - ErrorPatternMatcher (error_patterns.go) - maps failures to a one-line fix

All widths are display cells. Text is truncated with go-runewidth so wide
characters never break alignment.
*/
package components
