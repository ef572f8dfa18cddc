// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the billdash dashboard.

# Color System (colors.go)

All colors are Lip Gloss AdaptiveColor values. NewTheme decides which half
of each pair applies, either from the configured mode or, for "auto", from
the terminal background.

  - Purple - panel titles and the active stage
  - Cyan - brand, key hints, focused panels
  - Emerald - completed stages and success
  - Amber - warnings and the power gauge
  - Rose - errors

Status text always carries an ASCII indicator ([OK], [X], [!], [i]) so state
is readable without color.

# Theme (theme.go)

Theme groups the styles used by the header, stepper, telemetry panels,
controls and status bar. GetLayoutMode picks narrow, medium or wide layouts
from the terminal width.

# Gauges (gauge.go)

RenderProgressBar draws a fixed-width bar with eighth-cell partials.
Theme.RenderGauge is the styled variant used by the power panel.
*/
package styles
