// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/ui/styles"
	"github.com/jeranaias/billdash/internal/util"
)

// =============================================================================
// HEADER COMPONENT
// =============================================================================

// Header is the top line: brand, bill, job id and a state badge.
type Header struct {
	Title    string
	Bill     string
	JobID    string
	Replicas int
	State    poller.State
	Server   string
	Width    int

	theme *styles.Theme
}

// NewHeader creates a header.
func NewHeader(theme *styles.Theme) *Header {
	return &Header{
		Title: "billdash",
		Width: 80,
		theme: theme,
	}
}

// SetTheme swaps the theme after a live reload.
func (h *Header) SetTheme(theme *styles.Theme) { h.theme = theme }

// Apply copies the job fields of a session snapshot.
func (h *Header) Apply(snap poller.Snapshot) {
	h.Bill = snap.BillName
	h.JobID = snap.JobID
	h.Replicas = snap.Replicas
	h.State = snap.State
}

// View renders the header at the configured width.
func (h *Header) View() string {
	t := h.theme
	width := max(h.Width, 40)

	brand := t.HeaderBrand.Render("< ") + t.HeaderTitle.Render(h.Title) + t.HeaderBrand.Render(" >")
	badge := t.Badge.Render(stateIndicator(h.State) + " " + StateLabel(h.State))

	var parts []string
	if h.Bill != "" {
		parts = append(parts, h.Bill)
	}
	if h.JobID != "" {
		parts = append(parts, "job "+shortID(h.JobID))
	}
	if h.Replicas > 0 {
		parts = append(parts, "x"+strconv.Itoa(h.Replicas))
	}
	if len(parts) == 0 && h.Server != "" {
		parts = append(parts, h.Server)
	}

	room := width - lipgloss.Width(brand) - lipgloss.Width(badge) - 6
	subtitle := t.HeaderSubtitle.Render(util.TruncateWidth(strings.Join(parts, " · "), max(room, 0)))

	left := brand + "  " + subtitle
	gap := max(width-lipgloss.Width(left)-lipgloss.Width(badge)-2, 1)
	return t.Header.Width(width).Render(left + strings.Repeat(" ", gap) + badge)
}

// shortID keeps the first eight characters of a flow run id.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
