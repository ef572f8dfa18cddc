// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/config"
	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/report"
	"github.com/jeranaias/billdash/internal/stages"
	"github.com/jeranaias/billdash/internal/telemetry"
	"github.com/jeranaias/billdash/internal/ui/components"
	"github.com/jeranaias/billdash/internal/ui/styles"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Session is the part of *poller.Session the dashboard drives.
type Session interface {
	Submit(ctx context.Context, req poller.SubmitRequest) error
	Reset()
	Snapshot() poller.Snapshot
	Stages() *stages.Table
}

// Exporter is the part of *export.Service the dashboard drives.
type Exporter interface {
	Export(ctx context.Context, doc *export.Document, exporter export.Exporter, final report.Fetcher, finalKey string) (string, error)
	InFlight() bool
}

// FragmentSource supplies the committed report fragments. *report.Assembler
// implements it.
type FragmentSource interface {
	Fragments() []report.Fragment
}

// Options wires the dashboard to its services.
type Options struct {
	Session   Session
	Fragments FragmentSource
	Exports   Exporter
	// Final fetches the final report artifact for the "final" export source.
	Final  report.Fetcher
	Config *config.Config
	Logger *zap.Logger
	// StartDir is where the file picker opens. Defaults to the working directory.
	StartDir string
}

// Export formats cycled by the format key.
var exportFormats = []string{"pdf", "md", "html", "json"}

// =============================================================================
// MODEL
// =============================================================================

type focus int

const (
	focusMain focus = iota
	focusPicker
	focusReplicas
)

// Model is the Bubble Tea model of the dashboard.
type Model struct {
	ctx  context.Context
	opts Options
	cfg  *config.Config
	log  *zap.Logger

	theme *styles.Theme
	keys  KeyMap
	help  help.Model

	picker   filepicker.Model
	replicas textinput.Model
	spinner  components.Spinner

	header    *components.Header
	stepper   *components.Stepper
	telemetry *components.TelemetryPanel
	report    *components.ReportView
	statusBar *components.StatusBar
	toasts    *components.ToastManager

	focus       focus
	selected    string
	snap        poller.Snapshot
	format      string
	submitting  bool
	exporting   bool
	toastTicker bool

	width  int
	height int
}

// New creates the dashboard model. ctx bounds uploads and exports started
// from the UI.
func New(ctx context.Context, opts Options) Model {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	theme := styles.NewTheme(cfg.UI.Theme)

	picker := filepicker.New()
	picker.AllowedTypes = []string{".pdf"}
	picker.CurrentDirectory = opts.StartDir
	if picker.CurrentDirectory == "" {
		if wd, err := os.Getwd(); err == nil {
			picker.CurrentDirectory = wd
		}
	}
	picker.AutoHeight = false
	picker.Height = 12

	replicas := textinput.New()
	replicas.Placeholder = "1"
	replicas.CharLimit = 3
	replicas.Width = 5
	replicas.Prompt = ""
	replicas.SetValue("1")
	replicas.Validate = validateReplicas

	table := opts.Session.Stages()
	m := Model{
		ctx:       ctx,
		opts:      opts,
		cfg:       cfg,
		log:       logger.Named("dashboard"),
		theme:     theme,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		picker:    picker,
		replicas:  replicas,
		spinner:   components.NewSpinner(""),
		header:    components.NewHeader(theme),
		stepper:   components.NewStepper(theme, table),
		telemetry: components.NewTelemetryPanel(theme),
		report:    components.NewReportView(theme, 60, 20),
		statusBar: components.NewStatusBar(theme),
		toasts:    components.NewToastManager(),
		format:    normalizeFormat(cfg.Export.Format),
		width:     100,
		height:    30,
	}
	m.header.Server = cfg.APIURL()
	m.telemetry.Enabled = cfg.Telemetry.Enabled
	m.stepper.Compact = cfg.UI.Compact
	m.apply(opts.Session.Snapshot())
	m.layout()
	return m
}

// Init starts the file picker's directory read.
func (m Model) Init() tea.Cmd {
	return m.picker.Init()
}

// Snapshot returns the last session snapshot the model applied.
func (m Model) Snapshot() poller.Snapshot { return m.snap }

// SelectedFile returns the chosen bill path.
func (m Model) SelectedFile() string { return m.selected }

// Format returns the export format.
func (m Model) Format() string { return m.format }

// CanSubmit reports whether a submission would be accepted: a file and a
// valid replica count are set and no job is in flight.
func (m Model) CanSubmit() bool {
	if m.selected == "" || m.submitting || m.snap.InFlight() {
		return false
	}
	_, err := m.replicaCount()
	return err == nil
}

// CanExport reports whether there is report content and no export running.
func (m Model) CanExport() bool {
	if m.exporting || m.report.Empty() {
		return false
	}
	return m.opts.Exports == nil || !m.opts.Exports.InFlight()
}

func (m Model) replicaCount() (int, error) {
	v := strings.TrimSpace(m.replicas.Value())
	if v == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > poller.MaxReplicas {
		return 0, poller.ErrInvalidReplicas
	}
	return n, nil
}

func validateReplicas(s string) error {
	for _, r := range s {
		if r < '0' || r > '9' {
			return errors.New("digits only")
		}
	}
	return nil
}

func normalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
	for _, known := range exportFormats {
		if f == known {
			return f
		}
	}
	if f == "markdown" {
		return "md"
	}
	return "pdf"
}

func nextFormat(f string) string {
	for i, known := range exportFormats {
		if known == f {
			return exportFormats[(i+1)%len(exportFormats)]
		}
	}
	return exportFormats[0]
}

// apply copies a snapshot into every component and refreshes bindings.
func (m *Model) apply(snap poller.Snapshot) {
	m.snap = snap
	m.header.Apply(snap)
	m.stepper.Apply(snap)
	m.report.SetMarkdown(snap.Report)
	m.statusBar.State = snap.State
	m.statusBar.LastError = snap.LastError
	m.syncBindings()
}

func (m *Model) applyPanels(p telemetry.Panels) {
	m.telemetry.Panels = p
}

// applyTheme rebuilds the theme and hands it to every component.
func (m *Model) applyTheme(mode string) {
	if styles.NormalizeMode(mode) == m.theme.Mode {
		return
	}
	m.theme = styles.NewTheme(mode)
	m.header.SetTheme(m.theme)
	m.stepper.SetTheme(m.theme)
	m.telemetry.SetTheme(m.theme)
	m.report.SetTheme(m.theme)
	m.statusBar.SetTheme(m.theme)
}

func (m *Model) syncBindings() {
	m.keys.Export.SetEnabled(m.CanExport())
	m.keys.Reset.SetEnabled(m.snap.State != poller.StateIdle || m.selected != "")
	m.statusBar.CanExport = m.CanExport()
	m.statusBar.Exporting = m.exporting
	m.statusBar.Format = m.format
}
