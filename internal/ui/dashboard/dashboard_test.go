// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/billdash/internal/config"
	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/report"
	"github.com/jeranaias/billdash/internal/stages"
	"github.com/jeranaias/billdash/internal/ui/components"
	"github.com/jeranaias/billdash/internal/ui/styles"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeSession struct {
	mu        sync.Mutex
	table     *stages.Table
	snap      poller.Snapshot
	submitted []poller.SubmitRequest
	submitErr error
	resets    int
}

func newFakeSession() *fakeSession {
	return &fakeSession{table: stages.Default(), snap: poller.Snapshot{State: poller.StateIdle}}
}

func (f *fakeSession) Submit(_ context.Context, req poller.SubmitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return f.submitErr
	}
	f.snap = poller.Snapshot{State: poller.StateAwaitingWorkers, JobID: "flow-1", Replicas: req.Replicas}
	return nil
}

func (f *fakeSession) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.snap = poller.Snapshot{State: poller.StateIdle}
}

func (f *fakeSession) Snapshot() poller.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) Stages() *stages.Table { return f.table }

func (f *fakeSession) requests() []poller.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]poller.SubmitRequest(nil), f.submitted...)
}

type fakeExports struct {
	mu       sync.Mutex
	docs     []*export.Document
	finalKey string
	err      error
}

func (f *fakeExports) Export(_ context.Context, doc *export.Document, exporter export.Exporter, _ report.Fetcher, finalKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	f.finalKey = finalKey
	if f.err != nil {
		return "", f.err
	}
	return "out/legislativeReport" + exporter.FileExtension(), nil
}

func (f *fakeExports) InFlight() bool { return false }

// =============================================================================
// HELPERS
// =============================================================================

func newTestModel(t *testing.T) (Model, *fakeSession, *fakeExports) {
	t.Helper()
	cfg := config.Default()
	cfg.UI.Theme = styles.ModeDark
	sess := newFakeSession()
	exp := &fakeExports{}
	m := New(context.Background(), Options{
		Session:  sess,
		Exports:  exp,
		Config:   cfg,
		StartDir: t.TempDir(),
	})
	m = send(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	return m, sess, exp
}

func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+r":
		msg = tea.KeyMsg{Type: tea.KeyCtrlR}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

// collect runs cmd and any batched commands, returning messages of type T.
func collect[T any](cmd tea.Cmd) []T {
	if cmd == nil {
		return nil
	}
	var out []T
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			out = append(out, collect[T](c)...)
		}
	case T:
		out = append(out, msg)
	}
	return out
}

func toastMessages(m Model) []string {
	var out []string
	for _, t := range m.toasts.Toasts() {
		out = append(out, t.Message)
	}
	return out
}

func hasToast(m Model, substr string) bool {
	for _, msg := range toastMessages(m) {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmitWithoutFileWarns(t *testing.T) {
	m, sess, _ := newTestModel(t)

	m, _ = press(t, m, "s")
	assert.Empty(t, sess.requests())
	assert.True(t, hasToast(m, "Select a bill first"))
	assert.False(t, m.CanSubmit())
}

func TestSubmitRunsSession(t *testing.T) {
	m, sess, _ := newTestModel(t)
	m.selected = "/bills/hb-101.pdf"
	m.replicas.SetValue("3")
	require.True(t, m.CanSubmit())

	m, cmd := press(t, m, "s")
	require.NotNil(t, cmd)
	assert.False(t, m.CanSubmit(), "submitting blocks a second submit")

	results := collect[submitResultMsg](cmd)
	require.Len(t, results, 1)
	require.NoError(t, results[0].err)

	reqs := sess.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/bills/hb-101.pdf", reqs[0].Path)
	assert.Equal(t, 3, reqs[0].Replicas)

	m = send(t, m, results[0])
	assert.Equal(t, poller.StateAwaitingWorkers, m.Snapshot().State)
	assert.False(t, m.CanSubmit())
}

func TestSubmitRejectedWhileInFlight(t *testing.T) {
	m, sess, _ := newTestModel(t)
	m.selected = "/bills/hb-101.pdf"
	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{State: poller.StatePollingStatus, JobID: "flow-1"}})

	m, _ = press(t, m, "s")
	assert.Empty(t, sess.requests())
	assert.True(t, hasToast(m, "already running"))
}

func TestSubmitInvalidReplicas(t *testing.T) {
	m, sess, _ := newTestModel(t)
	m.selected = "/bills/hb-101.pdf"
	m.replicas.SetValue("500")

	assert.False(t, m.CanSubmit())
	m, _ = press(t, m, "s")
	assert.Empty(t, sess.requests())
	assert.True(t, hasToast(m, "between 0 and 100"))
}

func TestSubmitErrorShowsToast(t *testing.T) {
	m, sess, _ := newTestModel(t)
	sess.submitErr = errors.New("connection refused")
	m.selected = "/bills/hb-101.pdf"

	m, cmd := press(t, m, "s")
	results := collect[submitResultMsg](cmd)
	require.Len(t, results, 1)

	m = send(t, m, results[0])
	assert.True(t, hasToast(m, "connection refused"))
	assert.True(t, m.CanSubmit(), "a failed upload can be retried")
}

func TestReplicaInputAcceptsDigitsOnly(t *testing.T) {
	assert.NoError(t, validateReplicas("12"))
	assert.NoError(t, validateReplicas(""))
	assert.Error(t, validateReplicas("1a"))
}

// =============================================================================
// EXPORT
// =============================================================================

func TestExportDisabledWithoutReport(t *testing.T) {
	m, _, exp := newTestModel(t)

	assert.False(t, m.CanExport())
	assert.False(t, m.keys.Export.Enabled())

	_, cmd := press(t, m, "e")
	assert.Nil(t, cmd)
	assert.Empty(t, exp.docs)
}

func TestExportFlow(t *testing.T) {
	m, _, exp := newTestModel(t)
	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{
		State:    poller.StatePollingStatus,
		JobID:    "flow-1",
		BillName: "hb-101.pdf",
		Replicas: 2,
		Report:   "## Legal\n\nNo conflicts found.\n",
	}})
	require.True(t, m.CanExport())
	assert.True(t, m.keys.Export.Enabled())

	m, cmd := press(t, m, "e")
	require.NotNil(t, cmd)
	assert.False(t, m.CanExport(), "export in progress")

	msg, ok := cmd().(exportResultMsg)
	require.True(t, ok)
	require.NoError(t, msg.err)
	assert.Equal(t, "pdf", msg.format)
	assert.Equal(t, "out/legislativeReport.pdf", msg.path)

	require.Len(t, exp.docs, 1)
	doc := exp.docs[0]
	assert.Equal(t, "hb-101.pdf", doc.BillName)
	assert.Equal(t, "flow-1", doc.JobID)
	assert.Equal(t, 2, doc.Replicas)
	assert.Contains(t, doc.Markdown, "No conflicts found.")
	assert.Equal(t, stages.Default().FinalKey(), exp.finalKey)

	m = send(t, m, msg)
	assert.True(t, m.CanExport())
	assert.True(t, hasToast(m, "Saved out/legislativeReport.pdf"))
}

func TestExportFailureShowsToast(t *testing.T) {
	m, _, exp := newTestModel(t)
	exp.err = export.ErrEmptyReport
	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{State: poller.StatePollingStatus, Report: "text"}})

	m, cmd := press(t, m, "e")
	require.NotNil(t, cmd)
	m = send(t, m, cmd())
	assert.True(t, hasToast(m, "Export failed"))
}

func TestFormatCycles(t *testing.T) {
	m, _, _ := newTestModel(t)
	assert.Equal(t, "pdf", m.Format())

	var seen []string
	for range exportFormats {
		m, _ = press(t, m, "f")
		seen = append(seen, m.Format())
	}
	assert.Equal(t, []string{"md", "html", "json", "pdf"}, seen)
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "md", normalizeFormat("markdown"))
	assert.Equal(t, "html", normalizeFormat(".HTML"))
	assert.Equal(t, "pdf", normalizeFormat("docx"))
}

// =============================================================================
// SESSION EVENTS
// =============================================================================

func TestResetClearsSelection(t *testing.T) {
	m, sess, _ := newTestModel(t)
	m.selected = "/bills/hb-101.pdf"
	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{State: poller.StatePollingStatus, Report: "x"}})
	m.syncBindings()
	require.True(t, m.keys.Reset.Enabled())

	m, _ = press(t, m, "ctrl+r")
	assert.Equal(t, 1, sess.resets)
	assert.Empty(t, m.SelectedFile())
	assert.Equal(t, poller.StateIdle, m.Snapshot().State)
	assert.False(t, m.CanExport())
}

func TestCompletionToasts(t *testing.T) {
	m, _, _ := newTestModel(t)
	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{State: poller.StatePollingStatus, RunID: "r1"}})
	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{State: poller.StateAllComplete, RunID: "r1", Report: "done"}})
	assert.True(t, hasToast(m, "Analysis complete"))

	// A repeated complete snapshot does not toast again.
	before := len(toastMessages(m))
	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{State: poller.StateAllComplete, RunID: "r1", Report: "done"}})
	assert.Len(t, toastMessages(m), before)
}

func TestTimeoutToast(t *testing.T) {
	m, _, _ := newTestModel(t)
	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{State: poller.StatePollingStatus, RunID: "r2"}})
	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{State: poller.StateAllComplete, RunID: "r2", TimedOut: true}})
	assert.True(t, hasToast(m, "timeout"))
	assert.False(t, hasToast(m, "Analysis complete"))
}

func TestOpenBlockedWhileInFlight(t *testing.T) {
	m, _, _ := newTestModel(t)
	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{State: poller.StateAwaitingWorkers}})

	m, _ = press(t, m, "o")
	assert.Equal(t, focusMain, m.focus)

	m = send(t, m, SnapshotMsg{Snapshot: poller.Snapshot{State: poller.StateIdle}})
	m, _ = press(t, m, "o")
	assert.Equal(t, focusPicker, m.focus)

	m, _ = press(t, m, "esc")
	assert.Equal(t, focusMain, m.focus)
}

// =============================================================================
// CONFIG RELOAD
// =============================================================================

func TestConfigReloadAppliesTheme(t *testing.T) {
	m, _, _ := newTestModel(t)
	require.Equal(t, styles.ModeDark, m.theme.Mode)

	cfg := config.Default()
	cfg.UI.Theme = styles.ModeLight
	cfg.Telemetry.PowerQuery = "avg(ipmi_power_watts)"
	m = send(t, m, ConfigMsg{Config: cfg})

	assert.Equal(t, styles.ModeLight, m.theme.Mode)
	assert.Equal(t, "avg(ipmi_power_watts)", m.cfg.Telemetry.PowerQuery)
	assert.True(t, hasToast(m, "Config reloaded"))
}

func TestConfigReloadErrorKeepsConfig(t *testing.T) {
	m, _, _ := newTestModel(t)
	before := m.cfg

	m = send(t, m, ConfigMsg{Err: errors.New("ui.theme: invalid theme")})
	assert.Same(t, before, m.cfg)
	assert.Equal(t, styles.ModeDark, m.theme.Mode)
	assert.True(t, hasToast(m, "Config reload failed"))
}

// =============================================================================
// VIEW
// =============================================================================

func TestViewAtEachWidth(t *testing.T) {
	for _, tc := range []struct {
		name  string
		width int
		want  string
	}{
		{"wide", 140, "Pipeline"},
		{"medium", 80, "Pipeline"},
		{"narrow", 50, "[0/5]"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, _, _ := newTestModel(t)
			m = send(t, m, tea.WindowSizeMsg{Width: tc.width, Height: 40})

			view := m.View()
			assert.Contains(t, view, "billdash")
			assert.Contains(t, view, tc.want)
			assert.Contains(t, view, "no bill selected")
		})
	}
}

func TestViewShowsPickerWhenOpen(t *testing.T) {
	m, _, _ := newTestModel(t)
	m, _ = press(t, m, "o")
	assert.Contains(t, m.View(), "Select bill (PDF)")
}

func TestToastTickExpires(t *testing.T) {
	m, _, _ := newTestModel(t)
	m, _ = press(t, m, "s")
	require.True(t, m.toasts.HasToasts())

	m = send(t, m, components.ToastTickMsg{Time: time.Now().Add(time.Minute)})
	assert.False(t, m.toasts.HasToasts())
	assert.False(t, m.toastTicker)
}
