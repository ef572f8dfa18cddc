// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/report"
	"github.com/jeranaias/billdash/internal/util"
)

// DefaultFilename is the base name used when Options.Filename is empty.
const DefaultFilename = "legislativeReport"

var (
	// ErrEmptyReport is returned when there is nothing to export.
	ErrEmptyReport = errors.New("report is empty")

	// ErrExportInFlight is returned when an export is already running.
	ErrExportInFlight = errors.New("export already in progress")

	// ErrRenderFailed wraps any failure to lay out or encode the PDF pages.
	ErrRenderFailed = errors.New("render failed")
)

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is an assembled report ready for export.
type Document struct {
	Title       string
	BillName    string
	JobID       string
	RunID       string
	Replicas    int
	Fragments   []report.Fragment
	Markdown    string
	GeneratedAt time.Time
}

// Empty reports whether the document has no renderable content.
func (d *Document) Empty() bool {
	return d == nil || strings.TrimSpace(d.Markdown) == ""
}

func (d *Document) title() string {
	if d.Title != "" {
		return d.Title
	}
	if d.BillName != "" {
		return "Legislative Report: " + strings.TrimSuffix(d.BillName, filepath.Ext(d.BillName))
	}
	return "Legislative Report"
}

func (d *Document) generatedAt() time.Time {
	if d.GeneratedAt.IsZero() {
		return time.Now()
	}
	return d.GeneratedAt
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a Document into one output format.
type Exporter interface {
	// Export renders the document and returns the complete file content.
	Export(doc *Document) ([]byte, error)

	// FileExtension returns the file extension including the dot.
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Source selects which markdown an export renders.
type Source string

const (
	// SourceBuffer exports the report assembled so far.
	SourceBuffer Source = "buffer"
	// SourceFinal exports only the final stage's artifact.
	SourceFinal Source = "final"
)

// ParseSource parses a source name, defaulting to SourceBuffer.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "buffer":
		return SourceBuffer, nil
	case "final":
		return SourceFinal, nil
	}
	return "", fmt.Errorf("unknown export source %q (want buffer or final)", s)
}

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// Filename is the base name without extension.
	// Default: legislativeReport
	Filename string

	// OpenAfterExport opens the file in the default application.
	OpenAfterExport bool

	// IncludeMetadata adds a header with bill, job and timestamp.
	IncludeMetadata bool

	// Theme for HTML export ("light" or "dark").
	Theme string

	// Source selects the buffer or the final artifact.
	Source Source
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:       ".",
		Filename:        DefaultFilename,
		OpenAfterExport: false,
		IncludeMetadata: true,
		Theme:           "light",
		Source:          SourceBuffer,
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile renders doc with exporter and writes it atomically.
// Returns the output file path. A failed render writes nothing.
func ExportToFile(doc *Document, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if doc.Empty() {
		return "", ErrEmptyReport
	}

	content, err := exporter.Export(doc)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	name := opts.Filename
	if name == "" {
		name = DefaultFilename
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	outputPath := filepath.Join(dir, sanitizeFilename(name)+exporter.FileExtension())

	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	if opts.OpenAfterExport {
		if err := openFile(outputPath); err != nil {
			zap.L().Warn("could not open exported file", zap.String("path", outputPath), zap.Error(err))
		}
	}

	return outputPath, nil
}

// ForFormat returns the exporter for a format name: pdf, md, html or json.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "", "pdf":
		return NewPDFExporter(LegalGeometry()), nil
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// =============================================================================
// GUARDED EXPORT
// =============================================================================

// Service serializes exports. At most one export runs at a time; a second
// request while one is running fails with ErrExportInFlight.
type Service struct {
	opts     *Options
	inFlight atomic.Bool
	log      *zap.Logger
}

// NewService creates an export service.
func NewService(opts *Options, logger *zap.Logger) *Service {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{opts: opts, log: logger.Named("export")}
}

// InFlight reports whether an export is running.
func (s *Service) InFlight() bool { return s.inFlight.Load() }

// Options returns the service's export options.
func (s *Service) Options() *Options { return s.opts }

// Export resolves the document's markdown for the configured source, then
// writes it with exporter. final is used for SourceFinal and may be nil
// otherwise.
func (s *Service) Export(ctx context.Context, doc *Document, exporter Exporter, final report.Fetcher, finalKey string) (string, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return "", ErrExportInFlight
	}
	defer s.inFlight.Store(false)

	if s.opts.Source == SourceFinal {
		md, err := resolveFinal(ctx, final, finalKey)
		if err != nil {
			return "", err
		}
		cp := *doc
		cp.Markdown = md
		cp.Fragments = nil
		doc = &cp
	}
	if doc.Empty() {
		return "", ErrEmptyReport
	}

	start := time.Now()
	path, err := ExportToFile(doc, exporter, s.opts)
	if err != nil {
		s.log.Error("export failed", zap.String("format", exporter.FileExtension()), zap.Error(err))
		return "", err
	}
	s.log.Info("report exported",
		zap.String("path", path),
		zap.String("mime", exporter.MimeType()),
		zap.Duration("took", time.Since(start)))
	return path, nil
}

func resolveFinal(ctx context.Context, f report.Fetcher, key string) (string, error) {
	if f == nil || key == "" {
		return "", ErrEmptyReport
	}
	md, err := f.FetchText(ctx, key)
	if err != nil {
		return "", fmt.Errorf("fetch final report %s: %w", key, err)
	}
	return md, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > 80 {
		runes = runes[:80]
	}

	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			out = append(out, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out = append(out, '_')
		case r < 32 || r == 127:
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}

	if len(out) == 0 {
		return DefaultFilename
	}
	return string(out)
}

// openFile opens a file in the default application for the OS.
func openFile(path string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", `""`, path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}

// formatTimestamp formats a timestamp for display in export headers.
func formatTimestamp(t time.Time) string {
	return t.Format("January 2, 2006 at 3:04 PM MST")
}
