// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter writes the assembled report as Markdown with YAML front
// matter.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a document to Markdown.
func (e *MarkdownExporter) Export(doc *Document) ([]byte, error) {
	if doc.Empty() {
		return nil, ErrEmptyReport
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		fm := frontMatter{
			Title:     doc.title(),
			Bill:      doc.BillName,
			JobID:     doc.JobID,
			RunID:     doc.RunID,
			Replicas:  doc.Replicas,
			Generated: doc.generatedAt().Format(time.RFC3339),
			Generator: "billdash",
		}
		for _, f := range doc.Fragments {
			fm.Stages = append(fm.Stages, f.Stage)
		}

		sb.WriteString("---\n")
		enc := yaml.NewEncoder(&sb)
		enc.SetIndent(2)
		if err := enc.Encode(fm); err != nil {
			return nil, fmt.Errorf("encode front matter: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode front matter: %w", err)
		}
		sb.WriteString("---\n\n")
	}

	sb.WriteString(strings.TrimRight(doc.Markdown, "\n"))
	sb.WriteString("\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// frontMatter is the YAML header of a Markdown export.
type frontMatter struct {
	Title     string   `yaml:"title"`
	Bill      string   `yaml:"bill,omitempty"`
	JobID     string   `yaml:"job_id,omitempty"`
	RunID     string   `yaml:"run_id,omitempty"`
	Replicas  int      `yaml:"replicas"`
	Stages    []string `yaml:"stages,omitempty"`
	Generated string   `yaml:"generated"`
	Generator string   `yaml:"generator"`
}
