// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter writes the run metadata and each committed fragment.
// JSON exports always include the complete document regardless of options.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

type jsonFragment struct {
	Index int    `json:"index"`
	Stage string `json:"stage"`
	Key   string `json:"key"`
	Text  string `json:"text"`
}

type jsonDocument struct {
	Title       string         `json:"title"`
	Bill        string         `json:"bill,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Replicas    int            `json:"replicas"`
	GeneratedAt time.Time      `json:"generated_at"`
	Fragments   []jsonFragment `json:"fragments"`
	Markdown    string         `json:"markdown"`
}

// Export converts a document to indented JSON.
func (e *JSONExporter) Export(doc *Document) ([]byte, error) {
	if doc.Empty() {
		return nil, ErrEmptyReport
	}

	out := jsonDocument{
		Title:       doc.title(),
		Bill:        doc.BillName,
		JobID:       doc.JobID,
		RunID:       doc.RunID,
		Replicas:    doc.Replicas,
		GeneratedAt: doc.generatedAt().UTC(),
		Fragments:   make([]jsonFragment, 0, len(doc.Fragments)),
		Markdown:    doc.Markdown,
	}
	for _, f := range doc.Fragments {
		out.Fragments = append(out.Fragments, jsonFragment{
			Index: f.StageIndex,
			Stage: f.Stage,
			Key:   f.Key,
			Text:  f.Text,
		})
	}
	return json.MarshalIndent(out, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
