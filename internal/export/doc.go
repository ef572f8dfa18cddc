// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders an assembled legislative report to files.
//
// # Formats
//
//   - PDF: the markdown is rasterized and paginated onto US legal paper
//   - Markdown: the report body with YAML front matter
//   - HTML: a standalone page with highlighted code
//   - JSON: run metadata plus each stage fragment
//
// # Pagination
//
// The PDF path mirrors a browser print: the content box is 468pt wide,
// rendered at 96/72 CSS pixels per point and a device scale of 2, so one
// page's content band is 1248x2304 pixels. A raster of height h produces
// ceil(h/2304) pages, each band composited at the 72pt margin.
//
// # Usage
//
//	svc := export.NewService(export.DefaultOptions(), logger)
//	path, err := svc.Export(ctx, doc, export.NewPDFExporter(export.LegalGeometry()), client, "report-1")
package export
